package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lotview/lotview/internal/camera"
	"github.com/lotview/lotview/pkg/logger"
)

func snapshotCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Grab a single frame from the occupancy camera feed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, err := newApp()
			if err != nil {
				return err
			}

			feed := camera.NewFeed(application.cfg.Camera.BaseURL, application.cfg.Camera.Timeout)
			frame, err := feed.Snapshot(cmd.Context())
			if err != nil {
				logger.Warn("camera feed unavailable", "error", err)
				if output == "" {
					output = "camera-offline.svg"
				}
				if err := os.WriteFile(output, camera.Placeholder(), 0o644); err != nil {
					return err
				}
				fmt.Printf("Camera offline; wrote placeholder to %s\n", output)
				return nil
			}

			if output == "" {
				output = "snapshot.jpg"
			}
			if err := os.WriteFile(output, frame, 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %d bytes to %s\n", len(frame), output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default snapshot.jpg)")
	return cmd
}
