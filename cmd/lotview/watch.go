package main

import (
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/lotview/lotview/internal/booking"
	"github.com/lotview/lotview/internal/camera"
	"github.com/lotview/lotview/internal/live"
	"github.com/lotview/lotview/internal/ui"
	"github.com/lotview/lotview/pkg/logger"
)

func watchCmd() *cobra.Command {
	var lotID int64

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Open the live occupancy dashboard",
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, err := newApp()
			if err != nil {
				return err
			}
			if !application.session.Authenticated() {
				return errors.New("not signed in; run `lotview login` first")
			}

			// Logging to stderr would tear the alternate screen; with
			// no log file configured, drop log output entirely.
			if application.cfg.Log.File == "" {
				logger.Discard()
			}

			ctx := cmd.Context()
			feed := camera.NewFeed(application.cfg.Camera.BaseURL, application.cfg.Camera.Timeout)

			// Warm the lot cache and check the camera feed in parallel.
			// Only the lot load is fatal: the dashboard runs fine with
			// the camera marked offline.
			group, groupCtx := errgroup.WithContext(ctx)
			group.Go(func() error {
				_, err := application.store.LoadLots(groupCtx)
				return err
			})
			group.Go(func() error {
				if err := feed.Probe(groupCtx); err != nil {
					logger.Warn("camera feed offline at startup", "error", err)
				}
				return nil
			})
			if err := group.Wait(); err != nil {
				return fmt.Errorf("load lots: %w", err)
			}

			if lotID != 0 && !application.store.SelectLot(lotID) {
				return fmt.Errorf("lot %d not found", lotID)
			}
			current, ok := application.store.CurrentLot()
			if !ok {
				return errors.New("no lots available")
			}

			statusCh := make(chan bool, 8)
			supervisor := live.NewSupervisor(application.cfg.Live.BaseURL, application.store,
				live.WithReconnectDelay(application.cfg.Live.ReconnectDelay),
				live.WithHandshakeTimeout(application.cfg.Live.HandshakeTimeout),
				live.WithStatusFunc(func(connected bool) {
					select {
					case statusCh <- connected:
					default:
					}
				}),
			)
			if err := supervisor.Watch(ctx, current.ID); err != nil {
				// The supervisor keeps retrying on its own; surface the
				// initial failure but start the dashboard regardless.
				logger.Warn("live channel unavailable at startup", "error", err)
			}
			defer supervisor.Stop()

			model := ui.NewModel(ctx, ui.Config{
				Store:      application.store,
				Booking:    booking.NewWorkflow(application.client, application.session),
				Live:       supervisor,
				Camera:     feed,
				Session:    application.session,
				LiveStatus: statusCh,
			})

			program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
			_, err = program.Run()
			return err
		},
	}

	cmd.Flags().Int64Var(&lotID, "lot", 0, "lot id to watch (default: first lot)")
	return cmd
}
