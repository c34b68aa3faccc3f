package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/lotview/lotview/internal/parking"
	"github.com/lotview/lotview/internal/ui"
)

func lotsCmd() *cobra.Command {
	var showSlots bool

	cmd := &cobra.Command{
		Use:   "lots",
		Short: "List parking lots and their occupancy",
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, err := newApp()
			if err != nil {
				return err
			}

			lots, err := application.store.LoadLots(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tADDRESS\tFREE\tOCCUPIED\tRESERVED")
			for _, lot := range lots {
				free, occupied, reserved := parking.CountByStatus(lot.Slots)
				fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%d\n",
					lot.ID, lot.Name, lot.Address, free, occupied, reserved)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if !showSlots {
				return nil
			}

			theme := ui.DefaultTheme
			for _, lot := range lots {
				fmt.Printf("\n%s\n", lot.Name)
				for _, slot := range lot.Slots {
					status := lipgloss.NewStyle().
						Foreground(theme.StatusColor(slot.Status)).
						Render(string(slot.Status))
					fmt.Printf("  %4d  %-10s  %-8s  ₹%.2f/h  %s\n",
						slot.ID, slot.Name, slot.SlotType, slot.RatePerHour, status)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&showSlots, "slots", "s", false, "list individual slots per lot")
	return cmd
}
