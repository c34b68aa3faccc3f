package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lotview/lotview/internal/api"
	"github.com/lotview/lotview/internal/booking"
	"github.com/lotview/lotview/internal/parking"
)

func bookCmd() *cobra.Command {
	var slotID int64
	var hours int

	cmd := &cobra.Command{
		Use:   "book",
		Short: "Book a free slot and print the payment order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, err := newApp()
			if err != nil {
				return err
			}
			if !application.session.Authenticated() {
				return errors.New("not signed in; run `lotview login` first")
			}

			if _, err := application.store.LoadLots(cmd.Context()); err != nil {
				return err
			}
			slot, ok := findSlot(application.store.Lots(), slotID)
			if !ok {
				return fmt.Errorf("slot %d not found in any lot", slotID)
			}

			workflow := booking.NewWorkflow(application.client, application.session)
			if err := workflow.Select(slot); err != nil {
				return err
			}
			if err := workflow.SetDuration(hours); err != nil {
				return err
			}

			order, err := workflow.Submit(cmd.Context())
			if err != nil {
				if errors.Is(err, api.ErrSessionExpired) {
					return errors.New("session expired; run `lotview login` again")
				}
				return err
			}

			fmt.Printf("Booked %s for %d hour(s).\n", slot.Name, hours)
			fmt.Printf("Payment order: %s\n", order.OrderID)
			fmt.Printf("Amount:        ₹%.2f %s\n", float64(order.Amount)/100, order.Currency)
			fmt.Printf("Payment key:   %s\n", order.KeyID)
			return nil
		},
	}

	cmd.Flags().Int64Var(&slotID, "slot", 0, "slot id to book")
	cmd.Flags().IntVar(&hours, "hours", 1, "booking duration in hours (1-24)")
	_ = cmd.MarkFlagRequired("slot")
	return cmd
}

func findSlot(lots []parking.Lot, slotID int64) (parking.Slot, bool) {
	for _, lot := range lots {
		for _, slot := range lot.Slots {
			if slot.ID == slotID {
				return slot, true
			}
		}
	}
	return parking.Slot{}, false
}
