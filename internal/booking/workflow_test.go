package booking_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lotview/lotview/internal/api"
	"github.com/lotview/lotview/internal/booking"
	"github.com/lotview/lotview/internal/parking"
	"github.com/lotview/lotview/internal/parktest"
	"github.com/lotview/lotview/internal/session"
	"github.com/lotview/lotview/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.Discard()
	os.Exit(m.Run())
}

// ---------- Test Setup ----------

func freeSlot() parking.Slot {
	return parking.Slot{ID: 11, LotID: 1, Name: "A-1", Status: parking.SlotFree, RatePerHour: 50}
}

func openSession(t *testing.T) *session.Store {
	t.Helper()
	store, err := session.Open(filepath.Join(t.TempDir(), "session.json"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return store
}

// setupAuthedWorkflow wires a workflow against the test backend with a
// signed-in session.
func setupAuthedWorkflow(t *testing.T) (*parktest.Server, *booking.Workflow) {
	t.Helper()
	backend := parktest.New()
	t.Cleanup(backend.Close)
	backend.SeedUser("driver@example.com", "passw0rd", "Driver")
	backend.SeedLot(parking.Lot{ID: 1, Name: "Central Garage", Slots: []parking.Slot{freeSlot()}})

	sess := openSession(t)
	access, refresh := backend.IssueTokens("driver@example.com")
	if err := sess.SetTokens(access, refresh); err != nil {
		t.Fatal(err)
	}

	client := api.New(backend.URL(), sess)
	return backend, booking.NewWorkflow(client, sess)
}

// ---------- Tests ----------

func TestWorkflow_Select_OnlyFreeSlots(t *testing.T) {
	workflow := booking.NewWorkflow(nil, openSession(t))

	tests := []struct {
		status parking.SlotStatus
		wantOK bool
	}{
		{parking.SlotFree, true},
		{parking.SlotOccupied, false},
		{parking.SlotReserved, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			slot := freeSlot()
			slot.Status = tt.status
			err := workflow.Select(slot)
			if tt.wantOK && err != nil {
				t.Errorf("Select(%s) failed: %v", tt.status, err)
			}
			if !tt.wantOK && !errors.Is(err, booking.ErrSlotUnavailable) {
				t.Errorf("Select(%s) = %v, want ErrSlotUnavailable", tt.status, err)
			}
		})
	}
}

func TestWorkflow_Select_ReplacesDraft(t *testing.T) {
	workflow := booking.NewWorkflow(nil, openSession(t))

	first := freeSlot()
	if err := workflow.Select(first); err != nil {
		t.Fatal(err)
	}
	if err := workflow.SetDuration(5); err != nil {
		t.Fatal(err)
	}

	second := freeSlot()
	second.ID = 12
	second.Name = "A-2"
	if err := workflow.Select(second); err != nil {
		t.Fatalf("re-select failed: %v", err)
	}

	selected, ok := workflow.Selected()
	if !ok || selected.ID != 12 {
		t.Errorf("selected = %+v, ok=%v, want A-2", selected, ok)
	}
	if workflow.Duration() != booking.MinDurationHours {
		t.Errorf("duration = %d, want reset to %d", workflow.Duration(), booking.MinDurationHours)
	}
}

func TestWorkflow_SetDuration_Bounds(t *testing.T) {
	workflow := booking.NewWorkflow(nil, openSession(t))
	if err := workflow.Select(freeSlot()); err != nil {
		t.Fatal(err)
	}

	for _, hours := range []int{0, -1, 25, 100} {
		if err := workflow.SetDuration(hours); !api.IsValidation(err) {
			t.Errorf("SetDuration(%d) = %v, want validation error", hours, err)
		}
	}
	for _, hours := range []int{1, 24} {
		if err := workflow.SetDuration(hours); err != nil {
			t.Errorf("SetDuration(%d) failed: %v", hours, err)
		}
	}
}

func TestWorkflow_Total(t *testing.T) {
	workflow := booking.NewWorkflow(nil, openSession(t))
	if err := workflow.Select(freeSlot()); err != nil {
		t.Fatal(err)
	}
	if err := workflow.SetDuration(3); err != nil {
		t.Fatal(err)
	}
	if total := workflow.Total(); total != 150 {
		t.Errorf("Total = %v, want 150 (3h at rate 50)", total)
	}
}

func TestWorkflow_Submit_SendsExactWireBody(t *testing.T) {
	var gotBody map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/bookings", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(booking.PaymentOrder{
			OrderID: "order_test", Amount: 15000, Currency: "INR", KeyID: "rzp_test",
		})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	sess := openSession(t)
	if err := sess.SetTokens("acc", "ref"); err != nil {
		t.Fatal(err)
	}
	workflow := booking.NewWorkflow(api.New(server.URL, sess), sess)

	if err := workflow.Select(freeSlot()); err != nil {
		t.Fatal(err)
	}
	if err := workflow.SetDuration(3); err != nil {
		t.Fatal(err)
	}
	if _, err := workflow.Submit(context.Background()); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if len(gotBody) != 2 {
		t.Errorf("body has %d fields, want exactly slot_id and duration_hours: %v", len(gotBody), gotBody)
	}
	if gotBody["slot_id"] != float64(11) || gotBody["duration_hours"] != float64(3) {
		t.Errorf("body = %v", gotBody)
	}
}

func TestWorkflow_Submit_AgainstBackend(t *testing.T) {
	backend, workflow := setupAuthedWorkflow(t)

	if err := workflow.Select(freeSlot()); err != nil {
		t.Fatal(err)
	}
	if err := workflow.SetDuration(3); err != nil {
		t.Fatal(err)
	}

	order, err := workflow.Submit(context.Background())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if !strings.HasPrefix(order.OrderID, "order_") {
		t.Errorf("order id = %q", order.OrderID)
	}
	if order.Amount != 15000 {
		t.Errorf("amount = %d paise, want 15000 (3h at rate 50)", order.Amount)
	}
	if order.Currency != "INR" {
		t.Errorf("currency = %q", order.Currency)
	}
	if order.KeyID != backend.KeyID {
		t.Errorf("key id = %q, want %q", order.KeyID, backend.KeyID)
	}
	if workflow.State() != booking.StatePaymentPending {
		t.Errorf("state = %s, want payment_pending", workflow.State())
	}

	// A second submit returns the same order without a new request.
	again, err := workflow.Submit(context.Background())
	if err != nil || again.OrderID != order.OrderID {
		t.Errorf("repeat Submit = (%+v, %v), want cached order", again, err)
	}
}

func TestWorkflow_Submit_WithoutSelection(t *testing.T) {
	_, workflow := setupAuthedWorkflow(t)
	if _, err := workflow.Submit(context.Background()); !errors.Is(err, booking.ErrNoSelection) {
		t.Errorf("Submit = %v, want ErrNoSelection", err)
	}
}

func TestWorkflow_Submit_Unauthenticated_KeepsSelection(t *testing.T) {
	backend := parktest.New()
	t.Cleanup(backend.Close)

	sess := openSession(t)
	workflow := booking.NewWorkflow(api.New(backend.URL(), sess), sess)

	if err := workflow.Select(freeSlot()); err != nil {
		t.Fatal(err)
	}
	if err := workflow.SetDuration(4); err != nil {
		t.Fatal(err)
	}

	_, err := workflow.Submit(context.Background())
	if !errors.Is(err, api.ErrNotAuthenticated) {
		t.Fatalf("Submit = %v, want ErrNotAuthenticated", err)
	}

	// Selection and duration survive so the booking can resume after
	// the user signs in.
	selected, ok := workflow.Selected()
	if !ok || selected.ID != 11 {
		t.Errorf("selection lost: %+v, ok=%v", selected, ok)
	}
	if workflow.Duration() != 4 {
		t.Errorf("duration = %d, want 4", workflow.Duration())
	}
	if workflow.State() != booking.StateSelected {
		t.Errorf("state = %s, want selected", workflow.State())
	}
}

func TestWorkflow_Submit_ExpiredAccessRefreshesSilently(t *testing.T) {
	backend := parktest.New()
	t.Cleanup(backend.Close)
	backend.SeedUser("driver@example.com", "passw0rd", "Driver")
	backend.SeedLot(parking.Lot{ID: 1, Name: "Central Garage", Slots: []parking.Slot{freeSlot()}})

	sess := openSession(t)
	_, refresh := backend.IssueTokens("driver@example.com")
	if err := sess.SetTokens(backend.IssueExpiredAccess("driver@example.com"), refresh); err != nil {
		t.Fatal(err)
	}
	workflow := booking.NewWorkflow(api.New(backend.URL(), sess), sess)

	if err := workflow.Select(freeSlot()); err != nil {
		t.Fatal(err)
	}
	order, err := workflow.Submit(context.Background())
	if err != nil {
		t.Fatalf("Submit with expired access failed: %v", err)
	}
	if order.OrderID == "" {
		t.Error("Expected an order after silent refresh")
	}
}

func TestWorkflow_Submit_ServerRejection_ReturnsToSelected(t *testing.T) {
	_, workflow := setupAuthedWorkflow(t)

	ghost := freeSlot()
	ghost.ID = 999
	if err := workflow.Select(ghost); err != nil {
		t.Fatal(err)
	}

	_, err := workflow.Submit(context.Background())
	if !api.IsServer(err) {
		t.Fatalf("Submit = %v, want server error", err)
	}
	if workflow.State() != booking.StateSelected {
		t.Errorf("state = %s, want selected for retry", workflow.State())
	}
}

func TestWorkflow_Cancel_ResetsEverything(t *testing.T) {
	_, workflow := setupAuthedWorkflow(t)

	if err := workflow.Select(freeSlot()); err != nil {
		t.Fatal(err)
	}
	if _, err := workflow.Submit(context.Background()); err != nil {
		t.Fatal(err)
	}

	workflow.Cancel()
	if workflow.State() != booking.StateIdle {
		t.Errorf("state = %s, want idle", workflow.State())
	}
	if _, ok := workflow.Selected(); ok {
		t.Error("Expected no selection after Cancel")
	}
	if _, ok := workflow.Order(); ok {
		t.Error("Expected no order after Cancel")
	}
}
