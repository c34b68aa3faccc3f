package booking

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/lotview/lotview/internal/api"
	"github.com/lotview/lotview/internal/parking"
	"github.com/lotview/lotview/internal/session"
	"github.com/lotview/lotview/pkg/logger"
)

// ErrSlotUnavailable is reported when selecting a slot that is not free.
var ErrSlotUnavailable = errors.New("slot is not available")

// ErrNoSelection is reported when submitting without a selected slot.
var ErrNoSelection = errors.New("no slot selected")

// ErrSubmitting is reported when the draft is mutated while a submit
// is in flight.
var ErrSubmitting = errors.New("booking submit in progress")

// Duration bounds for a booking draft, in whole hours.
const (
	MinDurationHours = 1
	MaxDurationHours = 24
)

type State int

const (
	StateIdle State = iota
	StateSelected
	StateSubmitting
	StatePaymentPending
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSelected:
		return "selected"
	case StateSubmitting:
		return "submitting"
	default:
		return "payment_pending"
	}
}

// PaymentOrder is the handle returned by a successful booking request.
// Amount is in the currency's minor unit (paise); settlement itself is
// the payment gateway's business, not ours.
type PaymentOrder struct {
	OrderID  string `json:"order_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	KeyID    string `json:"key_id"`
}

type createBookingRequest struct {
	SlotID        int64 `json:"slot_id"`
	DurationHours int   `json:"duration_hours"`
}

// Workflow tracks one in-progress slot booking:
// Idle -> Selected -> Submitting -> (PaymentPending | back to Selected
// on failure), with Cancel returning to Idle from any state.
type Workflow struct {
	client  *api.Client
	session *session.Store

	mu    sync.Mutex
	state State
	slot  parking.Slot
	hours int
	order PaymentOrder
}

func NewWorkflow(client *api.Client, sess *session.Store) *Workflow {
	return &Workflow{
		client:  client,
		session: sess,
		state:   StateIdle,
		hours:   MinDurationHours,
	}
}

// Select starts (or restarts) a draft for slot. Only a free slot can
// leave Idle; picking a different free slot while one is already
// selected simply replaces the draft.
func (w *Workflow) Select(slot parking.Slot) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == StateSubmitting {
		return ErrSubmitting
	}
	if slot.Status != parking.SlotFree {
		return fmt.Errorf("%w: slot %s is %s", ErrSlotUnavailable, slot.Name, slot.Status)
	}

	w.state = StateSelected
	w.slot = slot
	w.hours = MinDurationHours
	w.order = PaymentOrder{}
	return nil
}

// SetDuration updates the draft duration.
func (w *Workflow) SetDuration(hours int) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == StateSubmitting {
		return ErrSubmitting
	}
	if err := validateDuration(hours); err != nil {
		return err
	}
	w.hours = hours
	return nil
}

// Total is the amount the draft will cost, in major currency units.
func (w *Workflow) Total() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.slot.RatePerHour * float64(w.hours)
}

func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Selected returns the slot under the current draft.
func (w *Workflow) Selected() (parking.Slot, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == StateIdle {
		return parking.Slot{}, false
	}
	return w.slot, true
}

func (w *Workflow) Duration() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.hours
}

// Order returns the payment handle once the workflow has reached
// PaymentPending.
func (w *Workflow) Order() (PaymentOrder, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StatePaymentPending {
		return PaymentOrder{}, false
	}
	return w.order, true
}

// Submit sends the booking request. It requires an authenticated
// session; without one it fails with api.ErrNotAuthenticated but keeps
// the selection, so the booking resumes after login. On request
// failure the workflow returns to Selected.
func (w *Workflow) Submit(ctx context.Context) (PaymentOrder, error) {
	w.mu.Lock()
	switch w.state {
	case StateIdle:
		w.mu.Unlock()
		return PaymentOrder{}, ErrNoSelection
	case StateSubmitting:
		w.mu.Unlock()
		return PaymentOrder{}, ErrSubmitting
	case StatePaymentPending:
		order := w.order
		w.mu.Unlock()
		return order, nil
	}

	if !w.session.Authenticated() {
		w.mu.Unlock()
		return PaymentOrder{}, api.ErrNotAuthenticated
	}
	if err := validateDuration(w.hours); err != nil {
		w.mu.Unlock()
		return PaymentOrder{}, err
	}

	slot := w.slot
	hours := w.hours
	w.state = StateSubmitting
	w.mu.Unlock()

	var order PaymentOrder
	err := w.client.PostJSON(ctx, "/bookings", createBookingRequest{
		SlotID:        slot.ID,
		DurationHours: hours,
	}, &order)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StateSubmitting {
		// Canceled while in flight; the outcome no longer matters.
		return PaymentOrder{}, ErrNoSelection
	}
	if err != nil {
		w.state = StateSelected
		return PaymentOrder{}, err
	}

	w.state = StatePaymentPending
	w.order = order
	logger.InfoContext(ctx, "Booking order created",
		"slot_id", slot.ID, "duration_hours", hours, "order_id", order.OrderID, "amount", order.Amount)
	return order, nil
}

// Cancel discards the draft and returns to Idle from any state.
func (w *Workflow) Cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = StateIdle
	w.slot = parking.Slot{}
	w.hours = MinDurationHours
	w.order = PaymentOrder{}
}

func validateDuration(hours int) error {
	if hours < MinDurationHours || hours > MaxDurationHours {
		return api.Validationf("duration must be between %d and %d hours", MinDurationHours, MaxDurationHours)
	}
	return nil
}
