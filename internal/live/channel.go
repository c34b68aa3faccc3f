package live

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lotview/lotview/internal/parking"
	"github.com/lotview/lotview/pkg/logger"
)

// State of the channel for the currently watched lot.
type State int

const (
	StateConnecting State = iota
	StateOpen
	// StateClosed is not terminal: unless the supervisor was stopped,
	// it schedules a transition back to StateConnecting.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

const defaultReconnectDelay = 5 * time.Second

// pushEvent is the inbound message shape. Types other than
// "slot_update" are reserved and ignored, never rejected.
type pushEvent struct {
	Type string `json:"type"`
	Slot struct {
		ID     int64  `json:"id"`
		Status string `json:"status"`
		LotID  int64  `json:"lot_id"`
	} `json:"slot"`
}

// Supervisor owns the live update channel for one lot at a time: it
// dials, feeds slot events into the cache, and drives the
// Connecting -> Open -> Closed -> (reconnect) state machine.
//
// Reconnects go through a full lot reload rather than a bare reopen,
// so slot state missed while disconnected is reconciled from ground
// truth instead of assumed continuous.
type Supervisor struct {
	baseURL string
	store   *parking.Store
	dialer  *websocket.Dialer
	delay   time.Duration

	onStatus func(connected bool)

	mu      sync.Mutex
	ctx     context.Context
	gen     uint64 // generation of the active channel; stale readers check it
	conn    *websocket.Conn
	lotID   int64
	state   State
	stopped bool
	timer   *time.Timer
}

type Option func(*Supervisor)

func WithReconnectDelay(d time.Duration) Option {
	return func(s *Supervisor) {
		s.delay = d
	}
}

func WithHandshakeTimeout(d time.Duration) Option {
	return func(s *Supervisor) {
		s.dialer = &websocket.Dialer{HandshakeTimeout: d}
	}
}

// WithStatusFunc registers the connectivity indicator callback.
func WithStatusFunc(fn func(connected bool)) Option {
	return func(s *Supervisor) {
		s.onStatus = fn
	}
}

func NewSupervisor(baseURL string, store *parking.Store, opts ...Option) *Supervisor {
	s := &Supervisor{
		baseURL: strings.TrimRight(baseURL, "/"),
		store:   store,
		dialer:  websocket.DefaultDialer,
		delay:   defaultReconnectDelay,
		state:   StateClosed,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Supervisor) endpoint(lotID int64) string {
	return fmt.Sprintf("%s/api/v1/ws/lot/%d", s.baseURL, lotID)
}

// Watch tears down any existing channel (without scheduling a
// reconnect for the old lot) and opens a channel for lotID. On dial
// failure the normal closed-path reconnect is scheduled.
func (s *Supervisor) Watch(ctx context.Context, lotID int64) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("supervisor stopped")
	}
	s.teardownLocked()
	s.ctx = ctx
	s.gen++
	gen := s.gen
	s.lotID = lotID
	s.state = StateConnecting
	s.mu.Unlock()

	conn, _, err := s.dialer.DialContext(ctx, s.endpoint(lotID), nil)

	s.mu.Lock()
	if gen != s.gen || s.stopped {
		// A newer Watch or Stop superseded this dial.
		s.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return nil
	}
	if err != nil {
		s.state = StateClosed
		s.scheduleReconnectLocked(gen)
		s.mu.Unlock()
		s.setConnected(false)
		return fmt.Errorf("failed to open channel for lot %d: %w", lotID, err)
	}
	s.conn = conn
	s.state = StateOpen
	s.mu.Unlock()

	logger.Info("Live updates connected", "lot_id", lotID)
	s.setConnected(true)

	go s.readLoop(gen, conn, lotID)
	return nil
}

// Stop closes the active channel deterministically: the instance is
// marked inert before teardown, so no late message or pending timer
// can mutate the cache afterwards, and no reconnect is scheduled.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.teardownLocked()
	s.state = StateClosed
}

// State reports the channel state machine's current state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// teardownLocked invalidates the active generation, cancels any
// pending reconnect, and closes the connection.
func (s *Supervisor) teardownLocked() {
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

func (s *Supervisor) readLoop(gen uint64, conn *websocket.Conn, lotID int64) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			// Transport errors surface here as a read failure; the close
			// path owns the connectivity indicator and the reconnect.
			s.handleClose(gen, lotID, err)
			return
		}

		var event pushEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			logger.Warn("Discarding malformed push message", "lot_id", lotID, "error", err)
			continue
		}
		if event.Type != "slot_update" {
			continue
		}
		status, ok := parking.ParseSlotStatus(event.Slot.Status)
		if !ok {
			logger.Warn("Discarding slot update with unknown status", "status", event.Slot.Status)
			continue
		}

		if !s.isCurrent(gen) {
			// Stale channel: a lot switch or stop happened mid-read.
			return
		}
		s.store.ApplySlotUpdate(event.Slot.ID, status)
		logger.Debug("Applied slot update", "lot_id", lotID, "slot_id", event.Slot.ID, "status", string(status))
	}
}

func (s *Supervisor) isCurrent(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen == s.gen && !s.stopped
}

func (s *Supervisor) handleClose(gen uint64, lotID int64, cause error) {
	s.mu.Lock()
	if gen != s.gen || s.stopped {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.state = StateClosed
	s.scheduleReconnectLocked(gen)
	s.mu.Unlock()

	logger.Warn("Live updates disconnected", "lot_id", lotID, "error", cause)
	s.setConnected(false)
}

// scheduleReconnectLocked arms the fixed-delay reconnect. Only the
// observed-close path gets here, never a speculative one, so two
// channels for the same lot can never race.
func (s *Supervisor) scheduleReconnectLocked(gen uint64) {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.delay, func() {
		s.resync(gen)
	})
}

// resync is the reconnect path: a full lot reload first, so any slot
// transitions missed while disconnected are reconciled from ground
// truth, then a fresh channel for the lot that was being watched.
func (s *Supervisor) resync(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.stopped {
		s.mu.Unlock()
		return
	}
	ctx := s.ctx
	lotID := s.lotID
	s.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	if _, err := s.store.LoadLots(ctx); err != nil {
		logger.Warn("Resync reload failed, will retry", "lot_id", lotID, "error", err)
		s.mu.Lock()
		if gen == s.gen && !s.stopped {
			s.scheduleReconnectLocked(gen)
		}
		s.mu.Unlock()
		return
	}

	// Keep the user on the lot they were watching if it still exists;
	// LoadLots resets the current lot to the first one otherwise.
	if s.store.SelectLot(lotID) {
		if err := s.Watch(ctx, lotID); err != nil {
			logger.Warn("Resync watch failed", "lot_id", lotID, "error", err)
		}
		return
	}
	if lot, ok := s.store.CurrentLot(); ok {
		if err := s.Watch(ctx, lot.ID); err != nil {
			logger.Warn("Resync watch failed", "lot_id", lot.ID, "error", err)
		}
	}
}

func (s *Supervisor) setConnected(connected bool) {
	if s.onStatus != nil {
		s.onStatus(connected)
	}
}
