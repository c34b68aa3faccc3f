package parking

import (
	"context"
	"fmt"
	"sync"

	"github.com/lotview/lotview/internal/api"
	"github.com/lotview/lotview/pkg/logger"
)

// Store is the in-memory mirror of the currently viewed lot's slot
// collection. It is the source of truth for rendering and is mutated
// only through its methods: full refetch, lot switch, and incremental
// push events.
type Store struct {
	client *api.Client

	mu      sync.RWMutex
	lots    []Lot
	current int64 // current lot id; 0 when nothing is loaded
	slots   []Slot

	subMu   sync.Mutex
	subs    map[int]chan struct{}
	nextSub int
}

func NewStore(client *api.Client) *Store {
	return &Store{
		client: client,
		subs:   make(map[int]chan struct{}),
	}
}

// LoadLots fetches every lot and, as a side effect, selects the first
// lot as current and seeds its slot collection. On failure the cache is
// left exactly as it was.
func (s *Store) LoadLots(ctx context.Context) ([]Lot, error) {
	var lots []Lot
	if err := s.client.Get(ctx, "/lots", &lots); err != nil {
		return nil, fmt.Errorf("failed to load lots: %w", err)
	}

	s.mu.Lock()
	s.lots = lots
	if len(lots) > 0 {
		s.setCurrentLocked(lots[0])
	} else {
		s.current = 0
		s.slots = nil
	}
	s.mu.Unlock()

	logger.DebugContext(ctx, "Lot cache reloaded", "lots", len(lots))
	s.notify()
	return s.Lots(), nil
}

// SelectLot replaces the current lot and its slot collection
// atomically. Returns false if the id is not in the cache.
func (s *Store) SelectLot(lotID int64) bool {
	s.mu.Lock()
	for _, lot := range s.lots {
		if lot.ID == lotID {
			s.setCurrentLocked(lot)
			s.mu.Unlock()
			s.notify()
			return true
		}
	}
	s.mu.Unlock()
	return false
}

func (s *Store) setCurrentLocked(lot Lot) {
	s.current = lot.ID
	s.slots = make([]Slot, len(lot.Slots))
	copy(s.slots, lot.Slots)
}

// ApplySlotUpdate replaces one slot's status in place. An absent id is
// a legitimate race (the event was for a lot that is no longer
// displayed) and is a silent no-op, not an error.
func (s *Store) ApplySlotUpdate(slotID int64, status SlotStatus) bool {
	s.mu.Lock()
	for i := range s.slots {
		if s.slots[i].ID == slotID {
			s.slots[i].Status = status
			s.mu.Unlock()
			s.notify()
			return true
		}
	}
	s.mu.Unlock()
	return false
}

// Lots returns a snapshot of the cached lot list.
func (s *Store) Lots() []Lot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lots := make([]Lot, len(s.lots))
	copy(lots, s.lots)
	return lots
}

// CurrentLot returns the lot whose slots are currently displayed.
func (s *Store) CurrentLot() (Lot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, lot := range s.lots {
		if lot.ID == s.current {
			return lot, true
		}
	}
	return Lot{}, false
}

// Slots returns a snapshot of the current lot's slot collection.
func (s *Store) Slots() []Slot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	slots := make([]Slot, len(s.slots))
	copy(slots, s.slots)
	return slots
}

// SlotByID looks a slot up in the current collection.
func (s *Store) SlotByID(slotID int64) (Slot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, slot := range s.slots {
		if slot.ID == slotID {
			return slot, true
		}
	}
	return Slot{}, false
}

// Subscribe returns a channel that receives a (coalesced) signal after
// every cache mutation, plus a cancel function. The dashboard uses it
// to re-render.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan struct{}, 1)
	s.subs[id] = ch
	return ch, func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subs, id)
	}
}

func (s *Store) notify() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
