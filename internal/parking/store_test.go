package parking_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lotview/lotview/internal/api"
	"github.com/lotview/lotview/internal/parking"
	"github.com/lotview/lotview/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.Discard()
	os.Exit(m.Run())
}

// ---------- Test Setup ----------

func twoLots() []parking.Lot {
	return []parking.Lot{
		{
			ID:   1,
			Name: "Central Garage",
			Slots: []parking.Slot{
				{ID: 11, LotID: 1, Name: "A-1", Status: parking.SlotFree, RatePerHour: 50},
				{ID: 12, LotID: 1, Name: "A-2", Status: parking.SlotOccupied, RatePerHour: 50},
				{ID: 13, LotID: 1, Name: "A-3", Status: parking.SlotReserved, RatePerHour: 80},
			},
		},
		{
			ID:   2,
			Name: "Airport Lot",
			Slots: []parking.Slot{
				{ID: 21, LotID: 2, Name: "B-1", Status: parking.SlotFree, RatePerHour: 120},
			},
		},
	}
}

// lotsBackend serves /api/v1/lots from a swappable payload and can be
// flipped into failure mode.
type lotsBackend struct {
	server  *httptest.Server
	payload atomic.Value // []parking.Lot
	fail    atomic.Bool
}

func newLotsBackend(t *testing.T, lots []parking.Lot) *lotsBackend {
	t.Helper()
	b := &lotsBackend{}
	b.payload.Store(lots)
	b.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/lots" {
			http.NotFound(w, r)
			return
		}
		if b.fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"detail":"database unavailable"}`))
			return
		}
		json.NewEncoder(w).Encode(b.payload.Load())
	}))
	t.Cleanup(b.server.Close)
	return b
}

func newStore(t *testing.T, backend *lotsBackend) *parking.Store {
	t.Helper()
	return parking.NewStore(api.New(backend.server.URL, &staticTokens{}))
}

type staticTokens struct{}

func (staticTokens) Tokens() (string, string)    { return "", "" }
func (staticTokens) SetTokens(_, _ string) error { return nil }
func (staticTokens) Clear() error                { return nil }

// ---------- Tests ----------

func TestStore_LoadLots_SelectsFirstLot(t *testing.T) {
	store := newStore(t, newLotsBackend(t, twoLots()))

	lots, err := store.LoadLots(context.Background())
	if err != nil {
		t.Fatalf("LoadLots failed: %v", err)
	}
	if len(lots) != 2 {
		t.Fatalf("got %d lots, want 2", len(lots))
	}

	current, ok := store.CurrentLot()
	if !ok || current.ID != 1 {
		t.Errorf("current lot = %+v, ok=%v, want lot 1", current, ok)
	}
	if slots := store.Slots(); len(slots) != 3 {
		t.Errorf("got %d slots, want 3", len(slots))
	}
}

func TestStore_LoadLots_FailureLeavesCacheUntouched(t *testing.T) {
	backend := newLotsBackend(t, twoLots())
	store := newStore(t, backend)
	if _, err := store.LoadLots(context.Background()); err != nil {
		t.Fatalf("initial load failed: %v", err)
	}
	before := store.Slots()

	backend.fail.Store(true)
	if _, err := store.LoadLots(context.Background()); err == nil {
		t.Fatal("Expected failure")
	}

	if !reflect.DeepEqual(store.Slots(), before) {
		t.Error("Cache changed across a failed reload")
	}
	if current, ok := store.CurrentLot(); !ok || current.ID != 1 {
		t.Errorf("current lot lost across failed reload: %+v, ok=%v", current, ok)
	}
}

func TestStore_ApplySlotUpdate_TouchesOnlyThatSlot(t *testing.T) {
	store := newStore(t, newLotsBackend(t, twoLots()))
	if _, err := store.LoadLots(context.Background()); err != nil {
		t.Fatal(err)
	}
	before := store.Slots()

	if !store.ApplySlotUpdate(11, parking.SlotOccupied) {
		t.Fatal("Expected update to land")
	}

	after := store.Slots()
	for i := range after {
		if after[i].ID == 11 {
			if after[i].Status != parking.SlotOccupied {
				t.Errorf("slot 11 status = %s, want occupied", after[i].Status)
			}
			continue
		}
		if !reflect.DeepEqual(after[i], before[i]) {
			t.Errorf("slot %d changed: %+v -> %+v", after[i].ID, before[i], after[i])
		}
	}
}

func TestStore_ApplySlotUpdate_AbsentID_SilentNoOp(t *testing.T) {
	store := newStore(t, newLotsBackend(t, twoLots()))
	if _, err := store.LoadLots(context.Background()); err != nil {
		t.Fatal(err)
	}
	before := store.Slots()

	// Slot 21 belongs to the non-displayed lot; 999 to nobody.
	if store.ApplySlotUpdate(21, parking.SlotOccupied) {
		t.Error("Expected no-op for slot outside the current lot")
	}
	if store.ApplySlotUpdate(999, parking.SlotFree) {
		t.Error("Expected no-op for unknown slot")
	}
	if !reflect.DeepEqual(store.Slots(), before) {
		t.Error("Cache changed on a no-op update")
	}
}

func TestStore_SelectLot_SwapsSlotCollection(t *testing.T) {
	store := newStore(t, newLotsBackend(t, twoLots()))
	if _, err := store.LoadLots(context.Background()); err != nil {
		t.Fatal(err)
	}

	if !store.SelectLot(2) {
		t.Fatal("Expected SelectLot(2) to succeed")
	}
	slots := store.Slots()
	if len(slots) != 1 || slots[0].ID != 21 {
		t.Errorf("slots = %+v, want lot 2's collection", slots)
	}

	if store.SelectLot(99) {
		t.Error("Expected SelectLot of unknown id to fail")
	}
	if current, _ := store.CurrentLot(); current.ID != 2 {
		t.Errorf("current lot = %d, want 2 after failed select", current.ID)
	}
}

func TestStore_Subscribe_SignalsOnMutation(t *testing.T) {
	store := newStore(t, newLotsBackend(t, twoLots()))
	changes, cancel := store.Subscribe()
	defer cancel()

	if _, err := store.LoadLots(context.Background()); err != nil {
		t.Fatal(err)
	}
	select {
	case <-changes:
	case <-time.After(time.Second):
		t.Fatal("Expected a change signal after LoadLots")
	}

	store.ApplySlotUpdate(11, parking.SlotOccupied)
	select {
	case <-changes:
	case <-time.After(time.Second):
		t.Fatal("Expected a change signal after ApplySlotUpdate")
	}

	// After cancel, signals stop.
	cancel()
	store.ApplySlotUpdate(12, parking.SlotFree)
	select {
	case <-changes:
		t.Error("Expected no signal after cancel")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCountByStatus(t *testing.T) {
	free, occupied, reserved := parking.CountByStatus(twoLots()[0].Slots)
	if free != 1 || occupied != 1 || reserved != 1 {
		t.Errorf("counts = %d/%d/%d, want 1/1/1", free, occupied, reserved)
	}
}
