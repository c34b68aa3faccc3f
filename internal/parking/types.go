package parking

import "time"

type SlotStatus string

const (
	SlotFree     SlotStatus = "free"
	SlotOccupied SlotStatus = "occupied"
	SlotReserved SlotStatus = "reserved"
)

func ParseSlotStatus(s string) (SlotStatus, bool) {
	switch SlotStatus(s) {
	case SlotFree, SlotOccupied, SlotReserved:
		return SlotStatus(s), true
	default:
		return "", false
	}
}

type SlotType string

const (
	SlotRegular SlotType = "regular"
	SlotPremium SlotType = "premium"
	SlotEV      SlotType = "ev"
)

// Slot is an individually bookable parking space. Status transitions
// are server-authoritative: the client only ever applies a pushed
// event or a full refetch.
type Slot struct {
	ID          int64      `json:"id"`
	LotID       int64      `json:"lot_id"`
	Name        string     `json:"name"`
	SlotType    SlotType   `json:"slot_type"`
	RatePerHour float64    `json:"rate_per_hour"`
	Status      SlotStatus `json:"status"`
	IsActive    bool       `json:"is_active"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Lot is a parking facility with an ordered set of slots.
type Lot struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Address     string    `json:"address,omitempty"`
	GeoLocation string    `json:"geo_location,omitempty"`
	Slots       []Slot    `json:"slots"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CountByStatus backs the dashboard's summary cards.
func CountByStatus(slots []Slot) (free, occupied, reserved int) {
	for _, slot := range slots {
		switch slot.Status {
		case SlotFree:
			free++
		case SlotOccupied:
			occupied++
		case SlotReserved:
			reserved++
		}
	}
	return free, occupied, reserved
}
