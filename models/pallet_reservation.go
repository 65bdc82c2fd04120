package models

import (
	"time"

	"github.com/google/uuid"
)

// ReservationState is the lifecycle position of a reserved identifier
type ReservationState string

const (
	ReservationStateReserved  ReservationState = "reserved"
	ReservationStateConfirmed ReservationState = "confirmed"
	ReservationStateReleased  ReservationState = "released"
)

// IsTerminal reports whether no further transitions are allowed
func (s ReservationState) IsTerminal() bool {
	return s == ReservationStateConfirmed || s == ReservationStateReleased
}

// CanTransitionTo reports whether s may move to next
func (s ReservationState) CanTransitionTo(next ReservationState) bool {
	return s == ReservationStateReserved && next.IsTerminal()
}

// Identifier families
const (
	IdentifierKindPallet = "pallet"
	IdentifierKindSeries = "series"
)

// PalletReservation is one bookkeeping row per identifier handed out by reserve.
// State only moves forward; releasing a row never returns its ordinal to the counter.
type PalletReservation struct {
	ID            uint             `gorm:"primaryKey" json:"id"`
	ReservationID uuid.UUID        `gorm:"type:uuid;not null;index:idx_pallet_reservations_reservation_id" json:"reservation_id"`
	Identifier    string           `gorm:"size:32;not null;uniqueIndex:idx_pallet_reservations_identifier" json:"identifier"`
	Kind          string           `gorm:"size:16;not null" json:"kind"`
	DayCode       string           `gorm:"size:6;not null;index:idx_pallet_reservations_day_code" json:"day_code"`
	Position      int              `gorm:"not null" json:"position"`
	SessionID     *string          `gorm:"size:255" json:"session_id,omitempty"`
	State         ReservationState `gorm:"size:16;not null;default:reserved;index:idx_pallet_reservations_state" json:"state"`
	CreatedAt     time.Time        `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt     time.Time        `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`
	ConfirmedAt   *time.Time       `json:"confirmed_at,omitempty"`
	ReleasedAt    *time.Time       `json:"released_at,omitempty"`
}

func (PalletReservation) TableName() string { return "pallet_reservations" }

// PalletReservationFilter represents filter criteria for reservation queries
type PalletReservationFilter struct {
	ReservationID *uuid.UUID
	Identifiers   []string
	DayCode       *string
	State         *ReservationState
	SessionID     *string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}

// ReservationStateCount is one row of a per-state aggregate
type ReservationStateCount struct {
	State ReservationState `json:"state"`
	Total int64            `json:"total"`
}
