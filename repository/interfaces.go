// Package repository provides data access layer implementations and interfaces for database operations
package repository

import (
	"context"

	"github.com/amirphl/pallet-allocator/models"
	"github.com/google/uuid"
)

// RepositoryContext key for transaction in context
type contextKey string

const TxContextKey contextKey = "tx"

type Repository[T any, F any] interface {
	ByID(ctx context.Context, id uint) (*T, error)
	ByFilter(ctx context.Context, filter F, orderBy string, limit, offset int) ([]*T, error)
	Save(ctx context.Context, entity *T) error
	SaveBatch(ctx context.Context, entities []*T) error
	Count(ctx context.Context, filter F) (int64, error)
	Exists(ctx context.Context, filter F) (bool, error)
}

// SequenceCounterRepository owns the per-day pallet counters.
// AllocateRange is the only write path and runs as one atomic statement.
type SequenceCounterRepository interface {
	AllocateRange(ctx context.Context, dayCode string, count int) (*models.AllocatedRange, error)
	ByDayCode(ctx context.Context, dayCode string) (*models.DailySequenceCounter, error)
}

// Transactor runs fn in one database transaction. Repository calls made with the
// context handed to fn join that transaction.
type Transactor interface {
	WithTransaction(ctx context.Context, fn func(context.Context) error) error
}

// PalletInfoRepository reads issued pallet records. Series lookups also cover codes
// held in reservation bookkeeping that have not reached the issued records yet.
type PalletInfoRepository interface {
	Save(ctx context.Context, entity *models.PalletInfo) error
	SeriesExists(ctx context.Context, series string) (bool, error)
	ExistingSeries(ctx context.Context, series []string) ([]string, error)
}

// PalletReservationRepository defines operations for reservation bookkeeping
type PalletReservationRepository interface {
	Repository[models.PalletReservation, models.PalletReservationFilter]
	ByReservationID(ctx context.Context, reservationID uuid.UUID) ([]*models.PalletReservation, error)
	TransitionState(ctx context.Context, identifiers []string, to models.ReservationState) (int64, error)
	CountByState(ctx context.Context, dayCode string) ([]models.ReservationStateCount, error)
}

// AuditLogRepository defines operations for audit logs
type AuditLogRepository interface {
	Repository[models.AuditLog, models.AuditLogFilter]
	ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]*models.AuditLog, error)
}

// SeriesClaimCache remembers series codes already handed out for a day so that
// concurrent generators in other processes see each other's picks.
type SeriesClaimCache interface {
	Claim(ctx context.Context, dayCode, series string) (bool, error)
	Claimed(ctx context.Context, dayCode string, series []string) ([]string, error)
	ClaimedCount(ctx context.Context, dayCode string) (int64, error)
	Unclaim(ctx context.Context, dayCode string, series []string) error
}
