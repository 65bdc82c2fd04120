package repository

import (
	"context"
	"fmt"

	"github.com/amirphl/pallet-allocator/models"
	"github.com/amirphl/pallet-allocator/utils"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// PalletReservationRepositoryImpl implements PalletReservationRepository
type PalletReservationRepositoryImpl struct {
	*BaseRepository[models.PalletReservation, models.PalletReservationFilter]
}

// NewPalletReservationRepository creates a new reservation bookkeeping repository
func NewPalletReservationRepository(db *gorm.DB) PalletReservationRepository {
	return &PalletReservationRepositoryImpl{
		BaseRepository: NewBaseRepository[models.PalletReservation, models.PalletReservationFilter](db),
	}
}

// ByReservationID returns every identifier row of one reservation in issue order
func (r *PalletReservationRepositoryImpl) ByReservationID(ctx context.Context, reservationID uuid.UUID) ([]*models.PalletReservation, error) {
	return r.ByFilter(ctx, models.PalletReservationFilter{ReservationID: &reservationID}, "kind ASC, position ASC", 0, 0)
}

// TransitionState moves rows still in the reserved state to the given terminal state.
// Rows already confirmed or released are left untouched, which makes repeated
// calls with the same identifiers no-ops. Returns the number of rows moved.
func (r *PalletReservationRepositoryImpl) TransitionState(ctx context.Context, identifiers []string, to models.ReservationState) (int64, error) {
	if len(identifiers) == 0 {
		return 0, nil
	}
	if !models.ReservationStateReserved.CanTransitionTo(to) {
		return 0, fmt.Errorf("invalid reservation transition to %q", to)
	}

	now := utils.UTCNow()
	updates := map[string]any{
		"state":      to,
		"updated_at": now,
	}
	switch to {
	case models.ReservationStateConfirmed:
		updates["confirmed_at"] = now
	case models.ReservationStateReleased:
		updates["released_at"] = now
	}

	db := r.getDB(ctx)
	res := db.Model(&models.PalletReservation{}).
		Where("identifier = ANY(?) AND state = ?", pq.Array(identifiers), models.ReservationStateReserved).
		Updates(updates)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to move %d identifiers to %s: %w", len(identifiers), to, res.Error)
	}
	return res.RowsAffected, nil
}

// CountByState aggregates reservation rows for a day by state
func (r *PalletReservationRepositoryImpl) CountByState(ctx context.Context, dayCode string) ([]models.ReservationStateCount, error) {
	db := r.getDB(ctx)

	var rows []models.ReservationStateCount
	err := db.Model(&models.PalletReservation{}).
		Select("state, COUNT(*) AS total").
		Where("day_code = ?", dayCode).
		Group("state").
		Order("state ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count reservations for day %s: %w", dayCode, err)
	}
	return rows, nil
}

func (r *PalletReservationRepositoryImpl) applyFilter(query *gorm.DB, filter models.PalletReservationFilter) *gorm.DB {
	if filter.ReservationID != nil {
		query = query.Where("reservation_id = ?", *filter.ReservationID)
	}
	if len(filter.Identifiers) > 0 {
		query = query.Where("identifier = ANY(?)", pq.Array(filter.Identifiers))
	}
	if filter.DayCode != nil {
		query = query.Where("day_code = ?", *filter.DayCode)
	}
	if filter.State != nil {
		query = query.Where("state = ?", *filter.State)
	}
	if filter.SessionID != nil {
		query = query.Where("session_id = ?", *filter.SessionID)
	}
	if filter.CreatedAfter != nil {
		query = query.Where("created_at > ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		query = query.Where("created_at < ?", *filter.CreatedBefore)
	}
	return query
}

// ByFilter retrieves reservation rows based on filter criteria
func (r *PalletReservationRepositoryImpl) ByFilter(ctx context.Context, filter models.PalletReservationFilter, orderBy string, limit, offset int) ([]*models.PalletReservation, error) {
	query := r.applyFilter(r.getDB(ctx).Model(&models.PalletReservation{}), filter)

	if orderBy == "" {
		orderBy = "id DESC"
	}
	query = query.Order(orderBy)
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var rows []*models.PalletReservation
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to find reservations by filter: %w", err)
	}
	return rows, nil
}

// Count returns the number of reservation rows matching the filter
func (r *PalletReservationRepositoryImpl) Count(ctx context.Context, filter models.PalletReservationFilter) (int64, error) {
	var count int64
	query := r.applyFilter(r.getDB(ctx).Model(&models.PalletReservation{}), filter)
	if err := query.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count reservations: %w", err)
	}
	return count, nil
}

// Exists checks if any reservation row matches the filter
func (r *PalletReservationRepositoryImpl) Exists(ctx context.Context, filter models.PalletReservationFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
