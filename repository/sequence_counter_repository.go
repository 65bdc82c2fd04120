package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/amirphl/pallet-allocator/models"
	"gorm.io/gorm"
)

// SequenceCounterRepositoryImpl implements SequenceCounterRepository
type SequenceCounterRepositoryImpl struct {
	*BaseRepository[models.DailySequenceCounter, any]
}

// NewSequenceCounterRepository creates a new daily sequence counter repository
func NewSequenceCounterRepository(db *gorm.DB) SequenceCounterRepository {
	return &SequenceCounterRepositoryImpl{
		BaseRepository: NewBaseRepository[models.DailySequenceCounter, any](db),
	}
}

type allocateRow struct {
	OutDayCode   string
	FirstOrdinal int64
	LastOrdinal  int64
	Bootstrapped bool
}

// AllocateRange claims count consecutive ordinals for dayCode.
// The increment, the read-back and the lazy row creation all happen inside
// allocate_atomic_numbers, so concurrent callers can never see overlapping ranges.
// The call is never retried here: a lost acknowledgement may hide a committed increment.
func (r *SequenceCounterRepositoryImpl) AllocateRange(ctx context.Context, dayCode string, count int) (*models.AllocatedRange, error) {
	db := r.getDB(ctx)

	var row allocateRow
	err := db.Raw(
		"SELECT out_day_code, first_ordinal, last_ordinal, bootstrapped FROM allocate_atomic_numbers(?, ?)",
		count, dayCode,
	).Scan(&row).Error
	if err != nil {
		return nil, fmt.Errorf("allocate_atomic_numbers(%d, %s): %w", count, dayCode, err)
	}
	if row.OutDayCode == "" {
		return nil, fmt.Errorf("allocate_atomic_numbers(%d, %s) returned no row", count, dayCode)
	}

	return &models.AllocatedRange{
		DayCode:      row.OutDayCode,
		First:        row.FirstOrdinal,
		Last:         row.LastOrdinal,
		Bootstrapped: row.Bootstrapped,
	}, nil
}

// ByDayCode returns the counter row for a day, or nil if nothing was allocated yet
func (r *SequenceCounterRepositoryImpl) ByDayCode(ctx context.Context, dayCode string) (*models.DailySequenceCounter, error) {
	db := r.getDB(ctx)

	var counter models.DailySequenceCounter
	err := db.Where("day_code = ?", dayCode).Take(&counter).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find counter for day %s: %w", dayCode, err)
	}
	return &counter, nil
}
