package repository

import (
	"context"
	"fmt"

	"github.com/amirphl/pallet-allocator/models"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// PalletInfoRepositoryImpl implements PalletInfoRepository
type PalletInfoRepositoryImpl struct {
	*BaseRepository[models.PalletInfo, any]
}

// NewPalletInfoRepository creates a new pallet info repository
func NewPalletInfoRepository(db *gorm.DB) PalletInfoRepository {
	return &PalletInfoRepositoryImpl{
		BaseRepository: NewBaseRepository[models.PalletInfo, any](db),
	}
}

// SeriesExists reports whether a series code is already recorded or reserved
func (r *PalletInfoRepositoryImpl) SeriesExists(ctx context.Context, series string) (bool, error) {
	db := r.getDB(ctx)

	var exists bool
	err := db.Raw(`SELECT EXISTS (SELECT 1 FROM record_palletinfo WHERE series = ?)
		OR EXISTS (SELECT 1 FROM pallet_reservations WHERE kind = ? AND identifier = ?)`,
		series, models.IdentifierKindSeries, series).Scan(&exists).Error
	if err != nil {
		return false, fmt.Errorf("failed to check series %s: %w", series, err)
	}
	return exists, nil
}

// ExistingSeries returns the subset of series codes already recorded or reserved
func (r *PalletInfoRepositoryImpl) ExistingSeries(ctx context.Context, series []string) ([]string, error) {
	if len(series) == 0 {
		return nil, nil
	}
	db := r.getDB(ctx)

	var found []string
	err := db.Raw(`SELECT series FROM record_palletinfo WHERE series = ANY(?)
		UNION
		SELECT identifier FROM pallet_reservations WHERE kind = ? AND identifier = ANY(?)`,
		pq.Array(series), models.IdentifierKindSeries, pq.Array(series)).Scan(&found).Error
	if err != nil {
		return nil, fmt.Errorf("failed to check %d series codes: %w", len(series), err)
	}
	return found, nil
}
