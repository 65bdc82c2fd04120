package testing

import (
	"fmt"
	"time"

	"github.com/amirphl/pallet-allocator/models"
	"github.com/amirphl/pallet-allocator/utils"
)

// TestFixtures provides helper methods for creating test data
type TestFixtures struct {
	DB *TestDB
}

// NewTestFixtures creates a new test fixtures instance
func NewTestFixtures(db *TestDB) *TestFixtures {
	return &TestFixtures{DB: db}
}

// CreateIssuedPallet records a pallet the way downstream label printing does once it has used
// a pallet number and series code
func (tf *TestFixtures) CreateIssuedPallet(palletNumber, series string) (*models.PalletInfo, error) {
	record := &models.PalletInfo{
		PltNum:       palletNumber,
		Series:       series,
		ProductCode:  "TEST-PRODUCT",
		ProductQty:   1,
		GenerateTime: utils.UTCNow(),
	}
	if err := tf.DB.DB.Create(record).Error; err != nil {
		return nil, fmt.Errorf("failed to insert pallet record %s: %w", palletNumber, err)
	}
	return record, nil
}

// SeedCounter sets the counter for dayCode to currentMax
func (tf *TestFixtures) SeedCounter(dayCode string, currentMax int64) error {
	counter := &models.DailySequenceCounter{
		DayCode:     dayCode,
		CurrentMax:  currentMax,
		LastUpdated: time.Now().UTC(),
	}
	if err := tf.DB.DB.Save(counter).Error; err != nil {
		return fmt.Errorf("failed to seed counter for %s: %w", dayCode, err)
	}
	return nil
}
