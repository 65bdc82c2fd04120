package models

import "time"

// DailySequenceCounter stores the highest pallet ordinal issued for one calendar day.
// Rows are created by the allocator on first use and only ever incremented.
type DailySequenceCounter struct {
	DayCode     string    `gorm:"primaryKey;size:6" json:"day_code"`
	CurrentMax  int64     `gorm:"not null;default:0;check:current_max >= 0" json:"current_max"`
	LastUpdated time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"last_updated"`
}

func (DailySequenceCounter) TableName() string { return "daily_pallet_sequences" }

// AllocatedRange is the result of one atomic allocation
type AllocatedRange struct {
	DayCode      string
	First        int64
	Last         int64
	Bootstrapped bool
}

// Count returns the number of ordinals in the range
func (r AllocatedRange) Count() int {
	if r.Last < r.First {
		return 0
	}
	return int(r.Last - r.First + 1)
}
