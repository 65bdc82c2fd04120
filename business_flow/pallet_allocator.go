package businessflow

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/amirphl/pallet-allocator/config"
	"github.com/amirphl/pallet-allocator/repository"
	"github.com/amirphl/pallet-allocator/utils"
)

// PalletAllocator hands out contiguous ranges of daily pallet numbers.
// Exclusivity comes from the single atomic statement behind SequenceCounterRepository.AllocateRange;
// nothing here holds a lock.
type PalletAllocator interface {
	Allocate(ctx context.Context, count int) (*AllocationResult, error)
	DayCode() string
}

// AllocationResult is one allocated range rendered as pallet numbers in ascending order
type AllocationResult struct {
	DayCode       string
	PalletNumbers []string
	First         int64
	Last          int64
	Bootstrapped  bool
}

// PalletAllocatorImpl implements PalletAllocator
type PalletAllocatorImpl struct {
	counterRepo repository.SequenceCounterRepository
	maxBatch    int
	loc         *time.Location
	now         utils.Clock
}

// NewPalletAllocator creates a new pallet allocator
func NewPalletAllocator(counterRepo repository.SequenceCounterRepository, allocatorConfig config.AllocatorConfig) PalletAllocator {
	return &PalletAllocatorImpl{
		counterRepo: counterRepo,
		maxBatch:    normalizeMaxBatch(allocatorConfig.MaxBatch),
		loc:         resolveLocation(allocatorConfig.Timezone),
		now:         time.Now,
	}
}

// DayCode returns the current day code in the allocator's timezone
func (a *PalletAllocatorImpl) DayCode() string {
	return utils.DayCode(a.now(), a.loc)
}

// Allocate claims count consecutive ordinals for today. The call is made exactly once;
// a failed or unacknowledged increment is reported, never replayed.
func (a *PalletAllocatorImpl) Allocate(ctx context.Context, count int) (result *AllocationResult, err error) {
	start := time.Now()
	defer func() { observeOp("allocate", start, err) }()

	if count < 1 || count > a.maxBatch {
		return nil, &BoundsError{Count: count, Max: a.maxBatch}
	}

	dayCode := a.DayCode()
	rng, err := a.counterRepo.AllocateRange(ctx, dayCode, count)
	if err != nil {
		return nil, &StoreUnavailableError{Op: "allocate_atomic_numbers", Err: err}
	}
	if rng.Count() != count {
		return nil, &StoreUnavailableError{
			Op:  "allocate_atomic_numbers",
			Err: fmt.Errorf("counter returned %d ordinals for %d requested", rng.Count(), count),
		}
	}

	numbers := make([]string, 0, count)
	for ordinal := rng.First; ordinal <= rng.Last; ordinal++ {
		numbers = append(numbers, FormatPalletNumber(rng.DayCode, ordinal))
	}

	palletNumbersAllocated.Add(float64(count))
	if rng.Bootstrapped {
		sequenceBootstraps.Inc()
		log.Printf("pallet counter bootstrapped for day %s", rng.DayCode)
	}

	return &AllocationResult{
		DayCode:       rng.DayCode,
		PalletNumbers: numbers,
		First:         rng.First,
		Last:          rng.Last,
		Bootstrapped:  rng.Bootstrapped,
	}, nil
}

// FormatPalletNumber renders {dayCode}/{ordinal}
func FormatPalletNumber(dayCode string, ordinal int64) string {
	return fmt.Sprintf("%s/%d", dayCode, ordinal)
}

func normalizeMaxBatch(n int) int {
	if n < 1 || n > utils.MaxAllocationBatch {
		return utils.MaxAllocationBatch
	}
	return n
}

func resolveLocation(name string) *time.Location {
	loc, err := utils.LoadLocation(name)
	if err != nil {
		log.Printf("unknown allocator timezone %q, falling back to UTC: %v", name, err)
		return time.UTC
	}
	return loc
}
