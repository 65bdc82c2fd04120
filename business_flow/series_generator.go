package businessflow

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/amirphl/pallet-allocator/config"
	"github.com/amirphl/pallet-allocator/repository"
	"github.com/amirphl/pallet-allocator/utils"
)

// SeriesGenerator draws random date-scoped series codes and verifies them against
// the issued records and reservation bookkeeping. Retries within one call are sequential.
type SeriesGenerator interface {
	GenerateOne(ctx context.Context) (string, error)
	GenerateMany(ctx context.Context, count int) ([]string, error)
	GenerateManyForDay(ctx context.Context, dayCode string, count int) ([]string, error)
}

// SeriesGeneratorImpl implements SeriesGenerator
type SeriesGeneratorImpl struct {
	palletInfoRepo repository.PalletInfoRepository
	claims         repository.SeriesClaimCache
	maxAttempts    int
	batchFactor    int
	loc            *time.Location
	now            utils.Clock
	suffix         func() (string, error)
}

// NewSeriesGenerator creates a new series generator
func NewSeriesGenerator(
	palletInfoRepo repository.PalletInfoRepository,
	claims repository.SeriesClaimCache,
	allocatorConfig config.AllocatorConfig,
) SeriesGenerator {
	maxAttempts := allocatorConfig.SeriesMaxAttempts
	if maxAttempts < 1 {
		maxAttempts = utils.SeriesMaxAttempts
	}
	batchFactor := allocatorConfig.SeriesBatchFactor
	if batchFactor < 1 {
		batchFactor = utils.SeriesBatchAttemptFactor
	}
	if claims == nil {
		claims = repository.NewSeriesClaimCache(nil, "", 0)
	}
	return &SeriesGeneratorImpl{
		palletInfoRepo: palletInfoRepo,
		claims:         claims,
		maxAttempts:    maxAttempts,
		batchFactor:    batchFactor,
		loc:            resolveLocation(allocatorConfig.Timezone),
		now:            time.Now,
		suffix:         randomSuffix,
	}
}

// FormatSeries renders {dayCode}-{suffix}
func FormatSeries(dayCode, suffix string) string {
	return dayCode + "-" + suffix
}

// GenerateOne returns a series code for today that is neither issued nor reserved.
// Each attempt costs one lookup; after maxAttempts collisions it fails with ExhaustionError.
func (g *SeriesGeneratorImpl) GenerateOne(ctx context.Context) (series string, err error) {
	start := time.Now()
	defer func() { observeOp("series_one", start, err) }()

	dayCode := utils.DayCode(g.now(), g.loc)
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		suffix, err := g.suffix()
		if err != nil {
			return "", fmt.Errorf("failed to draw series suffix: %w", err)
		}
		candidate := FormatSeries(dayCode, suffix)

		exists, err := g.palletInfoRepo.SeriesExists(ctx, candidate)
		if err != nil {
			return "", &StoreUnavailableError{Op: "series_lookup", Err: err}
		}
		if exists {
			seriesCollisions.Inc()
			continue
		}
		if ok, _ := g.claim(ctx, dayCode, candidate); !ok {
			seriesCollisions.Inc()
			continue
		}

		seriesGenerated.Inc()
		return candidate, nil
	}

	return "", &ExhaustionError{Attempts: g.maxAttempts}
}

// GenerateMany returns count distinct series codes for today
func (g *SeriesGeneratorImpl) GenerateMany(ctx context.Context, count int) ([]string, error) {
	return g.GenerateManyForDay(ctx, utils.DayCode(g.now(), g.loc), count)
}

// GenerateManyForDay returns count distinct series codes sharing dayCode.
// Candidates are drawn in rounds: in-batch duplicates are dropped locally, the rest are
// checked with one batched lookup per round. The whole batch shares count*batchFactor attempts.
// A failed batch gives its claims back.
func (g *SeriesGeneratorImpl) GenerateManyForDay(ctx context.Context, dayCode string, count int) (out []string, err error) {
	if count <= 0 {
		return []string{}, nil
	}

	start := time.Now()
	defer func() { observeOp("series_many", start, err) }()

	budget := count * g.batchFactor
	attempts := 0
	seen := make(map[string]struct{}, count)
	accepted := make([]string, 0, count)
	held := make([]string, 0, count)
	defer func() {
		if err != nil {
			g.unclaim(ctx, dayCode, held)
		}
	}()

	for len(accepted) < count && attempts < budget {
		need := count - len(accepted)
		candidates := make([]string, 0, need)
		for len(candidates) < need && attempts < budget {
			suffix, err := g.suffix()
			if err != nil {
				return nil, fmt.Errorf("failed to draw series suffix: %w", err)
			}
			attempts++
			candidate := FormatSeries(dayCode, suffix)
			if _, dup := seen[candidate]; dup {
				seriesCollisions.Inc()
				continue
			}
			seen[candidate] = struct{}{}
			candidates = append(candidates, candidate)
		}
		if len(candidates) == 0 {
			continue
		}

		issued, err := g.palletInfoRepo.ExistingSeries(ctx, candidates)
		if err != nil {
			return nil, &StoreUnavailableError{Op: "series_lookup", Err: err}
		}
		taken := make(map[string]struct{}, len(issued))
		for _, s := range issued {
			taken[s] = struct{}{}
		}
		claimed, err := g.claims.Claimed(ctx, dayCode, candidates)
		if err != nil {
			log.Printf("series claim lookup failed for day %s, relying on issued records: %v", dayCode, err)
		}
		for _, s := range claimed {
			taken[s] = struct{}{}
		}

		for _, candidate := range candidates {
			if _, ok := taken[candidate]; ok {
				seriesCollisions.Inc()
				continue
			}
			ok, owned := g.claim(ctx, dayCode, candidate)
			if !ok {
				seriesCollisions.Inc()
				continue
			}
			if owned {
				held = append(held, candidate)
			}
			accepted = append(accepted, candidate)
		}
	}

	if len(accepted) < count {
		return nil, &PartialBatchError{Requested: count, Produced: len(accepted), Attempts: attempts}
	}

	seriesGenerated.Add(float64(len(accepted)))
	return accepted, nil
}

// claim records candidate in the shared claim set. A cache outage degrades to the
// issued record check alone; claimed is false then since nothing was written.
func (g *SeriesGeneratorImpl) claim(ctx context.Context, dayCode, candidate string) (ok, claimed bool) {
	ok, err := g.claims.Claim(ctx, dayCode, candidate)
	if err != nil {
		log.Printf("series claim failed for %s, accepting on issued record check: %v", candidate, err)
		return true, false
	}
	return ok, ok
}

func (g *SeriesGeneratorImpl) unclaim(ctx context.Context, dayCode string, series []string) {
	if len(series) == 0 {
		return
	}
	if err := g.claims.Unclaim(ctx, dayCode, series); err != nil {
		log.Printf("failed to give back %d series claims for day %s: %v", len(series), dayCode, err)
	}
}

var seriesAlphabetSize = big.NewInt(int64(len(utils.SeriesAlphabet)))

func randomSuffix() (string, error) {
	b := make([]byte, utils.SeriesSuffixLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, seriesAlphabetSize)
		if err != nil {
			return "", err
		}
		b[i] = utils.SeriesAlphabet[n.Int64()]
	}
	return string(b), nil
}
