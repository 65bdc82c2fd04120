package businessflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/amirphl/pallet-allocator/app/dto"
	"github.com/amirphl/pallet-allocator/config"
	"github.com/amirphl/pallet-allocator/models"
	"github.com/amirphl/pallet-allocator/repository"
	"github.com/amirphl/pallet-allocator/utils"
	"github.com/google/uuid"
	"github.com/montanaflynn/stats"
	"golang.org/x/sync/errgroup"
)

// ConcurrencyHarness fires simultaneous reserve calls and verifies that no identifier
// was handed out twice.
type ConcurrencyHarness interface {
	Run(ctx context.Context, req *dto.StressTestRequest) (*dto.StressReport, error)
}

// ConcurrencyHarnessImpl implements ConcurrencyHarness
type ConcurrencyHarnessImpl struct {
	reservationFlow ReservationFlow
	auditRepo       repository.AuditLogRepository
	maxCallers      int
	maxBatch        int
}

// NewConcurrencyHarness creates a new harness driving reservationFlow
func NewConcurrencyHarness(reservationFlow ReservationFlow, auditRepo repository.AuditLogRepository, allocatorConfig config.AllocatorConfig) ConcurrencyHarness {
	maxCallers := allocatorConfig.StressMaxCallers
	if maxCallers < 1 {
		maxCallers = config.DefaultAllocatorConfig().StressMaxCallers
	}
	return &ConcurrencyHarnessImpl{
		reservationFlow: reservationFlow,
		auditRepo:       auditRepo,
		maxCallers:      maxCallers,
		maxBatch:        normalizeMaxBatch(allocatorConfig.MaxBatch),
	}
}

// Run starts req.Callers goroutines behind a shared barrier so their reserve calls
// overlap, then checks the union of returned identifiers. Identifiers are released
// afterwards so the bookkeeping does not accumulate open reservations.
func (h *ConcurrencyHarnessImpl) Run(ctx context.Context, req *dto.StressTestRequest) (*dto.StressReport, error) {
	if req == nil {
		return nil, NewBusinessError("INVALID_REQUEST", "request is required", nil)
	}
	if req.Callers < 1 || req.Callers > h.maxCallers {
		return nil, NewBusinessErrorf("INVALID_STRESS_PARAMETERS", "callers must be between 1 and %d", ErrInvalidStressParameters, h.maxCallers)
	}
	if req.CountPerCaller < 1 || req.CountPerCaller > h.maxBatch {
		return nil, NewBusinessErrorf("INVALID_STRESS_PARAMETERS", "count_per_caller must be between 1 and %d", ErrInvalidStressParameters, h.maxBatch)
	}
	kind := req.Kind
	if kind == "" {
		kind = ReserveKindPallet
	}

	runID := uuid.New().String()
	sessionID := "stress-" + runID
	results := make([]dto.StressCallResult, req.Callers)
	gate := make(chan struct{})

	var g errgroup.Group
	var ready sync.WaitGroup
	ready.Add(req.Callers)
	for i := 0; i < req.Callers; i++ {
		caller := i
		g.Go(func() error {
			ready.Done()
			<-gate
			start := time.Now()
			resp, err := h.reservationFlow.Reserve(ctx, &dto.ReserveRequest{
				Count:     req.CountPerCaller,
				SessionID: sessionID,
				Kind:      kind,
			}, nil)
			result := dto.StressCallResult{Caller: caller, LatencyMs: utils.MillisSince(start)}
			if err != nil {
				result.Error = err.Error()
			} else {
				result.Success = true
				result.Method = resp.Method
				result.Identifiers = resp.Identifiers
			}
			results[caller] = result
			// Failures are data for the report, not a reason to stop the others
			return nil
		})
	}

	ready.Wait()
	startedAt := utils.UTCNow()
	wallStart := time.Now()
	close(gate)
	_ = g.Wait()
	wall := time.Since(wallStart)

	report := buildStressReport(runID, kind, req.Callers, req.CountPerCaller, results, wall)
	report.StartedAt = startedAt.Format(time.RFC3339Nano)

	released := make([]string, 0, report.TotalReturned)
	for _, r := range results {
		released = append(released, r.Identifiers...)
	}
	report.ReleaseFailures = h.release(ctx, released, sessionID)

	log.Printf("stress run %s: %d callers x %d %s, %d ok, %d failed, %d unique of %d expected, passed=%t",
		runID, req.Callers, req.CountPerCaller, kind, report.Successes, report.Failures, report.UniqueReturned, report.Expected, report.Passed)

	h.audit(ctx, report, sessionID)

	return report, nil
}

func (h *ConcurrencyHarnessImpl) audit(ctx context.Context, report *dto.StressReport, sessionID string) {
	if h.auditRepo == nil {
		return
	}
	summary := *report
	summary.Calls = nil
	raw, err := json.Marshal(summary)
	if err != nil {
		log.Printf("stress run %s: failed to encode audit metadata: %v", report.RunID, err)
		return
	}
	desc := fmt.Sprintf("Stress run with %d callers x %d %s identifiers", report.Callers, report.CountPerCaller, report.Kind)
	entry := &models.AuditLog{
		Action:      models.AuditActionStressRun,
		Description: &desc,
		SessionID:   &sessionID,
		Metadata:    raw,
		Success:     utils.ToPtr(report.Passed),
	}
	if !report.Passed {
		msg := fmt.Sprintf("%d duplicates, %d unique of %d expected", len(report.Duplicates), report.UniqueReturned, report.Expected)
		entry.ErrorMessage = &msg
	}
	if err := h.auditRepo.Save(ctx, entry); err != nil {
		log.Printf("stress run %s: failed to write audit log: %v", report.RunID, err)
	}
}

func (h *ConcurrencyHarnessImpl) release(ctx context.Context, identifiers []string, sessionID string) int {
	failures := 0
	for start := 0; start < len(identifiers); start += releaseChunk {
		end := min(start+releaseChunk, len(identifiers))
		_, err := h.reservationFlow.Release(ctx, &dto.ReservationTransitionRequest{
			Identifiers: identifiers[start:end],
			SessionID:   sessionID,
		}, nil)
		if err != nil {
			failures++
			log.Printf("stress release of %d identifiers failed: %v", end-start, err)
		}
	}
	return failures
}

const releaseChunk = 100

func buildStressReport(runID, kind string, callers, countPerCaller int, results []dto.StressCallResult, wall time.Duration) *dto.StressReport {
	perCall := countPerCaller
	if kind == ReserveKindBoth {
		perCall *= 2
	}

	report := &dto.StressReport{
		RunID:          runID,
		Kind:           kind,
		Callers:        callers,
		CountPerCaller: countPerCaller,
		Duplicates:     []string{},
		WallTimeMs:     float64(wall.Microseconds()) / 1000.0,
		Calls:          results,
	}

	seen := make(map[string]int)
	latencies := make([]float64, 0, len(results))
	for _, r := range results {
		latencies = append(latencies, r.LatencyMs)
		if !r.Success {
			report.Failures++
			continue
		}
		report.Successes++
		for _, id := range r.Identifiers {
			seen[id]++
			report.TotalReturned++
		}
	}
	for id, n := range seen {
		if n > 1 {
			report.Duplicates = append(report.Duplicates, id)
		}
	}
	sort.Strings(report.Duplicates)

	report.UniqueReturned = len(seen)
	report.Expected = report.Successes * perCall
	report.Passed = len(report.Duplicates) == 0 && report.UniqueReturned == report.Expected
	report.Latency = summarizeLatencies(latencies)
	if wall > 0 {
		report.ThroughputPerS = float64(report.TotalReturned) / wall.Seconds()
	}
	return report
}

func summarizeLatencies(samples []float64) dto.LatencySummary {
	if len(samples) == 0 {
		return dto.LatencySummary{}
	}
	data := stats.Float64Data(samples)
	var s dto.LatencySummary
	s.MinMs, _ = data.Min()
	s.MaxMs, _ = data.Max()
	s.MeanMs, _ = data.Mean()
	percentile := func(p float64) float64 {
		v, err := data.Percentile(p)
		if err != nil || math.IsNaN(v) {
			return s.MaxMs
		}
		return v
	}
	s.P50Ms = percentile(50)
	s.P95Ms = percentile(95)
	s.P99Ms = percentile(99)
	return s
}
