package businessflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/amirphl/pallet-allocator/config"
	"github.com/amirphl/pallet-allocator/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var errStoreDown = errors.New("connection refused")

// fakeCounterRepo mimics the atomic upsert: the mutex plays the role of the row lock
type fakeCounterRepo struct {
	mu       sync.Mutex
	counters map[string]int64
	calls    int
	failWith error
}

func newFakeCounterRepo() *fakeCounterRepo {
	return &fakeCounterRepo{counters: make(map[string]int64)}
}

func (r *fakeCounterRepo) AllocateRange(_ context.Context, dayCode string, count int) (*models.AllocatedRange, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.failWith != nil {
		return nil, r.failWith
	}
	current, exists := r.counters[dayCode]
	r.counters[dayCode] = current + int64(count)
	return &models.AllocatedRange{
		DayCode:      dayCode,
		First:        current + 1,
		Last:         current + int64(count),
		Bootstrapped: !exists,
	}, nil
}

func (r *fakeCounterRepo) ByDayCode(_ context.Context, dayCode string) (*models.DailySequenceCounter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.counters[dayCode]
	if !ok {
		return nil, nil
	}
	return &models.DailySequenceCounter{DayCode: dayCode, CurrentMax: current, LastUpdated: time.Now()}, nil
}

func (r *fakeCounterRepo) value(dayCode string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters[dayCode]
}

// fakePalletInfoRepo answers issued-record lookups from a set, or from collide when set.
// When reserved is set, series rows held there count as taken too.
type fakePalletInfoRepo struct {
	mu           sync.Mutex
	issued       map[string]bool
	reserved     *fakeReservationRepo
	collide      func(lookup int, series string) bool
	lookups      int
	batchLookups int
	failOnBatch  int
	failWith     error
}

func newFakePalletInfoRepo(issued ...string) *fakePalletInfoRepo {
	r := &fakePalletInfoRepo{issued: make(map[string]bool)}
	for _, s := range issued {
		r.issued[s] = true
	}
	return r
}

func (r *fakePalletInfoRepo) Save(_ context.Context, entity *models.PalletInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.issued[entity.Series] = true
	return nil
}

func (r *fakePalletInfoRepo) SeriesExists(_ context.Context, series string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookups++
	if r.failWith != nil {
		return false, r.failWith
	}
	if r.collide != nil {
		return r.collide(r.lookups, series), nil
	}
	return r.taken(series), nil
}

func (r *fakePalletInfoRepo) ExistingSeries(_ context.Context, series []string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batchLookups++
	if r.failWith != nil {
		return nil, r.failWith
	}
	if r.failOnBatch > 0 && r.batchLookups >= r.failOnBatch {
		return nil, errStoreDown
	}
	var out []string
	for _, s := range series {
		if r.taken(s) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *fakePalletInfoRepo) taken(series string) bool {
	if r.issued[series] {
		return true
	}
	return r.reserved != nil && r.reserved.holds(series, models.IdentifierKindSeries)
}

func (r *fakePalletInfoRepo) interactions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookups + r.batchLookups
}

type fakeClaimCache struct {
	mu       sync.Mutex
	claimed  map[string]bool
	claims   int
	unclaims int
	failWith error
}

func newFakeClaimCache(preclaimed ...string) *fakeClaimCache {
	c := &fakeClaimCache{claimed: make(map[string]bool)}
	for _, s := range preclaimed {
		c.claimed[s] = true
	}
	return c
}

func (c *fakeClaimCache) Claim(_ context.Context, _ string, series string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.claims++
	if c.failWith != nil {
		return false, c.failWith
	}
	if c.claimed[series] {
		return false, nil
	}
	c.claimed[series] = true
	return true, nil
}

func (c *fakeClaimCache) Claimed(_ context.Context, _ string, series []string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWith != nil {
		return nil, c.failWith
	}
	var out []string
	for _, s := range series {
		if c.claimed[s] {
			out = append(out, s)
		}
	}
	return out, nil
}

func (c *fakeClaimCache) ClaimedCount(context.Context, string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int64(len(c.claimed)), nil
}

func (c *fakeClaimCache) Unclaim(_ context.Context, _ string, series []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unclaims++
	if c.failWith != nil {
		return c.failWith
	}
	for _, s := range series {
		delete(c.claimed, s)
	}
	return nil
}

func (c *fakeClaimCache) has(series string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.claimed[series]
}

type fakeReservationRepo struct {
	mu       sync.Mutex
	rows     map[string]*models.PalletReservation
	nextID   uint
	failSave error
	failMove error
}

func newFakeReservationRepo() *fakeReservationRepo {
	return &fakeReservationRepo{rows: make(map[string]*models.PalletReservation)}
}

func (r *fakeReservationRepo) ByID(_ context.Context, id uint) (*models.PalletReservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.ID == id {
			return row, nil
		}
	}
	return nil, nil
}

func (r *fakeReservationRepo) ByFilter(_ context.Context, filter models.PalletReservationFilter, _ string, _, _ int) ([]*models.PalletReservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.PalletReservation
	for _, row := range r.rows {
		if r.matches(row, filter) {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r *fakeReservationRepo) Save(ctx context.Context, entity *models.PalletReservation) error {
	return r.SaveBatch(ctx, []*models.PalletReservation{entity})
}

func (r *fakeReservationRepo) SaveBatch(_ context.Context, entities []*models.PalletReservation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failSave != nil {
		return r.failSave
	}
	for _, e := range entities {
		if _, dup := r.rows[e.Identifier]; dup {
			return fmt.Errorf("failed to save batch entities: %w", gorm.ErrDuplicatedKey)
		}
	}
	now := time.Now()
	for _, e := range entities {
		r.nextID++
		e.ID = r.nextID
		e.CreatedAt = now
		e.UpdatedAt = now
		r.rows[e.Identifier] = e
	}
	return nil
}

func (r *fakeReservationRepo) Count(_ context.Context, filter models.PalletReservationFilter) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, row := range r.rows {
		if r.matches(row, filter) {
			n++
		}
	}
	return n, nil
}

func (r *fakeReservationRepo) Exists(ctx context.Context, filter models.PalletReservationFilter) (bool, error) {
	n, err := r.Count(ctx, filter)
	return n > 0, err
}

func (r *fakeReservationRepo) ByReservationID(ctx context.Context, reservationID uuid.UUID) ([]*models.PalletReservation, error) {
	return r.ByFilter(ctx, models.PalletReservationFilter{ReservationID: &reservationID}, "", 0, 0)
}

func (r *fakeReservationRepo) TransitionState(_ context.Context, identifiers []string, to models.ReservationState) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failMove != nil {
		return 0, r.failMove
	}
	var moved int64
	now := time.Now()
	for _, id := range identifiers {
		row, ok := r.rows[id]
		if !ok || !row.State.CanTransitionTo(to) {
			continue
		}
		row.State = to
		row.UpdatedAt = now
		if to == models.ReservationStateConfirmed {
			row.ConfirmedAt = &now
		} else {
			row.ReleasedAt = &now
		}
		moved++
	}
	return moved, nil
}

func (r *fakeReservationRepo) CountByState(_ context.Context, dayCode string) ([]models.ReservationStateCount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	totals := map[models.ReservationState]int64{}
	for _, row := range r.rows {
		if row.DayCode == dayCode {
			totals[row.State]++
		}
	}
	var out []models.ReservationStateCount
	for state, total := range totals {
		out = append(out, models.ReservationStateCount{State: state, Total: total})
	}
	return out, nil
}

func (r *fakeReservationRepo) state(identifier string) models.ReservationState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row, ok := r.rows[identifier]; ok {
		return row.State
	}
	return ""
}

func (r *fakeReservationRepo) holds(identifier, kind string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[identifier]
	return ok && row.Kind == kind
}

func (r *fakeReservationRepo) snapshot() map[string]models.PalletReservation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]models.PalletReservation, len(r.rows))
	for id, row := range r.rows {
		out[id] = *row
	}
	return out
}

func (r *fakeReservationRepo) restore(rows map[string]models.PalletReservation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = make(map[string]*models.PalletReservation, len(rows))
	for id, row := range rows {
		r.rows[id] = &row
	}
}

func (r *fakeReservationRepo) matches(row *models.PalletReservation, f models.PalletReservationFilter) bool {
	if f.ReservationID != nil && row.ReservationID != *f.ReservationID {
		return false
	}
	if f.DayCode != nil && row.DayCode != *f.DayCode {
		return false
	}
	if f.State != nil && row.State != *f.State {
		return false
	}
	if f.CreatedBefore != nil && !row.CreatedAt.Before(*f.CreatedBefore) {
		return false
	}
	if f.CreatedAfter != nil && !row.CreatedAt.After(*f.CreatedAfter) {
		return false
	}
	return true
}

type fakeAuditRepo struct {
	mu       sync.Mutex
	entries  []*models.AuditLog
	failSave error
}

func (r *fakeAuditRepo) ByID(context.Context, uint) (*models.AuditLog, error) { return nil, nil }

func (r *fakeAuditRepo) ByFilter(_ context.Context, filter models.AuditLogFilter, _ string, _, _ int) ([]*models.AuditLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.AuditLog
	for _, e := range r.entries {
		if filter.Action != nil && e.Action != *filter.Action {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *fakeAuditRepo) Save(_ context.Context, entity *models.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failSave != nil {
		return r.failSave
	}
	r.entries = append(r.entries, entity)
	return nil
}

func (r *fakeAuditRepo) SaveBatch(ctx context.Context, entities []*models.AuditLog) error {
	for _, e := range entities {
		_ = r.Save(ctx, e)
	}
	return nil
}

func (r *fakeAuditRepo) Count(ctx context.Context, filter models.AuditLogFilter) (int64, error) {
	rows, _ := r.ByFilter(ctx, filter, "", 0, 0)
	return int64(len(rows)), nil
}

func (r *fakeAuditRepo) Exists(ctx context.Context, filter models.AuditLogFilter) (bool, error) {
	n, _ := r.Count(ctx, filter)
	return n > 0, nil
}

func (r *fakeAuditRepo) ListBySession(_ context.Context, sessionID string, _, _ int) ([]*models.AuditLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.AuditLog
	for _, e := range r.entries {
		if e.SessionID != nil && *e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *fakeAuditRepo) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Action)
	}
	return out
}

// fakeTransactor rolls the reservation rows back to their state at begin when fn fails
type fakeTransactor struct {
	reservations *fakeReservationRepo
	mu           sync.Mutex
	begun        int
	rolledBack   int
}

func (t *fakeTransactor) WithTransaction(ctx context.Context, fn func(context.Context) error) error {
	before := t.reservations.snapshot()
	t.mu.Lock()
	t.begun++
	t.mu.Unlock()
	if err := fn(ctx); err != nil {
		t.reservations.restore(before)
		t.mu.Lock()
		t.rolledBack++
		t.mu.Unlock()
		return err
	}
	return nil
}

func (t *fakeTransactor) counts() (begun, rolledBack int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.begun, t.rolledBack
}

// fixedClock returns a clock pinned to the given UTC instant
func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// scriptedSuffixes yields the given suffixes in order, then repeats the last one
func scriptedSuffixes(suffixes ...string) func() (string, error) {
	var mu sync.Mutex
	i := 0
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		s := suffixes[min(i, len(suffixes)-1)]
		i++
		return s, nil
	}
}

func testAllocatorConfig() config.AllocatorConfig {
	cfg := config.DefaultAllocatorConfig()
	cfg.Timezone = "UTC"
	return cfg
}

// 14 June 2025, midday UTC
var june14 = time.Date(2025, time.June, 14, 12, 0, 0, 0, time.UTC)

func newTestAllocator(repo *fakeCounterRepo, now time.Time) *PalletAllocatorImpl {
	a := NewPalletAllocator(repo, testAllocatorConfig()).(*PalletAllocatorImpl)
	a.now = fixedClock(now)
	return a
}

func newTestSeriesGenerator(repo *fakePalletInfoRepo, claims *fakeClaimCache, now time.Time) *SeriesGeneratorImpl {
	g := NewSeriesGenerator(repo, claims, testAllocatorConfig()).(*SeriesGeneratorImpl)
	g.now = fixedClock(now)
	return g
}
