package businessflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/amirphl/pallet-allocator/app/dto"
	"github.com/amirphl/pallet-allocator/models"
	"github.com/amirphl/pallet-allocator/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reservationFixture struct {
	counters     *fakeCounterRepo
	issued       *fakePalletInfoRepo
	claims       *fakeClaimCache
	reservations *fakeReservationRepo
	audit        *fakeAuditRepo
	tx           *fakeTransactor
	allocator    *PalletAllocatorImpl
	generator    *SeriesGeneratorImpl
	flow         *ReservationFlowImpl
}

func newReservationFixture(now time.Time) *reservationFixture {
	f := &reservationFixture{
		counters:     newFakeCounterRepo(),
		issued:       newFakePalletInfoRepo(),
		claims:       newFakeClaimCache(),
		reservations: newFakeReservationRepo(),
		audit:        &fakeAuditRepo{},
	}
	f.tx = &fakeTransactor{reservations: f.reservations}
	f.allocator = newTestAllocator(f.counters, now)
	f.generator = newTestSeriesGenerator(f.issued, f.claims, now)
	f.flow = NewReservationFlow(
		f.allocator,
		f.generator,
		f.counters,
		f.reservations,
		f.audit,
		f.claims,
		f.tx,
		testAllocatorConfig(),
	).(*ReservationFlowImpl)
	f.flow.now = fixedClock(now)
	return f
}

func TestReservationFlow_Reserve(t *testing.T) {
	ctx := context.Background()

	t.Run("DefaultKindPairsPalletsWithSeries", func(t *testing.T) {
		f := newReservationFixture(june14)

		resp, err := f.flow.Reserve(ctx, &dto.ReserveRequest{Count: 3, SessionID: "printer-7"}, nil)
		require.NoError(t, err)
		assert.True(t, resp.Success)
		assert.Equal(t, ReserveKindBoth, resp.Kind)
		assert.Equal(t, "140625", resp.DayCode)
		assert.Equal(t, MethodSequenceBootstrap+"+"+MethodSeriesRandom, resp.Method)
		assert.Equal(t, []string{"140625/1", "140625/2", "140625/3"}, resp.PalletNumbers)
		require.Len(t, resp.Series, 3)
		require.Len(t, resp.Pairs, 3)
		for i, pair := range resp.Pairs {
			assert.Equal(t, resp.PalletNumbers[i], pair.PalletNumber)
			assert.Equal(t, resp.Series[i], pair.Series)
			assert.Regexp(t, seriesPattern, pair.Series)
		}
		assert.Len(t, resp.Identifiers, 6)
		assert.True(t, resp.Tracked)

		for _, id := range resp.Identifiers {
			assert.Equal(t, models.ReservationStateReserved, f.reservations.state(id))
		}
		assert.Contains(t, f.audit.actions(), models.AuditActionPalletsReserved)
	})

	t.Run("PalletOnlyReportsIncrementAfterBootstrap", func(t *testing.T) {
		f := newReservationFixture(june14)

		first, err := f.flow.Reserve(ctx, &dto.ReserveRequest{Count: 2, Kind: ReserveKindPallet}, nil)
		require.NoError(t, err)
		assert.Equal(t, MethodSequenceBootstrap, first.Method)
		assert.Empty(t, first.Series)
		assert.Empty(t, first.Pairs)

		second, err := f.flow.Reserve(ctx, &dto.ReserveRequest{Count: 2, Kind: ReserveKindPallet}, nil)
		require.NoError(t, err)
		assert.Equal(t, MethodSequenceIncrement, second.Method)
		assert.Equal(t, []string{"140625/3", "140625/4"}, second.PalletNumbers)
	})

	t.Run("SeriesOnlyLeavesCounterUntouched", func(t *testing.T) {
		f := newReservationFixture(june14)

		resp, err := f.flow.Reserve(ctx, &dto.ReserveRequest{Count: 4, Kind: ReserveKindSeries}, nil)
		require.NoError(t, err)
		assert.Equal(t, MethodSeriesRandom, resp.Method)
		assert.Len(t, resp.Series, 4)
		assert.Empty(t, resp.PalletNumbers)
		assert.Zero(t, f.counters.calls)
	})

	t.Run("OutOfBoundsCountFailsWithoutIO", func(t *testing.T) {
		f := newReservationFixture(june14)

		_, err := f.flow.Reserve(ctx, &dto.ReserveRequest{Count: 51}, nil)
		assert.True(t, IsCountOutOfBounds(err))
		assert.Zero(t, f.counters.calls)
		assert.Zero(t, f.issued.interactions())
	})

	t.Run("UnknownKindIsRejected", func(t *testing.T) {
		f := newReservationFixture(june14)

		_, err := f.flow.Reserve(ctx, &dto.ReserveRequest{Count: 1, Kind: "crate"}, nil)
		assert.True(t, IsInvalidIdentifierKind(err))
		assert.Zero(t, f.counters.calls)
	})

	t.Run("StoreFailureIsAuditedAndReturned", func(t *testing.T) {
		f := newReservationFixture(june14)
		f.counters.failWith = errStoreDown

		_, err := f.flow.Reserve(ctx, &dto.ReserveRequest{Count: 2, SessionID: "s-1"}, nil)
		assert.True(t, IsStoreUnavailable(err))
		assert.Contains(t, f.audit.actions(), models.AuditActionPalletReserveFailed)
	})

	t.Run("SeriesFailureAfterAllocationRecordsReleasedGap", func(t *testing.T) {
		f := newReservationFixture(june14)
		f.generator.suffix = scriptedSuffixes("STUCK1")

		_, err := f.flow.Reserve(ctx, &dto.ReserveRequest{Count: 2}, nil)
		require.Error(t, err)
		assert.True(t, IsSeriesBatchShort(err))
		assert.Equal(t, models.ReservationStateReleased, f.reservations.state("140625/1"))
		assert.Equal(t, models.ReservationStateReleased, f.reservations.state("140625/2"))

		// The spent ordinals are not handed out again
		f.generator.suffix = randomSuffix
		resp, err := f.flow.Reserve(ctx, &dto.ReserveRequest{Count: 1}, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"140625/3"}, resp.PalletNumbers)
	})

	t.Run("BookkeepingFailureStillReturnsIdentifiers", func(t *testing.T) {
		f := newReservationFixture(june14)
		f.reservations.failSave = errStoreDown

		resp, err := f.flow.Reserve(ctx, &dto.ReserveRequest{Count: 2, Kind: ReserveKindPallet}, nil)
		require.NoError(t, err)
		assert.False(t, resp.Tracked)
		assert.Len(t, resp.PalletNumbers, 2)
	})

	t.Run("ReservedSeriesIsNotHandedOutTwiceWithoutClaimCache", func(t *testing.T) {
		f := newReservationFixture(june14)
		noClaims := repository.NewSeriesClaimCache(nil, "", 0)
		f.issued.reserved = f.reservations
		f.generator.claims = noClaims
		f.flow.claims = noClaims
		f.generator.suffix = scriptedSuffixes("SAME01", "SAME01", "OTHER2")

		first, err := f.flow.Reserve(ctx, &dto.ReserveRequest{Count: 1, Kind: ReserveKindSeries, SessionID: "a"}, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"140625-SAME01"}, first.Series)

		second, err := f.flow.Reserve(ctx, &dto.ReserveRequest{Count: 1, Kind: ReserveKindSeries, SessionID: "b"}, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"140625-OTHER2"}, second.Series)
		assert.True(t, second.Tracked)
	})

	t.Run("DuplicateSeriesOnSaveIsRedrawn", func(t *testing.T) {
		f := newReservationFixture(june14)
		noClaims := repository.NewSeriesClaimCache(nil, "", 0)
		f.generator.claims = noClaims
		f.generator.suffix = scriptedSuffixes("SAME01", "OTHER2")
		require.NoError(t, f.reservations.SaveBatch(ctx, buildReservationRows(uuid.New(), "140625", nil,
			[]string{"140625-SAME01"}, "a", models.ReservationStateReserved, nil)))

		resp, err := f.flow.Reserve(ctx, &dto.ReserveRequest{Count: 1, Kind: ReserveKindSeries, SessionID: "b"}, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"140625-OTHER2"}, resp.Series)
		assert.True(t, resp.Tracked)
		assert.Equal(t, models.ReservationStateReserved, f.reservations.state("140625-OTHER2"))
	})

	t.Run("PersistentDuplicateSeriesFailsAndReleasesPallets", func(t *testing.T) {
		f := newReservationFixture(june14)
		noClaims := repository.NewSeriesClaimCache(nil, "", 0)
		f.generator.claims = noClaims
		f.generator.suffix = scriptedSuffixes("SAME01")
		require.NoError(t, f.reservations.SaveBatch(ctx, buildReservationRows(uuid.New(), "140625", nil,
			[]string{"140625-SAME01"}, "a", models.ReservationStateReserved, nil)))

		resp, err := f.flow.Reserve(ctx, &dto.ReserveRequest{Count: 1, SessionID: "b"}, nil)
		require.Error(t, err)
		assert.Nil(t, resp)
		assert.True(t, IsSeriesExhausted(err))
		assert.Equal(t, models.ReservationStateReleased, f.reservations.state("140625/1"))
		assert.Contains(t, f.audit.actions(), models.AuditActionPalletReserveFailed)
	})

	t.Run("AbandonedPalletsAndFailureAuditCommitTogether", func(t *testing.T) {
		f := newReservationFixture(june14)
		f.generator.suffix = scriptedSuffixes("STUCK1")
		f.audit.failSave = errStoreDown

		_, err := f.flow.Reserve(ctx, &dto.ReserveRequest{Count: 2}, nil)
		require.Error(t, err)
		assert.True(t, IsSeriesBatchShort(err))

		begun, rolledBack := f.tx.counts()
		assert.Equal(t, 1, begun)
		assert.Equal(t, 1, rolledBack)
		assert.Empty(t, f.reservations.state("140625/1"))
	})
}

func TestReservationFlow_ConfirmRelease(t *testing.T) {
	ctx := context.Background()

	t.Run("ConfirmIsIdempotent", func(t *testing.T) {
		f := newReservationFixture(june14)
		reserved, err := f.flow.Reserve(ctx, &dto.ReserveRequest{Count: 3, Kind: ReserveKindPallet}, nil)
		require.NoError(t, err)
		before := f.counters.value("140625")

		req := &dto.ReservationTransitionRequest{Identifiers: reserved.Identifiers, SessionID: "s-1"}
		first, err := f.flow.Confirm(ctx, req, nil)
		require.NoError(t, err)
		assert.True(t, first.Success)
		assert.Equal(t, int64(3), first.Transitioned)
		assert.Equal(t, int64(0), first.Unchanged)

		second, err := f.flow.Confirm(ctx, req, nil)
		require.NoError(t, err)
		assert.True(t, second.Success)
		assert.Equal(t, int64(0), second.Transitioned)
		assert.Equal(t, int64(3), second.Unchanged)

		for _, id := range reserved.Identifiers {
			assert.Equal(t, models.ReservationStateConfirmed, f.reservations.state(id))
		}
		assert.Equal(t, before, f.counters.value("140625"))
	})

	t.Run("ReleaseIsIdempotentAndNeverReusesOrdinals", func(t *testing.T) {
		f := newReservationFixture(june14)
		reserved, err := f.flow.Reserve(ctx, &dto.ReserveRequest{Count: 5, Kind: ReserveKindPallet}, nil)
		require.NoError(t, err)

		req := &dto.ReservationTransitionRequest{Identifiers: reserved.Identifiers}
		first, err := f.flow.Release(ctx, req, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(5), first.Transitioned)

		second, err := f.flow.Release(ctx, req, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(0), second.Transitioned)
		assert.Equal(t, int64(5), f.counters.value("140625"))

		next, err := f.flow.Reserve(ctx, &dto.ReserveRequest{Count: 2, Kind: ReserveKindPallet}, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"140625/6", "140625/7"}, next.PalletNumbers)
	})

	t.Run("TerminalStatesDoNotCross", func(t *testing.T) {
		f := newReservationFixture(june14)
		reserved, err := f.flow.Reserve(ctx, &dto.ReserveRequest{Count: 1, Kind: ReserveKindPallet}, nil)
		require.NoError(t, err)
		req := &dto.ReservationTransitionRequest{Identifiers: reserved.Identifiers}

		_, err = f.flow.Confirm(ctx, req, nil)
		require.NoError(t, err)
		resp, err := f.flow.Release(ctx, req, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(0), resp.Transitioned)
		assert.Equal(t, models.ReservationStateConfirmed, f.reservations.state(reserved.Identifiers[0]))
	})

	t.Run("SessionIsNotEnforced", func(t *testing.T) {
		f := newReservationFixture(june14)
		reserved, err := f.flow.Reserve(ctx, &dto.ReserveRequest{Count: 2, Kind: ReserveKindPallet, SessionID: "owner"}, nil)
		require.NoError(t, err)

		resp, err := f.flow.Confirm(ctx, &dto.ReservationTransitionRequest{Identifiers: reserved.Identifiers, SessionID: "someone-else"}, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(2), resp.Transitioned)
	})

	t.Run("DuplicateAndEmptyIdentifiersAreCollapsed", func(t *testing.T) {
		f := newReservationFixture(june14)
		reserved, err := f.flow.Reserve(ctx, &dto.ReserveRequest{Count: 1, Kind: ReserveKindPallet}, nil)
		require.NoError(t, err)
		id := reserved.Identifiers[0]

		resp, err := f.flow.Confirm(ctx, &dto.ReservationTransitionRequest{Identifiers: []string{id, id, ""}}, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, resp.Requested)
		assert.Equal(t, int64(1), resp.Transitioned)

		_, err = f.flow.Release(ctx, &dto.ReservationTransitionRequest{Identifiers: []string{""}}, nil)
		assert.True(t, IsIdentifiersRequired(err))
	})

	t.Run("UnknownIdentifiersAreUnchanged", func(t *testing.T) {
		f := newReservationFixture(june14)

		resp, err := f.flow.Release(ctx, &dto.ReservationTransitionRequest{Identifiers: []string{"140625/999"}}, nil)
		require.NoError(t, err)
		assert.True(t, resp.Success)
		assert.Equal(t, int64(1), resp.Unchanged)
	})

	t.Run("StoreFailureIsReportedNotRetried", func(t *testing.T) {
		f := newReservationFixture(june14)
		f.reservations.failMove = errStoreDown

		_, err := f.flow.Confirm(ctx, &dto.ReservationTransitionRequest{Identifiers: []string{"140625/1"}}, nil)
		assert.True(t, IsStoreUnavailable(err))
	})

	t.Run("AuditFailureRollsBackTheTransition", func(t *testing.T) {
		f := newReservationFixture(june14)
		reserved, err := f.flow.Reserve(ctx, &dto.ReserveRequest{Count: 2, Kind: ReserveKindPallet}, nil)
		require.NoError(t, err)
		f.audit.failSave = errStoreDown

		_, err = f.flow.Confirm(ctx, &dto.ReservationTransitionRequest{Identifiers: reserved.Identifiers}, nil)
		assert.True(t, IsStoreUnavailable(err))
		for _, id := range reserved.Identifiers {
			assert.Equal(t, models.ReservationStateReserved, f.reservations.state(id))
		}
		_, rolledBack := f.tx.counts()
		assert.Equal(t, 1, rolledBack)

		f.audit.failSave = nil
		resp, err := f.flow.Confirm(ctx, &dto.ReservationTransitionRequest{Identifiers: reserved.Identifiers}, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(2), resp.Transitioned)
	})

	t.Run("ConcurrentConfirmTransitionsEachIdentifierOnce", func(t *testing.T) {
		f := newReservationFixture(june14)
		reserved, err := f.flow.Reserve(ctx, &dto.ReserveRequest{Count: 10, Kind: ReserveKindPallet}, nil)
		require.NoError(t, err)

		var wg sync.WaitGroup
		var mu sync.Mutex
		var total int64
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				resp, err := f.flow.Confirm(ctx, &dto.ReservationTransitionRequest{Identifiers: reserved.Identifiers}, nil)
				if err == nil {
					mu.Lock()
					total += resp.Transitioned
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int64(10), total)
	})
}

func TestReservationFlow_GetReservation(t *testing.T) {
	ctx := context.Background()
	f := newReservationFixture(june14)

	reserved, err := f.flow.Reserve(ctx, &dto.ReserveRequest{Count: 2, SessionID: "s-9"}, nil)
	require.NoError(t, err)

	detail, err := f.flow.GetReservation(ctx, reserved.ReservationID)
	require.NoError(t, err)
	assert.Equal(t, "140625", detail.DayCode)
	assert.Equal(t, string(models.ReservationStateReserved), detail.State)
	assert.Len(t, detail.Items, 4)

	_, err = f.flow.Confirm(ctx, &dto.ReservationTransitionRequest{Identifiers: reserved.PalletNumbers[:1]}, nil)
	require.NoError(t, err)
	detail, err = f.flow.GetReservation(ctx, reserved.ReservationID)
	require.NoError(t, err)
	assert.Equal(t, "mixed", detail.State)

	_, err = f.flow.GetReservation(ctx, "not-a-uuid")
	assert.True(t, IsInvalidReservationID(err))

	_, err = f.flow.GetReservation(ctx, "6f1c2a8e-0a4b-4c53-9a43-1f1f7f3c2b10")
	assert.True(t, IsReservationNotFound(err))
}

func TestReservationFlow_Diagnostics(t *testing.T) {
	ctx := context.Background()
	f := newReservationFixture(june14)

	diag, err := f.flow.Diagnostics(ctx)
	require.NoError(t, err)
	assert.False(t, diag.CounterExists)
	assert.Equal(t, "140625", diag.DayCode)

	reserved, err := f.flow.Reserve(ctx, &dto.ReserveRequest{Count: 3}, nil)
	require.NoError(t, err)
	_, err = f.flow.Release(ctx, &dto.ReservationTransitionRequest{Identifiers: reserved.PalletNumbers}, nil)
	require.NoError(t, err)

	diag, err = f.flow.Diagnostics(ctx)
	require.NoError(t, err)
	assert.True(t, diag.CounterExists)
	assert.Equal(t, int64(3), diag.CurrentMax)
	assert.Equal(t, int64(3), diag.ReservationsByState[string(models.ReservationStateReleased)])
	assert.Equal(t, int64(3), diag.ReservationsByState[string(models.ReservationStateReserved)])
	assert.Equal(t, int64(3), diag.SeriesClaimed)
	assert.Equal(t, 50, diag.MaxBatch)
}

func TestReservationFlow_GenerateSeries(t *testing.T) {
	ctx := context.Background()
	f := newReservationFixture(june14)

	one, err := f.flow.GenerateSeries(ctx, &dto.GenerateSeriesRequest{Count: 1}, nil)
	require.NoError(t, err)
	assert.Len(t, one.Series, 1)
	assert.Equal(t, 1, f.issued.lookups)
	assert.Equal(t, "140625", one.DayCode)

	many, err := f.flow.GenerateSeries(ctx, &dto.GenerateSeriesRequest{Count: 5}, nil)
	require.NoError(t, err)
	assert.Len(t, many.Series, 5)

	_, err = f.flow.GenerateSeries(ctx, &dto.GenerateSeriesRequest{Count: 0}, nil)
	assert.True(t, IsCountOutOfBounds(err))
}
