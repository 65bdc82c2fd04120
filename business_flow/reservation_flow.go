package businessflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/amirphl/pallet-allocator/app/dto"
	"github.com/amirphl/pallet-allocator/config"
	"github.com/amirphl/pallet-allocator/models"
	"github.com/amirphl/pallet-allocator/repository"
	"github.com/amirphl/pallet-allocator/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Identifier families accepted by Reserve
const (
	ReserveKindPallet = models.IdentifierKindPallet
	ReserveKindSeries = models.IdentifierKindSeries
	ReserveKindBoth   = "both"
)

// Method tags reported by Reserve
const (
	MethodSequenceBootstrap = "sequence_bootstrap"
	MethodSequenceIncrement = "sequence_increment"
	MethodSeriesRandom      = "series_random"
)

// ReservationFlow wraps the allocators with the reserve/confirm/release lifecycle.
// The session id travels with every call for correlation only; any caller may confirm or
// release any identifier.
type ReservationFlow interface {
	Reserve(ctx context.Context, req *dto.ReserveRequest, metadata *ClientMetadata) (*dto.ReserveResponse, error)
	Confirm(ctx context.Context, req *dto.ReservationTransitionRequest, metadata *ClientMetadata) (*dto.ReservationTransitionResponse, error)
	Release(ctx context.Context, req *dto.ReservationTransitionRequest, metadata *ClientMetadata) (*dto.ReservationTransitionResponse, error)
	GenerateSeries(ctx context.Context, req *dto.GenerateSeriesRequest, metadata *ClientMetadata) (*dto.GenerateSeriesResponse, error)
	GetReservation(ctx context.Context, reservationID string) (*dto.ReservationDetailResponse, error)
	Diagnostics(ctx context.Context) (*dto.AllocatorDiagnosticsResponse, error)
}

// ReservationFlowImpl implements ReservationFlow
type ReservationFlowImpl struct {
	allocator       PalletAllocator
	seriesGenerator SeriesGenerator
	counterRepo     repository.SequenceCounterRepository
	reservationRepo repository.PalletReservationRepository
	auditRepo       repository.AuditLogRepository
	claims          repository.SeriesClaimCache
	tx              repository.Transactor
	allocatorConfig config.AllocatorConfig
	now             utils.Clock
}

// NewReservationFlow creates a new reservation flow
func NewReservationFlow(
	allocator PalletAllocator,
	seriesGenerator SeriesGenerator,
	counterRepo repository.SequenceCounterRepository,
	reservationRepo repository.PalletReservationRepository,
	auditRepo repository.AuditLogRepository,
	claims repository.SeriesClaimCache,
	tx repository.Transactor,
	allocatorConfig config.AllocatorConfig,
) ReservationFlow {
	if claims == nil {
		claims = repository.NewSeriesClaimCache(nil, "", 0)
	}
	return &ReservationFlowImpl{
		allocator:       allocator,
		seriesGenerator: seriesGenerator,
		counterRepo:     counterRepo,
		reservationRepo: reservationRepo,
		auditRepo:       auditRepo,
		claims:          claims,
		tx:              tx,
		allocatorConfig: allocatorConfig,
		now:             utils.UTCNow,
	}
}

// Reserve allocates count identifiers of the requested family. In "both" mode pallet
// numbers and series codes are index-aligned and share one day code.
func (f *ReservationFlowImpl) Reserve(ctx context.Context, req *dto.ReserveRequest, metadata *ClientMetadata) (resp *dto.ReserveResponse, err error) {
	start := time.Now()
	defer func() { observeOp("reserve", start, err) }()

	if req == nil {
		return nil, NewBusinessError("INVALID_REQUEST", "request is required", nil)
	}
	kind := req.Kind
	if kind == "" {
		kind = ReserveKindBoth
	}
	if kind != ReserveKindPallet && kind != ReserveKindSeries && kind != ReserveKindBoth {
		return nil, NewBusinessErrorf("INVALID_IDENTIFIER_KIND", "unknown identifier kind %q", ErrInvalidIdentifierKind, kind)
	}
	maxBatch := normalizeMaxBatch(f.allocatorConfig.MaxBatch)
	if req.Count < 1 || req.Count > maxBatch {
		return nil, &BoundsError{Count: req.Count, Max: maxBatch}
	}

	sessionID := sessionIDFrom(req.SessionID, metadata)
	reservationID := uuid.New()

	var (
		dayCode  string
		pallets  []string
		series   []string
		methods  []string
		rangeLog string
	)

	if kind == ReserveKindPallet || kind == ReserveKindBoth {
		result, err := f.allocator.Allocate(ctx, req.Count)
		if err != nil {
			_ = f.auditFailure(ctx, reservationID, kind, req.Count, sessionID, err, metadata)
			return nil, err
		}
		dayCode = result.DayCode
		pallets = result.PalletNumbers
		rangeLog = fmt.Sprintf(" ordinals %d..%d", result.First, result.Last)
		if result.Bootstrapped {
			methods = append(methods, MethodSequenceBootstrap)
		} else {
			methods = append(methods, MethodSequenceIncrement)
		}
	} else {
		dayCode = f.allocator.DayCode()
	}

	if kind == ReserveKindSeries || kind == ReserveKindBoth {
		series, err = f.seriesGenerator.GenerateManyForDay(ctx, dayCode, req.Count)
		if err != nil {
			f.abandon(ctx, reservationID, kind, req.Count, dayCode, pallets, sessionID, err, metadata)
			return nil, err
		}
		methods = append(methods, MethodSeriesRandom)
	}

	series, tracked, err := f.persistReservation(ctx, reservationID, dayCode, pallets, series, sessionID)
	if err != nil {
		f.abandon(ctx, reservationID, kind, req.Count, dayCode, pallets, sessionID, err, metadata)
		return nil, err
	}

	method := strings.Join(methods, "+")
	log.Printf("reservation %s (session %s): reserved %d %s identifiers for day %s via %s%s",
		reservationID, sessionID, req.Count, kind, dayCode, method, rangeLog)

	identifiers := make([]string, 0, len(pallets)+len(series))
	identifiers = append(identifiers, pallets...)
	identifiers = append(identifiers, series...)

	resp = &dto.ReserveResponse{
		Success:       true,
		Message:       "Identifiers reserved successfully",
		ReservationID: reservationID.String(),
		DayCode:       dayCode,
		Kind:          kind,
		Method:        method,
		Identifiers:   identifiers,
		PalletNumbers: pallets,
		Series:        series,
		Tracked:       tracked,
	}
	if kind == ReserveKindBoth {
		resp.Pairs = make([]dto.PalletSeriesPair, len(pallets))
		for i := range pallets {
			resp.Pairs[i] = dto.PalletSeriesPair{PalletNumber: pallets[i], Series: series[i]}
		}
	}

	desc := fmt.Sprintf("Reserved %d %s identifiers for day %s", req.Count, kind, dayCode)
	_ = f.createAuditLog(ctx, models.AuditActionPalletsReserved, desc, true, nil, sessionID, map[string]any{
		"reservation_id": reservationID.String(),
		"kind":           kind,
		"count":          req.Count,
		"method":         method,
		"identifiers":    identifiers,
	}, metadata)

	return resp, nil
}

// Confirm marks identifiers as used downstream. The counter is not touched.
func (f *ReservationFlowImpl) Confirm(ctx context.Context, req *dto.ReservationTransitionRequest, metadata *ClientMetadata) (*dto.ReservationTransitionResponse, error) {
	return f.transition(ctx, "confirm", req, models.ReservationStateConfirmed, models.AuditActionPalletsConfirmed, metadata)
}

// Release marks identifiers as abandoned. Their ordinals stay spent.
func (f *ReservationFlowImpl) Release(ctx context.Context, req *dto.ReservationTransitionRequest, metadata *ClientMetadata) (*dto.ReservationTransitionResponse, error) {
	return f.transition(ctx, "release", req, models.ReservationStateReleased, models.AuditActionPalletsReleased, metadata)
}

func (f *ReservationFlowImpl) transition(
	ctx context.Context,
	op string,
	req *dto.ReservationTransitionRequest,
	to models.ReservationState,
	action string,
	metadata *ClientMetadata,
) (resp *dto.ReservationTransitionResponse, err error) {
	start := time.Now()
	defer func() { observeOp(op, start, err) }()

	if req == nil {
		return nil, NewBusinessError("INVALID_REQUEST", "request is required", nil)
	}
	identifiers := utils.Dedupe(req.Identifiers)
	if len(identifiers) == 0 {
		return nil, NewBusinessError("IDENTIFIERS_REQUIRED", "at least one identifier is required", ErrIdentifiersRequired)
	}
	sessionID := sessionIDFrom(req.SessionID, metadata)

	// The state change and its audit row commit together
	var (
		moved int64
		desc  string
	)
	err = f.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		n, err := f.reservationRepo.TransitionState(txCtx, identifiers, to)
		if err != nil {
			return err
		}
		moved = n
		desc = fmt.Sprintf("%d of %d identifiers moved to %s", moved, len(identifiers), to)
		return f.createAuditLog(txCtx, action, desc, true, nil, sessionID, map[string]any{
			"identifiers":  identifiers,
			"transitioned": moved,
		}, metadata)
	})
	if err != nil {
		errMsg := err.Error()
		_ = f.createAuditLog(ctx, action, fmt.Sprintf("Failed to %s %d identifiers", op, len(identifiers)), false, &errMsg, sessionID, map[string]any{
			"identifiers": identifiers,
		}, metadata)
		log.Printf("%s failed for session %s: %v", op, sessionID, err)
		return nil, &StoreUnavailableError{Op: op, Err: err}
	}
	reservationTransitions.WithLabelValues(string(to)).Add(float64(moved))

	unchanged := int64(len(identifiers)) - moved
	log.Printf("%s (session %s): %d identifiers moved to %s, %d unchanged", op, sessionID, moved, to, unchanged)

	return &dto.ReservationTransitionResponse{
		Success:      true,
		Message:      desc,
		State:        string(to),
		Requested:    len(identifiers),
		Transitioned: moved,
		Unchanged:    unchanged,
	}, nil
}

// GenerateSeries hands out bare series codes without reservation bookkeeping
func (f *ReservationFlowImpl) GenerateSeries(ctx context.Context, req *dto.GenerateSeriesRequest, metadata *ClientMetadata) (*dto.GenerateSeriesResponse, error) {
	if req == nil {
		return nil, NewBusinessError("INVALID_REQUEST", "request is required", nil)
	}
	maxBatch := normalizeMaxBatch(f.allocatorConfig.MaxBatch)
	if req.Count < 1 || req.Count > maxBatch {
		return nil, &BoundsError{Count: req.Count, Max: maxBatch}
	}

	var series []string
	if req.Count == 1 {
		one, err := f.seriesGenerator.GenerateOne(ctx)
		if err != nil {
			return nil, err
		}
		series = []string{one}
	} else {
		many, err := f.seriesGenerator.GenerateMany(ctx, req.Count)
		if err != nil {
			return nil, err
		}
		series = many
	}

	dayCode, _, _ := strings.Cut(series[0], "-")

	sessionID := sessionIDFrom("", metadata)
	_ = f.createAuditLog(ctx, models.AuditActionSeriesGenerated, fmt.Sprintf("Generated %d series codes", len(series)), true, nil, sessionID, map[string]any{
		"series": series,
	}, metadata)

	return &dto.GenerateSeriesResponse{
		Message: "Series codes generated successfully",
		DayCode: dayCode,
		Series:  series,
	}, nil
}

// GetReservation returns every identifier row of one reservation
func (f *ReservationFlowImpl) GetReservation(ctx context.Context, reservationID string) (*dto.ReservationDetailResponse, error) {
	id, err := uuid.Parse(reservationID)
	if err != nil {
		return nil, NewBusinessError("INVALID_RESERVATION_ID", "reservation id must be a UUID", ErrInvalidReservationID)
	}

	rows, err := f.reservationRepo.ByReservationID(ctx, id)
	if err != nil {
		return nil, &StoreUnavailableError{Op: "reservation_lookup", Err: err}
	}
	if len(rows) == 0 {
		return nil, NewBusinessError("RESERVATION_NOT_FOUND", "reservation not found", ErrReservationNotFound)
	}

	items := make([]dto.ReservationItem, 0, len(rows))
	states := make(map[models.ReservationState]struct{})
	for _, row := range rows {
		states[row.State] = struct{}{}
		items = append(items, dto.ReservationItem{
			Identifier:  row.Identifier,
			Kind:        row.Kind,
			Position:    row.Position,
			State:       string(row.State),
			SessionID:   row.SessionID,
			CreatedAt:   row.CreatedAt.Format(time.RFC3339),
			UpdatedAt:   row.UpdatedAt.Format(time.RFC3339),
			ConfirmedAt: formatTimePtr(row.ConfirmedAt),
			ReleasedAt:  formatTimePtr(row.ReleasedAt),
		})
	}

	// Confirm and release act per identifier, so a reservation can end up mixed
	state := "mixed"
	if len(states) == 1 {
		state = string(rows[0].State)
	}

	return &dto.ReservationDetailResponse{
		Message:       "Reservation retrieved",
		ReservationID: id.String(),
		DayCode:       rows[0].DayCode,
		State:         state,
		Items:         items,
	}, nil
}

// Diagnostics reports today's counter and reservation bookkeeping
func (f *ReservationFlowImpl) Diagnostics(ctx context.Context) (*dto.AllocatorDiagnosticsResponse, error) {
	dayCode := f.allocator.DayCode()

	counter, err := f.counterRepo.ByDayCode(ctx, dayCode)
	if err != nil {
		return nil, &StoreUnavailableError{Op: "counter_lookup", Err: err}
	}
	counts, err := f.reservationRepo.CountByState(ctx, dayCode)
	if err != nil {
		return nil, &StoreUnavailableError{Op: "reservation_counts", Err: err}
	}

	resp := &dto.AllocatorDiagnosticsResponse{
		Message:             "Allocator diagnostics",
		DayCode:             dayCode,
		Timezone:            resolveLocation(f.allocatorConfig.Timezone).String(),
		ReservationsByState: make(map[string]int64, len(counts)),
		MaxBatch:            normalizeMaxBatch(f.allocatorConfig.MaxBatch),
	}
	if counter != nil {
		resp.CounterExists = true
		resp.CurrentMax = counter.CurrentMax
		resp.CounterUpdatedAt = formatTimePtr(&counter.LastUpdated)
	}
	for _, c := range counts {
		resp.ReservationsByState[string(c.State)] = c.Total
	}

	if f.allocatorConfig.ReservationTTL > 0 {
		cutoff := f.now().Add(-f.allocatorConfig.ReservationTTL)
		state := models.ReservationStateReserved
		stale, err := f.reservationRepo.Count(ctx, models.PalletReservationFilter{
			State:         &state,
			CreatedBefore: &cutoff,
		})
		if err != nil {
			return nil, &StoreUnavailableError{Op: "stale_reservations", Err: err}
		}
		resp.StaleReservations = stale
	}

	claimed, err := f.claims.ClaimedCount(ctx, dayCode)
	if err != nil {
		log.Printf("diagnostics: series claim count unavailable for day %s: %v", dayCode, err)
	} else {
		resp.SeriesClaimed = claimed
	}

	return resp, nil
}

// persistReservation records the reserved rows. A unique violation means another caller
// already holds one of the series codes, so the series are redrawn up to
// SeriesReserveAttempts times. Any other store failure leaves the identifiers issued but
// untracked.
func (f *ReservationFlowImpl) persistReservation(
	ctx context.Context,
	reservationID uuid.UUID,
	dayCode string,
	pallets, series []string,
	sessionID string,
) ([]string, bool, error) {
	for attempt := 1; ; attempt++ {
		rows := buildReservationRows(reservationID, dayCode, pallets, series, sessionID, models.ReservationStateReserved, nil)
		err := f.reservationRepo.SaveBatch(ctx, rows)
		if err == nil {
			reservationTransitions.WithLabelValues(string(models.ReservationStateReserved)).Add(float64(len(rows)))
			return series, true, nil
		}
		if len(series) == 0 || !errors.Is(err, gorm.ErrDuplicatedKey) {
			log.Printf("reservation %s (session %s): failed to record %d identifiers: %v", reservationID, sessionID, len(rows), err)
			return series, false, nil
		}

		seriesCollisions.Inc()
		if attempt >= utils.SeriesReserveAttempts {
			return nil, false, &ExhaustionError{Attempts: attempt}
		}
		log.Printf("reservation %s (session %s): series already reserved elsewhere, redrawing %d codes", reservationID, sessionID, len(series))
		series, err = f.seriesGenerator.GenerateManyForDay(ctx, dayCode, len(series))
		if err != nil {
			return nil, false, err
		}
	}
}

// abandon audits a failed reserve. Pallet numbers already drawn are spent, so they are
// stored as released rows in the same transaction to keep the gap visible.
func (f *ReservationFlowImpl) abandon(
	ctx context.Context,
	reservationID uuid.UUID,
	kind string,
	count int,
	dayCode string,
	pallets []string,
	sessionID string,
	cause error,
	metadata *ClientMetadata,
) {
	err := f.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		if len(pallets) > 0 {
			now := f.now()
			rows := buildReservationRows(reservationID, dayCode, pallets, nil, sessionID, models.ReservationStateReleased, &now)
			if err := f.reservationRepo.SaveBatch(txCtx, rows); err != nil {
				return err
			}
		}
		return f.auditFailure(txCtx, reservationID, kind, count, sessionID, cause, metadata)
	})
	if err != nil {
		log.Printf("reservation %s (session %s): failed to record %d abandoned pallet numbers: %v", reservationID, sessionID, len(pallets), err)
		return
	}
	reservationTransitions.WithLabelValues(string(models.ReservationStateReleased)).Add(float64(len(pallets)))
}

func (f *ReservationFlowImpl) auditFailure(ctx context.Context, reservationID uuid.UUID, kind string, count int, sessionID string, cause error, metadata *ClientMetadata) error {
	errMsg := cause.Error()
	log.Printf("reservation %s (session %s): reserve %d %s failed: %v", reservationID, sessionID, count, kind, cause)
	return f.createAuditLog(ctx, models.AuditActionPalletReserveFailed, fmt.Sprintf("Failed to reserve %d %s identifiers", count, kind), false, &errMsg, sessionID, map[string]any{
		"reservation_id": reservationID.String(),
		"kind":           kind,
		"count":          count,
		"error_kind":     errorKind(cause),
	}, metadata)
}

// createAuditLog creates an audit log entry for a reservation operation
func (f *ReservationFlowImpl) createAuditLog(ctx context.Context, action, description string, success bool, errorMsg *string, sessionID string, extra map[string]any, metadata *ClientMetadata) error {
	if f.auditRepo == nil {
		return nil
	}

	ipAddress := ""
	userAgent := ""
	if metadata != nil {
		ipAddress = metadata.IPAddress
		userAgent = metadata.UserAgent
	}

	audit := &models.AuditLog{
		Action:       action,
		Description:  &description,
		Success:      utils.ToPtr(success),
		IPAddress:    &ipAddress,
		UserAgent:    &userAgent,
		ErrorMessage: errorMsg,
	}
	if sessionID != "" {
		audit.SessionID = &sessionID
	}
	if len(extra) > 0 {
		if raw, err := json.Marshal(extra); err == nil {
			audit.Metadata = raw
		}
	}

	// Extract request ID from context if available
	requestID := ctx.Value(utils.RequestIDKey)
	if requestID != nil {
		requestIDStr, ok := requestID.(string)
		if ok {
			audit.RequestID = &requestIDStr
		}
	}

	if err := f.auditRepo.Save(ctx, audit); err != nil {
		log.Printf("failed to write audit log %s: %v", action, err)
		return err
	}

	return nil
}

func buildReservationRows(
	reservationID uuid.UUID,
	dayCode string,
	pallets, series []string,
	sessionID string,
	state models.ReservationState,
	at *time.Time,
) []*models.PalletReservation {
	var session *string
	if sessionID != "" {
		session = &sessionID
	}
	rows := make([]*models.PalletReservation, 0, len(pallets)+len(series))
	add := func(kind string, ids []string) {
		for i, id := range ids {
			row := &models.PalletReservation{
				ReservationID: reservationID,
				Identifier:    id,
				Kind:          kind,
				DayCode:       dayCode,
				Position:      i + 1,
				SessionID:     session,
				State:         state,
			}
			if state == models.ReservationStateReleased {
				row.ReleasedAt = at
			}
			rows = append(rows, row)
		}
	}
	add(models.IdentifierKindPallet, pallets)
	add(models.IdentifierKindSeries, series)
	return rows
}

func sessionIDFrom(explicit string, metadata *ClientMetadata) string {
	if explicit != "" {
		return explicit
	}
	if metadata != nil {
		return metadata.SessionID
	}
	return ""
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
