package dto

// ReserveRequest asks for a block of identifiers.
// Kind is one of "pallet", "series" or "both"; empty means "both".
type ReserveRequest struct {
	Count     int    `json:"count" validate:"required,min=1,max=50"`
	SessionID string `json:"session_id" validate:"omitempty,max=255"`
	Kind      string `json:"kind" validate:"omitempty,oneof=pallet series both"`
}

// PalletSeriesPair is one index-aligned pallet number and series code
type PalletSeriesPair struct {
	PalletNumber string `json:"pallet_number"`
	Series       string `json:"series"`
}

// ReserveResponse carries the identifiers handed out by one reserve call
type ReserveResponse struct {
	Success       bool               `json:"success"`
	Message       string             `json:"message"`
	ReservationID string             `json:"reservation_id"`
	DayCode       string             `json:"day_code"`
	Kind          string             `json:"kind"`
	Method        string             `json:"method"`
	Identifiers   []string           `json:"identifiers"`
	PalletNumbers []string           `json:"pallet_numbers,omitempty"`
	Series        []string           `json:"series,omitempty"`
	Pairs         []PalletSeriesPair `json:"pairs,omitempty"`
	Tracked       bool               `json:"tracked"`
}

// ReservationTransitionRequest is used by both confirm and release
type ReservationTransitionRequest struct {
	Identifiers []string `json:"identifiers" validate:"required,min=1,max=100,dive,required,max=32"`
	SessionID   string   `json:"session_id" validate:"omitempty,max=255"`
}

// ReservationTransitionResponse reports how many identifiers moved to the terminal state.
// Unchanged identifiers were already terminal or never tracked.
type ReservationTransitionResponse struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	State        string `json:"state"`
	Requested    int    `json:"requested"`
	Transitioned int64  `json:"transitioned"`
	Unchanged    int64  `json:"unchanged"`
}

// GenerateSeriesRequest asks for series codes only
type GenerateSeriesRequest struct {
	Count int `json:"count" validate:"required,min=1,max=50"`
}

type GenerateSeriesResponse struct {
	Message string   `json:"message"`
	DayCode string   `json:"day_code"`
	Series  []string `json:"series"`
}

type ReservationItem struct {
	Identifier  string  `json:"identifier"`
	Kind        string  `json:"kind"`
	Position    int     `json:"position"`
	State       string  `json:"state"`
	SessionID   *string `json:"session_id,omitempty"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
	ConfirmedAt *string `json:"confirmed_at,omitempty"`
	ReleasedAt  *string `json:"released_at,omitempty"`
}

type ReservationDetailResponse struct {
	Message       string            `json:"message"`
	ReservationID string            `json:"reservation_id"`
	DayCode       string            `json:"day_code"`
	State         string            `json:"state"`
	Items         []ReservationItem `json:"items"`
}

type AllocatorDiagnosticsResponse struct {
	Message             string           `json:"message"`
	DayCode             string           `json:"day_code"`
	Timezone            string           `json:"timezone"`
	CounterExists       bool             `json:"counter_exists"`
	CurrentMax          int64            `json:"current_max"`
	CounterUpdatedAt    *string          `json:"counter_updated_at,omitempty"`
	ReservationsByState map[string]int64 `json:"reservations_by_state"`
	StaleReservations   int64            `json:"stale_reservations"`
	SeriesClaimed       int64            `json:"series_claimed"`
	MaxBatch            int              `json:"max_batch"`
}

// StressTestRequest drives the concurrency verification harness
type StressTestRequest struct {
	Callers        int    `json:"callers" validate:"required,min=1"`
	CountPerCaller int    `json:"count_per_caller" validate:"required,min=1,max=50"`
	Kind           string `json:"kind" validate:"omitempty,oneof=pallet series both"`
	Format         string `json:"format" validate:"omitempty,oneof=json xlsx"`
}

// StressCallResult is one reserve call made by the harness
type StressCallResult struct {
	Caller      int      `json:"caller"`
	Success     bool     `json:"success"`
	Error       string   `json:"error,omitempty"`
	Method      string   `json:"method,omitempty"`
	Identifiers []string `json:"identifiers,omitempty"`
	LatencyMs   float64  `json:"latency_ms"`
}

type LatencySummary struct {
	MinMs  float64 `json:"min_ms"`
	MeanMs float64 `json:"mean_ms"`
	P50Ms  float64 `json:"p50_ms"`
	P95Ms  float64 `json:"p95_ms"`
	P99Ms  float64 `json:"p99_ms"`
	MaxMs  float64 `json:"max_ms"`
}

// StressReport is the outcome of one harness run
type StressReport struct {
	RunID           string             `json:"run_id"`
	Kind            string             `json:"kind"`
	Callers         int                `json:"callers"`
	CountPerCaller  int                `json:"count_per_caller"`
	Successes       int                `json:"successes"`
	Failures        int                `json:"failures"`
	TotalReturned   int                `json:"total_returned"`
	UniqueReturned  int                `json:"unique_returned"`
	Expected        int                `json:"expected"`
	Duplicates      []string           `json:"duplicates"`
	Passed          bool               `json:"passed"`
	ReleaseFailures int                `json:"release_failures"`
	StartedAt       string             `json:"started_at"`
	WallTimeMs      float64            `json:"wall_time_ms"`
	Latency         LatencySummary     `json:"latency"`
	ThroughputPerS  float64            `json:"throughput_per_s"`
	Calls           []StressCallResult `json:"calls"`
}
