package utils

import "time"

// Allocation limits
const (
	// MaxAllocationBatch caps a single atomic allocation
	MaxAllocationBatch = 50

	// SeriesSuffixLength is the number of random characters after the day code
	SeriesSuffixLength = 6

	// SeriesAlphabet is the character set for series suffixes
	SeriesAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// SeriesMaxAttempts bounds generateOne
	SeriesMaxAttempts = 20

	// SeriesBatchAttemptFactor multiplies the requested count to bound generateMany
	SeriesBatchAttemptFactor = 10

	// SeriesReserveAttempts bounds redraws when reserved series rows hit the unique index
	SeriesReserveAttempts = 3
)

// Defaults for the allocator runtime
const (
	DefaultAllocatorTimezone = "Europe/London"
	DefaultSeriesClaimTTL    = 48 * time.Hour
	DefaultReservationTTL    = 24 * time.Hour
)

// HTTP
const (
	// CORSMaxAge is the preflight cache lifetime in seconds
	CORSMaxAge = 86400
)
