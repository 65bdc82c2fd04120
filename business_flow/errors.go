// Package businessflow contains the identifier allocation use cases
package businessflow

import (
	"errors"
	"fmt"
)

// Business flow error constants
var (
	// Allocation errors
	ErrCountOutOfBounds = errors.New("count out of bounds")
	ErrStoreUnavailable = errors.New("allocator store unavailable")
	ErrSeriesExhausted  = errors.New("series code attempts exhausted")
	ErrSeriesBatchShort = errors.New("series batch could not be completed")

	// Reservation errors
	ErrInvalidIdentifierKind = errors.New("invalid identifier kind")
	ErrIdentifiersRequired   = errors.New("at least one identifier is required")
	ErrReservationNotFound   = errors.New("reservation not found")
	ErrInvalidReservationID  = errors.New("invalid reservation id")

	// Harness errors
	ErrInvalidStressParameters = errors.New("invalid stress test parameters")
)

// BoundsError reports a count outside [1, Max]. It is raised before any I/O.
type BoundsError struct {
	Count int
	Max   int
}

func (e *BoundsError) Error() string {
	return fmt.Sprintf("count %d out of bounds [1, %d]", e.Count, e.Max)
}

func (e *BoundsError) Is(target error) bool {
	return target == ErrCountOutOfBounds
}

// StoreUnavailableError wraps a failure to reach the counter or the issued record store.
// The allocator never retries these.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error {
	return e.Err
}

func (e *StoreUnavailableError) Is(target error) bool {
	return target == ErrStoreUnavailable
}

// ExhaustionError is returned when a single series code could not be found in budget
type ExhaustionError struct {
	Attempts int
}

func (e *ExhaustionError) Error() string {
	return fmt.Sprintf("no free series code after %d attempts", e.Attempts)
}

func (e *ExhaustionError) Is(target error) bool {
	return target == ErrSeriesExhausted
}

// PartialBatchError is returned when a batch could not be filled within its shared budget
type PartialBatchError struct {
	Requested int
	Produced  int
	Attempts  int
}

func (e *PartialBatchError) Error() string {
	return fmt.Sprintf("series batch produced %d of %d after %d attempts", e.Produced, e.Requested, e.Attempts)
}

func (e *PartialBatchError) Is(target error) bool {
	return target == ErrSeriesBatchShort
}

type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func NewBusinessErrorf(code, message string, err error, args ...any) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: fmt.Sprintf(message, args...),
		Err:     err,
	}
}

func IsCountOutOfBounds(err error) bool {
	return errors.Is(err, ErrCountOutOfBounds)
}

func IsStoreUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

func IsSeriesExhausted(err error) bool {
	return errors.Is(err, ErrSeriesExhausted)
}

func IsSeriesBatchShort(err error) bool {
	return errors.Is(err, ErrSeriesBatchShort)
}

func IsInvalidIdentifierKind(err error) bool {
	return errors.Is(err, ErrInvalidIdentifierKind)
}

func IsIdentifiersRequired(err error) bool {
	return errors.Is(err, ErrIdentifiersRequired)
}

func IsReservationNotFound(err error) bool {
	return errors.Is(err, ErrReservationNotFound)
}

func IsInvalidReservationID(err error) bool {
	return errors.Is(err, ErrInvalidReservationID)
}

func IsInvalidStressParameters(err error) bool {
	return errors.Is(err, ErrInvalidStressParameters)
}

// errorKind labels an error for metrics
func errorKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case IsCountOutOfBounds(err):
		return "bounds"
	case IsStoreUnavailable(err):
		return "store"
	case IsSeriesExhausted(err):
		return "exhausted"
	case IsSeriesBatchShort(err):
		return "partial"
	default:
		return "other"
	}
}
