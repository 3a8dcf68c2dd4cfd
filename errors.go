package costgate

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Sentinel errors.
var (
	ErrBucketExhausted  = errors.New("costgate: token bucket exhausted")
	ErrCeilingExceeded  = errors.New("costgate: monthly spend ceiling exceeded")
	ErrEnsembleRejected = errors.New("costgate: ensemble request rejected")
	ErrTenantUnknown    = errors.New("costgate: tenant unknown")
)

// Rejection codes surfaced to clients.
const (
	RejectCodeEnsembleNotAvailable = "ENSEMBLE_NOT_AVAILABLE"
)

// ValidationError reports a malformed input value. It always names the
// offending field and is returned before any store mutation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("costgate: invalid %s: %s", e.Field, e.Reason)
}

// RejectionError is a business-rule admission rejection with a stable code
// and an HTTP-equivalent status, suitable for direct client display.
type RejectionError struct {
	Code   string
	Status int
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("costgate: %s: %s", e.Code, e.Reason)
}

func (e *RejectionError) Unwrap() error { return ErrEnsembleRejected }

func rejectEnsemble(reason string) *RejectionError {
	return &RejectionError{
		Code:   RejectCodeEnsembleNotAvailable,
		Status: http.StatusForbidden,
		Reason: reason,
	}
}

// CeilingError reports a reservation that would push a tenant past its
// monthly spend ceiling.
type CeilingError struct {
	TenantID  string
	Requested MicroUSD
	Committed MicroUSD
	Ceiling   MicroUSD
}

func (e *CeilingError) Error() string {
	return fmt.Sprintf("costgate: tenant %s: reserving %d would exceed ceiling %d (committed %d)",
		e.TenantID, e.Requested, e.Ceiling, e.Committed)
}

func (e *CeilingError) Unwrap() error { return ErrCeilingExceeded }

// ExhaustedError reports that AcquireWait gave up after its max wait.
// Distinct from the false return of TryAcquire: callers should shed or back
// off rather than poll again immediately.
type ExhaustedError struct {
	Waited time.Duration
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("costgate: token bucket exhausted after %s", e.Waited)
}

func (e *ExhaustedError) Unwrap() error { return ErrBucketExhausted }

// IsRejection returns true if the error is a business-rule denial (admission
// rejection or ceiling violation) rather than a store failure.
func IsRejection(err error) bool {
	return errors.Is(err, ErrEnsembleRejected) || errors.Is(err, ErrCeilingExceeded)
}

// IsRetryLater returns true if the caller should back off and retry
// (resource exhaustion, not a rejection of the request itself).
func IsRetryLater(err error) bool {
	return errors.Is(err, ErrBucketExhausted)
}
