package shared

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig      = fmt.Errorf("configuration not found")
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")

	// Authentication errors
	ErrAuthFailed       = fmt.Errorf("authentication failed")
	ErrNotAuthenticated = fmt.Errorf("not authenticated")
	ErrRefreshFailed    = fmt.Errorf("token refresh failed")
	ErrTimeout          = fmt.Errorf("operation timed out")

	// API and service errors
	ErrAPIRequest         = fmt.Errorf("API request failed")
	ErrServiceUnavailable = fmt.Errorf("service unavailable")

	// Storage and state errors
	ErrNotFound          = fmt.Errorf("not found")
	ErrDuplicateJob      = fmt.Errorf("duplicate job")
	ErrVersionConflict   = fmt.Errorf("concurrent modification")
	ErrInvalidTransition = fmt.Errorf("invalid state transition")
	ErrInconsistent      = fmt.Errorf("inconsistent state")
	ErrLocked            = fmt.Errorf("another process holds the lock")
	ErrStaleProgress     = fmt.Errorf("progress update older than recorded progress")
	ErrActiveDownload    = fmt.Errorf("album already has an active download request")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)

// ErrorKind is the closed set of failure classes the orchestration layer distinguishes.
type ErrorKind int

const (
	KindPermanent ErrorKind = iota
	KindTransient
	KindConflict
	KindInconsistency
	KindPartial
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindConflict:
		return "conflict"
	case KindInconsistency:
		return "inconsistency"
	case KindPartial:
		return "partial"
	default:
		return "permanent"
	}
}

// ServiceError is returned by every external client for a failed call.
//
// StatusCode is zero for transport failures (DNS, refused connections, timeouts).
type ServiceError struct {
	Service    string
	StatusCode int
	Err        error
}

func (e *ServiceError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %v", e.Service, e.Err)
	}
	return fmt.Sprintf("%s: status %d: %v", e.Service, e.StatusCode, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Transient reports whether retrying the same call may succeed.
func (e *ServiceError) Transient() bool {
	switch {
	case e.StatusCode == 0:
		return !errors.Is(e.Err, context.Canceled)
	case e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode == http.StatusRequestTimeout:
		return true
	case e.StatusCode >= 500:
		return true
	default:
		return false
	}
}

// NewServiceError wraps err for service, tagging it with [ErrAPIRequest].
func NewServiceError(service string, status int, err error) *ServiceError {
	if err == nil {
		err = fmt.Errorf("%w: unexpected status", ErrAPIRequest)
	} else if !errors.Is(err, ErrAPIRequest) {
		err = fmt.Errorf("%w: %w", ErrAPIRequest, err)
	}
	return &ServiceError{Service: service, StatusCode: status, Err: err}
}

// DuplicateError is returned when a non-terminal job of the same kind already exists.
type DuplicateError struct {
	JobType    string
	ExistingID string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%v: %s already queued as %s", ErrDuplicateJob, e.JobType, e.ExistingID)
}

func (e *DuplicateError) Unwrap() error { return ErrDuplicateJob }

// PartialError summarizes per-item failures of a batch that otherwise completed.
type PartialError struct {
	Failed int
	Total  int
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("%d of %d items failed", e.Failed, e.Total)
}

// Classify maps any error into an [ErrorKind].
func Classify(err error) ErrorKind {
	if err == nil {
		return KindPermanent
	}

	var dup *DuplicateError
	var partial *PartialError
	var svc *ServiceError
	var netErr net.Error

	switch {
	case errors.Is(err, context.Canceled):
		return KindPermanent
	case errors.As(err, &dup), errors.Is(err, ErrDuplicateJob), errors.Is(err, ErrVersionConflict),
		errors.Is(err, ErrActiveDownload):
		return KindConflict
	case errors.As(err, &partial):
		return KindPartial
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrInconsistent):
		return KindInconsistency
	case errors.As(err, &svc):
		if svc.Transient() {
			return KindTransient
		}
		return KindPermanent
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrTimeout):
		return KindTransient
	case errors.As(err, &netErr):
		return KindTransient
	default:
		return KindPermanent
	}
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return err != nil && Classify(err) == KindTransient
}
