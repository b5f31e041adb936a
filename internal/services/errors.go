// internal/services/errors.go
package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/javajoker/tunevault-backend/internal/ledger"
	"github.com/javajoker/tunevault-backend/internal/repository"
)

// Error kinds. Match them with errors.Is.
var (
	ErrValidation      = errors.New("validation error")
	ErrNotFound        = errors.New("not found")
	ErrOwnership       = errors.New("ownership error")
	ErrStateConflict   = errors.New("state conflict")
	ErrRemoteTransient = errors.New("ledger temporarily unavailable")
	ErrRemoteRejected  = errors.New("ledger rejected request")
	ErrBudgetExceeded  = errors.New("sponsorship budget exceeded")
)

// ServiceError carries a human readable message and the kind it belongs to.
type ServiceError struct {
	Kind    error
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	return e.Message
}

func (e *ServiceError) Is(target error) bool {
	return target == e.Kind
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func newError(kind error, format string, args ...interface{}) error {
	return &ServiceError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// fromStore maps repository errors, leaving anything unexpected as is.
func fromStore(err error, what string) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return &ServiceError{Kind: ErrNotFound, Message: what + " not found", Err: err}
	case errors.Is(err, repository.ErrConflict):
		return &ServiceError{Kind: ErrStateConflict, Message: what + " was changed concurrently", Err: err}
	}
	return err
}

// timingRacePatterns match ledger messages caused by a freshly created
// identity that has not propagated through the ledger yet.
var timingRacePatterns = []string{
	"duplicate genesis",
	"genesis-id",
	"failed to accept",
	"not yet",
}

// isTimingRace reports whether a ledger rejection is the propagation race
// that the registration loop may retry.
func isTimingRace(message string) bool {
	lower := strings.ToLower(message)
	for _, pattern := range timingRacePatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// isNotFound reports whether the ledger said the object does not exist.
func isNotFound(err error) bool {
	var ledgerErr *ledger.Error
	if !errors.As(err, &ledgerErr) || ledgerErr.Kind != ledger.KindRemoteRejected {
		return false
	}
	lower := strings.ToLower(ledgerErr.Message)
	return strings.Contains(lower, "not found") || strings.Contains(lower, "does not exist")
}

// isTransient reports whether a ledger failure may succeed on a later attempt.
func isTransient(err error) bool {
	var ledgerErr *ledger.Error
	if !errors.As(err, &ledgerErr) {
		return false
	}
	switch ledgerErr.Kind {
	case ledger.KindNetworkUnreachable:
		return true
	case ledger.KindRemoteRejected:
		return isTimingRace(ledgerErr.Message)
	default:
		return false
	}
}

// remoteError converts a ledger failure into the service taxonomy.
func remoteError(err error, action string) error {
	var ledgerErr *ledger.Error
	if !errors.As(err, &ledgerErr) {
		return err
	}
	kind := ErrRemoteRejected
	if isTransient(err) {
		kind = ErrRemoteTransient
	}
	return &ServiceError{Kind: kind, Message: fmt.Sprintf("%s: %s", action, ledgerErr.Message), Err: err}
}
