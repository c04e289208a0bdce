package identity

import (
	"errors"
	"fmt"
)

var (
	// ErrNotInitialized is returned by every Adapter operation before a
	// successful Initialize. It signals a programming error and is never
	// retried.
	ErrNotInitialized = errors.New("identity: client not initialized")

	// ErrInteractionRequired means the provider cannot proceed silently.
	// It is an expected signal, not a failure.
	ErrInteractionRequired = errors.New("identity: interaction required")

	// ErrNavigatedAway is returned by a redirect-mode interactive login: the
	// result arrives on the next start through HandleRedirect.
	ErrNavigatedAway = errors.New("identity: navigated away for interactive login")

	// ErrNoAccount is returned when an operation needs an account and none
	// is known.
	ErrNoAccount = errors.New("identity: no account")
)

// InitializationError wraps a failure to initialize the provider client.
// It is fatal for the session.
type InitializationError struct {
	Err error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("identity: initialize: %v", e.Err)
}

func (e *InitializationError) Unwrap() error { return e.Err }

// RedirectCompletionError wraps a failure to complete a pending redirect.
// Callers log it and continue as if nothing was pending.
type RedirectCompletionError struct {
	Err error
}

func (e *RedirectCompletionError) Error() string {
	return fmt.Sprintf("identity: complete redirect: %v", e.Err)
}

func (e *RedirectCompletionError) Unwrap() error { return e.Err }

// TransientError is any provider failure other than interaction required:
// network errors, provider 5xx, malformed responses.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("identity: %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a *TransientError.
func IsTransient(err error) bool {
	var terr *TransientError
	return errors.As(err, &terr)
}
