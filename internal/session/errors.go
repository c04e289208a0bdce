package session

import (
	"errors"
	"fmt"
)

var (
	ErrClosed           = errors.New("session: closed")
	ErrLoginThrottled   = errors.New("session: login requested too often")
	ErrNotAuthenticated = errors.New("session: no active account")
	// ErrTokenUnavailable marks a silent token attempt that failed for a
	// reason other than interaction required.
	ErrTokenUnavailable = errors.New("session: token unavailable")
)

// TransitionError is an illegal state change. It indicates a bug.
type TransitionError struct {
	From, To State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("session: illegal transition %s -> %s", e.From, e.To)
}

// Reasons carried by Snapshot.Reason and AuthFailed events.
const (
	ReasonInitFailed          = "initialization_failed"
	ReasonNotInitialized      = "client_not_initialized"
	ReasonInteractionRequired = "interaction_required"
	ReasonSilentFailed        = "silent_login_failed"
	ReasonInteractivePending  = "interactive_login_scheduled"
	ReasonAwaitingRedirect    = "awaiting_redirect"
	ReasonInteractiveFailed   = "interactive_login_failed"
	ReasonLoggedOut           = "logged_out"
)
