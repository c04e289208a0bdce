package eventbus

import (
	"time"

	"github.com/aussiebroadwan/signon/internal/identity"
	"github.com/aussiebroadwan/signon/internal/profile"
)

// Kind identifies a session event.
type Kind int

const (
	LoginSuccess Kind = iota + 1
	LogoutSuccess
	TokenAcquired
	AuthFailed
	ProfileReady
)

func (k Kind) String() string {
	switch k {
	case LoginSuccess:
		return "login_success"
	case LogoutSuccess:
		return "logout_success"
	case TokenAcquired:
		return "token_acquired"
	case AuthFailed:
		return "auth_failed"
	case ProfileReady:
		return "profile_ready"
	default:
		return "unknown"
	}
}

// Event is what subscribers receive. Raw provider errors never travel on the
// bus; AuthFailed carries a Reason string instead.
type Event struct {
	Kind    Kind
	Seq     uint64
	At      time.Time
	Account *identity.Account
	Reason  string
	Profile *profile.UserProfile
}
