package bartab

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// InteractionMode selects how LoginInteractive reaches the user.
type InteractionMode string

const (
	// InteractionRedirect hands the authorize URL to the Opener and returns
	// ErrNavigatedAway; the login completes on a later HandleRedirect.
	InteractionRedirect InteractionMode = "redirect"

	// InteractionPopup also listens on the loopback redirect URI and blocks
	// until the browser comes back with a code.
	InteractionPopup InteractionMode = "popup"
)

// DefaultRenewalOffset is how long before expiry a cached access token is
// treated as stale.
const DefaultRenewalOffset = 300 * time.Second

// Config configures the provider client.
type Config struct {
	ClientID              string
	Authority             string
	RedirectURI           string
	PostLogoutRedirectURI string

	// RenewalOffset defaults to DefaultRenewalOffset.
	RenewalOffset time.Duration

	// Mode defaults to InteractionRedirect.
	Mode InteractionMode

	// SSOSession is the provider session cookie value presented by
	// SSOSilent. Empty disables silent SSO.
	SSOSession string

	// AutoBroker is accepted for parity with brokered clients. This client
	// never brokers.
	AutoBroker bool
}

func (c *Config) validate() error {
	var errs []error
	if c.ClientID == "" {
		errs = append(errs, errors.New("client id is required"))
	}
	if c.Authority == "" {
		errs = append(errs, errors.New("authority is required"))
	} else if u, err := url.Parse(c.Authority); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("authority %q is not an absolute URL", c.Authority))
	}
	if c.RedirectURI == "" {
		errs = append(errs, errors.New("redirect uri is required"))
	}

	switch c.Mode {
	case "":
		c.Mode = InteractionRedirect
	case InteractionRedirect, InteractionPopup:
	default:
		errs = append(errs, fmt.Errorf("unknown interaction mode %q", c.Mode))
	}

	if c.RenewalOffset <= 0 {
		c.RenewalOffset = DefaultRenewalOffset
	}
	return errors.Join(errs...)
}
