// Package profile caches the signed-in user's profile and avatar for the
// lifetime of a session.
package profile

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/signon/internal/identity"
)

var (
	// ErrNoAvatar is returned by a Fetcher when the user has no avatar. It
	// is a normal outcome and is cached as such.
	ErrNoAvatar = errors.New("profile: no avatar")

	ErrProfileFetch = errors.New("profile: fetch profile")
	ErrAvatarFetch  = errors.New("profile: fetch avatar")
)

// UserProfile is the directory profile of the signed-in user.
type UserProfile struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName,omitempty"`
	GivenName         string `json:"givenName,omitempty"`
	Surname           string `json:"surname,omitempty"`
	Mail              string `json:"mail,omitempty"`
	UserPrincipalName string `json:"userPrincipalName,omitempty"`
	JobTitle          string `json:"jobTitle,omitempty"`
	MobilePhone       string `json:"mobilePhone,omitempty"`
	OfficeLocation    string `json:"officeLocation,omitempty"`
	PreferredLanguage string `json:"preferredLanguage,omitempty"`

	Avatar        *Handle `json:"-"`
	HasAvatar     bool    `json:"hasAvatar"`
	AvatarChecked bool    `json:"avatarChecked"`
}

// Fetcher talks to the user-info endpoint for the active account.
type Fetcher interface {
	FetchProfile(ctx context.Context) (*UserProfile, error)
	// FetchAvatar returns ErrNoAvatar when the user has none.
	FetchAvatar(ctx context.Context) (*Handle, error)
}

// AccountSource reports the active account. *identity.Adapter satisfies it.
type AccountSource interface {
	ActiveAccount() (*identity.Account, error)
}

// DisplayNameOr returns the display name or fallback. Safe on a nil profile.
func (p *UserProfile) DisplayNameOr(fallback string) string {
	if p == nil || p.DisplayName == "" {
		return fallback
	}
	return p.DisplayName
}

// EmailOr returns the mail address, then the UPN, then fallback.
func (p *UserProfile) EmailOr(fallback string) string {
	switch {
	case p == nil:
		return fallback
	case p.Mail != "":
		return p.Mail
	case p.UserPrincipalName != "":
		return p.UserPrincipalName
	}
	return fallback
}

// Stamp is the audit information attached to records the user modifies.
type Stamp struct {
	UpdatedBy      string    `json:"updatedBy"`
	UpdatedByEmail string    `json:"updatedByEmail"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// UpdatedBy builds an audit stamp for p at now.
func (p *UserProfile) UpdatedBy(now time.Time) Stamp {
	return Stamp{
		UpdatedBy:      p.DisplayNameOr("User"),
		UpdatedByEmail: p.EmailOr(""),
		UpdatedAt:      now.UTC(),
	}
}

func (p *UserProfile) clone() *UserProfile {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}
