// Package userinfo fetches the signed-in user's profile and photo from a
// Graph-style user-info API.
package userinfo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/signon/internal/profile"
	"github.com/aussiebroadwan/signon/pkg/slogx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("github.com/aussiebroadwan/signon/internal/userinfo")

const (
	DefaultProfileURL = "https://graph.microsoft.com/v1.0/me"
	DefaultAvatarURL  = "https://graph.microsoft.com/v1.0/me/photo/$value"

	// MaxAvatarBytes caps a photo download.
	MaxAvatarBytes = 4 << 20
)

// StatusError is a non-2xx answer from the user-info API.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("userinfo: GET %s: status %d", e.URL, e.Status)
}

// Client implements profile.Fetcher. Its HTTP client is expected to carry a
// BearerTransport.
type Client struct {
	ProfileURL string
	AvatarURL  string
	HTTP       *http.Client
	Log        *slog.Logger
}

var _ profile.Fetcher = (*Client)(nil)

// NewClient builds a Client. Empty URLs fall back to the Graph defaults.
func NewClient(profileURL, avatarURL string, hc *http.Client, log *slog.Logger) *Client {
	if profileURL == "" {
		profileURL = DefaultProfileURL
	}
	if avatarURL == "" {
		avatarURL = DefaultAvatarURL
	}
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		ProfileURL: profileURL,
		AvatarURL:  avatarURL,
		HTTP:       hc,
		Log:        slogx.OrDiscard(log).With(slog.String("component", "userinfo")),
	}
}

// wireProfile accepts Graph field names first and falls back to OIDC
// userinfo claims and BarTab's userinfo fields.
type wireProfile struct {
	profile.UserProfile

	Sub               string `json:"sub"`
	Name              string `json:"name"`
	GivenNameOIDC     string `json:"given_name"`
	FamilyName        string `json:"family_name"`
	Email             string `json:"email"`
	PreferredUsername string `json:"preferred_username"`
	Locale            string `json:"locale"`

	UserID        string `json:"user_id"`
	Username      string `json:"username"`
	PreferredName string `json:"preferred_name"`
}

func (w wireProfile) normalize() *profile.UserProfile {
	p := w.UserProfile
	p.ID = first(p.ID, w.Sub, w.UserID)
	p.DisplayName = first(p.DisplayName, w.Name, w.PreferredName, w.Username)
	p.GivenName = first(p.GivenName, w.GivenNameOIDC)
	p.Surname = first(p.Surname, w.FamilyName)
	p.Mail = first(p.Mail, w.Email)
	p.UserPrincipalName = first(p.UserPrincipalName, w.PreferredUsername, w.Username)
	p.PreferredLanguage = first(p.PreferredLanguage, w.Locale)
	p.Avatar, p.HasAvatar, p.AvatarChecked = nil, false, false
	return &p
}

func first(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// FetchProfile GETs the profile document.
func (c *Client) FetchProfile(ctx context.Context) (*profile.UserProfile, error) {
	ctx, span := tracer.Start(ctx, "userinfo.profile")
	defer span.End()

	resp, err := c.get(ctx, c.ProfileURL, "application/json")
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer resp.Body.Close()

	var w wireProfile
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&w); err != nil {
		span.SetStatus(codes.Error, "decode")
		return nil, fmt.Errorf("userinfo: decode profile: %w", err)
	}
	return w.normalize(), nil
}

// FetchAvatar GETs the photo. 404 means the user has none and returns
// profile.ErrNoAvatar.
func (c *Client) FetchAvatar(ctx context.Context) (*profile.Handle, error) {
	ctx, span := tracer.Start(ctx, "userinfo.avatar")
	defer span.End()

	resp, err := c.get(ctx, c.AvatarURL, "image/*")
	if err != nil {
		var serr *StatusError
		if errors.As(err, &serr) && serr.Status == http.StatusNotFound {
			span.SetAttributes(attribute.Bool("userinfo.avatar_found", false))
			return nil, profile.ErrNoAvatar
		}
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxAvatarBytes+1))
	if err != nil {
		return nil, fmt.Errorf("userinfo: read avatar: %w", err)
	}
	if len(data) > MaxAvatarBytes {
		return nil, fmt.Errorf("userinfo: avatar larger than %d bytes", MaxAvatarBytes)
	}
	if len(data) == 0 {
		return nil, profile.ErrNoAvatar
	}

	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = http.DetectContentType(data)
	}
	span.SetAttributes(attribute.Bool("userinfo.avatar_found", true), attribute.Int("userinfo.avatar_bytes", len(data)))
	return profile.NewHandle(ct, data), nil
}

func (c *Client) get(ctx context.Context, url, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", accept)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("userinfo: GET %s: %w", url, err)
	}
	if resp.StatusCode/100 != 2 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			c.Log.WarnContext(ctx, "user-info request failed", slog.String("url", url), slog.Int("status", resp.StatusCode))
		}
		return nil, &StatusError{URL: url, Status: resp.StatusCode}
	}
	return resp, nil
}
