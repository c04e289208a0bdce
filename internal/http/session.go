package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/aussiebroadwan/signon/internal/identity"
	"github.com/aussiebroadwan/signon/internal/profile"
	"github.com/aussiebroadwan/signon/internal/session"
	"github.com/aussiebroadwan/signon/pkg/httpx"
	"github.com/aussiebroadwan/signon/pkg/slogx"
)

// SessionView is the debug view of the session. It never carries tokens.
type SessionView struct {
	State              string            `json:"state"`
	Reason             string            `json:"reason,omitempty"`
	Version            uint64            `json:"version"`
	Since              time.Time         `json:"since"`
	InteractivePending bool              `json:"interactive_pending"`
	Account            *identity.Account `json:"account,omitempty"`
	Profile            *ProfileView      `json:"profile,omitempty"`
}

// ProfileView is the subset of the profile shown to the debug surface.
type ProfileView struct {
	DisplayName   string `json:"display_name"`
	Email         string `json:"email,omitempty"`
	JobTitle      string `json:"job_title,omitempty"`
	HasAvatar     bool   `json:"has_avatar"`
	AvatarChecked bool   `json:"avatar_checked"`
}

// SessionHandler serves /v1/session.
type SessionHandler struct {
	Session  Session
	Profiles Profiles
}

func (h *SessionHandler) view(snap session.Snapshot) SessionView {
	v := SessionView{
		State:              snap.State.String(),
		Reason:             snap.Reason,
		Version:            snap.Version,
		Since:              snap.Since,
		InteractivePending: h.Session.InteractivePending(),
		Account:            snap.Account,
	}
	if snap.State != session.Authenticated {
		return v
	}
	v.Profile = newProfileView(h.Profiles.Current())
	return v
}

func newProfileView(p *profile.UserProfile) *ProfileView {
	if p == nil {
		return nil
	}
	return &ProfileView{
		DisplayName:   p.DisplayNameOr("User"),
		Email:         p.EmailOr(""),
		JobTitle:      p.JobTitle,
		HasAvatar:     p.HasAvatar,
		AvatarChecked: p.AvatarChecked,
	}
}

// Get answers the current session state.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, h.view(h.Session.Snapshot()))
}

// Avatar answers the cached avatar bytes, or 404 when there is none.
func (h *SessionHandler) Avatar(w http.ResponseWriter, r *http.Request) {
	p := h.Profiles.Current()
	var data []byte
	if p != nil && p.Avatar != nil {
		data = p.Avatar.Bytes()
	}
	if len(data) == 0 {
		httpx.WriteError(w, http.StatusNotFound, "not_found", "no avatar for the current session")
		return
	}

	httpx.NoCache(w)
	w.Header().Set("Content-Type", p.Avatar.ContentType())
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// action wraps a session operation that may reach the identity provider.
func (h *SessionHandler) action(op func(context.Context) (session.Snapshot, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := op(r.Context())
		if errors.Is(err, identity.ErrNavigatedAway) {
			// The login continues in the browser.
			httpx.WriteJSON(w, http.StatusAccepted, h.view(snap))
			return
		}
		if err != nil {
			h.writeActionError(w, r, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, h.view(snap))
	}
}

func (h *SessionHandler) writeActionError(w http.ResponseWriter, r *http.Request, err error) {
	log := slogx.FromContext(r.Context())

	switch {
	case errors.Is(err, session.ErrLoginThrottled):
		httpx.WriteError(w, http.StatusTooManyRequests, "login_throttled", "login was requested too recently")
	case errors.Is(err, session.ErrClosed):
		httpx.WriteError(w, http.StatusServiceUnavailable, "closed", "session is shutting down")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(w, http.StatusGatewayTimeout, "timeout", "the request ended before the session resolved")
	case errors.Is(err, identity.ErrNotInitialized):
		httpx.WriteError(w, http.StatusConflict, "not_initialized", "the identity client is not initialized")
	default:
		log.Warn("session action failed", slog.String("error", err.Error()))
		httpx.WriteError(w, http.StatusBadGateway, "provider_error", "the identity provider request failed")
	}
}
