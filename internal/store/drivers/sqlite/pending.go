package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/aussiebroadwan/signon/internal/store"
)

type pendingRepo struct {
	db  *sql.DB
	now func() time.Time
}

// SavePending also sweeps expired requests.
func (r *pendingRepo) SavePending(ctx context.Context, p store.PendingRequest) error {
	now := r.now()
	if p.ExpiresAt.IsZero() {
		p.ExpiresAt = now.Add(store.PendingTTL)
	}

	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM pending_requests WHERE expires_at <= ?`, now.Unix()); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO pending_requests
				(state, code_verifier, redirect_uri, scopes, login_hint, expires_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			p.State, p.CodeVerifier, p.RedirectURI, strings.Join(p.Scopes, " "), p.LoginHint, p.ExpiresAt.Unix())
		return err
	})
}

func (r *pendingRepo) TakePending(ctx context.Context, state string) (store.PendingRequest, error) {
	var (
		p         store.PendingRequest
		scopes    string
		expiresAt int64
	)
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			DELETE FROM pending_requests WHERE state = ?
			RETURNING state, code_verifier, redirect_uri, scopes, login_hint, expires_at`, state).
			Scan(&p.State, &p.CodeVerifier, &p.RedirectURI, &scopes, &p.LoginHint, &expiresAt)
		return mapNotFound(err)
	})
	if err != nil {
		return store.PendingRequest{}, err
	}

	p.Scopes = strings.Fields(scopes)
	p.ExpiresAt = time.Unix(expiresAt, 0)
	if p.Expired(r.now()) {
		return store.PendingRequest{}, store.ErrNotFound
	}
	return p, nil
}
