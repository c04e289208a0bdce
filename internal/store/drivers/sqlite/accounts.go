package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/signon/internal/identity"
	"github.com/aussiebroadwan/signon/internal/store"
)

type accountsRepo struct {
	db  *sql.DB
	now func() time.Time
}

func (r *accountsRepo) ListAccounts(ctx context.Context) ([]identity.Account, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, username, tenant_id FROM accounts ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []identity.Account
	for rows.Next() {
		var acc identity.Account
		if err := rows.Scan(&acc.ID, &acc.Name, &acc.Username, &acc.TenantID); err != nil {
			return nil, err
		}
		out = append(out, acc)
	}
	return out, rows.Err()
}

func (r *accountsRepo) SaveAccount(ctx context.Context, acc identity.Account) error {
	now := r.now().Unix()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO accounts (id, name, username, tenant_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			username = excluded.username,
			tenant_id = excluded.tenant_id,
			updated_at = excluded.updated_at`,
		acc.ID, acc.Name, acc.Username, acc.TenantID, now, now)
	return err
}

// DeleteAccount relies on ON DELETE CASCADE for the refresh token and the
// active marker.
func (r *accountsRepo) DeleteAccount(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	return err
}

func (r *accountsRepo) ActiveAccountID(ctx context.Context) (string, error) {
	var id string
	err := r.db.QueryRowContext(ctx,
		`SELECT account_id FROM active_account WHERE singleton = 1`).Scan(&id)
	if err != nil {
		return "", mapNotFound(err)
	}
	return id, nil
}

func (r *accountsRepo) SetActiveAccountID(ctx context.Context, id string) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM accounts WHERE id = ?`, id).Scan(&exists)
		if err != nil {
			return mapNotFound(err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO active_account (singleton, account_id) VALUES (1, ?)
			ON CONFLICT (singleton) DO UPDATE SET account_id = excluded.account_id`, id)
		return err
	})
}

var _ store.Accounts = (*accountsRepo)(nil)
