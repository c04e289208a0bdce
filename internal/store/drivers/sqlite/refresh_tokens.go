package sqlite

import (
	"context"
	"database/sql"
	"time"
)

type refreshTokensRepo struct {
	db  *sql.DB
	now func() time.Time
}

func (r *refreshTokensRepo) GetRefreshToken(ctx context.Context, accountID string) ([]byte, error) {
	var sealed []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT sealed FROM refresh_tokens WHERE account_id = ?`, accountID).Scan(&sealed)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return sealed, nil
}

// SaveRefreshToken fails if the account is unknown (foreign key).
func (r *refreshTokensRepo) SaveRefreshToken(ctx context.Context, accountID string, sealed []byte) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (account_id, sealed, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (account_id) DO UPDATE SET
			sealed = excluded.sealed,
			updated_at = excluded.updated_at`,
		accountID, sealed, r.now().Unix())
	return err
}
