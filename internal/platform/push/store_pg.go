package push

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/companion/companion/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type tokenStorePG struct{ pool *pgxpool.Pool }

func NewTokenStorePG(pool *pgxpool.Pool) TokenStore {
	return &tokenStorePG{pool: pool}
}

func (r *tokenStorePG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *tokenStorePG) TokensForUser(ctx context.Context, userID uuid.UUID) ([]string, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT token FROM device_tokens WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tokens []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

func (r *tokenStorePG) SaveToken(ctx context.Context, userID uuid.UUID, token, platform string) error {
	// Re-registering the same token moves it to its current user.
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO device_tokens (id, user_id, token, platform)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (token) DO UPDATE SET user_id = EXCLUDED.user_id, platform = EXCLUDED.platform`,
		uuid.New(), userID, token, platform)
	return err
}

func (r *tokenStorePG) DeleteToken(ctx context.Context, userID uuid.UUID, token string) error {
	_, err := r.conn(ctx).Exec(ctx, `
		DELETE FROM device_tokens WHERE user_id = $1 AND token = $2`, userID, token)
	return err
}
