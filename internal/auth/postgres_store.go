package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresStore persists API tokens in PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgreSQL-backed auth store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Replace stores tok as the user's only token. api_tokens.user_id is
// unique, so the upsert swaps the previous row out.
func (p *PostgresStore) Replace(ctx context.Context, tok *APIToken) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO api_tokens (id, user_id, hash, prefix, created_at, last_used, expires_at)
		VALUES ($1, $2, $3, $4, $5, NULL, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			id = EXCLUDED.id,
			hash = EXCLUDED.hash,
			prefix = EXCLUDED.prefix,
			created_at = EXCLUDED.created_at,
			last_used = NULL,
			expires_at = EXCLUDED.expires_at
	`, tok.ID, tok.UserID, tok.Hash, tok.Prefix, tok.CreatedAt, tok.ExpiresAt)
	return err
}

func (p *PostgresStore) GetByHash(ctx context.Context, hash string) (*APIToken, error) {
	return p.getOne(ctx, `WHERE hash = $1`, hash)
}

func (p *PostgresStore) GetByUser(ctx context.Context, userID int64) (*APIToken, error) {
	return p.getOne(ctx, `WHERE user_id = $1`, userID)
}

func (p *PostgresStore) getOne(ctx context.Context, where string, arg interface{}) (*APIToken, error) {
	tok := &APIToken{}
	var lastUsed sql.NullTime

	err := p.db.QueryRowContext(ctx, `
		SELECT id, user_id, hash, prefix, created_at, last_used, expires_at
		FROM api_tokens `+where, arg).Scan(
		&tok.ID, &tok.UserID, &tok.Hash, &tok.Prefix,
		&tok.CreatedAt, &lastUsed, &tok.ExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, err
	}

	tok.CreatedAt = tok.CreatedAt.UTC()
	tok.ExpiresAt = tok.ExpiresAt.UTC()
	if lastUsed.Valid {
		t := lastUsed.Time.UTC()
		tok.LastUsed = &t
	}
	return tok, nil
}

func (p *PostgresStore) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := p.db.ExecContext(ctx, `UPDATE api_tokens SET last_used = $2 WHERE id = $1`, id, at)
	return err
}

func (p *PostgresStore) DeleteByUser(ctx context.Context, userID int64) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM api_tokens WHERE user_id = $1`, userID)
	return err
}
