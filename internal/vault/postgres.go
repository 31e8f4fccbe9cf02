package vault

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/haasonsaas/concierge/pkg/models"
)

// PostgresStore is a Store backed by Postgres via lib/pq.
//
// Schema (provisioned externally):
//
//	integration_tokens (user_id, provider, token_type, encrypted_value, updated_at,
//	                    PRIMARY KEY (user_id, provider, token_type))
//	integration_metadata (user_id, provider, token_expires_at, scopes, provider_email,
//	                      updated_at, PRIMARY KEY (user_id, provider))
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool against dsn and verifies it.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("vault: dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("vault: open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("vault: ping database: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) GetToken(ctx context.Context, userID, provider string, tokenType models.TokenType) (*TokenRow, error) {
	row := &TokenRow{UserID: userID, Provider: provider, TokenType: tokenType}
	err := s.db.QueryRowContext(ctx,
		`SELECT encrypted_value, updated_at FROM integration_tokens
		 WHERE user_id = $1 AND provider = $2 AND token_type = $3`,
		userID, provider, string(tokenType),
	).Scan(&row.Encrypted, &row.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("vault: get token: %w", err)
	}
	return row, nil
}

func (s *PostgresStore) PutToken(ctx context.Context, row *TokenRow) error {
	if row == nil {
		return fmt.Errorf("vault: token row is required")
	}
	updated := row.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO integration_tokens (user_id, provider, token_type, encrypted_value, updated_at)
		 VALUES ($1,$2,$3,$4,$5)
		 ON CONFLICT (user_id, provider, token_type)
		 DO UPDATE SET encrypted_value = EXCLUDED.encrypted_value, updated_at = EXCLUDED.updated_at`,
		row.UserID, row.Provider, string(row.TokenType), row.Encrypted, updated,
	)
	if err != nil {
		return fmt.Errorf("vault: put token: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteToken(ctx context.Context, userID, provider string, tokenType models.TokenType) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM integration_tokens WHERE user_id = $1 AND provider = $2 AND token_type = $3`,
		userID, provider, string(tokenType),
	)
	if err != nil {
		return fmt.Errorf("vault: delete token: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetMetadata(ctx context.Context, userID, provider string) (*Metadata, error) {
	meta := &Metadata{UserID: userID, Provider: provider}
	var scopes []string
	err := s.db.QueryRowContext(ctx,
		`SELECT token_expires_at, scopes, provider_email, updated_at FROM integration_metadata
		 WHERE user_id = $1 AND provider = $2`,
		userID, provider,
	).Scan(&meta.ExpiresAt, pq.Array(&scopes), &meta.AccountEmail, &meta.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("vault: get metadata: %w", err)
	}
	meta.Scopes = scopes
	return meta, nil
}

func (s *PostgresStore) PutMetadata(ctx context.Context, meta *Metadata) error {
	if meta == nil {
		return fmt.Errorf("vault: metadata is required")
	}
	updated := meta.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO integration_metadata (user_id, provider, token_expires_at, scopes, provider_email, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6)
		 ON CONFLICT (user_id, provider)
		 DO UPDATE SET token_expires_at = EXCLUDED.token_expires_at,
		               scopes = EXCLUDED.scopes,
		               provider_email = EXCLUDED.provider_email,
		               updated_at = EXCLUDED.updated_at`,
		meta.UserID, meta.Provider, meta.ExpiresAt, pq.Array(meta.Scopes), meta.AccountEmail, updated,
	)
	if err != nil {
		return fmt.Errorf("vault: put metadata: %w", err)
	}
	return nil
}
