package stepup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/haasonsaas/concierge/pkg/models"
)

// ErrNoCode indicates no pending verification code exists for the
// (user, action) pair.
var ErrNoCode = errors.New("stepup: no pending code")

// CodeStore persists pending verification codes. At most one code exists
// per (user, action); Put replaces any prior code.
type CodeStore interface {
	Get(ctx context.Context, userID, actionType string) (*models.VerificationCode, error)
	Put(ctx context.Context, code *models.VerificationCode) error
	Delete(ctx context.Context, userID, actionType string) error
}

type codeKey struct {
	userID string
	action string
}

// MemoryCodeStore is an in-memory CodeStore.
type MemoryCodeStore struct {
	mu    sync.RWMutex
	codes map[codeKey]*models.VerificationCode
}

func NewMemoryCodeStore() *MemoryCodeStore {
	return &MemoryCodeStore{codes: make(map[codeKey]*models.VerificationCode)}
}

func (s *MemoryCodeStore) Get(_ context.Context, userID, actionType string) (*models.VerificationCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.codes[codeKey{userID, actionType}]
	if !ok {
		return nil, ErrNoCode
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryCodeStore) Put(_ context.Context, code *models.VerificationCode) error {
	if code == nil || code.UserID == "" || code.ActionType == "" {
		return fmt.Errorf("stepup: code user and action are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *code
	s.codes[codeKey{code.UserID, code.ActionType}] = &cp
	return nil
}

func (s *MemoryCodeStore) Delete(_ context.Context, userID, actionType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.codes, codeKey{userID, actionType})
	return nil
}

// PostgresCodeStore is a CodeStore backed by Postgres.
//
// Schema (provisioned externally):
//
//	verification_codes (user_id, action_type, salt, code_hash,
//	  expires_at, created_at, PRIMARY KEY (user_id, action_type))
type PostgresCodeStore struct {
	db *sql.DB
}

func NewPostgresCodeStore(db *sql.DB) *PostgresCodeStore {
	return &PostgresCodeStore{db: db}
}

func (s *PostgresCodeStore) Get(ctx context.Context, userID, actionType string) (*models.VerificationCode, error) {
	code := &models.VerificationCode{UserID: userID, ActionType: actionType}
	err := s.db.QueryRowContext(ctx,
		`SELECT salt, code_hash, expires_at, created_at
		 FROM verification_codes WHERE user_id = $1 AND action_type = $2`,
		userID, actionType,
	).Scan(&code.Salt, &code.CodeHash, &code.ExpiresAt, &code.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoCode
	}
	if err != nil {
		return nil, fmt.Errorf("stepup: get code: %w", err)
	}
	return code, nil
}

func (s *PostgresCodeStore) Put(ctx context.Context, code *models.VerificationCode) error {
	if code == nil || code.UserID == "" || code.ActionType == "" {
		return fmt.Errorf("stepup: code user and action are required")
	}
	createdAt := code.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO verification_codes (user_id, action_type, salt, code_hash, expires_at, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6)
		 ON CONFLICT (user_id, action_type) DO UPDATE SET
		   salt = EXCLUDED.salt,
		   code_hash = EXCLUDED.code_hash,
		   expires_at = EXCLUDED.expires_at,
		   created_at = EXCLUDED.created_at`,
		code.UserID, code.ActionType, code.Salt, code.CodeHash, code.ExpiresAt, createdAt,
	)
	if err != nil {
		return fmt.Errorf("stepup: put code: %w", err)
	}
	return nil
}

func (s *PostgresCodeStore) Delete(ctx context.Context, userID, actionType string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM verification_codes WHERE user_id = $1 AND action_type = $2`,
		userID, actionType,
	)
	if err != nil {
		return fmt.Errorf("stepup: delete code: %w", err)
	}
	return nil
}
