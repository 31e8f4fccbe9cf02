package security

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/concierge/pkg/models"
)

// ErrNotFound is returned when a user has no stored preferences row.
var ErrNotFound = errors.New("security: preferences not found")

// PrefsStore persists per-user security preferences. Get for an unknown
// user returns ErrNotFound; callers treat that as defaults (no phrase, no
// overrides, emoji confirmations off).
type PrefsStore interface {
	Get(ctx context.Context, userID string) (*models.SecurityPrefs, error)
	Put(ctx context.Context, prefs *models.SecurityPrefs) error
}

// MemoryPrefsStore is an in-memory PrefsStore for tests and single-process
// deployments.
type MemoryPrefsStore struct {
	mu    sync.RWMutex
	prefs map[string]*models.SecurityPrefs
}

// NewMemoryPrefsStore creates an empty in-memory preferences store.
func NewMemoryPrefsStore() *MemoryPrefsStore {
	return &MemoryPrefsStore{prefs: make(map[string]*models.SecurityPrefs)}
}

func (s *MemoryPrefsStore) Get(_ context.Context, userID string) (*models.SecurityPrefs, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prefs[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return clonePrefs(p), nil
}

func (s *MemoryPrefsStore) Put(_ context.Context, prefs *models.SecurityPrefs) error {
	if prefs == nil || prefs.UserID == "" {
		return fmt.Errorf("security: prefs user id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs[prefs.UserID] = clonePrefs(prefs)
	return nil
}

func clonePrefs(p *models.SecurityPrefs) *models.SecurityPrefs {
	cp := *p
	if p.ActionOverrides != nil {
		cp.ActionOverrides = make(map[string]models.Tier, len(p.ActionOverrides))
		for k, v := range p.ActionOverrides {
			cp.ActionOverrides[k] = v
		}
	}
	if p.LockoutUntil != nil {
		t := *p.LockoutUntil
		cp.LockoutUntil = &t
	}
	return &cp
}

// PostgresPrefsStore is a PrefsStore backed by Postgres.
//
// Schema (provisioned externally):
//
//	security_preferences (user_id PRIMARY KEY, emoji_confirmations_enabled,
//	  security_phrase_color, security_phrase_object, security_phrase_emoji,
//	  action_security_overrides JSONB, failed_security_attempts,
//	  security_lockout_until, updated_at)
type PostgresPrefsStore struct {
	db *sql.DB
}

// NewPostgresPrefsStore wraps an existing connection pool.
func NewPostgresPrefsStore(db *sql.DB) *PostgresPrefsStore {
	return &PostgresPrefsStore{db: db}
}

func (s *PostgresPrefsStore) Get(ctx context.Context, userID string) (*models.SecurityPrefs, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrNotFound
	}
	prefs := &models.SecurityPrefs{UserID: userID}
	var overrides []byte
	var lockout sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT emoji_confirmations_enabled, security_phrase_color, security_phrase_object,
		        security_phrase_emoji, action_security_overrides, failed_security_attempts,
		        security_lockout_until
		 FROM security_preferences WHERE user_id = $1`,
		userID,
	).Scan(
		&prefs.EmojiConfirmations,
		&prefs.PhraseColor,
		&prefs.PhraseObject,
		&prefs.PhraseEmoji,
		&overrides,
		&prefs.FailedAttempts,
		&lockout,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("security: get prefs: %w", err)
	}
	if len(overrides) > 0 {
		if err := json.Unmarshal(overrides, &prefs.ActionOverrides); err != nil {
			return nil, fmt.Errorf("security: decode overrides: %w", err)
		}
	}
	if lockout.Valid {
		prefs.LockoutUntil = &lockout.Time
	}
	return prefs, nil
}

func (s *PostgresPrefsStore) Put(ctx context.Context, prefs *models.SecurityPrefs) error {
	if prefs == nil || prefs.UserID == "" {
		return fmt.Errorf("security: prefs user id is required")
	}
	overrides, err := json.Marshal(prefs.ActionOverrides)
	if err != nil {
		return fmt.Errorf("security: encode overrides: %w", err)
	}
	var lockout sql.NullTime
	if prefs.LockoutUntil != nil {
		lockout = sql.NullTime{Time: *prefs.LockoutUntil, Valid: true}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO security_preferences
		   (user_id, emoji_confirmations_enabled, security_phrase_color, security_phrase_object,
		    security_phrase_emoji, action_security_overrides, failed_security_attempts,
		    security_lockout_until, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		 ON CONFLICT (user_id) DO UPDATE SET
		   emoji_confirmations_enabled = EXCLUDED.emoji_confirmations_enabled,
		   security_phrase_color = EXCLUDED.security_phrase_color,
		   security_phrase_object = EXCLUDED.security_phrase_object,
		   security_phrase_emoji = EXCLUDED.security_phrase_emoji,
		   action_security_overrides = EXCLUDED.action_security_overrides,
		   failed_security_attempts = EXCLUDED.failed_security_attempts,
		   security_lockout_until = EXCLUDED.security_lockout_until,
		   updated_at = EXCLUDED.updated_at`,
		prefs.UserID,
		prefs.EmojiConfirmations,
		prefs.PhraseColor,
		prefs.PhraseObject,
		prefs.PhraseEmoji,
		overrides,
		prefs.FailedAttempts,
		lockout,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("security: put prefs: %w", err)
	}
	return nil
}
