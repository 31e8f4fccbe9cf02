// Package stepup issues and verifies short-lived verification codes for
// high-impact actions, with a strike counter that locks confirmations out
// after repeated failures.
package stepup

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/haasonsaas/concierge/internal/security"
	"github.com/haasonsaas/concierge/pkg/models"
)

const (
	// CodeTTL is how long an issued code stays valid.
	CodeTTL = 10 * time.Minute

	// MaxFailedAttempts is the consecutive-failure threshold that triggers
	// a lockout.
	MaxFailedAttempts = 3

	// LockoutDuration is how long confirmations stay locked after the
	// threshold is hit.
	LockoutDuration = 15 * time.Minute

	codeDigits = 6
	saltBytes  = 16
)

// ErrLockedOut indicates the user's verification is locked after repeated
// failed attempts.
var ErrLockedOut = errors.New("stepup: verification locked out")

// Verifier mints and checks verification codes. Code plaintext is returned
// exactly once at creation and only a salted hash is stored.
type Verifier struct {
	codes  CodeStore
	prefs  security.PrefsStore
	logger *slog.Logger
	now    func() time.Time
}

// Options configures a Verifier.
type Options struct {
	Logger *slog.Logger
}

// NewVerifier creates a Verifier over the given stores.
func NewVerifier(codes CodeStore, prefs security.PrefsStore, opts Options) *Verifier {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{codes: codes, prefs: prefs, logger: logger, now: time.Now}
}

// CreateCode mints a fresh 6-digit code for (user, action), replacing any
// outstanding code for the same pair, and returns the plaintext. The caller
// delivers it out of band; it is never stored.
func (v *Verifier) CreateCode(ctx context.Context, userID, actionType string) (string, error) {
	if userID == "" || actionType == "" {
		return "", fmt.Errorf("stepup: user and action are required")
	}
	prefs, err := v.loadPrefs(ctx, userID)
	if err != nil {
		return "", err
	}
	if prefs.LockedOut(v.now()) {
		return "", ErrLockedOut
	}

	code, err := randomCode()
	if err != nil {
		return "", fmt.Errorf("stepup: generate code: %w", err)
	}
	salt := make([]byte, saltBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("stepup: generate salt: %w", err)
	}

	now := v.now()
	err = v.codes.Put(ctx, &models.VerificationCode{
		UserID:     userID,
		ActionType: actionType,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		CodeHash:   hashCode(salt, code),
		ExpiresAt:  now.Add(CodeTTL),
		CreatedAt:  now,
	})
	if err != nil {
		return "", err
	}

	v.logger.Info("verification code issued",
		"user_id", userID,
		"action_type", actionType,
		"expires_in", CodeTTL,
	)
	return code, nil
}

// VerifyCode checks a submitted code against the pending one for
// (user, action). Success consumes the code and resets the strike counter.
// A wrong, absent, or expired code counts a strike; the third consecutive
// strike starts a lockout and the code (if any) is purged.
func (v *Verifier) VerifyCode(ctx context.Context, userID, actionType, submitted string) (bool, error) {
	prefs, err := v.loadPrefs(ctx, userID)
	if err != nil {
		return false, err
	}
	if prefs.LockedOut(v.now()) {
		return false, ErrLockedOut
	}

	stored, err := v.codes.Get(ctx, userID, actionType)
	if errors.Is(err, ErrNoCode) {
		return false, v.recordFailure(ctx, prefs, userID, actionType)
	}
	if err != nil {
		return false, err
	}

	if v.now().After(stored.ExpiresAt) {
		_ = v.codes.Delete(ctx, userID, actionType)
		return false, v.recordFailure(ctx, prefs, userID, actionType)
	}

	salt, err := base64.StdEncoding.DecodeString(stored.Salt)
	if err != nil {
		return false, fmt.Errorf("stepup: decode salt: %w", err)
	}
	want := []byte(stored.CodeHash)
	got := []byte(hashCode(salt, strings.TrimSpace(submitted)))
	if subtle.ConstantTimeCompare(want, got) != 1 {
		return false, v.recordFailure(ctx, prefs, userID, actionType)
	}

	if err := v.codes.Delete(ctx, userID, actionType); err != nil {
		return false, err
	}
	if prefs.FailedAttempts != 0 || prefs.LockoutUntil != nil {
		prefs.FailedAttempts = 0
		prefs.LockoutUntil = nil
		if err := v.prefs.Put(ctx, prefs); err != nil {
			return false, err
		}
	}
	return true, nil
}

// recordFailure increments the strike counter and starts a lockout at the
// threshold. It returns nil so the caller sees a plain "not verified"
// outcome, or ErrLockedOut once the lockout engages.
func (v *Verifier) recordFailure(ctx context.Context, prefs *models.SecurityPrefs, userID, actionType string) error {
	prefs.FailedAttempts++
	if prefs.FailedAttempts >= MaxFailedAttempts {
		until := v.now().Add(LockoutDuration)
		prefs.LockoutUntil = &until
		prefs.FailedAttempts = 0
		_ = v.codes.Delete(ctx, userID, actionType)
		if err := v.prefs.Put(ctx, prefs); err != nil {
			return err
		}
		v.logger.Warn("verification lockout engaged",
			"user_id", userID,
			"action_type", actionType,
			"until", until,
		)
		return ErrLockedOut
	}
	return v.prefs.Put(ctx, prefs)
}

func (v *Verifier) loadPrefs(ctx context.Context, userID string) (*models.SecurityPrefs, error) {
	prefs, err := v.prefs.Get(ctx, userID)
	if errors.Is(err, security.ErrNotFound) {
		return &models.SecurityPrefs{UserID: userID}, nil
	}
	if err != nil {
		return nil, err
	}
	return prefs, nil
}

func randomCode() (string, error) {
	max := big.NewInt(1000000)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}

func hashCode(salt []byte, code string) string {
	h := sha256.New()
	h.Write(salt)
	h.Write([]byte(code))
	return hex.EncodeToString(h.Sum(nil))
}
