package stepup

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/haasonsaas/concierge/internal/security"
)

func newTestVerifier(t *testing.T) (*Verifier, *MemoryCodeStore, *security.MemoryPrefsStore) {
	t.Helper()
	codes := NewMemoryCodeStore()
	prefs := security.NewMemoryPrefsStore()
	return NewVerifier(codes, prefs, Options{}), codes, prefs
}

func TestCreateCodeFormat(t *testing.T) {
	v, _, _ := newTestVerifier(t)

	code, err := v.CreateCode(context.Background(), "u1", "calendar.clear_day")
	if err != nil {
		t.Fatalf("CreateCode: %v", err)
	}
	if !regexp.MustCompile(`^\d{6}$`).MatchString(code) {
		t.Errorf("code = %q, want six digits", code)
	}
}

func TestCreateCodeStoresOnlyHash(t *testing.T) {
	v, codes, _ := newTestVerifier(t)

	code, err := v.CreateCode(context.Background(), "u1", "calendar.clear_day")
	if err != nil {
		t.Fatalf("CreateCode: %v", err)
	}
	stored, err := codes.Get(context.Background(), "u1", "calendar.clear_day")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.CodeHash == code {
		t.Error("code stored in plaintext")
	}
	if stored.Salt == "" {
		t.Error("no salt stored")
	}
	if until := time.Until(stored.ExpiresAt); until < 9*time.Minute || until > 11*time.Minute {
		t.Errorf("expiry window off: %v", until)
	}
}

func TestCreateCodeSupersedesPrior(t *testing.T) {
	v, _, _ := newTestVerifier(t)
	ctx := context.Background()

	first, err := v.CreateCode(ctx, "u1", "calendar.clear_day")
	if err != nil {
		t.Fatalf("CreateCode: %v", err)
	}
	second, err := v.CreateCode(ctx, "u1", "calendar.clear_day")
	if err != nil {
		t.Fatalf("CreateCode: %v", err)
	}

	if first != second {
		ok, err := v.VerifyCode(ctx, "u1", "calendar.clear_day", first)
		if err != nil {
			t.Fatalf("VerifyCode: %v", err)
		}
		if ok {
			t.Error("superseded code still verified")
		}
	}
	ok, err := v.VerifyCode(ctx, "u1", "calendar.clear_day", second)
	if err != nil {
		t.Fatalf("VerifyCode: %v", err)
	}
	if first != second && ok {
		t.Error("second code consumed by failed first attempt")
	}
}

func TestVerifyCodeLifecycle(t *testing.T) {
	v, _, _ := newTestVerifier(t)
	ctx := context.Background()

	code, err := v.CreateCode(ctx, "u1", "email.empty_trash")
	if err != nil {
		t.Fatalf("CreateCode: %v", err)
	}

	ok, err := v.VerifyCode(ctx, "u1", "email.empty_trash", " "+code+" ")
	if err != nil {
		t.Fatalf("VerifyCode: %v", err)
	}
	if !ok {
		t.Fatal("correct code rejected")
	}

	// The code is single-use.
	ok, err = v.VerifyCode(ctx, "u1", "email.empty_trash", code)
	if err != nil {
		t.Fatalf("VerifyCode replay: %v", err)
	}
	if ok {
		t.Error("consumed code verified a second time")
	}
}

func TestVerifyCodeExpired(t *testing.T) {
	v, _, _ := newTestVerifier(t)
	ctx := context.Background()

	code, err := v.CreateCode(ctx, "u1", "email.empty_trash")
	if err != nil {
		t.Fatalf("CreateCode: %v", err)
	}
	v.now = func() time.Time { return time.Now().Add(CodeTTL + time.Minute) }

	ok, err := v.VerifyCode(ctx, "u1", "email.empty_trash", code)
	if err != nil {
		t.Fatalf("VerifyCode: %v", err)
	}
	if ok {
		t.Error("expired code verified")
	}
}

func TestVerifyCodeLockoutAfterThreeStrikes(t *testing.T) {
	v, _, prefsStore := newTestVerifier(t)
	ctx := context.Background()

	if _, err := v.CreateCode(ctx, "u1", "calendar.clear_day"); err != nil {
		t.Fatalf("CreateCode: %v", err)
	}

	for i := 0; i < 2; i++ {
		ok, err := v.VerifyCode(ctx, "u1", "calendar.clear_day", "000000")
		if err != nil {
			t.Fatalf("strike %d: %v", i+1, err)
		}
		if ok {
			t.Fatalf("strike %d: wrong code verified", i+1)
		}
	}

	ok, err := v.VerifyCode(ctx, "u1", "calendar.clear_day", "000000")
	if !errors.Is(err, ErrLockedOut) {
		t.Fatalf("third strike error = %v, want ErrLockedOut", err)
	}
	if ok {
		t.Fatal("locked verification reported ok")
	}

	prefs, err := prefsStore.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get prefs: %v", err)
	}
	if prefs.LockoutUntil == nil {
		t.Fatal("no lockout recorded")
	}
	if d := time.Until(*prefs.LockoutUntil); d < 14*time.Minute || d > 16*time.Minute {
		t.Errorf("lockout duration off: %v", d)
	}

	// Everything is refused while locked, even minting a new code.
	if _, err := v.CreateCode(ctx, "u1", "calendar.clear_day"); !errors.Is(err, ErrLockedOut) {
		t.Errorf("CreateCode during lockout error = %v, want ErrLockedOut", err)
	}
	if _, err := v.VerifyCode(ctx, "u1", "calendar.clear_day", "123456"); !errors.Is(err, ErrLockedOut) {
		t.Errorf("VerifyCode during lockout error = %v, want ErrLockedOut", err)
	}
}

func TestVerifyCodeSuccessResetsStrikes(t *testing.T) {
	v, _, prefsStore := newTestVerifier(t)
	ctx := context.Background()

	code, err := v.CreateCode(ctx, "u1", "calendar.clear_day")
	if err != nil {
		t.Fatalf("CreateCode: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := v.VerifyCode(ctx, "u1", "calendar.clear_day", "999999"); err != nil {
			t.Fatalf("strike %d: %v", i+1, err)
		}
	}

	ok, err := v.VerifyCode(ctx, "u1", "calendar.clear_day", code)
	if err != nil {
		t.Fatalf("VerifyCode: %v", err)
	}
	if !ok {
		t.Fatal("correct code rejected after two strikes")
	}

	prefs, err := prefsStore.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get prefs: %v", err)
	}
	if prefs.FailedAttempts != 0 {
		t.Errorf("FailedAttempts = %d after success, want 0", prefs.FailedAttempts)
	}
}
