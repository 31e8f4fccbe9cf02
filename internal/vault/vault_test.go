package vault

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/haasonsaas/concierge/pkg/models"
)

// newTokenEndpoint returns a fake OAuth token endpoint that issues
// accessToken and counts how many refreshes it served.
func newTokenEndpoint(t *testing.T, accessToken string, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"` + accessToken + `","token_type":"Bearer","expires_in":3600}`))
	}))
}

func newTestVault(t *testing.T, tokenURL string) (*Vault, *MemoryStore, *Cipher) {
	t.Helper()
	cipher, err := NewCipher(bytes.Repeat([]byte{0x42}, KeySize))
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}
	store := NewMemoryStore()
	oauth := map[string]*oauth2.Config{}
	if tokenURL != "" {
		oauth["google"] = &oauth2.Config{
			ClientID:     "client",
			ClientSecret: "secret",
			Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
		}
	}
	v := New(store, cipher, Options{OAuth: oauth})
	return v, store, cipher
}

func storeTestCredential(t *testing.T, v *Vault, expiresAt time.Time) {
	t.Helper()
	err := v.StoreCredential(context.Background(), &models.Credential{
		UserID:       "u1",
		Provider:     "google",
		AccessToken:  "stored-access",
		RefreshToken: "stored-refresh",
		ExpiresAt:    expiresAt,
		Scopes:       []string{"calendar.readonly"},
		AccountEmail: "user@example.com",
	})
	if err != nil {
		t.Fatalf("StoreCredential: %v", err)
	}
}

func TestGetValidAccessTokenNotConnected(t *testing.T) {
	v, _, _ := newTestVault(t, "")
	_, err := v.GetValidAccessToken(context.Background(), "u1", "google")
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("error = %v, want ErrNotConnected", err)
	}
}

func TestGetValidAccessTokenNoRefreshNeeded(t *testing.T) {
	var calls atomic.Int64
	srv := newTokenEndpoint(t, "fresh-access", &calls)
	defer srv.Close()

	v, _, _ := newTestVault(t, srv.URL)
	storeTestCredential(t, v, time.Now().Add(time.Hour))

	token, err := v.GetValidAccessToken(context.Background(), "u1", "google")
	if err != nil {
		t.Fatalf("GetValidAccessToken: %v", err)
	}
	if token != "stored-access" {
		t.Errorf("token = %q, want stored-access", token)
	}
	if calls.Load() != 0 {
		t.Errorf("refresh endpoint called %d times, want 0", calls.Load())
	}
}

func TestGetValidAccessTokenRefreshesNearExpiry(t *testing.T) {
	var calls atomic.Int64
	srv := newTokenEndpoint(t, "fresh-access", &calls)
	defer srv.Close()

	v, store, cipher := newTestVault(t, srv.URL)
	storeTestCredential(t, v, time.Now().Add(2*time.Minute))

	token, err := v.GetValidAccessToken(context.Background(), "u1", "google")
	if err != nil {
		t.Fatalf("GetValidAccessToken: %v", err)
	}
	if token != "fresh-access" {
		t.Errorf("token = %q, want fresh-access", token)
	}
	if calls.Load() != 1 {
		t.Errorf("refresh endpoint called %d times, want 1", calls.Load())
	}

	// The refreshed token is re-encrypted and persisted.
	row, err := store.GetToken(context.Background(), "u1", "google", models.TokenTypeAccess)
	if err != nil {
		t.Fatalf("GetToken: %v", err)
	}
	stored, err := cipher.Decrypt(row.Encrypted)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if stored != "fresh-access" {
		t.Errorf("persisted token = %q, want fresh-access", stored)
	}

	meta, err := store.GetMetadata(context.Background(), "u1", "google")
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if time.Until(meta.ExpiresAt) < 30*time.Minute {
		t.Errorf("metadata expiry not advanced: %v", meta.ExpiresAt)
	}
}

func TestGetValidAccessTokenSoftFailsOnRefreshError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	v, _, _ := newTestVault(t, srv.URL)
	storeTestCredential(t, v, time.Now().Add(time.Minute))

	token, err := v.GetValidAccessToken(context.Background(), "u1", "google")
	if err != nil {
		t.Fatalf("GetValidAccessToken: %v", err)
	}
	if token != "stored-access" {
		t.Errorf("token = %q, want the stale stored-access fallback", token)
	}
}

func TestGetValidAccessTokenSoftFailsWithoutRefreshToken(t *testing.T) {
	var calls atomic.Int64
	srv := newTokenEndpoint(t, "fresh-access", &calls)
	defer srv.Close()

	v, store, _ := newTestVault(t, srv.URL)
	storeTestCredential(t, v, time.Now().Add(time.Minute))
	if err := store.DeleteToken(context.Background(), "u1", "google", models.TokenTypeRefresh); err != nil {
		t.Fatalf("DeleteToken: %v", err)
	}

	token, err := v.GetValidAccessToken(context.Background(), "u1", "google")
	if err != nil {
		t.Fatalf("GetValidAccessToken: %v", err)
	}
	if token != "stored-access" {
		t.Errorf("token = %q, want stored-access", token)
	}
	if calls.Load() != 0 {
		t.Errorf("refresh endpoint called %d times, want 0", calls.Load())
	}
}

func TestGetValidAccessTokenDecryptFailureIsHard(t *testing.T) {
	v, store, _ := newTestVault(t, "")
	storeTestCredential(t, v, time.Now().Add(time.Hour))

	// Corrupt the stored blob in place.
	if err := store.PutToken(context.Background(), &TokenRow{
		UserID:    "u1",
		Provider:  "google",
		TokenType: models.TokenTypeAccess,
		Encrypted: "bm90IGEgdmFsaWQgYmxvYg==",
	}); err != nil {
		t.Fatalf("PutToken: %v", err)
	}

	_, err := v.GetValidAccessToken(context.Background(), "u1", "google")
	if !errors.Is(err, ErrDecrypt) {
		t.Errorf("error = %v, want ErrDecrypt (never a fake not-connected)", err)
	}
}
