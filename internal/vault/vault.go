package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"

	"github.com/haasonsaas/concierge/pkg/models"
)

// RefreshBuffer is how close to expiry an access token may get before the
// vault refreshes it ahead of handing it out.
const RefreshBuffer = 5 * time.Minute

// ErrNotConnected indicates no credential exists for (user, provider).
// Callers surface this to the model as a structured "connect the
// integration" error, never as a crash.
var ErrNotConnected = errors.New("vault: integration not connected")

// Vault hands out valid access tokens for (user, provider) pairs,
// refreshing them ahead of expiry and keeping them encrypted at rest.
type Vault struct {
	store  Store
	cipher *Cipher
	oauth  map[string]*oauth2.Config
	logger *slog.Logger

	// buffer is the refresh-ahead window; defaults to RefreshBuffer.
	buffer time.Duration
}

// Options configures a Vault.
type Options struct {
	// OAuth maps provider ids to the OAuth client configuration used to
	// refresh their tokens.
	OAuth map[string]*oauth2.Config

	Logger *slog.Logger

	// RefreshBuffer overrides the default refresh-ahead window.
	RefreshBuffer time.Duration
}

// New creates a Vault over the given store and cipher.
func New(store Store, cipher *Cipher, opts Options) *Vault {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	buffer := opts.RefreshBuffer
	if buffer <= 0 {
		buffer = RefreshBuffer
	}
	oauth := opts.OAuth
	if oauth == nil {
		oauth = map[string]*oauth2.Config{}
	}
	return &Vault{
		store:  store,
		cipher: cipher,
		oauth:  oauth,
		logger: logger,
		buffer: buffer,
	}
}

// GetValidAccessToken returns an access token for (user, provider),
// refreshing it first when it expires within the refresh buffer.
//
// Refresh failures fall back to the stored (possibly stale) access token so
// the caller can attempt the upstream call and handle a 401 explicitly —
// a deliberate soft-fail policy. Decryption failures are hard errors.
func (v *Vault) GetValidAccessToken(ctx context.Context, userID, provider string) (string, error) {
	row, err := v.store.GetToken(ctx, userID, provider, models.TokenTypeAccess)
	if errors.Is(err, ErrNotFound) {
		return "", ErrNotConnected
	}
	if err != nil {
		return "", fmt.Errorf("vault: load credential: %w", err)
	}

	access, err := v.cipher.Decrypt(row.Encrypted)
	if err != nil {
		// Never degrade an undecryptable credential into "not connected".
		return "", err
	}

	meta, err := v.store.GetMetadata(ctx, userID, provider)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return "", fmt.Errorf("vault: load metadata: %w", err)
	}
	if meta == nil || meta.ExpiresAt.IsZero() || time.Until(meta.ExpiresAt) >= v.buffer {
		return access, nil
	}

	refreshed, err := v.refresh(ctx, userID, provider)
	if err != nil {
		v.logger.Warn("token refresh failed, returning stored access token",
			"user_id", userID,
			"provider", provider,
			"error", err,
		)
		return access, nil
	}
	return refreshed, nil
}

// refresh exchanges the stored refresh token for a new access token and
// persists the re-encrypted result. Concurrent refreshes for the same pair
// may race; the last writer wins, which providers tolerate.
func (v *Vault) refresh(ctx context.Context, userID, provider string) (string, error) {
	conf, ok := v.oauth[provider]
	if !ok {
		return "", fmt.Errorf("no oauth config for provider %q", provider)
	}

	row, err := v.store.GetToken(ctx, userID, provider, models.TokenTypeRefresh)
	if errors.Is(err, ErrNotFound) {
		return "", errors.New("no refresh token stored")
	}
	if err != nil {
		return "", err
	}
	refreshToken, err := v.cipher.Decrypt(row.Encrypted)
	if err != nil {
		return "", err
	}

	tok, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return "", fmt.Errorf("provider rejected refresh: %w", err)
	}

	if err := v.persistToken(ctx, userID, provider, models.TokenTypeAccess, tok.AccessToken); err != nil {
		return "", err
	}
	// Providers may rotate the refresh token; persist only when they do.
	if tok.RefreshToken != "" && tok.RefreshToken != refreshToken {
		if err := v.persistToken(ctx, userID, provider, models.TokenTypeRefresh, tok.RefreshToken); err != nil {
			return "", err
		}
	}

	meta, err := v.store.GetMetadata(ctx, userID, provider)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return "", err
	}
	if meta == nil {
		meta = &Metadata{UserID: userID, Provider: provider}
	}
	meta.ExpiresAt = tok.Expiry
	meta.UpdatedAt = time.Now()
	if err := v.store.PutMetadata(ctx, meta); err != nil {
		return "", err
	}

	v.logger.Info("access token refreshed",
		"user_id", userID,
		"provider", provider,
		"expires_at", tok.Expiry,
	)
	return tok.AccessToken, nil
}

// StoreCredential encrypts and persists a credential captured from an OAuth
// callback. The access token row is replaced in place; a refresh token row
// is written only when one was granted.
func (v *Vault) StoreCredential(ctx context.Context, cred *models.Credential) error {
	if cred == nil || cred.UserID == "" || cred.Provider == "" {
		return fmt.Errorf("vault: credential user and provider are required")
	}
	if cred.AccessToken == "" {
		return fmt.Errorf("vault: credential access token is required")
	}

	if err := v.persistToken(ctx, cred.UserID, cred.Provider, models.TokenTypeAccess, cred.AccessToken); err != nil {
		return err
	}
	if cred.RefreshToken != "" {
		if err := v.persistToken(ctx, cred.UserID, cred.Provider, models.TokenTypeRefresh, cred.RefreshToken); err != nil {
			return err
		}
	}
	return v.store.PutMetadata(ctx, &Metadata{
		UserID:       cred.UserID,
		Provider:     cred.Provider,
		ExpiresAt:    cred.ExpiresAt,
		Scopes:       cred.Scopes,
		AccountEmail: cred.AccountEmail,
		UpdatedAt:    time.Now(),
	})
}

func (v *Vault) persistToken(ctx context.Context, userID, provider string, tokenType models.TokenType, plaintext string) error {
	encrypted, err := v.cipher.Encrypt(plaintext)
	if err != nil {
		return fmt.Errorf("vault: encrypt %s: %w", tokenType, err)
	}
	return v.store.PutToken(ctx, &TokenRow{
		UserID:    userID,
		Provider:  provider,
		TokenType: tokenType,
		Encrypted: encrypted,
		UpdatedAt: time.Now(),
	})
}
