package models

import "time"

// TokenType distinguishes the two credential rows stored per (user, provider).
type TokenType string

const (
	TokenTypeAccess  TokenType = "access_token"
	TokenTypeRefresh TokenType = "refresh_token"
)

// Credential is the decrypted, in-memory view of a stored integration
// credential for one (user, provider) pair. At most one credential exists
// per pair; the access token is replaced in place on refresh.
type Credential struct {
	UserID       string
	Provider     string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Scopes       []string
	AccountEmail string
}

// ExpiresWithin reports whether the access token expires within d of now.
func (c *Credential) ExpiresWithin(d time.Duration) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return time.Until(c.ExpiresAt) < d
}
