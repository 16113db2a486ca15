// Package session manages authenticated browser sessions for the 3LO
// login flow.
package session

import "time"

// Session carries an identifier, the principal's groups, its issuing
// IdP, and an expiry.
type Session struct {
	// ID is a cryptographically random identifier, 32 bytes hex-encoded.
	ID string
	// PrincipalID is the subject claim from the IdP token that started
	// this session.
	PrincipalID string
	// Groups are cached from the IdP token for authorization without
	// re-validating a token on every request.
	Groups []string
	// Idp identifies which identity provider issued the session
	// ("cognito" or "keycloak").
	Idp string
	// CreatedAt is when the session was created (UTC).
	CreatedAt time.Time
	// ExpiresAt is when the session will expire (UTC).
	ExpiresAt time.Time
	// LastAccess is the last time the session was used (UTC).
	LastAccess time.Time
}

// IsExpired checks if the session has exceeded its timeout.
func (s *Session) IsExpired() bool {
	return time.Now().UTC().After(s.ExpiresAt)
}

// Refresh updates LastAccess and extends ExpiresAt by the given duration.
func (s *Session) Refresh(timeout time.Duration) {
	now := time.Now().UTC()
	s.LastAccess = now
	s.ExpiresAt = now.Add(timeout)
}
