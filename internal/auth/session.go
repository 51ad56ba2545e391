// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Session token configuration.
const (
	SessionTokenBytes  = 32             // 32 bytes = 64 hex chars
	SessionTokenExpiry = 24 * time.Hour // 24 hour expiry
)

// Session represents one client's ongoing interaction, keyed by an opaque
// token. UserID is nil while the session is anonymous.
type Session struct {
	ID         ulid.ULID
	UserID     *ulid.ULID // nil means anonymous
	TokenHash  string
	PageCount  int
	Messages   []string // one-shot, drained on delivery
	ExpiresAt  time.Time
	CreatedAt  time.Time
	LastSeenAt time.Time
}

// NewSession creates a validated anonymous Session instance.
func NewSession(tokenHash string, expiresAt time.Time) (*Session, error) {
	if tokenHash == "" {
		return nil, oops.Code("SESSION_INVALID_HASH").Errorf("token hash cannot be empty")
	}
	if expiresAt.IsZero() {
		return nil, oops.Code("SESSION_INVALID_EXPIRY").Errorf("expiry time cannot be zero")
	}

	now := time.Now()
	return &Session{
		ID:         ulid.Make(),
		TokenHash:  tokenHash,
		ExpiresAt:  expiresAt,
		CreatedAt:  now,
		LastSeenAt: now,
	}, nil
}

// IsAnonymous returns true if no user is attached to the session.
func (s *Session) IsAnonymous() bool {
	return s.UserID == nil
}

// IsExpired returns true if the session has expired.
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// IsExpiredAt returns true if the session would be expired at the given time.
// Useful for testing with deterministic time values.
func (s *Session) IsExpiredAt(t time.Time) bool {
	return t.After(s.ExpiresAt)
}

// TokenMinter generates and verifies session tokens. Tokens are random and
// only their keyed hash is persisted, so a database leak does not allow
// session lookup or forgery without the configured secret.
type TokenMinter struct {
	secret []byte
}

// NewTokenMinter creates a TokenMinter from the configured session secret.
func NewTokenMinter(secret string) (*TokenMinter, error) {
	if secret == "" {
		return nil, oops.Code("SESSION_SECRET_MISSING").Errorf("session secret cannot be empty")
	}
	return &TokenMinter{secret: []byte(secret)}, nil
}

// Generate creates a secure random token and its keyed hash.
// Returns (plaintext_token, hmac_hash, error). The plaintext token is sent
// to the client; only the hash is stored in the database.
func (m *TokenMinter) Generate() (token, hash string, err error) {
	tokenBytes := make([]byte, SessionTokenBytes)
	if _, err = rand.Read(tokenBytes); err != nil {
		return "", "", oops.Code("SESSION_TOKEN_GENERATE_FAILED").
			With("operation", "crypto/rand.Read").
			With("requested_bytes", SessionTokenBytes).
			Wrap(err)
	}

	token = hex.EncodeToString(tokenBytes)
	hash = m.HashToken(token)

	return token, hash, nil
}

// HashToken computes the HMAC-SHA256 of a session token under the secret.
func (m *TokenMinter) HashToken(token string) string {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyToken checks if the plaintext token matches the stored hash.
// Uses constant-time comparison to prevent timing attacks.
func (m *TokenMinter) VerifyToken(token, hash string) (bool, error) {
	if token == "" {
		return false, oops.Code("SESSION_TOKEN_EMPTY").Errorf("session token cannot be empty")
	}
	if hash == "" {
		return false, oops.Code("SESSION_HASH_EMPTY").Errorf("stored hash cannot be empty")
	}
	computed := m.HashToken(token)
	// Both are hex-encoded HMAC-SHA256 values (64 chars), use constant-time compare
	return subtle.ConstantTimeCompare([]byte(computed), []byte(hash)) == 1, nil
}

// SessionRepository manages session persistence. All mutations are atomic at
// the level of a single record; concurrent requests touching the same session
// must never lose an authentication state transition.
type SessionRepository interface {
	// Create stores a new session.
	Create(ctx context.Context, session *Session) error

	// GetByTokenHash retrieves a session by its token hash.
	GetByTokenHash(ctx context.Context, tokenHash string) (*Session, error)

	// AttachUser marks the session as authenticated for the given user.
	AttachUser(ctx context.Context, id, userID ulid.ULID) error

	// IncrementPageCount atomically increments the page counter and
	// returns the new value.
	IncrementPageCount(ctx context.Context, id ulid.ULID) (int, error)

	// AppendMessage atomically appends a one-shot message to the session.
	AppendMessage(ctx context.Context, id ulid.ULID, message string) error

	// DrainMessages atomically returns the pending messages and clears
	// them, so each message is delivered exactly once.
	DrainMessages(ctx context.Context, id ulid.ULID) ([]string, error)

	// UpdateLastSeen updates the LastSeenAt timestamp for a session.
	UpdateLastSeen(ctx context.Context, id ulid.ULID, lastSeen time.Time) error

	// Delete removes a session by ID.
	Delete(ctx context.Context, id ulid.ULID) error

	// DeleteExpired removes all expired sessions and returns the count
	// of deleted records.
	DeleteExpired(ctx context.Context) (int64, error)
}
