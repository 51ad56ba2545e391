// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Service provides authentication and session operations.
type Service struct {
	users    UserRepository
	sessions SessionRepository
	hasher   PasswordHasher
	minter   *TokenMinter
	logger   *slog.Logger
}

// NewService creates a new Service.
func NewService(users UserRepository, sessions SessionRepository, hasher PasswordHasher, minter *TokenMinter) (*Service, error) {
	return NewServiceWithLogger(users, sessions, hasher, minter, slog.Default())
}

// NewServiceWithLogger creates a new Service with an explicit logger.
func NewServiceWithLogger(users UserRepository, sessions SessionRepository, hasher PasswordHasher, minter *TokenMinter, logger *slog.Logger) (*Service, error) {
	if users == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("users repository is required")
	}
	if sessions == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("sessions repository is required")
	}
	if hasher == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("password hasher is required")
	}
	if minter == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("token minter is required")
	}
	if logger == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("logger is required")
	}
	return &Service{
		users:    users,
		sessions: sessions,
		hasher:   hasher,
		minter:   minter,
		logger:   logger,
	}, nil
}

// dummyPasswordHash is used when a user doesn't exist to prevent timing attacks.
// We still run password verification to make response time consistent.
// This is NOT a real credential - it's a fake hash that will never match any password.
//
//nolint:gosec // G101: This is an intentionally fake hash for timing attack prevention, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// Register creates a new user from a username and plaintext password.
// The plaintext is hashed before anything is persisted.
func (s *Service) Register(ctx context.Context, username, password string) (*User, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		if errors.Is(err, ErrEmptyPassword) {
			return nil, err
		}
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	user, err := NewUser(username, hash)
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "construct user").
			Wrap(err)
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrDuplicateUsername) {
			// oops reports the deepest code in a wrapped chain, so wrap the
			// bare sentinel rather than the repository error, which carries
			// its own code.
			return nil, oops.Code("AUTH_USERNAME_TAKEN").
				With("username", username).
				Wrap(ErrDuplicateUsername)
		}
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "create user").
			Wrap(err)
	}

	s.logger.Info("user registered", "user_id", user.ID.String(), "username", user.Username)
	return user, nil
}

// Authenticate verifies a username/password pair against the credential
// store. The password branch is only evaluated after the user lookup has
// resolved, and a dummy hash is verified when the user is absent so the
// response time stays flat either way. Idempotent and safe to retry.
//
// Failure codes: AUTH_UNKNOWN_USER, AUTH_BAD_PASSWORD, AUTH_LOGIN_FAILED
// (store or hasher failure).
func (s *Service) Authenticate(ctx context.Context, username, password string) (*User, error) {
	user, lookupErr := s.users.GetByUsername(ctx, username)

	var targetHash string
	var userExists bool

	if lookupErr != nil {
		if errors.Is(lookupErr, ErrNotFound) {
			targetHash = dummyPasswordHash
			userExists = false
		} else {
			return nil, oops.Code("AUTH_LOGIN_FAILED").
				With("operation", "get user by username").
				Wrap(lookupErr)
		}
	} else {
		targetHash = user.PasswordHash
		userExists = true
	}

	valid, verifyErr := s.hasher.Verify(password, targetHash)
	if verifyErr != nil {
		// A malformed stored hash is a verification failure, not a crash.
		if !userExists {
			return nil, oops.Code("AUTH_UNKNOWN_USER").Errorf("incorrect username")
		}
		s.logger.Warn("stored password hash failed to verify",
			"user_id", user.ID.String(), "error", verifyErr)
		return nil, oops.Code("AUTH_BAD_PASSWORD").Errorf("incorrect password")
	}

	if !userExists {
		return nil, oops.Code("AUTH_UNKNOWN_USER").Errorf("incorrect username")
	}
	if !valid {
		return nil, oops.Code("AUTH_BAD_PASSWORD").Errorf("incorrect password")
	}

	// Transparently upgrade legacy hashes (e.g. bcrypt) on successful login.
	if s.hasher.NeedsUpgrade(user.PasswordHash) {
		if newHash, hashErr := s.hasher.Hash(password); hashErr == nil {
			if upErr := s.users.UpdatePassword(ctx, user.ID, newHash); upErr == nil {
				user.PasswordHash = newHash
			}
		}
	}

	return user, nil
}

// Login authenticates the credentials and attaches the resulting identity
// to the given session. The session stays on its existing token.
func (s *Service) Login(ctx context.Context, session *Session, username, password string) (*User, error) {
	user, err := s.Authenticate(ctx, username, password)
	if err != nil {
		return nil, err
	}

	if err := s.sessions.AttachUser(ctx, session.ID, user.ID); err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "attach user to session").
			With("session_id", session.ID.String()).
			Wrap(err)
	}

	id := user.ID
	session.UserID = &id

	s.logger.Info("user logged in", "user_id", user.ID.String(), "session_id", session.ID.String())
	return user, nil
}

// StartSession allocates a fresh anonymous session and its plaintext token.
func (s *Service) StartSession(ctx context.Context) (*Session, string, error) {
	token, tokenHash, err := s.minter.Generate()
	if err != nil {
		return nil, "", oops.Code("SESSION_START_FAILED").
			With("operation", "generate session token").
			Wrap(err)
	}

	session, err := NewSession(tokenHash, time.Now().Add(SessionTokenExpiry))
	if err != nil {
		return nil, "", oops.Code("SESSION_START_FAILED").
			With("operation", "construct session").
			Wrap(err)
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, "", oops.Code("SESSION_CREATE_FAILED").
			With("operation", "persist session").
			Wrap(err)
	}

	return session, token, nil
}

// LoadOrCreate resolves a client-presented token to its session, or starts
// a fresh anonymous session when the token is absent, unknown, or expired.
// newToken is non-empty only when a fresh session was allocated; the caller
// must then hand the new token to the client.
func (s *Service) LoadOrCreate(ctx context.Context, token string) (session *Session, newToken string, err error) {
	if token != "" {
		session, err = s.resolve(ctx, token)
		if err == nil {
			return session, "", nil
		}
		if !isSessionMiss(err) {
			return nil, "", err
		}
	}
	return s.StartSession(ctx)
}

// resolve looks up a session by token and checks expiry.
func (s *Service) resolve(ctx context.Context, token string) (*Session, error) {
	tokenHash := s.minter.HashToken(token)

	session, err := s.sessions.GetByTokenHash(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("SESSION_INVALID").Errorf("invalid session token")
		}
		return nil, oops.Code("SESSION_RESOLVE_FAILED").
			With("operation", "get session by token hash").
			Wrap(err)
	}

	if session.IsExpired() {
		return nil, oops.Code("SESSION_EXPIRED").Errorf("session has expired")
	}

	// Update last seen timestamp (best effort, resolution succeeds regardless)
	_ = s.sessions.UpdateLastSeen(ctx, session.ID, time.Now()) //nolint:errcheck

	return session, nil
}

// Logout destroys a session. Any subsequent request presenting the old
// token is treated as anonymous.
func (s *Service) Logout(ctx context.Context, sessionID ulid.ULID) error {
	err := s.sessions.Delete(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Already gone - logout is idempotent.
			return nil
		}
		return oops.Code("AUTH_LOGOUT_FAILED").
			With("operation", "delete session").
			With("session_id", sessionID.String()).
			Wrap(err)
	}
	s.logger.Info("session destroyed", "session_id", sessionID.String())
	return nil
}

// CurrentUser resolves the session's user reference through the credential
// store. Returns (nil, nil) for anonymous sessions and for sessions whose
// user record no longer exists.
func (s *Service) CurrentUser(ctx context.Context, session *Session) (*User, error) {
	if session == nil || session.UserID == nil {
		return nil, nil
	}

	user, err := s.users.GetByID(ctx, *session.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, oops.Code("AUTH_CURRENT_USER_FAILED").
			With("operation", "get user by id").
			With("user_id", session.UserID.String()).
			Wrap(err)
	}
	return user, nil
}

// FlashMessage enqueues a one-shot message on the session.
func (s *Service) FlashMessage(ctx context.Context, sessionID ulid.ULID, message string) error {
	if err := s.sessions.AppendMessage(ctx, sessionID, message); err != nil {
		return oops.Code("SESSION_FLASH_FAILED").
			With("operation", "append message").
			With("session_id", sessionID.String()).
			Wrap(err)
	}
	return nil
}

// DrainMessages returns the session's pending messages and clears them in
// one atomic step, so each message is displayed exactly once.
func (s *Service) DrainMessages(ctx context.Context, sessionID ulid.ULID) ([]string, error) {
	messages, err := s.sessions.DrainMessages(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, oops.Code("SESSION_DRAIN_FAILED").
			With("operation", "drain messages").
			With("session_id", sessionID.String()).
			Wrap(err)
	}
	return messages, nil
}

// RecordPageVisit increments the session's page counter and returns the
// new value. Last-writer-wins is acceptable here; the repository increment
// is atomic so concurrent visits never lose the counter itself.
func (s *Service) RecordPageVisit(ctx context.Context, sessionID ulid.ULID) (int, error) {
	count, err := s.sessions.IncrementPageCount(ctx, sessionID)
	if err != nil {
		return 0, oops.Code("SESSION_PAGE_COUNT_FAILED").
			With("operation", "increment page count").
			With("session_id", sessionID.String()).
			Wrap(err)
	}
	return count, nil
}

// isSessionMiss reports whether err means the token did not resolve to a
// live session, as opposed to a store failure.
func isSessionMiss(err error) bool {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return false
	}
	switch oopsErr.Code() {
	case "SESSION_INVALID", "SESSION_EXPIRED":
		return true
	default:
		return false
	}
}
