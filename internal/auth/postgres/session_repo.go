// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/gatehouse/gatehouse/internal/auth"
)

// SessionRepository implements auth.SessionRepository using PostgreSQL.
// Every mutation is a single UPDATE or DELETE so concurrent requests on the
// same session never race through read-modify-write cycles in Go.
type SessionRepository struct {
	db querier
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(db querier) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create stores a new session.
func (r *SessionRepository) Create(ctx context.Context, session *auth.Session) error {
	var userIDStr *string
	if session.UserID != nil {
		s := session.UserID.String()
		userIDStr = &s
	}

	messagesJSON, err := json.Marshal(session.Messages)
	if err != nil {
		return oops.Code("SESSION_CREATE_FAILED").
			With("operation", "marshal messages").
			Wrap(err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO sessions (id, user_id, token_hash, page_count, messages, expires_at, created_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		session.ID.String(),
		userIDStr,
		session.TokenHash,
		session.PageCount,
		messagesJSON,
		session.ExpiresAt,
		session.CreatedAt,
		session.LastSeenAt,
	)
	if err != nil {
		return oops.Code("SESSION_CREATE_FAILED").
			With("operation", "insert session").
			Wrap(err)
	}
	return nil
}

// GetByTokenHash retrieves a session by its token hash.
func (r *SessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*auth.Session, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, user_id, token_hash, page_count, messages, expires_at, created_at, last_seen_at
		FROM sessions
		WHERE token_hash = $1
	`, tokenHash)

	session, err := r.scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("SESSION_GET_BY_TOKEN_FAILED").
			With("operation", "get session by token hash").
			Wrap(err)
	}
	return session, nil
}

// AttachUser marks the session as authenticated for the given user.
func (r *SessionRepository) AttachUser(ctx context.Context, id, userID ulid.ULID) error {
	result, err := r.db.Exec(ctx, `
		UPDATE sessions SET user_id = $2, last_seen_at = $3
		WHERE id = $1
	`, id.String(), userID.String(), time.Now())
	if err != nil {
		return oops.Code("SESSION_ATTACH_USER_FAILED").
			With("operation", "update user_id").
			With("id", id.String()).
			With("user_id", userID.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("SESSION_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// IncrementPageCount atomically increments the page counter and returns the
// new value.
func (r *SessionRepository) IncrementPageCount(ctx context.Context, id ulid.ULID) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		UPDATE sessions SET page_count = page_count + 1
		WHERE id = $1
		RETURNING page_count
	`, id.String()).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, oops.Code("SESSION_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return 0, oops.Code("SESSION_INCREMENT_FAILED").
			With("operation", "increment page_count").
			With("id", id.String()).
			Wrap(err)
	}
	return count, nil
}

// AppendMessage atomically appends a one-shot message to the session.
func (r *SessionRepository) AppendMessage(ctx context.Context, id ulid.ULID, message string) error {
	result, err := r.db.Exec(ctx, `
		UPDATE sessions SET messages = messages || to_jsonb($2::text)
		WHERE id = $1
	`, id.String(), message)
	if err != nil {
		return oops.Code("SESSION_APPEND_MESSAGE_FAILED").
			With("operation", "append message").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("SESSION_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// DrainMessages atomically returns the pending messages and clears them.
// The row is locked for the duration of the statement so a message can
// never be delivered twice.
func (r *SessionRepository) DrainMessages(ctx context.Context, id ulid.ULID) ([]string, error) {
	var messagesJSON []byte
	err := r.db.QueryRow(ctx, `
		WITH old AS (
			SELECT messages FROM sessions WHERE id = $1 FOR UPDATE
		)
		UPDATE sessions SET messages = '[]'::jsonb
		FROM old
		WHERE sessions.id = $1
		RETURNING old.messages
	`, id.String()).Scan(&messagesJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("SESSION_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("SESSION_DRAIN_FAILED").
			With("operation", "drain messages").
			With("id", id.String()).
			Wrap(err)
	}

	var messages []string
	if len(messagesJSON) > 0 {
		if err := json.Unmarshal(messagesJSON, &messages); err != nil {
			return nil, oops.Code("SESSION_INVALID_MESSAGES").
				With("operation", "unmarshal messages").
				Wrap(err)
		}
	}
	return messages, nil
}

// UpdateLastSeen updates the LastSeenAt timestamp for a session.
func (r *SessionRepository) UpdateLastSeen(ctx context.Context, id ulid.ULID, lastSeen time.Time) error {
	result, err := r.db.Exec(ctx, `
		UPDATE sessions SET last_seen_at = $2
		WHERE id = $1
	`, id.String(), lastSeen)
	if err != nil {
		return oops.Code("SESSION_UPDATE_LAST_SEEN_FAILED").
			With("operation", "update last_seen_at").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("SESSION_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// Delete removes a session by ID.
func (r *SessionRepository) Delete(ctx context.Context, id ulid.ULID) error {
	result, err := r.db.Exec(ctx, `
		DELETE FROM sessions WHERE id = $1
	`, id.String())
	if err != nil {
		return oops.Code("SESSION_DELETE_FAILED").
			With("operation", "delete session").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("SESSION_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// DeleteExpired removes all expired sessions and returns the count.
func (r *SessionRepository) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.Exec(ctx, `
		DELETE FROM sessions WHERE expires_at < $1
	`, time.Now())
	if err != nil {
		return 0, oops.Code("SESSION_DELETE_EXPIRED_FAILED").
			With("operation", "delete expired sessions").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// scanSession scans a single row into a Session.
// Callers are responsible for handling pgx.ErrNoRows.
func (r *SessionRepository) scanSession(row pgx.Row) (*auth.Session, error) {
	var (
		idStr        string
		userIDStr    *string
		tokenHash    string
		pageCount    int
		messagesJSON []byte
		expiresAt    time.Time
		createdAt    time.Time
		lastSeenAt   time.Time
	)

	err := row.Scan(&idStr, &userIDStr, &tokenHash, &pageCount, &messagesJSON, &expiresAt, &createdAt, &lastSeenAt)
	if err != nil {
		// Propagate pgx.ErrNoRows unchanged for callers to handle with context.
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("SESSION_SCAN_FAILED").
			With("operation", "scan session").
			Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("SESSION_INVALID_ID").
			With("operation", "parse session id").
			With("id", idStr).
			Wrap(err)
	}

	var userID *ulid.ULID
	if userIDStr != nil {
		parsed, err := ulid.Parse(*userIDStr)
		if err != nil {
			return nil, oops.Code("SESSION_INVALID_USER_ID").
				With("operation", "parse user id").
				With("user_id", *userIDStr).
				Wrap(err)
		}
		userID = &parsed
	}

	var messages []string
	if len(messagesJSON) > 0 {
		if err := json.Unmarshal(messagesJSON, &messages); err != nil {
			return nil, oops.Code("SESSION_INVALID_MESSAGES").
				With("operation", "unmarshal messages").
				Wrap(err)
		}
	}

	return &auth.Session{
		ID:         id,
		UserID:     userID,
		TokenHash:  tokenHash,
		PageCount:  pageCount,
		Messages:   messages,
		ExpiresAt:  expiresAt,
		CreatedAt:  createdAt,
		LastSeenAt: lastSeenAt,
	}, nil
}

// Compile-time interface check.
var _ auth.SessionRepository = (*SessionRepository)(nil)
