// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Verigate Contributors

package memory

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/verigate/verigate/internal/auth"
)

// SessionRepository implements auth.SessionRepository on a Store.
type SessionRepository struct {
	s *Store
}

// Create stores a copy of session.
func (r *SessionRepository) Create(_ context.Context, session *auth.WebSession) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.sessions[session.ID] = *session
	return nil
}

// GetByTokenHash retrieves a session by its token hash.
func (r *SessionRepository) GetByTokenHash(_ context.Context, tokenHash string) (*auth.WebSession, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, sess := range r.s.sessions {
		if sess.TokenHash == tokenHash {
			return &sess, nil
		}
	}
	return nil, oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
}

// Touch records activity and moves the idle expiry.
func (r *SessionRepository) Touch(_ context.Context, id ulid.ULID, lastSeen, expiresAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	sess, ok := r.s.sessions[id]
	if !ok {
		return oops.Code("SESSION_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	sess.LastSeenAt = lastSeen
	sess.ExpiresAt = expiresAt
	r.s.sessions[id] = sess
	return nil
}

// Delete removes a session by ID.
func (r *SessionRepository) Delete(_ context.Context, id ulid.ULID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.sessions[id]; !ok {
		return oops.Code("SESSION_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	delete(r.s.sessions, id)
	return nil
}

// DeleteByUser removes all sessions of userID except the one with ID except.
func (r *SessionRepository) DeleteByUser(_ context.Context, userID, except ulid.ULID) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var n int64
	for id, sess := range r.s.sessions {
		if sess.UserID == userID && id != except {
			delete(r.s.sessions, id)
			n++
		}
	}
	return n, nil
}

// DeleteExpired removes sessions expired at now.
func (r *SessionRepository) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var n int64
	for id, sess := range r.s.sessions {
		if sess.IsExpiredAt(now) {
			delete(r.s.sessions, id)
			n++
		}
	}
	return n, nil
}

// Compile-time interface check.
var _ auth.SessionRepository = (*SessionRepository)(nil)
