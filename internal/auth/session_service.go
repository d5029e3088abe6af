// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Verigate Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/verigate/verigate/pkg/errutil"
)

// SessionService turns a Principal into a persisted session and resolves
// session tokens on later requests.
type SessionService struct {
	sessions SessionRepository
	idle     time.Duration
	absolute time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// SessionOption configures a SessionService.
type SessionOption func(*SessionService)

// WithSessionClock overrides the time source.
func WithSessionClock(now func() time.Time) SessionOption {
	return func(s *SessionService) { s.now = now }
}

// WithSessionLogger sets the logger. Defaults to slog.Default().
func WithSessionLogger(logger *slog.Logger) SessionOption {
	return func(s *SessionService) { s.logger = logger }
}

// NewSessionService creates a SessionService. Sessions expire after idle
// without use and after absolute regardless of use.
func NewSessionService(sessions SessionRepository, idle, absolute time.Duration, opts ...SessionOption) (*SessionService, error) {
	if sessions == nil {
		return nil, oops.Code("SESSION_SERVICE_INVALID").Errorf("sessions repository is required")
	}
	if idle <= 0 || absolute < idle {
		return nil, oops.Code("SESSION_SERVICE_INVALID").
			With("idle", idle.String()).
			With("absolute", absolute.String()).
			Errorf("idle timeout must be positive and not exceed the absolute timeout")
	}
	s := &SessionService{
		sessions: sessions,
		idle:     idle,
		absolute: absolute,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Establish creates a session for p and returns it with the plaintext token.
// A persistent session outlives the browser session.
func (s *SessionService) Establish(ctx context.Context, p Principal, persistent bool, userAgent, ipAddress string) (*WebSession, string, error) {
	token, tokenHash, err := GenerateSessionToken()
	if err != nil {
		return nil, "", err
	}

	session, err := NewWebSession(p.SubjectID, tokenHash, userAgent, ipAddress, persistent, s.now(), s.idle, s.absolute)
	if err != nil {
		return nil, "", err
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, "", oops.Code("SESSION_CREATE_FAILED").
			With("operation", "persist session").
			With("user_id", p.SubjectID.String()).
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "session established",
		"session_id", session.ID.String(),
		"user_id", p.SubjectID.String(),
		"persistent", persistent)
	return session, token, nil
}

// Resolve returns the live session for token. Once less than half of the idle
// window remains, the expiry is pushed forward, capped by the absolute
// expiry. Unknown or expired tokens fail with an authentication error.
func (s *SessionService) Resolve(ctx context.Context, token string) (*WebSession, error) {
	if token == "" {
		return nil, sessionInvalidError()
	}

	session, err := s.sessions.GetByTokenHash(ctx, HashSessionToken(token))
	if errors.Is(err, ErrNotFound) {
		return nil, sessionInvalidError()
	}
	if err != nil {
		return nil, oops.Code("SESSION_RESOLVE_FAILED").
			With("operation", "get session by token hash").
			Wrap(err)
	}

	now := s.now().UTC()
	if session.IsExpiredAt(now) {
		if err := s.sessions.Delete(ctx, session.ID); err != nil && !errors.Is(err, ErrNotFound) {
			errutil.LogErrorContext(ctx, s.logger, slog.LevelWarn, "expired session cleanup failed", err)
		}
		return nil, sessionInvalidError()
	}

	if session.ExpiresAt.Sub(now) < s.idle/2 {
		expiresAt := now.Add(s.idle)
		if expiresAt.After(session.AbsoluteExpiresAt) {
			expiresAt = session.AbsoluteExpiresAt
		}
		if err := s.sessions.Touch(ctx, session.ID, now, expiresAt); err != nil {
			errutil.LogErrorContext(ctx, s.logger, slog.LevelWarn, "session renewal failed", err)
		} else {
			session.ExpiresAt = expiresAt
			session.LastSeenAt = now
		}
	}
	return session, nil
}

// Terminate deletes a session. Deleting a session that is already gone
// succeeds.
func (s *SessionService) Terminate(ctx context.Context, id ulid.ULID) error {
	if err := s.sessions.Delete(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
		return oops.Code("SESSION_TERMINATE_FAILED").
			With("session_id", id.String()).
			Wrap(err)
	}
	s.logger.InfoContext(ctx, "session terminated", "session_id", id.String())
	return nil
}

// TerminateUser deletes every session of userID except keep.
func (s *SessionService) TerminateUser(ctx context.Context, userID, keep ulid.ULID) (int64, error) {
	n, err := s.sessions.DeleteByUser(ctx, userID, keep)
	if err != nil {
		return 0, oops.Code("SESSION_TERMINATE_FAILED").
			With("user_id", userID.String()).
			Wrap(err)
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "sessions revoked", "user_id", userID.String(), "count", n)
	}
	return n, nil
}

func sessionInvalidError() error {
	return oops.Code("SESSION_INVALID").Public("not authenticated").Wrap(ErrAuthentication)
}
