// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Verigate Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// SessionTokenBytes is the size of a session token before hex encoding.
const SessionTokenBytes = 32

// Session defaults.
const (
	DefaultIdleTimeout     = 20 * time.Minute
	DefaultAbsoluteTimeout = 30 * 24 * time.Hour
)

// WebSession is a persisted, cookie-backed login session. ExpiresAt slides
// forward on use but never past AbsoluteExpiresAt.
type WebSession struct {
	ID                ulid.ULID
	UserID            ulid.ULID
	TokenHash         string
	UserAgent         string
	IPAddress         string
	Persistent        bool
	ExpiresAt         time.Time
	AbsoluteExpiresAt time.Time
	CreatedAt         time.Time
	LastSeenAt        time.Time
}

// NewWebSession creates a validated WebSession starting at now.
// UserAgent and IPAddress are optional and may be empty.
func NewWebSession(userID ulid.ULID, tokenHash, userAgent, ipAddress string, persistent bool, now time.Time, idle, absolute time.Duration) (*WebSession, error) {
	if userID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("SESSION_INVALID_USER").Errorf("user ID cannot be zero")
	}
	if tokenHash == "" {
		return nil, oops.Code("SESSION_INVALID_HASH").Errorf("token hash cannot be empty")
	}
	if idle <= 0 || absolute < idle {
		return nil, oops.Code("SESSION_INVALID_EXPIRY").
			With("idle", idle.String()).
			With("absolute", absolute.String()).
			Errorf("idle timeout must be positive and not exceed the absolute timeout")
	}

	now = now.UTC()
	return &WebSession{
		ID:                ulid.Make(),
		UserID:            userID,
		TokenHash:         tokenHash,
		UserAgent:         userAgent,
		IPAddress:         ipAddress,
		Persistent:        persistent,
		ExpiresAt:         now.Add(idle),
		AbsoluteExpiresAt: now.Add(absolute),
		CreatedAt:         now,
		LastSeenAt:        now,
	}, nil
}

// IsExpiredAt reports whether the session is no longer usable at t.
func (s *WebSession) IsExpiredAt(t time.Time) bool {
	return !t.Before(s.ExpiresAt) || !t.Before(s.AbsoluteExpiresAt)
}

// GenerateSessionToken creates a secure random token and its hash.
// The plaintext token goes to the client; only the hash is stored.
func GenerateSessionToken() (token, hash string, err error) {
	tokenBytes := make([]byte, SessionTokenBytes)
	if _, err = rand.Read(tokenBytes); err != nil {
		return "", "", oops.Code("SESSION_TOKEN_GENERATE_FAILED").
			With("operation", "crypto/rand.Read").
			With("requested_bytes", SessionTokenBytes).
			Wrap(err)
	}

	token = hex.EncodeToString(tokenBytes)
	return token, HashSessionToken(token), nil
}

// HashSessionToken computes the SHA256 hash of a session token.
func HashSessionToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// VerifySessionToken reports whether token hashes to hash, in constant time.
func VerifySessionToken(token, hash string) bool {
	if token == "" || hash == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(HashSessionToken(token)), []byte(hash)) == 1
}

// SessionRepository manages web session persistence.
type SessionRepository interface {
	// Create stores a new web session.
	Create(ctx context.Context, session *WebSession) error

	// GetByTokenHash retrieves a session by its token hash.
	GetByTokenHash(ctx context.Context, tokenHash string) (*WebSession, error)

	// Touch records activity and moves the idle expiry.
	Touch(ctx context.Context, id ulid.ULID, lastSeen, expiresAt time.Time) error

	// Delete removes a session by ID.
	Delete(ctx context.Context, id ulid.ULID) error

	// DeleteByUser removes every session of userID except the one with ID
	// except (the zero ULID keeps none) and returns the number removed.
	DeleteByUser(ctx context.Context, userID, except ulid.ULID) (int64, error)

	// DeleteExpired removes sessions expired at now and returns the count.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
