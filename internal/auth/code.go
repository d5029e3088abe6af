// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Verigate Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Purpose scopes a one-time code to a flow.
type Purpose string

// Code purposes.
const (
	PurposeEmailVerification Purpose = "email_verification"
	PurposeTwoFactor         Purpose = "two_factor"
)

// Valid reports whether p is a known purpose.
func (p Purpose) Valid() bool {
	return p == PurposeEmailVerification || p == PurposeTwoFactor
}

// Code defaults.
const (
	DefaultCodeLength        = 6
	MinCodeLength            = 4
	MaxCodeLength            = 10
	DefaultEmailVerification = 15 * time.Minute
	DefaultTwoFactor         = 5 * time.Minute
)

// OneTimeCode is a short numeric code owned by a user and scoped to a purpose.
// It can be consumed at most once and only before ExpiresAt.
type OneTimeCode struct {
	ID        ulid.ULID
	UserID    ulid.ULID
	Purpose   Purpose
	Code      string
	ExpiresAt time.Time
	IsUsed    bool
	CreatedAt time.Time
}

// IsValidAt reports whether the code can still be consumed at t.
func (c *OneTimeCode) IsValidAt(t time.Time) bool {
	return !c.IsUsed && t.Before(c.ExpiresAt)
}

// CodeRepository manages one-time code persistence.
type CodeRepository interface {
	// Create stores a new code.
	Create(ctx context.Context, code *OneTimeCode) error

	// GetByID retrieves a code by ID regardless of its state.
	GetByID(ctx context.Context, id ulid.ULID) (*OneTimeCode, error)

	// GetLatestValid retrieves the unused, unexpired code for (userID,
	// purpose) with the latest expiry.
	GetLatestValid(ctx context.Context, userID ulid.ULID, purpose Purpose, now time.Time) (*OneTimeCode, error)

	// MarkUsed atomically marks the code used if it is still unused and
	// unexpired at now. Returns true only for the caller that made the
	// transition.
	MarkUsed(ctx context.Context, id ulid.ULID, now time.Time) (bool, error)

	// DeleteStale removes codes that were used or expired before cutoff and
	// returns the number of deleted records.
	DeleteStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// GenerateNumericCode returns a string of length decimal digits drawn from
// crypto/rand.
func GenerateNumericCode(length int) (string, error) {
	if length < MinCodeLength || length > MaxCodeLength {
		return "", oops.Code("CODE_INVALID_LENGTH").
			With("length", length).
			Errorf("code length must be between %d and %d", MinCodeLength, MaxCodeLength)
	}

	ten := big.NewInt(10)
	var b strings.Builder
	b.Grow(length)
	for range length {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", oops.Code("CODE_GENERATE_FAILED").
				With("operation", "crypto/rand.Int").
				Wrap(err)
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}

// ConsumeResult is the outcome of consuming a code. Every rejection cause
// (missing, used, expired, mismatched, lost race) is the same value.
type ConsumeResult int

// Consume outcomes.
const (
	ConsumeRejected ConsumeResult = iota
	ConsumeAccepted
)

// CodeIssuer issues and consumes one-time codes.
type CodeIssuer struct {
	codes  CodeRepository
	length int
	now    func() time.Time
}

// NewCodeIssuer creates a CodeIssuer producing codes of the given length.
// A nil now uses time.Now.
func NewCodeIssuer(codes CodeRepository, length int, now func() time.Time) (*CodeIssuer, error) {
	if codes == nil {
		return nil, oops.Code("CODE_ISSUER_INVALID").Errorf("code repository is required")
	}
	if length < MinCodeLength || length > MaxCodeLength {
		return nil, oops.Code("CODE_ISSUER_INVALID").
			With("length", length).
			Errorf("code length must be between %d and %d", MinCodeLength, MaxCodeLength)
	}
	if now == nil {
		now = time.Now
	}
	return &CodeIssuer{codes: codes, length: length, now: now}, nil
}

// Issue creates and persists a new code for userID valid for ttl.
// The returned ID carries 80 bits of crypto/rand entropy so it can be handed
// to the client as a bearer handle.
func (i *CodeIssuer) Issue(ctx context.Context, userID ulid.ULID, purpose Purpose, ttl time.Duration) (*OneTimeCode, error) {
	if !purpose.Valid() {
		return nil, oops.Code("CODE_INVALID_PURPOSE").With("purpose", string(purpose)).Errorf("unknown code purpose")
	}
	if ttl <= 0 {
		return nil, oops.Code("CODE_INVALID_TTL").With("ttl", ttl.String()).Errorf("ttl must be positive")
	}

	digits, err := GenerateNumericCode(i.length)
	if err != nil {
		return nil, err
	}

	now := i.now().UTC()
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return nil, oops.Code("CODE_ID_FAILED").Wrap(err)
	}

	code := &OneTimeCode{
		ID:        id,
		UserID:    userID,
		Purpose:   purpose,
		Code:      digits,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	if err := i.codes.Create(ctx, code); err != nil {
		return nil, oops.Code("CODE_ISSUE_FAILED").
			With("user_id", userID.String()).
			With("purpose", string(purpose)).
			Wrap(err)
	}
	return code, nil
}

// ConsumeLatest consumes the most recent valid code for (userID, purpose) if
// supplied matches it.
func (i *CodeIssuer) ConsumeLatest(ctx context.Context, userID ulid.ULID, purpose Purpose, supplied string) (ConsumeResult, error) {
	now := i.now().UTC()
	code, err := i.codes.GetLatestValid(ctx, userID, purpose, now)
	if errors.Is(err, ErrNotFound) {
		return ConsumeRejected, nil
	}
	if err != nil {
		return ConsumeRejected, oops.Code("CODE_CONSUME_FAILED").
			With("operation", "get latest valid code").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return i.consume(ctx, code, supplied, now)
}

// ConsumeByID consumes the code with the given ID if it has the expected
// purpose and supplied matches it. The code record is returned on acceptance.
func (i *CodeIssuer) ConsumeByID(ctx context.Context, id ulid.ULID, purpose Purpose, supplied string) (*OneTimeCode, ConsumeResult, error) {
	now := i.now().UTC()
	code, err := i.codes.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, ConsumeRejected, nil
	}
	if err != nil {
		return nil, ConsumeRejected, oops.Code("CODE_CONSUME_FAILED").
			With("operation", "get code by id").
			With("id", id.String()).
			Wrap(err)
	}
	if code.Purpose != purpose {
		return nil, ConsumeRejected, nil
	}

	result, err := i.consume(ctx, code, supplied, now)
	if err != nil || result != ConsumeAccepted {
		return nil, result, err
	}
	code.IsUsed = true
	return code, ConsumeAccepted, nil
}

func (i *CodeIssuer) consume(ctx context.Context, code *OneTimeCode, supplied string, now time.Time) (ConsumeResult, error) {
	if !code.IsValidAt(now) {
		return ConsumeRejected, nil
	}
	if subtle.ConstantTimeCompare([]byte(code.Code), []byte(supplied)) != 1 {
		return ConsumeRejected, nil
	}

	won, err := i.codes.MarkUsed(ctx, code.ID, now)
	if err != nil {
		return ConsumeRejected, oops.Code("CODE_CONSUME_FAILED").
			With("operation", "mark code used").
			With("id", code.ID.String()).
			Wrap(err)
	}
	if !won {
		return ConsumeRejected, nil
	}
	return ConsumeAccepted, nil
}
