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

// CodeRepository implements auth.CodeRepository on a Store.
type CodeRepository struct {
	s *Store
}

// Create stores a copy of code. The owning user must exist.
func (r *CodeRepository) Create(ctx context.Context, code *auth.OneTimeCode) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.users[code.UserID]; !ok {
		return oops.Code("CODE_CREATE_FAILED").
			With("user_id", code.UserID.String()).
			Errorf("user does not exist")
	}

	r.s.codes[code.ID] = *code
	id := code.ID
	onRollback(ctx, func() { delete(r.s.codes, id) })
	return nil
}

// GetByID retrieves a code by ID.
func (r *CodeRepository) GetByID(_ context.Context, id ulid.ULID) (*auth.OneTimeCode, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.codes[id]
	if !ok {
		return nil, oops.Code("CODE_NOT_FOUND").With("code_id", id.String()).Wrap(auth.ErrNotFound)
	}
	return &c, nil
}

// GetLatestValid returns the usable code with the latest expiry.
func (r *CodeRepository) GetLatestValid(_ context.Context, userID ulid.ULID, purpose auth.Purpose, now time.Time) (*auth.OneTimeCode, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var latest *auth.OneTimeCode
	for _, c := range r.s.codes {
		if c.UserID != userID || c.Purpose != purpose || !c.IsValidAt(now) {
			continue
		}
		if latest == nil || c.ExpiresAt.After(latest.ExpiresAt) {
			latest = &c
		}
	}
	if latest == nil {
		return nil, oops.Code("CODE_NOT_FOUND").
			With("user_id", userID.String()).
			With("purpose", string(purpose)).
			Wrap(auth.ErrNotFound)
	}
	return latest, nil
}

// MarkUsed marks the code used if it is still valid at now. The check and
// the write happen under one lock.
func (r *CodeRepository) MarkUsed(ctx context.Context, id ulid.ULID, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.codes[id]
	if !ok || !c.IsValidAt(now) {
		return false, nil
	}
	c.IsUsed = true
	r.s.codes[id] = c
	onRollback(ctx, func() {
		if cur, ok := r.s.codes[id]; ok {
			cur.IsUsed = false
			r.s.codes[id] = cur
		}
	})
	return true, nil
}

// DeleteStale removes codes that expired before cutoff, or were used and
// created before cutoff.
func (r *CodeRepository) DeleteStale(_ context.Context, cutoff time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var n int64
	for id, c := range r.s.codes {
		if c.ExpiresAt.Before(cutoff) || (c.IsUsed && c.CreatedAt.Before(cutoff)) {
			delete(r.s.codes, id)
			n++
		}
	}
	return n, nil
}

// Compile-time interface check.
var _ auth.CodeRepository = (*CodeRepository)(nil)
