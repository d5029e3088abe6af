// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Verigate Contributors

package memory

import (
	"context"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/verigate/verigate/internal/auth"
)

// UserRepository implements auth.UserRepository on a Store.
type UserRepository struct {
	s *Store
}

// Create stores a copy of user.
func (r *UserRepository) Create(ctx context.Context, user *auth.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, u := range r.s.users {
		if identifierTaken(u, user.UserName, user.Email) {
			return oops.Code("USER_DUPLICATE").
				With("user_name", user.UserName).
				Wrap(auth.ErrDuplicate)
		}
	}

	r.s.users[user.ID] = *user
	id := user.ID
	onRollback(ctx, func() { delete(r.s.users, id) })
	return nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(_ context.Context, id ulid.ULID) (*auth.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.users[id]
	if !ok {
		return nil, userNotFound("user_id", id.String())
	}
	return &u, nil
}

// GetByEmail retrieves a user by email address, ignoring case.
func (r *UserRepository) GetByEmail(_ context.Context, email string) (*auth.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, u := range r.s.users {
		if foldEqual(u.Email, email) {
			return &u, nil
		}
	}
	return nil, userNotFound("email", email)
}

// GetByUserNameOrEmail prefers a username match over an email match.
func (r *UserRepository) GetByUserNameOrEmail(_ context.Context, identifier string) (*auth.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var byEmail *auth.User
	for _, u := range r.s.users {
		if foldEqual(u.UserName, identifier) {
			return &u, nil
		}
		if byEmail == nil && foldEqual(u.Email, identifier) {
			byEmail = &u
		}
	}
	if byEmail != nil {
		return byEmail, nil
	}
	return nil, userNotFound("identifier", identifier)
}

// ExistsByUserNameOrEmail reports whether userName or email is taken as
// either a username or an email.
func (r *UserRepository) ExistsByUserNameOrEmail(_ context.Context, userName, email string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, u := range r.s.users {
		if identifierTaken(u, userName, email) {
			return true, nil
		}
	}
	return false, nil
}

// MarkEmailVerified flips IsEmailVerified to true.
func (r *UserRepository) MarkEmailVerified(ctx context.Context, id ulid.ULID) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.users[id]
	if !ok || u.IsEmailVerified {
		return false, nil
	}
	u.IsEmailVerified = true
	r.s.users[id] = u
	onRollback(ctx, func() {
		if cur, ok := r.s.users[id]; ok {
			cur.IsEmailVerified = false
			r.s.users[id] = cur
		}
	})
	return true, nil
}

// UpdatePassword replaces the user's password hash.
func (r *UserRepository) UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.users[id]
	if !ok {
		return userNotFound("user_id", id.String())
	}
	previous := u.PasswordHash
	u.PasswordHash = passwordHash
	r.s.users[id] = u
	onRollback(ctx, func() {
		if cur, ok := r.s.users[id]; ok {
			cur.PasswordHash = previous
			r.s.users[id] = cur
		}
	})
	return nil
}

// identifierTaken reports whether userName or email collides with either
// login identifier of u.
func identifierTaken(u auth.User, userName, email string) bool {
	return foldEqual(u.UserName, userName) || foldEqual(u.Email, email) ||
		foldEqual(u.Email, userName) || foldEqual(u.UserName, email)
}

func userNotFound(key, value string) error {
	return oops.Code("USER_NOT_FOUND").With(key, value).Wrap(auth.ErrNotFound)
}

// Compile-time interface check.
var _ auth.UserRepository = (*UserRepository)(nil)
