// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Verigate Contributors

package auth

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// User is an account identity record.
type User struct {
	ID              ulid.ULID
	UserName        string
	Email           string
	PasswordHash    string
	IsEmailVerified bool
	CreatedAt       time.Time
}

// NewUser creates an unverified User. userName and email must already be
// normalized and validated.
func NewUser(userName, email, passwordHash string, createdAt time.Time) (*User, error) {
	if userName == "" {
		return nil, oops.Code("USER_INVALID_NAME").Errorf("username cannot be empty")
	}
	if email == "" {
		return nil, oops.Code("USER_INVALID_EMAIL").Errorf("email cannot be empty")
	}
	if passwordHash == "" {
		return nil, oops.Code("USER_INVALID_HASH").Errorf("password hash cannot be empty")
	}
	return &User{
		ID:           ulid.Make(),
		UserName:     userName,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    createdAt.UTC(),
	}, nil
}

// UserRepository manages user persistence. Lookups by username and email are
// case-insensitive.
type UserRepository interface {
	// Create stores a new user. Returns an error wrapping ErrDuplicate when
	// the username or email is already taken.
	Create(ctx context.Context, user *User) error

	// GetByID retrieves a user by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*User, error)

	// GetByEmail retrieves a user by email address.
	GetByEmail(ctx context.Context, email string) (*User, error)

	// GetByUserNameOrEmail retrieves the user whose username or email equals
	// identifier. A username match wins over an email match.
	GetByUserNameOrEmail(ctx context.Context, identifier string) (*User, error)

	// ExistsByUserNameOrEmail reports whether userName or email is taken.
	ExistsByUserNameOrEmail(ctx context.Context, userName, email string) (bool, error)

	// MarkEmailVerified flips IsEmailVerified from false to true. Returns
	// false when the user was already verified.
	MarkEmailVerified(ctx context.Context, id ulid.ULID) (bool, error)

	// UpdatePassword replaces the user's password hash.
	UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error
}

// Transactor runs fn inside a storage transaction. Repository calls made with
// the context passed to fn participate in the transaction; it commits when fn
// returns nil and rolls back otherwise.
type Transactor interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
