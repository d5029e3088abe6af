// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Verigate Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/verigate/verigate/internal/auth"
)

const userColumns = `id, user_name, email, password_hash, is_email_verified, created_at`

// UserRepository implements auth.UserRepository using PostgreSQL.
// Username and email comparisons are case-insensitive, backed by unique
// indexes on LOWER(user_name) and LOWER(email).
type UserRepository struct {
	db DB
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create stores a new user. Besides the unique indexes, the insert is
// skipped when the username equals another user's email or the email equals
// another user's username, so a login identifier never names two accounts.
func (r *UserRepository) Create(ctx context.Context, user *auth.User) error {
	tag, err := conn(ctx, r.db).Exec(ctx, `
		INSERT INTO users (id, user_name, email, password_hash, is_email_verified, created_at)
		SELECT $1::text, $2::text, $3::text, $4::text, $5::boolean, $6::timestamptz
		WHERE NOT EXISTS (
			SELECT 1 FROM users
			WHERE LOWER(email) = LOWER($2) OR LOWER(user_name) = LOWER($3)
		)
	`,
		user.ID.String(),
		user.UserName,
		user.Email,
		user.PasswordHash,
		user.IsEmailVerified,
		user.CreatedAt,
	)
	if isUniqueViolation(err) {
		return duplicateUser(user)
	}
	if err != nil {
		return oops.Code("USER_CREATE_FAILED").
			With("operation", "insert user").
			With("user_id", user.ID.String()).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return duplicateUser(user)
	}
	return nil
}

func duplicateUser(user *auth.User) error {
	return oops.Code("USER_DUPLICATE").
		With("user_name", user.UserName).
		Wrap(auth.ErrDuplicate)
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	row := conn(ctx, r.db).QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1
	`, id.String())

	return r.scanOne(row, "get user by id", "user_id", id.String())
}

// GetByEmail retrieves a user by email address.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	row := conn(ctx, r.db).QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE LOWER(email) = LOWER($1)
	`, email)

	return r.scanOne(row, "get user by email", "email", email)
}

// GetByUserNameOrEmail retrieves the user whose username or email equals
// identifier. A username match is preferred over an email match.
func (r *UserRepository) GetByUserNameOrEmail(ctx context.Context, identifier string) (*auth.User, error) {
	row := conn(ctx, r.db).QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE LOWER(user_name) = LOWER($1) OR LOWER(email) = LOWER($1)
		ORDER BY LOWER(user_name) = LOWER($1) DESC
		LIMIT 1
	`, identifier)

	return r.scanOne(row, "get user by username or email", "identifier", identifier)
}

// ExistsByUserNameOrEmail reports whether userName or email is taken as
// either a username or an email.
func (r *UserRepository) ExistsByUserNameOrEmail(ctx context.Context, userName, email string) (bool, error) {
	var exists bool
	err := conn(ctx, r.db).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM users
			WHERE LOWER(user_name) IN (LOWER($1), LOWER($2))
			   OR LOWER(email) IN (LOWER($1), LOWER($2))
		)
	`, userName, email).Scan(&exists)
	if err != nil {
		return false, oops.Code("USER_EXISTS_FAILED").
			With("operation", "check user exists").
			Wrap(err)
	}
	return exists, nil
}

// MarkEmailVerified flips is_email_verified to true.
func (r *UserRepository) MarkEmailVerified(ctx context.Context, id ulid.ULID) (bool, error) {
	tag, err := conn(ctx, r.db).Exec(ctx, `
		UPDATE users SET is_email_verified = true
		WHERE id = $1 AND is_email_verified = false
	`, id.String())
	if err != nil {
		return false, oops.Code("USER_VERIFY_FAILED").
			With("operation", "mark email verified").
			With("user_id", id.String()).
			Wrap(err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpdatePassword replaces the user's password hash.
func (r *UserRepository) UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error {
	tag, err := conn(ctx, r.db).Exec(ctx, `
		UPDATE users SET password_hash = $2
		WHERE id = $1
	`, id.String(), passwordHash)
	if err != nil {
		return oops.Code("USER_UPDATE_PASSWORD_FAILED").
			With("operation", "update password").
			With("user_id", id.String()).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("user_id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

func (r *UserRepository) scanOne(row pgx.Row, operation, key, value string) (*auth.User, error) {
	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With(key, value).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_QUERY_FAILED").
			With("operation", operation).
			With(key, value).
			Wrap(err)
	}
	return user, nil
}

func scanUser(row pgx.Row) (*auth.User, error) {
	var (
		idStr     string
		user      auth.User
		createdAt time.Time
	)
	if err := row.Scan(&idStr, &user.UserName, &user.Email, &user.PasswordHash, &user.IsEmailVerified, &createdAt); err != nil {
		return nil, err
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.With("operation", "parse user id").With("id", idStr).Wrap(err)
	}
	user.ID = id
	user.CreatedAt = createdAt.UTC()
	return &user, nil
}

// Compile-time interface check.
var _ auth.UserRepository = (*UserRepository)(nil)
