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

const codeColumns = `id, user_id, purpose, code, expires_at, is_used, created_at`

// CodeRepository implements auth.CodeRepository using PostgreSQL.
type CodeRepository struct {
	db DB
}

// NewCodeRepository creates a new CodeRepository.
func NewCodeRepository(db DB) *CodeRepository {
	return &CodeRepository{db: db}
}

// Create stores a new code.
func (r *CodeRepository) Create(ctx context.Context, code *auth.OneTimeCode) error {
	_, err := conn(ctx, r.db).Exec(ctx, `
		INSERT INTO one_time_codes (id, user_id, purpose, code, expires_at, is_used, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		code.ID.String(),
		code.UserID.String(),
		string(code.Purpose),
		code.Code,
		code.ExpiresAt,
		code.IsUsed,
		code.CreatedAt,
	)
	if err != nil {
		return oops.Code("CODE_CREATE_FAILED").
			With("operation", "insert one_time_code").
			With("user_id", code.UserID.String()).
			With("purpose", string(code.Purpose)).
			Wrap(err)
	}
	return nil
}

// GetByID retrieves a code by ID.
func (r *CodeRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.OneTimeCode, error) {
	row := conn(ctx, r.db).QueryRow(ctx, `
		SELECT `+codeColumns+`
		FROM one_time_codes
		WHERE id = $1
	`, id.String())

	code, err := scanCode(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("CODE_NOT_FOUND").
			With("code_id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("CODE_GET_FAILED").
			With("operation", "get code by id").
			With("code_id", id.String()).
			Wrap(err)
	}
	return code, nil
}

// GetLatestValid retrieves the usable code for (userID, purpose) with the
// latest expiry.
func (r *CodeRepository) GetLatestValid(ctx context.Context, userID ulid.ULID, purpose auth.Purpose, now time.Time) (*auth.OneTimeCode, error) {
	row := conn(ctx, r.db).QueryRow(ctx, `
		SELECT `+codeColumns+`
		FROM one_time_codes
		WHERE user_id = $1 AND purpose = $2 AND is_used = false AND expires_at > $3
		ORDER BY expires_at DESC
		LIMIT 1
	`, userID.String(), string(purpose), now)

	code, err := scanCode(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("CODE_NOT_FOUND").
			With("user_id", userID.String()).
			With("purpose", string(purpose)).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("CODE_GET_FAILED").
			With("operation", "get latest valid code").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return code, nil
}

// MarkUsed flips is_used in a single conditional UPDATE, so exactly one of
// several concurrent callers sees true.
func (r *CodeRepository) MarkUsed(ctx context.Context, id ulid.ULID, now time.Time) (bool, error) {
	tag, err := conn(ctx, r.db).Exec(ctx, `
		UPDATE one_time_codes SET is_used = true
		WHERE id = $1 AND is_used = false AND expires_at > $2
	`, id.String(), now)
	if err != nil {
		return false, oops.Code("CODE_MARK_USED_FAILED").
			With("operation", "mark code used").
			With("code_id", id.String()).
			Wrap(err)
	}
	return tag.RowsAffected() == 1, nil
}

// DeleteStale removes codes that were used or expired before cutoff.
func (r *CodeRepository) DeleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := conn(ctx, r.db).Exec(ctx, `
		DELETE FROM one_time_codes
		WHERE expires_at < $1 OR (is_used = true AND created_at < $1)
	`, cutoff)
	if err != nil {
		return 0, oops.Code("CODE_DELETE_STALE_FAILED").
			With("operation", "delete stale codes").
			Wrap(err)
	}
	return tag.RowsAffected(), nil
}

func scanCode(row pgx.Row) (*auth.OneTimeCode, error) {
	var (
		idStr, userIDStr, purpose string
		code                      auth.OneTimeCode
		expiresAt, createdAt      time.Time
	)
	if err := row.Scan(&idStr, &userIDStr, &purpose, &code.Code, &expiresAt, &code.IsUsed, &createdAt); err != nil {
		return nil, err
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.With("operation", "parse code id").With("id", idStr).Wrap(err)
	}
	userID, err := ulid.Parse(userIDStr)
	if err != nil {
		return nil, oops.With("operation", "parse user id").With("user_id", userIDStr).Wrap(err)
	}

	code.ID = id
	code.UserID = userID
	code.Purpose = auth.Purpose(purpose)
	code.ExpiresAt = expiresAt.UTC()
	code.CreatedAt = createdAt.UTC()
	return &code, nil
}

// Compile-time interface check.
var _ auth.CodeRepository = (*CodeRepository)(nil)
