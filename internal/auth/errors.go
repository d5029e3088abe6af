// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Verigate Contributors

package auth

import (
	"errors"

	"github.com/samber/oops"
)

// Repository sentinels. Storage implementations wrap these so callers can
// match with errors.Is regardless of the backing store.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when an insert violates a uniqueness constraint.
	ErrDuplicate = errors.New("duplicate")
)

// Error kinds surfaced by Service operations.
var (
	// ErrValidation marks malformed input rejected before any write.
	ErrValidation = errors.New("validation failed")

	// ErrConflict marks a registration that collides with an existing
	// username or email.
	ErrConflict = errors.New("conflict")

	// ErrAuthentication marks invalid credentials or codes. The cause is
	// never distinguished for callers.
	ErrAuthentication = errors.New("authentication failed")
)

// Kind classifies an error returned by a Service operation.
type Kind int

// Error kinds. Anything that is not nil and not one of the caller-facing
// kinds is an infrastructure failure.
const (
	KindNone Kind = iota
	KindValidation
	KindConflict
	KindAuthentication
	KindInfrastructure
)

// String returns the kind name used in logs and metrics labels.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "ok"
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindAuthentication:
		return "authentication"
	default:
		return "infrastructure"
	}
}

// KindOf classifies err.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrAuthentication):
		return KindAuthentication
	default:
		return KindInfrastructure
	}
}

// Public messages for each caller-facing failure.
const (
	msgInvalidCredentials = "invalid credentials"
	msgInvalidCode        = "invalid or expired code"
	msgConflict           = "username or email already in use"
	msgUnavailable        = "service temporarily unavailable"
)

// PublicMessage returns a message that is safe to show to the caller.
// Internal causes are never included.
func PublicMessage(err error) string {
	kind := KindOf(err)
	if kind == KindInfrastructure {
		return msgUnavailable
	}
	if oopsErr, ok := oops.AsOops(err); ok && oopsErr.Public() != "" {
		return oopsErr.Public()
	}
	switch kind {
	case KindValidation:
		return "invalid input"
	case KindConflict:
		return msgConflict
	case KindAuthentication:
		return msgInvalidCredentials
	default:
		return ""
	}
}

// Field returns the input field a validation error refers to, or "".
func Field(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	field, _ := oopsErr.Context()["field"].(string)
	return field
}

func invalidCredentialsError() error {
	return oops.Code("AUTH_INVALID_CREDENTIALS").Public(msgInvalidCredentials).Wrap(ErrAuthentication)
}

func invalidCodeError() error {
	return oops.Code("AUTH_INVALID_CODE").Public(msgInvalidCode).Wrap(ErrAuthentication)
}

func conflictError() error {
	return oops.Code("AUTH_CONFLICT").Public(msgConflict).Wrap(ErrConflict)
}
