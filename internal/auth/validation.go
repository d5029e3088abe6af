// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Verigate Contributors

package auth

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/samber/oops"
)

// Credential constraints.
const (
	MinUserNameLength = 3
	MaxUserNameLength = 50
	MaxEmailLength    = 100
	MinPasswordLength = 8
)

// NormalizeUserName trims surrounding whitespace from a username.
func NormalizeUserName(userName string) string {
	return strings.TrimSpace(userName)
}

// NormalizeEmail trims surrounding whitespace from an email address.
func NormalizeEmail(email string) string {
	return strings.TrimSpace(email)
}

// ValidateUserName checks a normalized username.
// Length is counted in characters, not bytes.
func ValidateUserName(userName string) error {
	if userName == "" {
		return validationError("username", "AUTH_INVALID_USERNAME", "username is required")
	}
	n := utf8.RuneCountInString(userName)
	if n < MinUserNameLength || n > MaxUserNameLength {
		return validationError("username", "AUTH_INVALID_USERNAME", "username must be between 3 and 50 characters")
	}
	return nil
}

// ValidateEmail checks a normalized email address. It only requires an "@"
// and a bounded length; deliverability is proven by the verification code.
func ValidateEmail(email string) error {
	if email == "" {
		return validationError("email", "AUTH_INVALID_EMAIL", "email is required")
	}
	if !strings.Contains(email, "@") || utf8.RuneCountInString(email) > MaxEmailLength {
		return validationError("email", "AUTH_INVALID_EMAIL", "invalid email")
	}
	return nil
}

// ValidatePassword enforces the password policy: at least eight characters
// with an uppercase letter, a lowercase letter and a digit.
func ValidatePassword(password string) error {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return validationError("password", "AUTH_WEAK_PASSWORD", "password must be at least 8 characters")
	}

	var upper, lower, digit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !upper || !lower || !digit {
		return validationError("password", "AUTH_WEAK_PASSWORD",
			"password must contain an uppercase letter, a lowercase letter and a digit")
	}
	return nil
}

// ValidateRegistration normalizes and validates registration input and
// returns the normalized username and email.
func ValidateRegistration(userName, email, password string) (string, string, error) {
	userName = NormalizeUserName(userName)
	email = NormalizeEmail(email)

	if err := ValidateUserName(userName); err != nil {
		return "", "", err
	}
	if err := ValidateEmail(email); err != nil {
		return "", "", err
	}
	if err := ValidatePassword(password); err != nil {
		return "", "", err
	}
	return userName, email, nil
}

func validationError(field, code, msg string) error {
	return oops.Code(code).
		With("field", field).
		Public(msg).
		Wrap(ErrValidation)
}
