// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Verigate Contributors

package auth

import "github.com/oklog/ulid/v2"

// Principal is the authenticated identity handed to session establishment.
type Principal struct {
	SubjectID ulid.ULID
	UserName  string
	Email     string
}

// BuildPrincipal maps a user record to its Principal.
func BuildPrincipal(u *User) Principal {
	return Principal{
		SubjectID: u.ID,
		UserName:  u.UserName,
		Email:     u.Email,
	}
}
