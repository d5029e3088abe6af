// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Verigate Contributors

// Package auth implements account registration, email verification,
// two-step login and password change.
//
// # Domain Types
//
// Domain types should be created using their constructors:
//   - NewUser - creates an unverified User from validated input
//   - NewWebSession - creates a WebSession with idle and absolute expiry
//
// OneTimeCode records are only created by CodeIssuer.Issue.
//
// # Services
//
// Service types coordinate domain operations:
//   - Service - Register, ConfirmEmail, StartLogin, CompleteTwoFactor, ChangePassword
//   - SessionService - session establishment, resolution and termination
//   - Sweeper - retention of used and expired codes and sessions
//
// Services are created with New* constructors that validate dependencies.
//
// # Errors
//
// Service errors are classified with KindOf into validation, conflict,
// authentication and infrastructure failures. Authentication failures never
// reveal which check failed; PublicMessage returns the caller-safe text.
package auth
