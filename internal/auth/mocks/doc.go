// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Verigate Contributors

// Package mocks provides testify mocks for the auth interfaces.
//
// Each constructor registers an AssertExpectations cleanup on t.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// TestingT is the subset of *testing.T the constructors need.
type TestingT interface {
	mock.TestingT
	Cleanup(func())
}

// RunInline is a MockTransactor return value that runs the transaction body
// with the caller's context and returns its error.
func RunInline(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}
