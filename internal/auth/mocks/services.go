// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Verigate Contributors

package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/verigate/verigate/internal/auth"
)

// MockTransactor is a mock of auth.Transactor. Return RunInline to execute
// the transaction body.
type MockTransactor struct {
	mock.Mock
}

// NewMockTransactor creates a MockTransactor.
func NewMockTransactor(t TestingT) *MockTransactor {
	m := &MockTransactor{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockTransactor) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	args := m.Called(ctx, fn)
	if rf, ok := args.Get(0).(func(context.Context, func(context.Context) error) error); ok {
		return rf(ctx, fn)
	}
	return args.Error(0)
}

// MockPasswordHasher is a mock of auth.PasswordHasher.
type MockPasswordHasher struct {
	mock.Mock
}

// NewMockPasswordHasher creates a MockPasswordHasher.
func NewMockPasswordHasher(t TestingT) *MockPasswordHasher {
	m := &MockPasswordHasher{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockPasswordHasher) Hash(password string) (string, error) {
	args := m.Called(password)
	return args.String(0), args.Error(1)
}

func (m *MockPasswordHasher) Verify(password, encodedHash string) (auth.VerifyResult, error) {
	args := m.Called(password, encodedHash)
	result, _ := args.Get(0).(auth.VerifyResult)
	return result, args.Error(1)
}

// MockMailer is a mock of auth.Mailer.
type MockMailer struct {
	mock.Mock
}

// NewMockMailer creates a MockMailer.
func NewMockMailer(t TestingT) *MockMailer {
	m := &MockMailer{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockMailer) Send(ctx context.Context, to, subject, body string) error {
	args := m.Called(ctx, to, subject, body)
	return args.Error(0)
}

var (
	_ auth.Transactor     = (*MockTransactor)(nil)
	_ auth.PasswordHasher = (*MockPasswordHasher)(nil)
	_ auth.Mailer         = (*MockMailer)(nil)
)
