// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Verigate Contributors

package mocks

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/mock"

	"github.com/verigate/verigate/internal/auth"
)

// MockCodeRepository is a mock of auth.CodeRepository.
type MockCodeRepository struct {
	mock.Mock
}

// NewMockCodeRepository creates a MockCodeRepository.
func NewMockCodeRepository(t TestingT) *MockCodeRepository {
	m := &MockCodeRepository{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockCodeRepository) Create(ctx context.Context, code *auth.OneTimeCode) error {
	args := m.Called(ctx, code)
	return args.Error(0)
}

func (m *MockCodeRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.OneTimeCode, error) {
	args := m.Called(ctx, id)
	code, _ := args.Get(0).(*auth.OneTimeCode)
	return code, args.Error(1)
}

func (m *MockCodeRepository) GetLatestValid(ctx context.Context, userID ulid.ULID, purpose auth.Purpose, now time.Time) (*auth.OneTimeCode, error) {
	args := m.Called(ctx, userID, purpose, now)
	code, _ := args.Get(0).(*auth.OneTimeCode)
	return code, args.Error(1)
}

func (m *MockCodeRepository) MarkUsed(ctx context.Context, id ulid.ULID, now time.Time) (bool, error) {
	args := m.Called(ctx, id, now)
	return args.Bool(0), args.Error(1)
}

func (m *MockCodeRepository) DeleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	n, _ := args.Get(0).(int64)
	return n, args.Error(1)
}

var _ auth.CodeRepository = (*MockCodeRepository)(nil)
