// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Verigate Contributors

package auth_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/verigate/verigate/internal/auth"
	"github.com/verigate/verigate/internal/auth/mocks"
	"github.com/verigate/verigate/pkg/errutil"
)

type serviceFixture struct {
	users  *mocks.MockUserRepository
	codes  *mocks.MockCodeRepository
	tx     *mocks.MockTransactor
	hasher *mocks.MockPasswordHasher
	mailer *mocks.MockMailer
	logs   *bytes.Buffer
	svc    *auth.Service
}

func newServiceFixture(t *testing.T, opts ...auth.ServiceOption) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		users:  mocks.NewMockUserRepository(t),
		codes:  mocks.NewMockCodeRepository(t),
		tx:     mocks.NewMockTransactor(t),
		hasher: mocks.NewMockPasswordHasher(t),
		mailer: mocks.NewMockMailer(t),
		logs:   &bytes.Buffer{},
	}
	logger := slog.New(slog.NewJSONHandler(f.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	opts = append([]auth.ServiceOption{auth.WithClock(fixedClock), auth.WithLogger(logger)}, opts...)

	svc, err := auth.NewService(f.users, f.codes, f.tx, f.hasher, f.mailer, opts...)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *serviceFixture) expectTransaction() {
	f.tx.On("InTransaction", mock.Anything, mock.Anything).Return(mocks.RunInline)
}

func verifiedUser() *auth.User {
	return &auth.User{
		ID:              ulid.Make(),
		UserName:        "alice",
		Email:           "alice@x.com",
		PasswordHash:    "stored-hash",
		IsEmailVerified: true,
		CreatedAt:       fixedNow.Add(-time.Hour),
	}
}

func TestNewService_NilDependencies(t *testing.T) {
	users := mocks.NewMockUserRepository(t)
	codes := mocks.NewMockCodeRepository(t)
	tx := mocks.NewMockTransactor(t)
	hasher := mocks.NewMockPasswordHasher(t)
	mailer := mocks.NewMockMailer(t)

	tests := []struct {
		name        string
		build       func() (*auth.Service, error)
		expectError string
	}{
		{"nil users", func() (*auth.Service, error) { return auth.NewService(nil, codes, tx, hasher, mailer) }, "users repository is required"},
		{"nil codes", func() (*auth.Service, error) { return auth.NewService(users, nil, tx, hasher, mailer) }, "codes repository is required"},
		{"nil transactor", func() (*auth.Service, error) { return auth.NewService(users, codes, nil, hasher, mailer) }, "transactor is required"},
		{"nil hasher", func() (*auth.Service, error) { return auth.NewService(users, codes, tx, nil, mailer) }, "password hasher is required"},
		{"nil mailer", func() (*auth.Service, error) { return auth.NewService(users, codes, tx, hasher, nil) }, "mailer is required"},
		{"bad code length", func() (*auth.Service, error) {
			return auth.NewService(users, codes, tx, hasher, mailer, auth.WithCodeLength(2))
		}, "code length"},
		{"zero ttl", func() (*auth.Service, error) {
			return auth.NewService(users, codes, tx, hasher, mailer, auth.WithCodeTTLs(0, time.Minute))
		}, "ttls must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := tt.build()
			require.Error(t, err)
			assert.Nil(t, svc)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}
}

func TestService_Register(t *testing.T) {
	ctx := context.Background()

	t.Run("creates user and verification code then sends email", func(t *testing.T) {
		f := newServiceFixture(t)
		f.users.On("ExistsByUserNameOrEmail", ctx, "alice", "alice@x.com").Return(false, nil)
		f.hasher.On("Hash", "Abcdef12").Return("hashed", nil)
		f.expectTransaction()

		var created *auth.User
		f.users.On("Create", ctx, mock.AnythingOfType("*auth.User")).
			Run(func(args mock.Arguments) { created = args.Get(1).(*auth.User) }).
			Return(nil)

		var issued *auth.OneTimeCode
		f.codes.On("Create", ctx, mock.AnythingOfType("*auth.OneTimeCode")).
			Run(func(args mock.Arguments) { issued = args.Get(1).(*auth.OneTimeCode) }).
			Return(nil)

		var body string
		f.mailer.On("Send", mock.Anything, "alice@x.com", auth.SubjectVerification, mock.AnythingOfType("string")).
			Run(func(args mock.Arguments) { body = args.String(3) }).
			Return(nil)

		err := f.svc.Register(ctx, " alice ", "alice@x.com", "Abcdef12")
		require.NoError(t, err)

		require.NotNil(t, created)
		assert.Equal(t, "alice", created.UserName)
		assert.Equal(t, "hashed", created.PasswordHash)
		assert.False(t, created.IsEmailVerified)

		require.NotNil(t, issued)
		assert.Equal(t, created.ID, issued.UserID)
		assert.Equal(t, auth.PurposeEmailVerification, issued.Purpose)
		assert.Equal(t, fixedNow.Add(15*time.Minute), issued.ExpiresAt)
		assert.Contains(t, body, issued.Code)
		assert.Contains(t, body, "15 minutes")
	})

	t.Run("validation failure touches nothing", func(t *testing.T) {
		f := newServiceFixture(t)

		err := f.svc.Register(ctx, "alice", "alice@x.com", "abcdefgh")
		require.Error(t, err)
		assert.Equal(t, auth.KindValidation, auth.KindOf(err))
		assert.Equal(t, "password", auth.Field(err))
	})

	t.Run("existing username or email is a conflict", func(t *testing.T) {
		f := newServiceFixture(t)
		f.users.On("ExistsByUserNameOrEmail", ctx, "alice", "alice@x.com").Return(true, nil)

		err := f.svc.Register(ctx, "alice", "alice@x.com", "Abcdef12")
		require.Error(t, err)
		assert.Equal(t, auth.KindConflict, auth.KindOf(err))
		errutil.AssertErrorCode(t, err, "AUTH_CONFLICT")
	})

	t.Run("unique violation on insert is a conflict", func(t *testing.T) {
		f := newServiceFixture(t)
		f.users.On("ExistsByUserNameOrEmail", ctx, "alice", "alice@x.com").Return(false, nil)
		f.hasher.On("Hash", "Abcdef12").Return("hashed", nil)
		f.expectTransaction()
		f.users.On("Create", ctx, mock.Anything).
			Return(oops.Code("USER_DUPLICATE").Wrap(auth.ErrDuplicate))

		err := f.svc.Register(ctx, "alice", "alice@x.com", "Abcdef12")
		require.Error(t, err)
		assert.Equal(t, auth.KindConflict, auth.KindOf(err))
		f.codes.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
		f.mailer.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("storage failure is infrastructure", func(t *testing.T) {
		f := newServiceFixture(t)
		f.users.On("ExistsByUserNameOrEmail", ctx, "alice", "alice@x.com").Return(false, errors.New("db down"))

		err := f.svc.Register(ctx, "alice", "alice@x.com", "Abcdef12")
		require.Error(t, err)
		assert.Equal(t, auth.KindInfrastructure, auth.KindOf(err))
	})

	t.Run("code insert failure aborts the transaction", func(t *testing.T) {
		f := newServiceFixture(t)
		f.users.On("ExistsByUserNameOrEmail", ctx, "alice", "alice@x.com").Return(false, nil)
		f.hasher.On("Hash", "Abcdef12").Return("hashed", nil)
		f.expectTransaction()
		f.users.On("Create", ctx, mock.Anything).Return(nil)
		f.codes.On("Create", ctx, mock.Anything).Return(errors.New("db down"))

		err := f.svc.Register(ctx, "alice", "alice@x.com", "Abcdef12")
		require.Error(t, err)
		assert.Equal(t, auth.KindInfrastructure, auth.KindOf(err))
		f.mailer.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("email failure does not fail registration by default", func(t *testing.T) {
		f := newServiceFixture(t)
		f.users.On("ExistsByUserNameOrEmail", ctx, "alice", "alice@x.com").Return(false, nil)
		f.hasher.On("Hash", "Abcdef12").Return("hashed", nil)
		f.expectTransaction()
		f.users.On("Create", ctx, mock.Anything).Return(nil)
		f.codes.On("Create", ctx, mock.Anything).Return(nil)
		f.mailer.On("Send", mock.Anything, "alice@x.com", auth.SubjectVerification, mock.Anything).
			Return(errors.New("smtp down"))

		require.NoError(t, f.svc.Register(ctx, "alice", "alice@x.com", "Abcdef12"))
		assert.Contains(t, f.logs.String(), "email dispatch failed")
	})

	t.Run("required delivery failure rolls back registration", func(t *testing.T) {
		f := newServiceFixture(t, auth.WithRequiredDelivery(true))
		f.users.On("ExistsByUserNameOrEmail", ctx, "alice", "alice@x.com").Return(false, nil)
		f.hasher.On("Hash", "Abcdef12").Return("hashed", nil)

		var txErr error
		f.tx.On("InTransaction", mock.Anything, mock.Anything).
			Return(func(ctx context.Context, fn func(context.Context) error) error {
				txErr = fn(ctx)
				return txErr
			})
		f.users.On("Create", ctx, mock.Anything).Return(nil)
		f.codes.On("Create", ctx, mock.Anything).Return(nil)
		f.mailer.On("Send", ctx, "alice@x.com", auth.SubjectVerification, mock.Anything).
			Return(errors.New("smtp down"))

		err := f.svc.Register(ctx, "alice", "alice@x.com", "Abcdef12")
		require.Error(t, err)
		assert.Equal(t, auth.KindInfrastructure, auth.KindOf(err))
		assert.Error(t, txErr, "send must fail inside the transaction")
		errutil.AssertErrorCode(t, err, "EMAIL_DISPATCH_FAILED")
	})
}

func TestService_ConfirmEmail(t *testing.T) {
	ctx := context.Background()

	t.Run("consumes latest code and marks email verified", func(t *testing.T) {
		f := newServiceFixture(t)
		user := verifiedUser()
		user.IsEmailVerified = false
		code := &auth.OneTimeCode{ID: ulid.Make(), UserID: user.ID, Purpose: auth.PurposeEmailVerification, Code: "123456", ExpiresAt: fixedNow.Add(time.Minute)}

		f.users.On("GetByEmail", ctx, "alice@x.com").Return(user, nil)
		f.expectTransaction()
		f.codes.On("GetLatestValid", ctx, user.ID, auth.PurposeEmailVerification, fixedNow).Return(code, nil)
		f.codes.On("MarkUsed", ctx, code.ID, fixedNow).Return(true, nil)
		f.users.On("MarkEmailVerified", ctx, user.ID).Return(true, nil)

		require.NoError(t, f.svc.ConfirmEmail(ctx, "alice@x.com", " 123456 "))
	})

	t.Run("already verified succeeds without consuming", func(t *testing.T) {
		f := newServiceFixture(t)
		f.users.On("GetByEmail", ctx, "alice@x.com").Return(verifiedUser(), nil)

		require.NoError(t, f.svc.ConfirmEmail(ctx, "alice@x.com", "000000"))
	})

	t.Run("unknown email is an authentication error", func(t *testing.T) {
		f := newServiceFixture(t)
		f.users.On("GetByEmail", ctx, "nobody@x.com").Return(nil, oops.Wrap(auth.ErrNotFound))

		err := f.svc.ConfirmEmail(ctx, "nobody@x.com", "123456")
		require.Error(t, err)
		assert.Equal(t, auth.KindAuthentication, auth.KindOf(err))
		assert.Equal(t, "invalid or expired code", auth.PublicMessage(err))
	})

	t.Run("rejected code leaves email unverified", func(t *testing.T) {
		f := newServiceFixture(t)
		user := verifiedUser()
		user.IsEmailVerified = false

		f.users.On("GetByEmail", ctx, "alice@x.com").Return(user, nil)
		f.expectTransaction()
		f.codes.On("GetLatestValid", ctx, user.ID, auth.PurposeEmailVerification, fixedNow).Return(nil, auth.ErrNotFound)

		err := f.svc.ConfirmEmail(ctx, "alice@x.com", "123456")
		require.Error(t, err)
		assert.Equal(t, auth.KindAuthentication, auth.KindOf(err))
		f.users.AssertNotCalled(t, "MarkEmailVerified", mock.Anything, mock.Anything)
	})
}

func TestService_StartLogin(t *testing.T) {
	ctx := context.Background()

	t.Run("issues two-factor code and returns its id", func(t *testing.T) {
		f := newServiceFixture(t)
		user := verifiedUser()
		f.users.On("GetByUserNameOrEmail", ctx, "alice").Return(user, nil)
		f.hasher.On("Verify", "Abcdef12", "stored-hash").Return(auth.VerifySuccess, nil)

		var issued *auth.OneTimeCode
		f.codes.On("Create", ctx, mock.Anything).
			Run(func(args mock.Arguments) { issued = args.Get(1).(*auth.OneTimeCode) }).
			Return(nil)
		f.mailer.On("Send", mock.Anything, "alice@x.com", auth.SubjectTwoFactor, mock.Anything).Return(nil)

		id, err := f.svc.StartLogin(ctx, "alice", "Abcdef12")
		require.NoError(t, err)
		require.NotNil(t, issued)
		assert.Equal(t, issued.ID, id)
		assert.Equal(t, auth.PurposeTwoFactor, issued.Purpose)
		assert.Equal(t, fixedNow.Add(5*time.Minute), issued.ExpiresAt)
	})

	t.Run("all rejection causes look the same", func(t *testing.T) {
		unverified := verifiedUser()
		unverified.IsEmailVerified = false

		cases := []struct {
			name   string
			setup  func(f *serviceFixture)
			reason string
		}{
			{"unknown user", func(f *serviceFixture) {
				f.users.On("GetByUserNameOrEmail", ctx, "ghost").Return(nil, auth.ErrNotFound)
				f.hasher.On("Verify", "Abcdef12", mock.MatchedBy(func(h string) bool { return h != "stored-hash" })).
					Return(auth.VerifyFailed, nil)
			}, "unknown_user"},
			{"wrong password", func(f *serviceFixture) {
				f.users.On("GetByUserNameOrEmail", ctx, "ghost").Return(verifiedUser(), nil)
				f.hasher.On("Verify", "Abcdef12", "stored-hash").Return(auth.VerifyFailed, nil)
			}, "bad_password"},
			{"unverified email", func(f *serviceFixture) {
				f.users.On("GetByUserNameOrEmail", ctx, "ghost").Return(unverified, nil)
				f.hasher.On("Verify", "Abcdef12", "stored-hash").Return(auth.VerifySuccess, nil)
			}, "email_unverified"},
		}

		var messages []string
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				f := newServiceFixture(t)
				tc.setup(f)

				_, err := f.svc.StartLogin(ctx, "ghost", "Abcdef12")
				require.Error(t, err)
				assert.Equal(t, auth.KindAuthentication, auth.KindOf(err))
				errutil.AssertErrorCode(t, err, "AUTH_INVALID_CREDENTIALS")
				assert.NotContains(t, err.Error(), tc.reason)
				assert.Contains(t, f.logs.String(), tc.reason)
				messages = append(messages, auth.PublicMessage(err))
			})
		}
		require.Len(t, messages, 3)
		assert.Equal(t, messages[0], messages[1])
		assert.Equal(t, messages[1], messages[2])
	})

	t.Run("rehashes outdated hash on success", func(t *testing.T) {
		f := newServiceFixture(t)
		user := verifiedUser()
		f.users.On("GetByUserNameOrEmail", ctx, "alice@x.com").Return(user, nil)
		f.hasher.On("Verify", "Abcdef12", "stored-hash").Return(auth.VerifySuccessRehashNeeded, nil)
		f.hasher.On("Hash", "Abcdef12").Return("new-hash", nil)
		f.users.On("UpdatePassword", ctx, user.ID, "new-hash").Return(nil)
		f.codes.On("Create", ctx, mock.Anything).Return(nil)
		f.mailer.On("Send", mock.Anything, "alice@x.com", auth.SubjectTwoFactor, mock.Anything).Return(nil)

		_, err := f.svc.StartLogin(ctx, "alice@x.com", "Abcdef12")
		require.NoError(t, err)
	})

	t.Run("rehash failure does not fail login", func(t *testing.T) {
		f := newServiceFixture(t)
		user := verifiedUser()
		f.users.On("GetByUserNameOrEmail", ctx, "alice").Return(user, nil)
		f.hasher.On("Verify", "Abcdef12", "stored-hash").Return(auth.VerifySuccessRehashNeeded, nil)
		f.hasher.On("Hash", "Abcdef12").Return("new-hash", nil)
		f.users.On("UpdatePassword", ctx, user.ID, "new-hash").Return(errors.New("db down"))
		f.codes.On("Create", ctx, mock.Anything).Return(nil)
		f.mailer.On("Send", mock.Anything, "alice@x.com", auth.SubjectTwoFactor, mock.Anything).Return(nil)

		_, err := f.svc.StartLogin(ctx, "alice", "Abcdef12")
		require.NoError(t, err)
		assert.Contains(t, f.logs.String(), "password rehash failed")
	})

	t.Run("lookup failure is infrastructure", func(t *testing.T) {
		f := newServiceFixture(t)
		f.users.On("GetByUserNameOrEmail", ctx, "alice").Return(nil, errors.New("db down"))

		_, err := f.svc.StartLogin(ctx, "alice", "Abcdef12")
		require.Error(t, err)
		assert.Equal(t, auth.KindInfrastructure, auth.KindOf(err))
	})

	t.Run("required delivery failure fails login start", func(t *testing.T) {
		f := newServiceFixture(t, auth.WithRequiredDelivery(true))
		f.users.On("GetByUserNameOrEmail", ctx, "alice").Return(verifiedUser(), nil)
		f.hasher.On("Verify", "Abcdef12", "stored-hash").Return(auth.VerifySuccess, nil)
		f.codes.On("Create", ctx, mock.Anything).Return(nil)
		f.mailer.On("Send", ctx, "alice@x.com", auth.SubjectTwoFactor, mock.Anything).Return(errors.New("smtp down"))

		_, err := f.svc.StartLogin(ctx, "alice", "Abcdef12")
		require.Error(t, err)
		assert.Equal(t, auth.KindInfrastructure, auth.KindOf(err))
	})
}

func TestService_CompleteTwoFactor(t *testing.T) {
	ctx := context.Background()

	t.Run("returns principal for accepted code", func(t *testing.T) {
		f := newServiceFixture(t)
		user := verifiedUser()
		code := &auth.OneTimeCode{ID: ulid.Make(), UserID: user.ID, Purpose: auth.PurposeTwoFactor, Code: "424242", ExpiresAt: fixedNow.Add(time.Minute)}

		f.codes.On("GetByID", ctx, code.ID).Return(code, nil)
		f.codes.On("MarkUsed", ctx, code.ID, fixedNow).Return(true, nil)
		f.users.On("GetByID", ctx, user.ID).Return(user, nil)

		p, err := f.svc.CompleteTwoFactor(ctx, code.ID.String(), "424242")
		require.NoError(t, err)
		assert.Equal(t, auth.Principal{SubjectID: user.ID, UserName: "alice", Email: "alice@x.com"}, p)
	})

	t.Run("malformed id is an authentication error", func(t *testing.T) {
		f := newServiceFixture(t)

		_, err := f.svc.CompleteTwoFactor(ctx, "not-a-ulid", "424242")
		require.Error(t, err)
		assert.Equal(t, auth.KindAuthentication, auth.KindOf(err))
		errutil.AssertErrorCode(t, err, "AUTH_INVALID_CODE")
	})

	t.Run("expired code is rejected even with correct digits", func(t *testing.T) {
		f := newServiceFixture(t)
		code := &auth.OneTimeCode{ID: ulid.Make(), UserID: ulid.Make(), Purpose: auth.PurposeTwoFactor, Code: "424242", ExpiresAt: fixedNow.Add(-time.Second)}
		f.codes.On("GetByID", ctx, code.ID).Return(code, nil)

		_, err := f.svc.CompleteTwoFactor(ctx, code.ID.String(), "424242")
		require.Error(t, err)
		assert.Equal(t, auth.KindAuthentication, auth.KindOf(err))
	})

	t.Run("verification code id cannot complete login", func(t *testing.T) {
		f := newServiceFixture(t)
		code := &auth.OneTimeCode{ID: ulid.Make(), UserID: ulid.Make(), Purpose: auth.PurposeEmailVerification, Code: "424242", ExpiresAt: fixedNow.Add(time.Minute)}
		f.codes.On("GetByID", ctx, code.ID).Return(code, nil)

		_, err := f.svc.CompleteTwoFactor(ctx, code.ID.String(), "424242")
		require.Error(t, err)
		assert.Equal(t, auth.KindAuthentication, auth.KindOf(err))
	})
}

func TestService_ChangePassword(t *testing.T) {
	ctx := context.Background()

	t.Run("stores hash of new password", func(t *testing.T) {
		f := newServiceFixture(t)
		user := verifiedUser()
		f.users.On("GetByID", ctx, user.ID).Return(user, nil)
		f.hasher.On("Verify", "Abcdef12", "stored-hash").Return(auth.VerifySuccess, nil)
		f.hasher.On("Hash", "Newpass99").Return("new-hash", nil)
		f.users.On("UpdatePassword", ctx, user.ID, "new-hash").Return(nil)

		require.NoError(t, f.svc.ChangePassword(ctx, user.ID, "Abcdef12", "Newpass99"))
	})

	t.Run("wrong current password is an authentication error", func(t *testing.T) {
		f := newServiceFixture(t)
		user := verifiedUser()
		f.users.On("GetByID", ctx, user.ID).Return(user, nil)
		f.hasher.On("Verify", "wrong", "stored-hash").Return(auth.VerifyFailed, nil)

		err := f.svc.ChangePassword(ctx, user.ID, "wrong", "Newpass99")
		require.Error(t, err)
		assert.Equal(t, auth.KindAuthentication, auth.KindOf(err))
		errutil.AssertErrorCode(t, err, "AUTH_WRONG_PASSWORD")
	})

	t.Run("weak new password is a validation error", func(t *testing.T) {
		f := newServiceFixture(t)
		user := verifiedUser()
		f.users.On("GetByID", ctx, user.ID).Return(user, nil)
		f.hasher.On("Verify", "Abcdef12", "stored-hash").Return(auth.VerifySuccess, nil)

		err := f.svc.ChangePassword(ctx, user.ID, "Abcdef12", "weak")
		require.Error(t, err)
		assert.Equal(t, auth.KindValidation, auth.KindOf(err))
		f.users.AssertNotCalled(t, "UpdatePassword", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("unknown user is an authentication error", func(t *testing.T) {
		f := newServiceFixture(t)
		id := ulid.Make()
		f.users.On("GetByID", ctx, id).Return(nil, auth.ErrNotFound)

		err := f.svc.ChangePassword(ctx, id, "Abcdef12", "Newpass99")
		require.Error(t, err)
		assert.Equal(t, auth.KindAuthentication, auth.KindOf(err))
	})
}
