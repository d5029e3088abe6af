// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Verigate Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/verigate/verigate/pkg/errutil"
)

// dummyPasswordHash is verified against when no user matches a login so that
// response time does not reveal whether the account exists. It never matches
// any password.
//
//nolint:gosec // G101: intentionally fake hash, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// Rejection reasons. Logged only, never returned.
const (
	reasonUnknownUser     = "unknown_user"
	reasonEmailUnverified = "email_unverified"
	reasonBadPassword     = "bad_password"
	reasonCodeRejected    = "code_rejected"
	reasonMalformedID     = "malformed_id"
)

// Service orchestrates registration, email confirmation, two-step login and
// password change.
type Service struct {
	users  UserRepository
	tx     Transactor
	hasher PasswordHasher
	mailer Mailer
	issuer *CodeIssuer
	logger *slog.Logger
	now    func() time.Time

	codeLength           int
	emailVerificationTTL time.Duration
	twoFactorTTL         time.Duration
	requireDelivery      bool
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// WithCodeLength sets the number of digits in issued codes.
func WithCodeLength(n int) ServiceOption {
	return func(s *Service) { s.codeLength = n }
}

// WithCodeTTLs sets the validity windows of email verification and
// two-factor codes.
func WithCodeTTLs(emailVerification, twoFactor time.Duration) ServiceOption {
	return func(s *Service) {
		s.emailVerificationTTL = emailVerification
		s.twoFactorTTL = twoFactor
	}
}

// WithRequiredDelivery makes email delivery part of the operation outcome.
// When set, Register sends inside its transaction and rolls back on failure,
// and StartLogin fails if the code cannot be sent. By default delivery
// failures are logged and ignored.
func WithRequiredDelivery(required bool) ServiceOption {
	return func(s *Service) { s.requireDelivery = required }
}

// NewService creates a Service.
func NewService(
	users UserRepository,
	codes CodeRepository,
	tx Transactor,
	hasher PasswordHasher,
	mailer Mailer,
	opts ...ServiceOption,
) (*Service, error) {
	switch {
	case users == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("users repository is required")
	case codes == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("codes repository is required")
	case tx == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("transactor is required")
	case hasher == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("password hasher is required")
	case mailer == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("mailer is required")
	}

	s := &Service{
		users:                users,
		tx:                   tx,
		hasher:               hasher,
		mailer:               mailer,
		logger:               slog.Default(),
		now:                  time.Now,
		codeLength:           DefaultCodeLength,
		emailVerificationTTL: DefaultEmailVerification,
		twoFactorTTL:         DefaultTwoFactor,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.emailVerificationTTL <= 0 || s.twoFactorTTL <= 0 {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("code ttls must be positive")
	}

	issuer, err := NewCodeIssuer(codes, s.codeLength, s.now)
	if err != nil {
		return nil, err
	}
	s.issuer = issuer
	return s, nil
}

// Register creates an unverified user and sends an email verification code.
func (s *Service) Register(ctx context.Context, userName, email, password string) error {
	userName, email, err := ValidateRegistration(userName, email, password)
	if err != nil {
		return err
	}

	exists, err := s.users.ExistsByUserNameOrEmail(ctx, userName, email)
	if err != nil {
		return oops.Code("AUTH_REGISTER_FAILED").With("operation", "check existing user").Wrap(err)
	}
	if exists {
		s.logger.InfoContext(ctx, "registration conflict", "user_name", userName)
		return conflictError()
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return oops.Code("AUTH_REGISTER_FAILED").With("operation", "hash password").Wrap(err)
	}

	user, err := NewUser(userName, email, hash, s.now())
	if err != nil {
		return oops.Code("AUTH_REGISTER_FAILED").With("operation", "build user").Wrap(err)
	}

	var code *OneTimeCode
	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		if err := s.users.Create(ctx, user); err != nil {
			if errors.Is(err, ErrDuplicate) {
				return conflictError()
			}
			return oops.Code("AUTH_REGISTER_FAILED").With("operation", "create user").Wrap(err)
		}

		var err error
		code, err = s.issuer.Issue(ctx, user.ID, PurposeEmailVerification, s.emailVerificationTTL)
		if err != nil {
			return err
		}

		if s.requireDelivery {
			return s.sendCode(ctx, user, code, verificationTemplate, SubjectVerification, s.emailVerificationTTL)
		}
		return nil
	})
	if err != nil {
		if KindOf(err) == KindConflict {
			s.logger.InfoContext(ctx, "registration conflict", "user_name", userName)
		}
		return err
	}

	s.logger.InfoContext(ctx, "user registered", "user_id", user.ID.String())

	if !s.requireDelivery {
		s.dispatch(context.WithoutCancel(ctx), user, code, verificationTemplate, SubjectVerification, s.emailVerificationTTL)
	}
	return nil
}

// ConfirmEmail marks the user's email verified if code matches the latest
// valid verification code. Confirming an already verified email succeeds
// without consuming anything.
func (s *Service) ConfirmEmail(ctx context.Context, email, code string) error {
	email = NormalizeEmail(email)

	user, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return s.reject(ctx, "confirm_email", reasonUnknownUser, invalidCodeError())
	}
	if err != nil {
		return oops.Code("AUTH_CONFIRM_FAILED").With("operation", "get user by email").Wrap(err)
	}
	if user.IsEmailVerified {
		return nil
	}

	code = strings.TrimSpace(code)
	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		result, err := s.issuer.ConsumeLatest(ctx, user.ID, PurposeEmailVerification, code)
		if err != nil {
			return err
		}
		if result != ConsumeAccepted {
			return s.reject(ctx, "confirm_email", reasonCodeRejected, invalidCodeError(), "user_id", user.ID.String())
		}
		if _, err := s.users.MarkEmailVerified(ctx, user.ID); err != nil {
			return oops.Code("AUTH_CONFIRM_FAILED").
				With("operation", "mark email verified").
				With("user_id", user.ID.String()).
				Wrap(err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "email confirmed", "user_id", user.ID.String())
	return nil
}

// StartLogin checks credentials and sends a two-factor code. The returned ID
// is the only handle needed to complete the login.
func (s *Service) StartLogin(ctx context.Context, userOrEmail, password string) (ulid.ULID, error) {
	identifier := strings.TrimSpace(userOrEmail)

	user, lookupErr := s.users.GetByUserNameOrEmail(ctx, identifier)
	targetHash := dummyPasswordHash
	switch {
	case lookupErr == nil:
		targetHash = user.PasswordHash
	case errors.Is(lookupErr, ErrNotFound):
		user = nil
	default:
		return ulid.ULID{}, oops.Code("AUTH_LOGIN_FAILED").With("operation", "get user").Wrap(lookupErr)
	}

	// Always verify, even for unknown users, to keep timing uniform.
	result, verifyErr := s.hasher.Verify(password, targetHash)
	if user == nil {
		return ulid.ULID{}, s.reject(ctx, "start_login", reasonUnknownUser, invalidCredentialsError())
	}
	if verifyErr != nil {
		return ulid.ULID{}, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "verify password").
			With("user_id", user.ID.String()).
			Wrap(verifyErr)
	}
	if !result.OK() {
		return ulid.ULID{}, s.reject(ctx, "start_login", reasonBadPassword, invalidCredentialsError(), "user_id", user.ID.String())
	}
	if !user.IsEmailVerified {
		return ulid.ULID{}, s.reject(ctx, "start_login", reasonEmailUnverified, invalidCredentialsError(), "user_id", user.ID.String())
	}

	if result == VerifySuccessRehashNeeded {
		s.rehash(ctx, user, password)
	}

	code, err := s.issuer.Issue(ctx, user.ID, PurposeTwoFactor, s.twoFactorTTL)
	if err != nil {
		return ulid.ULID{}, oops.Code("AUTH_LOGIN_FAILED").With("operation", "issue two-factor code").Wrap(err)
	}

	if s.requireDelivery {
		if err := s.sendCode(ctx, user, code, twoFactorTemplate, SubjectTwoFactor, s.twoFactorTTL); err != nil {
			return ulid.ULID{}, err
		}
	} else {
		s.dispatch(context.WithoutCancel(ctx), user, code, twoFactorTemplate, SubjectTwoFactor, s.twoFactorTTL)
	}

	s.logger.InfoContext(ctx, "login started", "user_id", user.ID.String())
	return code.ID, nil
}

// CompleteTwoFactor consumes the two-factor code identified by twoFactorID
// and returns the Principal of its owner.
func (s *Service) CompleteTwoFactor(ctx context.Context, twoFactorID, code string) (Principal, error) {
	id, err := ulid.ParseStrict(strings.TrimSpace(twoFactorID))
	if err != nil {
		return Principal{}, s.reject(ctx, "complete_two_factor", reasonMalformedID, invalidCodeError())
	}

	record, result, err := s.issuer.ConsumeByID(ctx, id, PurposeTwoFactor, strings.TrimSpace(code))
	if err != nil {
		return Principal{}, err
	}
	if result != ConsumeAccepted {
		return Principal{}, s.reject(ctx, "complete_two_factor", reasonCodeRejected, invalidCodeError(), "code_id", id.String())
	}

	user, err := s.users.GetByID(ctx, record.UserID)
	if errors.Is(err, ErrNotFound) {
		return Principal{}, s.reject(ctx, "complete_two_factor", reasonUnknownUser, invalidCodeError(), "code_id", id.String())
	}
	if err != nil {
		return Principal{}, oops.Code("AUTH_TWO_FACTOR_FAILED").
			With("operation", "get user").
			With("user_id", record.UserID.String()).
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "two-factor completed", "user_id", user.ID.String())
	return BuildPrincipal(user), nil
}

// ChangePassword replaces the password of userID after checking the current
// one. Existing sessions are left alone.
func (s *Service) ChangePassword(ctx context.Context, userID ulid.ULID, currentPassword, newPassword string) error {
	user, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return s.reject(ctx, "change_password", reasonUnknownUser, invalidCredentialsError(), "user_id", userID.String())
	}
	if err != nil {
		return oops.Code("AUTH_CHANGE_PASSWORD_FAILED").With("operation", "get user").Wrap(err)
	}

	result, err := s.hasher.Verify(currentPassword, user.PasswordHash)
	if err != nil {
		return oops.Code("AUTH_CHANGE_PASSWORD_FAILED").
			With("operation", "verify password").
			With("user_id", userID.String()).
			Wrap(err)
	}
	if !result.OK() {
		return s.reject(ctx, "change_password", reasonBadPassword,
			oops.Code("AUTH_WRONG_PASSWORD").Public("current password is incorrect").Wrap(ErrAuthentication),
			"user_id", userID.String())
	}

	if err := ValidatePassword(newPassword); err != nil {
		return err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return oops.Code("AUTH_CHANGE_PASSWORD_FAILED").With("operation", "hash password").Wrap(err)
	}
	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		if errors.Is(err, ErrNotFound) {
			return s.reject(ctx, "change_password", reasonUnknownUser, invalidCredentialsError(), "user_id", userID.String())
		}
		return oops.Code("AUTH_CHANGE_PASSWORD_FAILED").
			With("operation", "update password").
			With("user_id", userID.String()).
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "password changed", "user_id", userID.String())
	return nil
}

// Profile returns the user record for an authenticated subject.
func (s *Service) Profile(ctx context.Context, userID ulid.ULID) (*User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return nil, s.reject(ctx, "profile", reasonUnknownUser, invalidCredentialsError(), "user_id", userID.String())
	}
	if err != nil {
		return nil, oops.Code("AUTH_PROFILE_FAILED").With("user_id", userID.String()).Wrap(err)
	}
	return user, nil
}

func (s *Service) reject(ctx context.Context, operation, reason string, err error, attrs ...any) error {
	s.logger.WarnContext(ctx, "authentication rejected",
		append([]any{"operation", operation, "reason", reason}, attrs...)...)
	return err
}

func (s *Service) sendCode(ctx context.Context, user *User, code *OneTimeCode, tmpl *template.Template, subject string, ttl time.Duration) error {
	body, err := renderCodeEmail(tmpl, user, code, ttl)
	if err != nil {
		return err
	}
	if err := s.mailer.Send(ctx, user.Email, subject, body); err != nil {
		return oops.Code("EMAIL_DISPATCH_FAILED").
			With("purpose", string(code.Purpose)).
			With("user_id", user.ID.String()).
			Wrap(err)
	}
	return nil
}

// dispatch sends a code email and only logs failures.
func (s *Service) dispatch(ctx context.Context, user *User, code *OneTimeCode, tmpl *template.Template, subject string, ttl time.Duration) {
	if err := s.sendCode(ctx, user, code, tmpl, subject, ttl); err != nil {
		errutil.LogErrorContext(ctx, s.logger, slog.LevelWarn, "email dispatch failed", err)
	}
}

// rehash upgrades a stored hash produced with outdated parameters. Failure
// leaves the old hash in place.
func (s *Service) rehash(ctx context.Context, user *User, password string) {
	hash, err := s.hasher.Hash(password)
	if err == nil {
		err = s.users.UpdatePassword(ctx, user.ID, hash)
	}
	if err != nil {
		errutil.LogErrorContext(ctx, s.logger, slog.LevelWarn, "password rehash failed", err)
		return
	}
	s.logger.InfoContext(ctx, "password hash upgraded", "user_id", user.ID.String())
}
