// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Verigate Contributors

// Package web serves the account API over HTTP with cookie-backed sessions.
package web

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/verigate/verigate/internal/auth"
	"github.com/verigate/verigate/pkg/errutil"
)

// Operation names used as metric labels.
const (
	OpRegister       = "register"
	OpConfirmEmail   = "confirm_email"
	OpStartLogin     = "start_login"
	OpCompleteLogin  = "complete_two_factor"
	OpChangePassword = "change_password"
	OpLogout         = "logout"
	OpProfile        = "profile"
)

// Accounts is the authentication orchestrator the handlers drive.
type Accounts interface {
	Register(ctx context.Context, userName, email, password string) error
	ConfirmEmail(ctx context.Context, email, code string) error
	StartLogin(ctx context.Context, userOrEmail, password string) (ulid.ULID, error)
	CompleteTwoFactor(ctx context.Context, twoFactorID, code string) (auth.Principal, error)
	ChangePassword(ctx context.Context, userID ulid.ULID, currentPassword, newPassword string) error
	Profile(ctx context.Context, userID ulid.ULID) (*auth.User, error)
}

// Sessions establishes and resolves web sessions.
type Sessions interface {
	Establish(ctx context.Context, p auth.Principal, persistent bool, userAgent, ipAddress string) (*auth.WebSession, string, error)
	Resolve(ctx context.Context, token string) (*auth.WebSession, error)
	Terminate(ctx context.Context, id ulid.ULID) error
	TerminateUser(ctx context.Context, userID, keep ulid.ULID) (int64, error)
}

// Recorder counts account operations by outcome.
type Recorder interface {
	RecordAuthRequest(operation, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) RecordAuthRequest(string, string) {}

// Config controls cookie and revocation behavior.
type Config struct {
	CookieName   string
	CookieSecure bool
	// RevokeOnPasswordChange terminates the user's other sessions after a
	// successful password change.
	RevokeOnPasswordChange bool
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

// WithRecorder sets the request outcome recorder.
func WithRecorder(r Recorder) Option {
	return func(h *Handler) { h.recorder = r }
}

// Handler serves the /api/account routes.
type Handler struct {
	accounts Accounts
	sessions Sessions
	cfg      Config
	logger   *slog.Logger
	recorder Recorder
	mux      *http.ServeMux
}

// NewHandler creates a Handler.
func NewHandler(accounts Accounts, sessions Sessions, cfg Config, opts ...Option) (*Handler, error) {
	if accounts == nil || sessions == nil {
		return nil, oops.Code("HTTP_HANDLER_INVALID").Errorf("accounts and sessions are required")
	}
	if cfg.CookieName == "" {
		return nil, oops.Code("HTTP_HANDLER_INVALID").Errorf("cookie name is required")
	}

	h := &Handler{
		accounts: accounts,
		sessions: sessions,
		cfg:      cfg,
		logger:   slog.Default(),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(h)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/account/register", h.register)
	mux.HandleFunc("POST /api/account/verify-email", h.verifyEmail)
	mux.HandleFunc("POST /api/account/login", h.login)
	mux.HandleFunc("POST /api/account/verify-2fa", h.verifyTwoFactor)
	mux.Handle("POST /api/account/change-password", h.requireSession(OpChangePassword, h.changePassword))
	mux.Handle("POST /api/account/logout", h.requireSession(OpLogout, h.logout))
	mux.Handle("GET /api/account/me", h.requireSession(OpProfile, h.profile))
	h.mux = mux
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

type registerRequest struct {
	UserName string `json:"userName"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, OpRegister, http.StatusBadRequest, err)
		return
	}
	if err := h.accounts.Register(r.Context(), req.UserName, req.Email, req.Password); err != nil {
		h.fail(w, r, OpRegister, http.StatusBadRequest, err)
		return
	}
	h.succeed(OpRegister)
	writeMessage(w, "Registration step 1 completed. Verification code sent to email.")
}

type verifyEmailRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

func (h *Handler) verifyEmail(w http.ResponseWriter, r *http.Request) {
	var req verifyEmailRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, OpConfirmEmail, http.StatusBadRequest, err)
		return
	}
	if err := h.accounts.ConfirmEmail(r.Context(), req.Email, req.Code); err != nil {
		h.fail(w, r, OpConfirmEmail, http.StatusBadRequest, err)
		return
	}
	h.succeed(OpConfirmEmail)
	writeMessage(w, "Email successfully verified. You can now log in.")
}

type loginRequest struct {
	UsernameOrEmail string `json:"usernameOrEmail"`
	Password        string `json:"password"`
}

type loginResponse struct {
	TwoFactorID string `json:"twoFactorId"`
	Message     string `json:"message"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, OpStartLogin, http.StatusUnauthorized, err)
		return
	}
	id, err := h.accounts.StartLogin(r.Context(), req.UsernameOrEmail, req.Password)
	if err != nil {
		h.fail(w, r, OpStartLogin, http.StatusUnauthorized, err)
		return
	}
	h.succeed(OpStartLogin)
	writeJSON(w, http.StatusOK, loginResponse{
		TwoFactorID: id.String(),
		Message:     "2FA code sent. Please verify using /api/account/verify-2fa.",
	})
}

type verifyTwoFactorRequest struct {
	TwoFactorID string `json:"twoFactorId"`
	Code        string `json:"code"`
	RememberMe  bool   `json:"rememberMe"`
}

func (h *Handler) verifyTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req verifyTwoFactorRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, OpCompleteLogin, http.StatusUnauthorized, err)
		return
	}
	principal, err := h.accounts.CompleteTwoFactor(r.Context(), req.TwoFactorID, req.Code)
	if err != nil {
		h.fail(w, r, OpCompleteLogin, http.StatusUnauthorized, err)
		return
	}

	session, token, err := h.sessions.Establish(r.Context(), principal, req.RememberMe, r.UserAgent(), clientIP(r))
	if err != nil {
		h.fail(w, r, OpCompleteLogin, http.StatusUnauthorized, err)
		return
	}
	h.setSessionCookie(w, session, token)
	h.succeed(OpCompleteLogin)
	writeMessage(w, "Login successful.")
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request, session *auth.WebSession) {
	var req changePasswordRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, OpChangePassword, http.StatusBadRequest, err)
		return
	}
	if err := h.accounts.ChangePassword(r.Context(), session.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		h.fail(w, r, OpChangePassword, http.StatusBadRequest, err)
		return
	}

	if h.cfg.RevokeOnPasswordChange {
		if _, err := h.sessions.TerminateUser(r.Context(), session.UserID, session.ID); err != nil {
			errutil.LogErrorContext(r.Context(), h.logger, slog.LevelWarn, "revoking other sessions failed", err)
		}
	}
	h.succeed(OpChangePassword)
	writeMessage(w, "Password changed.")
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request, session *auth.WebSession) {
	if err := h.sessions.Terminate(r.Context(), session.ID); err != nil {
		h.fail(w, r, OpLogout, http.StatusUnauthorized, err)
		return
	}
	h.clearSessionCookie(w)
	h.succeed(OpLogout)
	writeMessage(w, "Logged out.")
}

type profileResponse struct {
	UserName    string    `json:"userName"`
	Email       string    `json:"email"`
	CreatedTime time.Time `json:"createdTime"`
}

func (h *Handler) profile(w http.ResponseWriter, r *http.Request, session *auth.WebSession) {
	user, err := h.accounts.Profile(r.Context(), session.UserID)
	if err != nil {
		h.fail(w, r, OpProfile, http.StatusUnauthorized, err)
		return
	}
	h.succeed(OpProfile)
	writeJSON(w, http.StatusOK, profileResponse{
		UserName:    user.UserName,
		Email:       user.Email,
		CreatedTime: user.CreatedAt,
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
