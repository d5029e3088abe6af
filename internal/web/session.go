// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Verigate Contributors

package web

import (
	"net/http"

	"github.com/verigate/verigate/internal/auth"
)

type sessionHandlerFunc func(w http.ResponseWriter, r *http.Request, session *auth.WebSession)

// requireSession resolves the session cookie and rejects the request with
// 401 when there is no live session.
func (h *Handler) requireSession(operation string, next sessionHandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var token string
		if cookie, err := r.Cookie(h.cfg.CookieName); err == nil {
			token = cookie.Value
		}

		session, err := h.sessions.Resolve(r.Context(), token)
		if err != nil {
			if auth.KindOf(err) == auth.KindAuthentication {
				h.clearSessionCookie(w)
			}
			h.fail(w, r, operation, http.StatusUnauthorized, err)
			return
		}

		next(w, r, session)
	})
}

// setSessionCookie issues the session cookie. Persistent sessions get an
// explicit expiry at their absolute limit; others end with the browser
// session.
func (h *Handler) setSessionCookie(w http.ResponseWriter, session *auth.WebSession, token string) {
	cookie := &http.Cookie{
		Name:     h.cfg.CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
	if session.Persistent {
		cookie.Expires = session.AbsoluteExpiresAt
	}
	http.SetCookie(w, cookie)
}

func (h *Handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
