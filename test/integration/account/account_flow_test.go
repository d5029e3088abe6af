// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Verigate Contributors

//go:build integration

package account_test

import (
	"net/http"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
)

var _ = Describe("Account API", func() {
	Describe("sign-up and sign-in", func() {
		It("takes a user from registration to a working session", func() {
			browser := newClient()
			browser.signIn("alice", "alice@example.com", "Abcdef12")

			status, body := browser.call(http.MethodGet, "/api/account/me", nil)
			Expect(status).To(Equal(http.StatusOK))
			Expect(body).To(HaveKeyWithValue("userName", "alice"))
			Expect(body).To(HaveKeyWithValue("email", "alice@example.com"))

			status, _ = browser.post("/api/account/logout", nil)
			Expect(status).To(Equal(http.StatusOK))

			status, _ = browser.call(http.MethodGet, "/api/account/me", nil)
			Expect(status).To(Equal(http.StatusUnauthorized))
		})

		It("accepts the username with different case at login", func() {
			browser := newClient()
			browser.signIn("Bob", "bob@example.com", "Abcdef12")

			other := newClient()
			other.login("BOB", "bob@example.com", "Abcdef12")
			status, body := other.call(http.MethodGet, "/api/account/me", nil)
			Expect(status).To(Equal(http.StatusOK))
			Expect(body).To(HaveKeyWithValue("userName", "Bob"))
		})
	})

	Describe("registration", func() {
		It("rejects a username or email already taken in another case", func() {
			first := newClient()
			status, _ := first.post("/api/account/register", map[string]string{
				"userName": "carol", "email": "carol@example.com", "password": "Abcdef12",
			})
			Expect(status).To(Equal(http.StatusOK))
			awaitCode("carol@example.com", "Verification Code")

			status, body := newClient().post("/api/account/register", map[string]string{
				"userName": "CAROL", "email": "other@example.com", "password": "Abcdef12",
			})
			Expect(status).To(Equal(http.StatusBadRequest))
			Expect(body).To(HaveKeyWithValue("error", "username or email already in use"))

			status, _ = newClient().post("/api/account/register", map[string]string{
				"userName": "carol2", "email": "Carol@Example.com", "password": "Abcdef12",
			})
			Expect(status).To(Equal(http.StatusBadRequest))
		})

		It("does not confirm an email with the wrong code", func() {
			c := newClient()
			status, _ := c.post("/api/account/register", map[string]string{
				"userName": "dave", "email": "dave@example.com", "password": "Abcdef12",
			})
			Expect(status).To(Equal(http.StatusOK))
			code := awaitCode("dave@example.com", "Verification Code")

			wrong := "000000"
			if code == wrong {
				wrong = "111111"
			}
			status, body := c.post("/api/account/verify-email", map[string]string{
				"email": "dave@example.com", "code": wrong,
			})
			Expect(status).To(Equal(http.StatusBadRequest))
			Expect(body).To(HaveKeyWithValue("error", "invalid or expired code"))

			status, body = c.post("/api/account/login", map[string]string{
				"usernameOrEmail": "dave", "password": "Abcdef12",
			})
			Expect(status).To(Equal(http.StatusUnauthorized))
			Expect(body).To(HaveKeyWithValue("error", "invalid credentials"))
		})
	})

	Describe("two-factor codes", func() {
		It("cannot be used twice", func() {
			c := newClient()
			c.signIn("erin", "erin@example.com", "Abcdef12")

			status, body := c.post("/api/account/login", map[string]string{
				"usernameOrEmail": "erin", "password": "Abcdef12",
			})
			Expect(status).To(Equal(http.StatusOK))
			twoFactorID := body["twoFactorId"]
			code := awaitCode("erin@example.com", "Two-Factor Code")

			status, _ = c.post("/api/account/verify-2fa", map[string]any{"twoFactorId": twoFactorID, "code": code})
			Expect(status).To(Equal(http.StatusOK))

			status, body = c.post("/api/account/verify-2fa", map[string]any{"twoFactorId": twoFactorID, "code": code})
			Expect(status).To(Equal(http.StatusUnauthorized))
			Expect(body).To(HaveKeyWithValue("error", "invalid or expired code"))
		})
	})

	Describe("password change", func() {
		It("revokes other sessions and replaces the password", func() {
			laptop := newClient()
			laptop.signIn("frank", "frank@example.com", "Abcdef12")
			phone := newClient()
			phone.login("frank", "frank@example.com", "Abcdef12")

			status, body := laptop.post("/api/account/change-password", map[string]string{
				"currentPassword": "wrong-one", "newPassword": "Zyxwvu98",
			})
			Expect(status).To(Equal(http.StatusBadRequest))
			Expect(body).To(HaveKeyWithValue("error", "current password is incorrect"))

			status, _ = laptop.post("/api/account/change-password", map[string]string{
				"currentPassword": "Abcdef12", "newPassword": "Zyxwvu98",
			})
			Expect(status).To(Equal(http.StatusOK))

			status, _ = laptop.call(http.MethodGet, "/api/account/me", nil)
			Expect(status).To(Equal(http.StatusOK))
			status, _ = phone.call(http.MethodGet, "/api/account/me", nil)
			Expect(status).To(Equal(http.StatusUnauthorized))

			status, _ = newClient().post("/api/account/login", map[string]string{
				"usernameOrEmail": "frank", "password": "Abcdef12",
			})
			Expect(status).To(Equal(http.StatusUnauthorized))

			newClient().login("frank", "frank@example.com", "Zyxwvu98")
		})
	})
})
