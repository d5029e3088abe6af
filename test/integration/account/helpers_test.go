// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Verigate Contributors

//go:build integration

package account_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"regexp"
	"sync"
	"time"

	. "github.com/onsi/gomega" //nolint:revive // gomega convention
)

var codePattern = regexp.MustCompile(`code is: (\d+)`)

// inbox records the latest mail body per recipient and subject.
type inbox struct {
	mu   sync.Mutex
	last map[string]string
}

func newInbox() *inbox {
	return &inbox{last: make(map[string]string)}
}

func (m *inbox) Send(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last[to+"|"+subject] = body
	return nil
}

func (m *inbox) take(to, subject string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := to + "|" + subject
	match := codePattern.FindStringSubmatch(m.last[key])
	if len(match) != 2 {
		return ""
	}
	delete(m.last, key)
	return match[1]
}

// awaitCode waits for the dispatcher to deliver a code mail.
func awaitCode(to, subject string) string {
	var code string
	Eventually(func() string {
		code = env.inbox.take(to, subject)
		return code
	}).WithTimeout(5 * time.Second).ShouldNot(BeEmpty())
	return code
}

// client is a browser-like API client with its own cookie jar.
type client struct {
	http *http.Client
}

func newClient() *client {
	jar, err := cookiejar.New(nil)
	Expect(err).NotTo(HaveOccurred())
	return &client{http: &http.Client{Jar: jar}}
}

func (c *client) call(method, path string, body any) (int, map[string]any) {
	var buf bytes.Buffer
	if body != nil {
		Expect(json.NewEncoder(&buf).Encode(body)).To(Succeed())
	}
	req, err := http.NewRequestWithContext(env.ctx, method, env.server.URL+path, &buf)
	Expect(err).NotTo(HaveOccurred())
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	Expect(err).NotTo(HaveOccurred())
	defer func() { _ = resp.Body.Close() }()

	var out map[string]any
	Expect(json.NewDecoder(resp.Body).Decode(&out)).To(Succeed())
	return resp.StatusCode, out
}

func (c *client) post(path string, body any) (int, map[string]any) {
	return c.call(http.MethodPost, path, body)
}

// signIn registers, verifies and logs in a fresh account.
func (c *client) signIn(userName, email, password string) {
	status, _ := c.post("/api/account/register", map[string]string{
		"userName": userName, "email": email, "password": password,
	})
	Expect(status).To(Equal(http.StatusOK))

	status, _ = c.post("/api/account/verify-email", map[string]string{
		"email": email, "code": awaitCode(email, "Verification Code"),
	})
	Expect(status).To(Equal(http.StatusOK))

	c.login(email, email, password)
}

// login completes both sign-in steps; the code is read from email's inbox.
func (c *client) login(userOrEmail, email, password string) {
	status, body := c.post("/api/account/login", map[string]string{
		"usernameOrEmail": userOrEmail, "password": password,
	})
	Expect(status).To(Equal(http.StatusOK))
	twoFactorID, ok := body["twoFactorId"].(string)
	Expect(ok).To(BeTrue())

	status, _ = c.post("/api/account/verify-2fa", map[string]any{
		"twoFactorId": twoFactorID, "code": awaitCode(email, "Two-Factor Code"),
	})
	Expect(status).To(Equal(http.StatusOK))
}
