// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Verigate Contributors

package auth

import (
	"bytes"
	"context"
	"fmt"
	"text/template"
	"time"

	"github.com/samber/oops"
)

// Mailer delivers email. Implementations decide whether delivery is
// synchronous; Send returning nil only means the message was accepted.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Email subjects.
const (
	SubjectVerification = "Verification Code"
	SubjectTwoFactor    = "Two-Factor Code"
)

var (
	verificationTemplate = template.Must(template.New("verification").Parse(
		`Hi {{.UserName}},

Your verification code is: {{.Code}}

The code expires in {{.ValidFor}}. If you did not create an account, ignore this email.
`))

	twoFactorTemplate = template.Must(template.New("two_factor").Parse(
		`Hi {{.UserName}},

Your sign-in code is: {{.Code}}

The code expires in {{.ValidFor}}. If you did not try to sign in, change your password.
`))
)

// codeEmailParams are the values available to the email templates.
type codeEmailParams struct {
	UserName string
	Code     string
	ValidFor string
}

func renderCodeEmail(tmpl *template.Template, user *User, code *OneTimeCode, ttl time.Duration) (string, error) {
	var buf bytes.Buffer
	err := tmpl.Execute(&buf, codeEmailParams{
		UserName: user.UserName,
		Code:     code.Code,
		ValidFor: formatValidity(ttl),
	})
	if err != nil {
		return "", oops.Code("EMAIL_RENDER_FAILED").With("template", tmpl.Name()).Wrap(err)
	}
	return buf.String(), nil
}

func formatValidity(ttl time.Duration) string {
	if ttl%time.Minute != 0 {
		return ttl.String()
	}
	if ttl == time.Minute {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", int(ttl/time.Minute))
}
