package email

import (
	"context"
	"errors"
	"fmt"

	mail "github.com/go-mail/mail"
)

// gmailSender delivers through authenticated Gmail SMTP using an app
// password (~500/day). Unlike the API providers it ignores Message.From:
// Gmail rewrites the envelope sender to the authenticated account anyway,
// so we set it explicitly with the display name.
type gmailSender struct {
	user     string
	appPass  string
	fromName string
}

// NewGmailSender returns a Sender backed by smtp.gmail.com. fromName is the
// display name shown to recipients.
func NewGmailSender(user, appPass, fromName string) Sender {
	return &gmailSender{user: user, appPass: appPass, fromName: fromName}
}

func (s *gmailSender) Name() string { return "gmail" }

func (s *gmailSender) Send(ctx context.Context, msg Message) error {
	if s.user == "" || s.appPass == "" {
		return &ProviderError{
			Provider: s.Name(),
			Kind:     KindNotConfigured,
			Err:      errors.New("GMAIL_USER or GMAIL_APP_PASSWORD not configured"),
		}
	}
	if err := ctx.Err(); err != nil {
		return &ProviderError{Provider: s.Name(), Kind: KindOther, Err: err}
	}

	m := mail.NewMessage()
	m.SetAddressHeader("From", s.user, s.fromName)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/html", msg.HTML)

	d := mail.NewDialer("smtp.gmail.com", 587, s.user, s.appPass)
	d.StartTLSPolicy = mail.MandatoryStartTLS

	if err := d.DialAndSend(m); err != nil {
		return &ProviderError{
			Provider: s.Name(),
			Kind:     classifyErr(err), // SMTP 4xx quota errors carry "rate limit" text
			Err:      fmt.Errorf("smtp send: %w", err),
		}
	}
	return nil
}
