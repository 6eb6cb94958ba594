package email

import (
	"context"
	"errors"

	"github.com/resend/resend-go/v3"
)

// resendSender delivers through the Resend API. First in the chain: the
// free tier allows ~100 sends/day, so it absorbs normal traffic and hands
// off to Brevo when rate limited.
type resendSender struct {
	client *resend.Client
}

// NewResendSender returns a Sender backed by the official Resend SDK.
// An empty apiKey produces a sender that reports KindNotConfigured, which
// the chain skips silently — matching deployments that only configure a
// subset of the providers.
func NewResendSender(apiKey string) Sender {
	if apiKey == "" {
		return &resendSender{}
	}
	return &resendSender{client: resend.NewClient(apiKey)}
}

func (s *resendSender) Name() string { return "resend" }

func (s *resendSender) Send(ctx context.Context, msg Message) error {
	if s.client == nil {
		return &ProviderError{
			Provider: s.Name(),
			Kind:     KindNotConfigured,
			Err:      errors.New("RESEND_API_KEY not configured"),
		}
	}

	params := &resend.SendEmailRequest{
		From:    msg.From,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Html:    msg.HTML,
	}

	if _, err := s.client.Emails.SendWithContext(ctx, params); err != nil {
		// The SDK error carries no structured status; classify from text.
		return &ProviderError{Provider: s.Name(), Kind: classifyErr(err), Err: err}
	}
	return nil
}
