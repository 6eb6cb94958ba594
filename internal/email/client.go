// Package email implements transactional email delivery through an ordered
// fallback chain of providers (Resend, Brevo, Gmail SMTP, Mailjet).
package email

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Message is one email to deliver. HTML is a pre-rendered document — no
// templating happens at the provider level.
type Message struct {
	From    string // "Name <addr>" form
	To      string
	Subject string
	HTML    string
}

// Sender is a single email transport. Implementations must be safe to call
// concurrently. Tests inject stubs that record calls without hitting the
// network.
type Sender interface {
	// Name identifies the provider; on success it is persisted as the
	// letter's email_provider for auditing and quota balancing.
	Name() string
	Send(ctx context.Context, msg Message) error
}

// FailureKind classifies a provider failure so the chain can log it at the
// right severity. Every kind continues to the next provider; the kind only
// changes how the failure is reported.
type FailureKind int

const (
	// KindOther is an unexpected hard failure.
	KindOther FailureKind = iota
	// KindRateLimited means the provider's daily quota or rate limit is
	// exhausted — expected for the front of the chain under load.
	KindRateLimited
	// KindNotConfigured means the provider has no credentials in this
	// deployment and was skipped.
	KindNotConfigured
)

func (k FailureKind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindNotConfigured:
		return "not_configured"
	default:
		return "other"
	}
}

// ProviderError carries the structured failure kind alongside the provider
// name. The HTTP-backed providers construct it directly from the response
// status; SDK errors without structure are classified by classifyErr.
type ProviderError struct {
	Provider string
	Kind     FailureKind
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// classifyErr maps an arbitrary send error to a FailureKind. A structured
// *ProviderError wins; otherwise the message-text heuristics cover SDK
// errors that expose no status code.
func classifyErr(err error) FailureKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	msg := strings.ToLower(err.Error())
	for _, needle := range []string{"rate", "limit", "quota", "429", "daily", "exceeded"} {
		if strings.Contains(msg, needle) {
			return KindRateLimited
		}
	}
	if strings.Contains(msg, "not configured") {
		return KindNotConfigured
	}
	return KindOther
}

// splitAddress parses "Name <addr>" into its parts. A bare address comes
// back with an empty name.
func splitAddress(from string) (name, addr string) {
	open := strings.LastIndex(from, "<")
	closing := strings.LastIndex(from, ">")
	if open >= 0 && closing > open {
		return strings.TrimSpace(from[:open]), strings.TrimSpace(from[open+1 : closing])
	}
	return "", strings.TrimSpace(from)
}
