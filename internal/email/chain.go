package email

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/liammdev/cartasecreta/internal/metrics"
)

// AllFailedError is returned when every provider in the chain failed. It
// keeps each per-provider message for diagnostics — total delivery failure
// must never be silent.
type AllFailedError struct {
	Attempts []string
}

func (e *AllFailedError) Error() string {
	return fmt.Sprintf("email: all providers failed: %s", strings.Join(e.Attempts, "; "))
}

// Chain tries providers in a fixed order until one succeeds. One attempt
// per provider, no retries within a provider — the ordering itself is the
// policy (cheaper / higher-quota providers first).
type Chain struct {
	providers []Sender
	logger    *slog.Logger
}

// NewChain builds a delivery chain over the given providers in order.
func NewChain(logger *slog.Logger, providers ...Sender) *Chain {
	return &Chain{providers: providers, logger: logger}
}

// Deliver attempts msg against each provider in order and returns the name
// of the provider that accepted it. Any failure — rate limit, missing
// credentials, or a hard error — continues to the next provider; only the
// log severity differs. If the whole chain fails, the returned error is an
// *AllFailedError carrying every per-provider message.
func (c *Chain) Deliver(ctx context.Context, msg Message) (string, error) {
	var attempts []string

	for _, p := range c.providers {
		err := p.Send(ctx, msg)
		if err == nil {
			c.logger.Info("email: sent", "provider", p.Name(), "to", msg.To)
			metrics.EmailsSent.WithLabelValues(p.Name()).Inc()
			return p.Name(), nil
		}

		kind := classifyErr(err)
		switch kind {
		case KindRateLimited:
			c.logger.Warn("email: provider rate limited, trying next", "provider", p.Name(), "error", err)
		case KindNotConfigured:
			c.logger.Debug("email: provider not configured, skipping", "provider", p.Name())
		default:
			c.logger.Error("email: provider failed, trying next", "provider", p.Name(), "error", err)
		}
		metrics.EmailFailures.WithLabelValues(p.Name(), kind.String()).Inc()

		attempts = append(attempts, fmt.Sprintf("%s: %v", p.Name(), err))
	}

	return "", &AllFailedError{Attempts: attempts}
}
