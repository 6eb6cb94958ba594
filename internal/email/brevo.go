package email

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const brevoEndpoint = "https://api.brevo.com/v3/smtp/email"

// brevoSender delivers through the Brevo transactional API (~300/day free).
type brevoSender struct {
	apiKey     string
	httpClient *http.Client
}

// NewBrevoSender returns a Sender backed by Brevo's REST API.
func NewBrevoSender(apiKey string) Sender {
	return &brevoSender{
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (s *brevoSender) Name() string { return "brevo" }

// ─── BREVO API SHAPES ─────────────────────────────────────────────────────────

type brevoParty struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

type brevoRequest struct {
	Sender      brevoParty   `json:"sender"`
	To          []brevoParty `json:"to"`
	Subject     string       `json:"subject"`
	HTMLContent string       `json:"htmlContent"`
}

func (s *brevoSender) Send(ctx context.Context, msg Message) error {
	if s.apiKey == "" {
		return &ProviderError{
			Provider: s.Name(),
			Kind:     KindNotConfigured,
			Err:      errors.New("BREVO_API_KEY not configured"),
		}
	}

	senderName, senderAddr := splitAddress(msg.From)
	reqBody := brevoRequest{
		Sender:      brevoParty{Name: senderName, Email: senderAddr},
		To:          []brevoParty{{Email: msg.To}},
		Subject:     msg.Subject,
		HTMLContent: msg.HTML,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return &ProviderError{Provider: s.Name(), Kind: KindOther, Err: fmt.Errorf("marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, brevoEndpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return &ProviderError{Provider: s.Name(), Kind: KindOther, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &ProviderError{Provider: s.Name(), Kind: KindOther, Err: fmt.Errorf("http request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	respBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
	kind := KindOther
	if resp.StatusCode == http.StatusTooManyRequests {
		kind = KindRateLimited
	}
	return &ProviderError{
		Provider: s.Name(),
		Kind:     kind,
		Err:      fmt.Errorf("status %d: %.200s", resp.StatusCode, string(respBytes)),
	}
}
