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

const mailjetEndpoint = "https://api.mailjet.com/v3.1/send"

// mailjetSender delivers through the Mailjet v3.1 API (~200/day free).
// Last in the chain.
type mailjetSender struct {
	apiKey     string
	secretKey  string
	httpClient *http.Client
}

// NewMailjetSender returns a Sender backed by Mailjet's REST API.
func NewMailjetSender(apiKey, secretKey string) Sender {
	return &mailjetSender{
		apiKey:    apiKey,
		secretKey: secretKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (s *mailjetSender) Name() string { return "mailjet" }

// ─── MAILJET API SHAPES ───────────────────────────────────────────────────────

type mailjetParty struct {
	Email string `json:"Email"`
	Name  string `json:"Name,omitempty"`
}

type mailjetMessage struct {
	From     mailjetParty   `json:"From"`
	To       []mailjetParty `json:"To"`
	Subject  string         `json:"Subject"`
	HTMLPart string         `json:"HTMLPart"`
}

type mailjetRequest struct {
	Messages []mailjetMessage `json:"Messages"`
}

func (s *mailjetSender) Send(ctx context.Context, msg Message) error {
	if s.apiKey == "" || s.secretKey == "" {
		return &ProviderError{
			Provider: s.Name(),
			Kind:     KindNotConfigured,
			Err:      errors.New("MAILJET_API_KEY or MAILJET_SECRET_KEY not configured"),
		}
	}

	senderName, senderAddr := splitAddress(msg.From)
	reqBody := mailjetRequest{
		Messages: []mailjetMessage{{
			From:     mailjetParty{Email: senderAddr, Name: senderName},
			To:       []mailjetParty{{Email: msg.To}},
			Subject:  msg.Subject,
			HTMLPart: msg.HTML,
		}},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return &ProviderError{Provider: s.Name(), Kind: KindOther, Err: fmt.Errorf("marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, mailjetEndpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return &ProviderError{Provider: s.Name(), Kind: KindOther, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(s.apiKey, s.secretKey)

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
