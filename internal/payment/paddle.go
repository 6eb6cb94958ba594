package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// paddleSignatureTolerance bounds how old a signed webhook may be before it
// is rejected as a possible replay.
const paddleSignatureTolerance = 5 * time.Minute

// PaddleWebhook verifies and parses Paddle webhook deliveries. Paddle's
// authority model differs from the other providers: the webhook body is
// HMAC-signed, so once the signature checks out the pushed transaction
// object is trusted directly — no follow-up API fetch.
type PaddleWebhook struct {
	secret string

	// now is replaceable in tests to pin the tolerance window.
	now func() time.Time
}

// NewPaddleWebhook returns a verifier for the given shared secret. An empty
// secret disables verification (development only) — ParseEvent still works
// but VerifySignature reports every header as invalid.
func NewPaddleWebhook(secret string) *PaddleWebhook {
	return &PaddleWebhook{secret: secret, now: time.Now}
}

// Configured reports whether a webhook secret is set.
func (p *PaddleWebhook) Configured() bool { return p.secret != "" }

// VerifySignature checks the Paddle-Signature header ("ts=<unix>;h1=<hex>")
// against HMAC-SHA256 over "ts:rawBody" with constant-time comparison, and
// rejects timestamps outside the tolerance window.
func (p *PaddleWebhook) VerifySignature(header string, rawBody []byte) bool {
	header = strings.TrimSpace(header)
	if header == "" || p.secret == "" {
		return false
	}

	var ts, h1 string
	for _, part := range strings.Split(header, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "ts":
			ts = value
		case "h1":
			h1 = value
		}
	}
	if ts == "" || h1 == "" {
		return false
	}

	tsInt, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	diff := p.now().Unix() - tsInt
	if diff < 0 {
		diff = -diff
	}
	if diff > int64(paddleSignatureTolerance.Seconds()) {
		return false
	}

	mac := hmac.New(sha256.New, []byte(p.secret))
	mac.Write([]byte(ts))
	mac.Write([]byte(":"))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(h1))
}

// PaddleEvent is the parsed webhook payload.
type PaddleEvent struct {
	EventType string
	TxnID     string
	LetterID  string
}

// ParseEvent decodes the webhook body. The letter id travels in the
// transaction's custom_data, set at checkout time by the Paddle.js client.
func ParseEvent(rawBody []byte) (PaddleEvent, error) {
	var payload struct {
		EventType string `json:"event_type"`
		Data      struct {
			ID         string `json:"id"`
			CustomData struct {
				LetterID string `json:"letterId"`
			} `json:"custom_data"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return PaddleEvent{}, fmt.Errorf("paddle: unmarshal event: %w", err)
	}
	return PaddleEvent{
		EventType: payload.EventType,
		TxnID:     payload.Data.ID,
		LetterID:  payload.Data.CustomData.LetterID,
	}, nil
}

// Result converts a completed-transaction event into the shared Result
// shape for the reconciliation handler.
func (e PaddleEvent) Result() Result {
	return Result{
		Paid:        e.EventType == "transaction.completed",
		Status:      e.EventType,
		LetterID:    e.LetterID,
		ProviderRef: e.TxnID,
	}
}
