package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	paypalLiveURL    = "https://api-m.paypal.com"
	paypalSandboxURL = "https://api-m.sandbox.paypal.com"
)

// PayPalClient implements the two-phase checkout: create an order carrying
// the letter id as reference_id, then capture it once the buyer approves.
// Verification and capture are the same call — capturing an order is the
// authoritative confirmation.
type PayPalClient struct {
	clientID     string
	clientSecret string
	baseURL      string
	httpClient   *http.Client
}

// NewPayPalClient returns a client for the live API when mode is "live",
// otherwise the sandbox.
func NewPayPalClient(clientID, clientSecret, mode string) *PayPalClient {
	baseURL := paypalSandboxURL
	if mode == "live" {
		baseURL = paypalLiveURL
	}
	return &PayPalClient{
		clientID:     clientID,
		clientSecret: clientSecret,
		baseURL:      baseURL,
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
}

var _ Verifier = (*PayPalClient)(nil)

// ─── OAUTH ───────────────────────────────────────────────────────────────────

// accessToken exchanges client credentials for a bearer token. PayPal
// tokens live for hours; fetching one per call keeps the client free of
// mutable state at the cost of one extra round trip, which checkout
// latency tolerates.
func (c *PayPalClient) accessToken(ctx context.Context) (string, error) {
	if c.clientID == "" || c.clientSecret == "" {
		return "", fmt.Errorf("paypal: PAYPAL_CLIENT_ID and PAYPAL_CLIENT_SECRET must be set")
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("paypal: build token request: %w", err)
	}
	req.SetBasicAuth(c.clientID, c.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("paypal: token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return "", fmt.Errorf("paypal: read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("paypal: auth failed: status %d: %.200s", resp.StatusCode, string(body))
	}

	var parsed struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("paypal: unmarshal token: %w", err)
	}
	if parsed.AccessToken == "" {
		return "", fmt.Errorf("paypal: empty access token")
	}
	return parsed.AccessToken, nil
}

// ─── CREATE ORDER ────────────────────────────────────────────────────────────

// CreateOrderParams carries what the order needs from the letter.
type CreateOrderParams struct {
	LetterID     string
	SenderName   string
	ReceiverName string
	AmountUSD    string // "1.00" — PayPal wants a decimal string
}

type paypalAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type paypalPurchaseUnit struct {
	ReferenceID string       `json:"reference_id"`
	Description string       `json:"description,omitempty"`
	Amount      paypalAmount `json:"amount"`
}

type paypalOrderRequest struct {
	Intent        string               `json:"intent"`
	PurchaseUnits []paypalPurchaseUnit `json:"purchase_units"`
}

// CreateOrder creates a CAPTURE-intent order with the letter id as
// reference_id and returns the order id the browser needs for approval.
func (c *PayPalClient) CreateOrder(ctx context.Context, p CreateOrderParams) (string, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return "", err
	}

	reqBody := paypalOrderRequest{
		Intent: "CAPTURE",
		PurchaseUnits: []paypalPurchaseUnit{{
			ReferenceID: p.LetterID,
			Description: fmt.Sprintf("Premium Letter - From %s to %s", p.SenderName, p.ReceiverName),
			Amount:      paypalAmount{CurrencyCode: "USD", Value: p.AmountUSD},
		}},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("paypal: marshal order: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v2/checkout/orders", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("paypal: build order request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("paypal: create order: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return "", fmt.Errorf("paypal: read order response: %w", err)
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("paypal: create order failed: status %d: %.200s", resp.StatusCode, string(body))
	}

	var order struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &order); err != nil {
		return "", fmt.Errorf("paypal: unmarshal order: %w", err)
	}
	if order.ID == "" {
		return "", fmt.Errorf("paypal: empty order id")
	}
	return order.ID, nil
}

// ─── CAPTURE / VERIFY ────────────────────────────────────────────────────────

type paypalCaptureResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	PurchaseUnits []struct {
		ReferenceID string `json:"reference_id"`
		Payments    struct {
			Captures []struct {
				ID string `json:"id"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

// Verify captures the order and reports "COMPLETED" as the only success
// status. The letter id comes out of the capture response's reference_id —
// client-supplied ids are never trusted on their own.
func (c *PayPalClient) Verify(ctx context.Context, orderID string) (Result, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/v2/checkout/orders/%s/capture", c.baseURL, orderID), nil)
	if err != nil {
		return Result{}, fmt.Errorf("paypal: build capture request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("paypal: capture order %s: %w", orderID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return Result{}, fmt.Errorf("paypal: read capture response: %w", err)
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("paypal: capture failed: status %d: %.200s", resp.StatusCode, string(body))
	}

	var capture paypalCaptureResponse
	if err := json.Unmarshal(body, &capture); err != nil {
		return Result{}, fmt.Errorf("paypal: unmarshal capture: %w", err)
	}

	letterID := ""
	if len(capture.PurchaseUnits) > 0 {
		letterID = capture.PurchaseUnits[0].ReferenceID
	}

	return Result{
		Paid:        capture.Status == "COMPLETED",
		Status:      capture.Status,
		LetterID:    letterID,
		ProviderRef: orderID,
	}, nil
}
