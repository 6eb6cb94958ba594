package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const mercadoPagoBaseURL = "https://api.mercadopago.com"

// MercadoPagoClient talks to the MercadoPago REST API with a long-lived
// access token. It verifies payments by id and creates checkout preferences.
type MercadoPagoClient struct {
	accessToken string
	baseURL     string
	httpClient  *http.Client
}

// NewMercadoPagoClient returns a client for the production API.
func NewMercadoPagoClient(accessToken string) *MercadoPagoClient {
	return &MercadoPagoClient{
		accessToken: accessToken,
		baseURL:     mercadoPagoBaseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

var _ Verifier = (*MercadoPagoClient)(nil)

// ─── VERIFY ──────────────────────────────────────────────────────────────────

type mpPayment struct {
	ID                json.Number `json:"id"`
	Status            string      `json:"status"`
	ExternalReference string      `json:"external_reference"`
}

// Verify fetches the payment by id and reports "approved" as the only
// success status. The webhook's own claimed status is never consulted.
func (c *MercadoPagoClient) Verify(ctx context.Context, paymentID string) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/v1/payments/%s", c.baseURL, paymentID), nil)
	if err != nil {
		return Result{}, fmt.Errorf("mercadopago: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("mercadopago: get payment %s: %w", paymentID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return Result{}, fmt.Errorf("mercadopago: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("mercadopago: get payment %s: status %d: %.200s", paymentID, resp.StatusCode, string(body))
	}

	var payment mpPayment
	if err := json.Unmarshal(body, &payment); err != nil {
		return Result{}, fmt.Errorf("mercadopago: unmarshal payment: %w", err)
	}

	return Result{
		Paid:        payment.Status == "approved",
		Status:      payment.Status,
		LetterID:    payment.ExternalReference,
		ProviderRef: paymentID,
	}, nil
}

// ─── CHECKOUT PREFERENCE ─────────────────────────────────────────────────────

// Preference is the checkout session returned to the browser.
type Preference struct {
	ID        string
	InitPoint string // redirect URL for the hosted checkout
}

// CreatePreferenceParams carries what the preference needs from the letter.
type CreatePreferenceParams struct {
	LetterID     string
	SenderName   string
	ReceiverName string
	AmountUSD    float64
	BaseURL      string // webhook + back URL base
}

type mpPreferenceItem struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Quantity   int     `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	CurrencyID string  `json:"currency_id"`
}

type mpBackURLs struct {
	Success string `json:"success"`
	Failure string `json:"failure"`
	Pending string `json:"pending"`
}

type mpPreferenceRequest struct {
	Items               []mpPreferenceItem `json:"items"`
	BackURLs            mpBackURLs         `json:"back_urls"`
	ExternalReference   string             `json:"external_reference"`
	NotificationURL     string             `json:"notification_url"`
	StatementDescriptor string             `json:"statement_descriptor"`
}

type mpPreferenceResponse struct {
	ID        string `json:"id"`
	InitPoint string `json:"init_point"`
}

// CreatePreference creates a hosted-checkout preference carrying the letter
// id as external_reference, which is how the later webhook finds its way
// back to the letter.
func (c *MercadoPagoClient) CreatePreference(ctx context.Context, p CreatePreferenceParams) (Preference, error) {
	reqBody := mpPreferenceRequest{
		Items: []mpPreferenceItem{{
			ID:         p.LetterID,
			Title:      fmt.Sprintf("Carta Premium - De %s para %s", p.SenderName, p.ReceiverName),
			Quantity:   1,
			UnitPrice:  p.AmountUSD,
			CurrencyID: "USD",
		}},
		BackURLs: mpBackURLs{
			Success: p.BaseURL + "/sent",
			Failure: p.BaseURL + "/?payment=failed",
			Pending: p.BaseURL + "/sent?payment=pending",
		},
		ExternalReference:   p.LetterID,
		NotificationURL:     p.BaseURL + "/api/webhooks/mercadopago",
		StatementDescriptor: "CartaSecreta",
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return Preference{}, fmt.Errorf("mercadopago: marshal preference: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/checkout/preferences", bytes.NewReader(bodyBytes))
	if err != nil {
		return Preference{}, fmt.Errorf("mercadopago: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Preference{}, fmt.Errorf("mercadopago: create preference: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return Preference{}, fmt.Errorf("mercadopago: read response: %w", err)
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return Preference{}, fmt.Errorf("mercadopago: create preference: status %d: %.200s", resp.StatusCode, string(body))
	}

	var pref mpPreferenceResponse
	if err := json.Unmarshal(body, &pref); err != nil {
		return Preference{}, fmt.Errorf("mercadopago: unmarshal preference: %w", err)
	}
	return Preference{ID: pref.ID, InitPoint: pref.InitPoint}, nil
}

// ─── WEBHOOK PARSING ─────────────────────────────────────────────────────────

// ExtractPaymentID pulls the payment id from either MercadoPago webhook
// shape: webhook-v2 `{type:"payment", data:{id}}` or legacy IPN
// `{topic:"payment", resource:".../<id>"}`. An empty return means the
// notification is not a payment event and should be acked and ignored.
func ExtractPaymentID(body []byte) string {
	var payload struct {
		Type string `json:"type"`
		Data struct {
			ID json.Number `json:"id"`
		} `json:"data"`
		Topic    string `json:"topic"`
		Resource string `json:"resource"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}

	if payload.Type == "payment" && payload.Data.ID.String() != "" {
		return payload.Data.ID.String()
	}
	if payload.Topic == "payment" && payload.Resource != "" {
		// resource is a URL like ".../v1/payments/123".
		if i := strings.LastIndexByte(payload.Resource, '/'); i >= 0 {
			id := payload.Resource[i+1:]
			if _, err := strconv.ParseInt(id, 10, 64); err == nil {
				return id
			}
		}
	}
	return ""
}
