package payment

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMercadoPagoVerify_Approved(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/payments/123456" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("authorization header: got %q", got)
		}
		w.Write([]byte(`{"id":123456,"status":"approved","external_reference":"letter-uuid"}`))
	}))
	defer srv.Close()

	c := NewMercadoPagoClient("test-token")
	c.baseURL = srv.URL

	res, err := c.Verify(context.Background(), "123456")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Paid {
		t.Error("approved payment should be Paid")
	}
	if res.LetterID != "letter-uuid" {
		t.Errorf("letter id: got %q", res.LetterID)
	}
	if res.ProviderRef != "123456" {
		t.Errorf("provider ref: got %q", res.ProviderRef)
	}
}

func TestMercadoPagoVerify_PendingIsNotPaid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":1,"status":"pending","external_reference":"x"}`))
	}))
	defer srv.Close()

	c := NewMercadoPagoClient("tok")
	c.baseURL = srv.URL

	res, err := c.Verify(context.Background(), "1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Paid {
		t.Error("pending payment must not be Paid")
	}
	if res.Status != "pending" {
		t.Errorf("status: got %q", res.Status)
	}
}

func TestMercadoPagoVerify_APIErrorIsUnconfirmable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewMercadoPagoClient("tok")
	c.baseURL = srv.URL

	if _, err := c.Verify(context.Background(), "1"); err == nil {
		t.Error("a 5xx from the API must surface as an error, never as not-paid")
	}
}

func TestMercadoPagoCreatePreference(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/checkout/preferences" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"pref-123","init_point":"https://mp.example/checkout/pref-123"}`))
	}))
	defer srv.Close()

	c := NewMercadoPagoClient("tok")
	c.baseURL = srv.URL

	pref, err := c.CreatePreference(context.Background(), CreatePreferenceParams{
		LetterID:     "letter-uuid",
		SenderName:   "Ana",
		ReceiverName: "Luis",
		AmountUSD:    1.00,
		BaseURL:      "https://cartasecreta.app",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pref.ID != "pref-123" {
		t.Errorf("preference id: got %q", pref.ID)
	}
	if pref.InitPoint == "" {
		t.Error("init_point should not be empty")
	}
}

func TestExtractPaymentID(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"webhook v2 numeric id", `{"type":"payment","data":{"id":123456}}`, "123456"},
		{"webhook v2 string id", `{"type":"payment","data":{"id":"789"}}`, "789"},
		{"legacy IPN", `{"topic":"payment","resource":"https://api.mercadopago.com/v1/payments/555"}`, "555"},
		{"legacy IPN non-numeric tail", `{"topic":"payment","resource":"https://api.mercadopago.com/v1/payments/abc"}`, ""},
		{"merchant order topic", `{"topic":"merchant_order","resource":"https://api.mercadopago.com/merchant_orders/1"}`, ""},
		{"non-payment type", `{"type":"plan","data":{"id":1}}`, ""},
		{"malformed", `{not json`, ""},
		{"empty", `{}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractPaymentID([]byte(tt.body)); got != tt.want {
				t.Errorf("ExtractPaymentID(%s) = %q, want %q", tt.body, got, tt.want)
			}
		})
	}
}
