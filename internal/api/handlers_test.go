package api_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/liammdev/cartasecreta/internal/api"
	"github.com/liammdev/cartasecreta/internal/db"
	"github.com/liammdev/cartasecreta/internal/email"
	"github.com/liammdev/cartasecreta/internal/payment"
	"github.com/liammdev/cartasecreta/internal/recon"
	"github.com/liammdev/cartasecreta/internal/store"
	"github.com/liammdev/cartasecreta/internal/worker"
)

// ─── STUBS ────────────────────────────────────────────────────────────────────

// stubQuerier satisfies db.Querier with in-memory state.
type stubQuerier struct {
	db.Querier // embedded to panic on unimplemented methods

	letters map[uuid.UUID]db.Letter
}

func newStubQuerier() *stubQuerier {
	return &stubQuerier{letters: make(map[uuid.UUID]db.Letter)}
}

func (q *stubQuerier) CreateLetter(_ context.Context, p db.CreateLetterParams) (db.Letter, error) {
	l := db.Letter{
		ID:               p.ID,
		SenderName:       p.SenderName,
		ReceiverName:     p.ReceiverName,
		ReceiverEmail:    p.ReceiverEmail,
		MessageType:      p.MessageType,
		Theme:            p.Theme,
		CustomContent:    sql.NullString{String: p.CustomContent, Valid: p.CustomContent != ""},
		RelationshipType: p.RelationshipType,
		Status:           p.Status,
		PaymentStatus:    p.PaymentStatus,
		IsPremium:        p.IsPremium,
		Timezone:         sql.NullString{String: p.Timezone, Valid: p.Timezone != ""},
		CreatedAt:        time.Now(),
	}
	q.letters[l.ID] = l
	return l, nil
}

func (q *stubQuerier) GetLetterByID(_ context.Context, id uuid.UUID) (db.Letter, error) {
	l, ok := q.letters[id]
	if !ok {
		return db.Letter{}, sql.ErrNoRows
	}
	return l, nil
}

func (q *stubQuerier) SetLetterResponse(_ context.Context, p db.SetLetterResponseParams) (db.Letter, error) {
	l, ok := q.letters[p.ID]
	if !ok {
		return db.Letter{}, sql.ErrNoRows
	}
	l.Response = sql.NullString{String: p.Response, Valid: true}
	q.letters[p.ID] = l
	return l, nil
}

func (q *stubQuerier) SetSenderEmail(_ context.Context, p db.SetSenderEmailParams) (db.Letter, error) {
	l, ok := q.letters[p.ID]
	if !ok {
		return db.Letter{}, sql.ErrNoRows
	}
	l.SenderEmail = sql.NullString{String: p.SenderEmail, Valid: true}
	q.letters[p.ID] = l
	return l, nil
}

func (q *stubQuerier) AttachPaypalOrder(_ context.Context, p db.AttachPaypalOrderParams) (db.Letter, error) {
	l, ok := q.letters[p.ID]
	if !ok || l.PaypalOrderID.Valid {
		return db.Letter{}, sql.ErrNoRows
	}
	l.PaypalOrderID = sql.NullString{String: p.OrderID, Valid: true}
	q.letters[p.ID] = l
	return l, nil
}

func (q *stubQuerier) MarkLetterSent(_ context.Context, p db.MarkLetterSentParams) (db.Letter, error) {
	l, ok := q.letters[p.ID]
	if !ok {
		return db.Letter{}, sql.ErrNoRows
	}
	l.Status = db.LetterStatusSent
	l.EmailProvider = sql.NullString{String: p.EmailProvider, Valid: true}
	l.SentAt = sql.NullTime{Time: time.Now(), Valid: true}
	q.letters[p.ID] = l
	return l, nil
}

func (q *stubQuerier) MarkLetterFailed(_ context.Context, id uuid.UUID) (db.Letter, error) {
	l, ok := q.letters[id]
	if !ok {
		return db.Letter{}, sql.ErrNoRows
	}
	l.Status = db.LetterStatusFailed
	q.letters[id] = l
	return l, nil
}

// stubRecon records Confirm calls and plays back a canned result.
type stubRecon struct {
	res   recon.Result
	err   error
	calls []string // refs
}

func (r *stubRecon) Confirm(_ context.Context, _ db.PaymentMethod, _ payment.Verifier, ref string) (recon.Result, error) {
	r.calls = append(r.calls, ref)
	return r.res, r.err
}

// stubSweeper plays back a canned sweep summary.
type stubSweeper struct {
	summary worker.Summary
	err     error
	calls   int
}

func (s *stubSweeper) Sweep(_ context.Context) (worker.Summary, error) {
	s.calls++
	return s.summary, s.err
}

// stubMailer captures sent letters.
type stubMailer struct {
	sent []email.LetterParams
	err  error
}

func (m *stubMailer) SendLetter(_ context.Context, p email.LetterParams) (string, error) {
	m.sent = append(m.sent, p)
	if m.err != nil {
		return "", m.err
	}
	return "resend", nil
}

// stubMP is a controllable MercadoPago client.
type stubMP struct {
	pref      payment.Preference
	prefErr   error
	verifyRes payment.Result
	verifyErr error
}

func (m *stubMP) CreatePreference(_ context.Context, _ payment.CreatePreferenceParams) (payment.Preference, error) {
	return m.pref, m.prefErr
}

func (m *stubMP) Verify(_ context.Context, _ string) (payment.Result, error) {
	return m.verifyRes, m.verifyErr
}

// stubPayPal is a controllable PayPal client.
type stubPayPal struct {
	orderID   string
	createErr error
	verifyRes payment.Result
	verifyErr error
}

func (p *stubPayPal) CreateOrder(_ context.Context, _ payment.CreateOrderParams) (string, error) {
	return p.orderID, p.createErr
}

func (p *stubPayPal) Verify(_ context.Context, _ string) (payment.Result, error) {
	return p.verifyRes, p.verifyErr
}

// ─── HELPERS ─────────────────────────────────────────────────────────────────

const testPaddleSecret = "paddle-test-secret"

type testDeps struct {
	q       *stubQuerier
	recon   *stubRecon
	sweeper *stubSweeper
	mailer  *stubMailer
	mp      *stubMP
	paypal  *stubPayPal
	handler http.Handler
}

func newTestServer(t *testing.T, cfgOverrides ...func(*api.Config)) *testDeps {
	t.Helper()

	q := newStubQuerier()
	rec := &stubRecon{}
	sw := &stubSweeper{}
	ml := &stubMailer{}
	mp := &stubMP{pref: payment.Preference{ID: "pref-1", InitPoint: "https://mp.example/pref-1"}}
	pp := &stubPayPal{orderID: "ORDER-1"}

	cfg := api.Config{
		Env:        "development",
		BaseURL:    "http://localhost:8080",
		CronSecret: "cron-test-secret",
	}
	for _, fn := range cfgOverrides {
		fn(&cfg)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	// The store runs its conditional updates against the stub querier; the
	// pool is never touched in these tests.
	st := store.New(nil, q)

	handler := api.NewServer(q, st, rec, sw, ml, mp, pp,
		payment.NewPaddleWebhook(testPaddleSecret), nil, cfg, logger)

	return &testDeps{q: q, recon: rec, sweeper: sw, mailer: ml, mp: mp, paypal: pp, handler: handler}
}

func doRequest(t *testing.T, handler http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		bodyReader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, bodyReader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(dst); err != nil {
		t.Fatalf("decode response body: %v (raw: %s)", err, rr.Body.String())
	}
}

// seedLetter inserts a letter directly into the stub.
func seedLetter(deps *testDeps, mutate ...func(*db.Letter)) db.Letter {
	l := db.Letter{
		ID:            uuid.New(),
		SenderName:    "Ana",
		ReceiverName:  "Luis",
		ReceiverEmail: "luis@example.com",
		MessageType:   "te_quiero",
		Theme:         "classic",
		Status:        db.LetterStatusSent,
		PaymentStatus: db.PaymentStatusFree,
		CreatedAt:     time.Now(),
	}
	for _, fn := range mutate {
		fn(&l)
	}
	deps.q.letters[l.ID] = l
	return l
}

func validCreateBody() map[string]any {
	return map[string]any{
		"sender_name":    "Ana",
		"receiver_name":  "Luis",
		"receiver_email": "luis@example.com",
		"message_type":   "te_quiero",
	}
}

// ─── GET /healthz ─────────────────────────────────────────────────────────────

func TestHealthz(t *testing.T) {
	deps := newTestServer(t)
	rr := doRequest(t, deps.handler, http.MethodGet, "/healthz", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

// ─── POST /api/letters ────────────────────────────────────────────────────────

func TestCreateLetter_FreeImmediateSendsAndMarksSent(t *testing.T) {
	deps := newTestServer(t)
	rr := doRequest(t, deps.handler, http.MethodPost, "/api/letters", validCreateBody(), nil)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		LetterID string `json:"letter_id"`
		Status   string `json:"status"`
		URL      string `json:"url"`
	}
	decodeJSON(t, rr, &resp)

	if resp.Status != "sent" {
		t.Errorf("status: got %q, want sent", resp.Status)
	}
	if len(deps.mailer.sent) != 1 {
		t.Fatalf("expected 1 email, got %d", len(deps.mailer.sent))
	}
	if deps.mailer.sent[0].To != "luis@example.com" {
		t.Errorf("email to: got %q", deps.mailer.sent[0].To)
	}

	id, err := uuid.Parse(resp.LetterID)
	if err != nil {
		t.Fatalf("letter_id is not a uuid: %q", resp.LetterID)
	}
	stored := deps.q.letters[id]
	if stored.EmailProvider.String != "resend" {
		t.Errorf("email provider: got %q", stored.EmailProvider.String)
	}
	if resp.URL != "http://localhost:8080/carta/"+resp.LetterID {
		t.Errorf("url: got %q", resp.URL)
	}
}

func TestCreateLetter_FreeImmediateDeliveryFailure(t *testing.T) {
	deps := newTestServer(t)
	deps.mailer.err = &email.AllFailedError{Attempts: []string{"resend: down"}}

	rr := doRequest(t, deps.handler, http.MethodPost, "/api/letters", validCreateBody(), nil)
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", rr.Code, rr.Body.String())
	}

	// The letter exists but is terminally failed.
	for _, l := range deps.q.letters {
		if l.Status != db.LetterStatusFailed {
			t.Errorf("letter status: got %q, want failed", l.Status)
		}
	}
}

func TestCreateLetter_ScheduledWaitsForSweep(t *testing.T) {
	deps := newTestServer(t)
	body := validCreateBody()
	body["scheduled_at"] = "2026-02-14T09:00"
	body["timezone"] = "America/Argentina/Buenos_Aires"

	rr := doRequest(t, deps.handler, http.MethodPost, "/api/letters", body, nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Status string `json:"status"`
	}
	decodeJSON(t, rr, &resp)
	if resp.Status != "pending" {
		t.Errorf("status: got %q, want pending", resp.Status)
	}
	if len(deps.mailer.sent) != 0 {
		t.Errorf("scheduled letter must not send immediately, got %d sends", len(deps.mailer.sent))
	}
}

func TestCreateLetter_PremiumWaitsForPayment(t *testing.T) {
	deps := newTestServer(t)
	body := validCreateBody()
	body["is_premium"] = true

	rr := doRequest(t, deps.handler, http.MethodPost, "/api/letters", body, nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		LetterID string `json:"letter_id"`
		Status   string `json:"status"`
	}
	decodeJSON(t, rr, &resp)
	if resp.Status != "pending_payment" {
		t.Errorf("status: got %q, want pending_payment", resp.Status)
	}
	if len(deps.mailer.sent) != 0 {
		t.Errorf("premium letter must not send before payment, got %d sends", len(deps.mailer.sent))
	}

	id, _ := uuid.Parse(resp.LetterID)
	if got := deps.q.letters[id].PaymentStatus; got != db.PaymentStatusPending {
		t.Errorf("payment status: got %q, want pending", got)
	}
}

func TestCreateLetter_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(map[string]any)
	}{
		{"missing sender name", func(b map[string]any) { b["sender_name"] = "" }},
		{"bad receiver email", func(b map[string]any) { b["receiver_email"] = "not-an-email" }},
		{"missing message type", func(b map[string]any) { b["message_type"] = "" }},
		{"scheduled without timezone", func(b map[string]any) { b["scheduled_at"] = "2026-02-14T09:00" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := newTestServer(t)
			body := validCreateBody()
			tt.mutate(body)
			rr := doRequest(t, deps.handler, http.MethodPost, "/api/letters", body, nil)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
			}
		})
	}
}

func TestCreateLetter_InvalidJSONReturns400(t *testing.T) {
	deps := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/letters", bytes.NewBufferString(`{bad json`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	deps.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

// ─── GET /api/letters/{letterID} ─────────────────────────────────────────────

func TestGetLetter_UnknownReturns404(t *testing.T) {
	deps := newTestServer(t)
	rr := doRequest(t, deps.handler, http.MethodGet, "/api/letters/"+uuid.New().String(), nil, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestGetLetter_InvalidIDReturns400(t *testing.T) {
	deps := newTestServer(t)
	rr := doRequest(t, deps.handler, http.MethodGet, "/api/letters/not-a-uuid", nil, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestGetLetter_UnpaidPremiumIsLocked(t *testing.T) {
	deps := newTestServer(t)
	l := seedLetter(deps, func(l *db.Letter) {
		l.IsPremium = true
		l.PaymentStatus = db.PaymentStatusPending
		l.Status = db.LetterStatusPendingPayment
		l.CustomContent = sql.NullString{String: "secret poem", Valid: true}
	})

	rr := doRequest(t, deps.handler, http.MethodGet, "/api/letters/"+l.ID.String(), nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var resp struct {
		Locked        bool   `json:"locked"`
		SenderName    string `json:"sender_name"`
		CustomContent string `json:"custom_content"`
	}
	decodeJSON(t, rr, &resp)
	if !resp.Locked {
		t.Error("unpaid premium letter should be locked")
	}
	if resp.SenderName != "" || resp.CustomContent != "" {
		t.Errorf("locked view must withhold content: %+v", resp)
	}
}

func TestGetLetter_PaidPremiumIsUnlocked(t *testing.T) {
	deps := newTestServer(t)
	l := seedLetter(deps, func(l *db.Letter) {
		l.IsPremium = true
		l.PaymentStatus = db.PaymentStatusPaid
		l.CustomContent = sql.NullString{String: "secret poem", Valid: true}
	})

	rr := doRequest(t, deps.handler, http.MethodGet, "/api/letters/"+l.ID.String(), nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var resp struct {
		Locked        bool   `json:"locked"`
		SenderName    string `json:"sender_name"`
		CustomContent string `json:"custom_content"`
	}
	decodeJSON(t, rr, &resp)
	if resp.Locked {
		t.Error("paid premium letter should not be locked")
	}
	if resp.SenderName != "Ana" || resp.CustomContent != "secret poem" {
		t.Errorf("unlocked view: %+v", resp)
	}
}

// ─── POST /api/letters/{letterID}/respond ────────────────────────────────────

func TestRespond_StoresAnswer(t *testing.T) {
	deps := newTestServer(t)
	l := seedLetter(deps)

	rr := doRequest(t, deps.handler, http.MethodPost,
		"/api/letters/"+l.ID.String()+"/respond",
		map[string]string{"response": "yes"}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got := deps.q.letters[l.ID].Response.String; got != "yes" {
		t.Errorf("stored response: got %q", got)
	}
}

func TestRespond_RejectsOtherValues(t *testing.T) {
	deps := newTestServer(t)
	l := seedLetter(deps)

	rr := doRequest(t, deps.handler, http.MethodPost,
		"/api/letters/"+l.ID.String()+"/respond",
		map[string]string{"response": "maybe"}, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

// ─── PATCH /api/letters/{letterID}/sender-email ──────────────────────────────

func TestSetSenderEmail(t *testing.T) {
	deps := newTestServer(t)
	l := seedLetter(deps)

	rr := doRequest(t, deps.handler, http.MethodPatch,
		"/api/letters/"+l.ID.String()+"/sender-email",
		map[string]string{"sender_email": "ana@example.com"}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got := deps.q.letters[l.ID].SenderEmail.String; got != "ana@example.com" {
		t.Errorf("stored sender email: got %q", got)
	}
}

func TestSetSenderEmail_Invalid(t *testing.T) {
	deps := newTestServer(t)
	l := seedLetter(deps)

	rr := doRequest(t, deps.handler, http.MethodPatch,
		"/api/letters/"+l.ID.String()+"/sender-email",
		map[string]string{"sender_email": "nope"}, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

// ─── POST /api/checkout/mercadopago ──────────────────────────────────────────

func premiumUnpaid(deps *testDeps) db.Letter {
	return seedLetter(deps, func(l *db.Letter) {
		l.IsPremium = true
		l.PaymentStatus = db.PaymentStatusPending
		l.Status = db.LetterStatusPendingPayment
	})
}

func TestMercadoPagoCheckout_ReturnsPreference(t *testing.T) {
	deps := newTestServer(t)
	l := premiumUnpaid(deps)

	rr := doRequest(t, deps.handler, http.MethodPost, "/api/checkout/mercadopago",
		map[string]string{"letter_id": l.ID.String()}, nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		PreferenceID string `json:"preference_id"`
		InitPoint    string `json:"init_point"`
	}
	decodeJSON(t, rr, &resp)
	if resp.PreferenceID != "pref-1" || resp.InitPoint == "" {
		t.Errorf("preference: %+v", resp)
	}
}

func TestCheckout_Guards(t *testing.T) {
	deps := newTestServer(t)
	free := seedLetter(deps) // non-premium
	paid := seedLetter(deps, func(l *db.Letter) {
		l.IsPremium = true
		l.PaymentStatus = db.PaymentStatusPaid
	})

	tests := []struct {
		name     string
		letterID string
		want     int
	}{
		{"unknown letter", uuid.New().String(), http.StatusNotFound},
		{"invalid id", "garbage", http.StatusBadRequest},
		{"non-premium letter", free.ID.String(), http.StatusBadRequest},
		{"already paid", paid.ID.String(), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := doRequest(t, deps.handler, http.MethodPost, "/api/checkout/mercadopago",
				map[string]string{"letter_id": tt.letterID}, nil)
			if rr.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rr.Code, rr.Body.String())
			}
		})
	}
}

// ─── POST /api/checkout/paypal ───────────────────────────────────────────────

func TestCreatePaypalOrder_AttachesOrderID(t *testing.T) {
	deps := newTestServer(t)
	l := premiumUnpaid(deps)

	rr := doRequest(t, deps.handler, http.MethodPost, "/api/checkout/paypal",
		map[string]string{"letter_id": l.ID.String()}, nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		OrderID string `json:"order_id"`
	}
	decodeJSON(t, rr, &resp)
	if resp.OrderID != "ORDER-1" {
		t.Errorf("order id: got %q", resp.OrderID)
	}
	if got := deps.q.letters[l.ID].PaypalOrderID.String; got != "ORDER-1" {
		t.Errorf("persisted order id: got %q", got)
	}
}

func TestCreatePaypalOrder_SecondAttemptReturnsExistingOrder(t *testing.T) {
	deps := newTestServer(t)
	l := premiumUnpaid(deps)

	first := doRequest(t, deps.handler, http.MethodPost, "/api/checkout/paypal",
		map[string]string{"letter_id": l.ID.String()}, nil)
	if first.Code != http.StatusCreated {
		t.Fatalf("first attempt: expected 201, got %d", first.Code)
	}

	// Second checkout creates another order at PayPal but the conditional
	// attach loses, so the first order id comes back.
	deps.paypal.orderID = "ORDER-2"
	second := doRequest(t, deps.handler, http.MethodPost, "/api/checkout/paypal",
		map[string]string{"letter_id": l.ID.String()}, nil)
	if second.Code != http.StatusOK {
		t.Fatalf("second attempt: expected 200, got %d: %s", second.Code, second.Body.String())
	}

	var resp struct {
		OrderID string `json:"order_id"`
	}
	decodeJSON(t, second, &resp)
	if resp.OrderID != "ORDER-1" {
		t.Errorf("second attempt should return the original order, got %q", resp.OrderID)
	}
}

// ─── POST /api/checkout/paypal/capture ───────────────────────────────────────

func TestCapturePaypal_Confirmed(t *testing.T) {
	deps := newTestServer(t)
	l := premiumUnpaid(deps)
	deps.recon.res = recon.Result{Outcome: recon.OutcomeConfirmed, Letter: l}

	rr := doRequest(t, deps.handler, http.MethodPost, "/api/checkout/paypal/capture",
		map[string]string{"order_id": "ORDER-1"}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Status   string `json:"status"`
		LetterID string `json:"letter_id"`
	}
	decodeJSON(t, rr, &resp)
	if resp.Status != "paid" || resp.LetterID != l.ID.String() {
		t.Errorf("capture response: %+v", resp)
	}
	if len(deps.recon.calls) != 1 || deps.recon.calls[0] != "ORDER-1" {
		t.Errorf("recon calls: %v", deps.recon.calls)
	}
}

func TestCapturePaypal_NotApprovedReturns402(t *testing.T) {
	deps := newTestServer(t)
	deps.recon.res = recon.Result{Outcome: recon.OutcomeNotApproved}

	rr := doRequest(t, deps.handler, http.MethodPost, "/api/checkout/paypal/capture",
		map[string]string{"order_id": "ORDER-1"}, nil)
	if rr.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestCapturePaypal_UnconfirmableReturns502(t *testing.T) {
	deps := newTestServer(t)
	deps.recon.res = recon.Result{Outcome: recon.OutcomeUnconfirmable}
	deps.recon.err = errors.New("paypal unreachable")

	rr := doRequest(t, deps.handler, http.MethodPost, "/api/checkout/paypal/capture",
		map[string]string{"order_id": "ORDER-1"}, nil)
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", rr.Code, rr.Body.String())
	}
}

// ─── POST /api/webhooks/mercadopago ──────────────────────────────────────────

func TestMercadoPagoWebhook_PaymentEventReconciles(t *testing.T) {
	deps := newTestServer(t)
	deps.recon.res = recon.Result{Outcome: recon.OutcomeConfirmed}

	rr := doRequest(t, deps.handler, http.MethodPost, "/api/webhooks/mercadopago",
		map[string]any{"type": "payment", "data": map[string]any{"id": 123456}}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(deps.recon.calls) != 1 || deps.recon.calls[0] != "123456" {
		t.Errorf("recon calls: %v", deps.recon.calls)
	}
}

func TestMercadoPagoWebhook_DuplicateStillAcks200(t *testing.T) {
	deps := newTestServer(t)
	deps.recon.res = recon.Result{Outcome: recon.OutcomeDuplicate}

	rr := doRequest(t, deps.handler, http.MethodPost, "/api/webhooks/mercadopago",
		map[string]any{"type": "payment", "data": map[string]any{"id": 123456}}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("duplicate must still ack 200, got %d", rr.Code)
	}
}

func TestMercadoPagoWebhook_NonPaymentEventIgnored(t *testing.T) {
	deps := newTestServer(t)

	rr := doRequest(t, deps.handler, http.MethodPost, "/api/webhooks/mercadopago",
		map[string]any{"topic": "merchant_order", "resource": "https://api.example/merchant_orders/1"}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if len(deps.recon.calls) != 0 {
		t.Errorf("non-payment event must not reconcile: %v", deps.recon.calls)
	}
}

func TestMercadoPagoWebhook_MalformedBodyAcks200(t *testing.T) {
	deps := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/mercadopago",
		bytes.NewBufferString(`{not json`))
	rr := httptest.NewRecorder()
	deps.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("malformed body must be acked, got %d", rr.Code)
	}
}

func TestMercadoPagoWebhook_UnconfirmableReturns500(t *testing.T) {
	deps := newTestServer(t)
	deps.recon.res = recon.Result{Outcome: recon.OutcomeUnconfirmable}
	deps.recon.err = errors.New("mp api down")

	rr := doRequest(t, deps.handler, http.MethodPost, "/api/webhooks/mercadopago",
		map[string]any{"type": "payment", "data": map[string]any{"id": 1}}, nil)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("unconfirmable should trigger provider redelivery, got %d", rr.Code)
	}
}

func TestMercadoPagoWebhook_GetPing(t *testing.T) {
	deps := newTestServer(t)
	rr := doRequest(t, deps.handler, http.MethodGet, "/api/webhooks/mercadopago", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var resp map[string]string
	decodeJSON(t, rr, &resp)
	if resp["status"] != "ok" {
		t.Errorf("ping status: got %q", resp["status"])
	}
}

// ─── POST /api/webhooks/paddle ───────────────────────────────────────────────

func paddleSign(t *testing.T, body []byte) string {
	t.Helper()
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(testPaddleSecret))
	fmt.Fprintf(mac, "%d:", ts)
	mac.Write(body)
	return fmt.Sprintf("ts=%d;h1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestPaddleWebhook_CompletedTransactionReconciles(t *testing.T) {
	deps := newTestServer(t)
	deps.recon.res = recon.Result{Outcome: recon.OutcomeConfirmed}

	body := []byte(`{"event_type":"transaction.completed","data":{"id":"txn_01","custom_data":{"letterId":"` + uuid.New().String() + `"}}}`)

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/paddle", bytes.NewReader(body))
	req.Header.Set("Paddle-Signature", paddleSign(t, body))
	rr := httptest.NewRecorder()
	deps.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(deps.recon.calls) != 1 || deps.recon.calls[0] != "txn_01" {
		t.Errorf("recon calls: %v", deps.recon.calls)
	}
}

func TestPaddleWebhook_BadSignatureReturns401(t *testing.T) {
	deps := newTestServer(t)

	body := []byte(`{"event_type":"transaction.completed","data":{"id":"txn_01"}}`)
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/paddle", bytes.NewReader(body))
	req.Header.Set("Paddle-Signature", "ts=1;h1=deadbeef")
	rr := httptest.NewRecorder()
	deps.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if len(deps.recon.calls) != 0 {
		t.Errorf("unsigned payload must never reconcile: %v", deps.recon.calls)
	}
}

func TestPaddleWebhook_OtherEventTypesAckedWithoutReconcile(t *testing.T) {
	deps := newTestServer(t)

	body := []byte(`{"event_type":"transaction.created","data":{"id":"txn_02"}}`)
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/paddle", bytes.NewReader(body))
	req.Header.Set("Paddle-Signature", paddleSign(t, body))
	rr := httptest.NewRecorder()
	deps.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if len(deps.recon.calls) != 0 {
		t.Errorf("non-completed event must not reconcile: %v", deps.recon.calls)
	}
}

// ─── POST /api/cron/send ─────────────────────────────────────────────────────

func TestCronSend_RequiresBearerToken(t *testing.T) {
	deps := newTestServer(t)

	for name, headers := range map[string]map[string]string{
		"no header":    nil,
		"wrong token":  {"Authorization": "Bearer wrong"},
		"wrong scheme": {"Authorization": "Basic cron-test-secret"},
	} {
		t.Run(name, func(t *testing.T) {
			rr := doRequest(t, deps.handler, http.MethodPost, "/api/cron/send", nil, headers)
			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rr.Code)
			}
		})
	}
	if deps.sweeper.calls != 0 {
		t.Errorf("unauthorized requests must not trigger sweeps, got %d", deps.sweeper.calls)
	}
}

func TestCronSend_TriggersSweep(t *testing.T) {
	deps := newTestServer(t)
	deps.sweeper.summary = worker.Summary{Processed: 3, Succeeded: 2, Failed: 1}

	rr := doRequest(t, deps.handler, http.MethodPost, "/api/cron/send", nil,
		map[string]string{"Authorization": "Bearer cron-test-secret"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Processed int `json:"processed"`
		Succeeded int `json:"succeeded"`
		Failed    int `json:"failed"`
	}
	decodeJSON(t, rr, &resp)
	if resp.Processed != 3 || resp.Succeeded != 2 || resp.Failed != 1 {
		t.Errorf("summary: %+v", resp)
	}
}

func TestCronSend_ConcurrentSweepReturns409(t *testing.T) {
	deps := newTestServer(t)
	deps.sweeper.err = worker.ErrSweepInProgress

	rr := doRequest(t, deps.handler, http.MethodPost, "/api/cron/send", nil,
		map[string]string{"Authorization": "Bearer cron-test-secret"})
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
}

func TestCronSend_NoSecretConfiguredRefuses(t *testing.T) {
	deps := newTestServer(t, func(c *api.Config) { c.CronSecret = "" })

	rr := doRequest(t, deps.handler, http.MethodPost, "/api/cron/send", nil,
		map[string]string{"Authorization": "Bearer "})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with no configured secret, got %d", rr.Code)
	}
}

// ─── CORS ─────────────────────────────────────────────────────────────────────

func TestCORS_PreflightReturns204(t *testing.T) {
	deps := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/letters", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rr := httptest.NewRecorder()
	deps.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Error("missing Access-Control-Allow-Origin header")
	}
}
