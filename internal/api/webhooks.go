package api

import (
	"io"
	"net/http"

	"github.com/liammdev/cartasecreta/internal/db"
	"github.com/liammdev/cartasecreta/internal/payment"
)

// Webhook ground rules, identical for both providers:
//
//   - Business rejections (duplicate delivery, unknown letter, non-approved
//     payment) are acked with 200. The event is settled; a retry would only
//     produce the same answer and a non-2xx would have the provider hammer
//     us with redeliveries.
//   - Only transport-level failures get a non-2xx: a bad Paddle signature
//     (401) or a verification we could not complete because an upstream API
//     or the database was down (500, so the provider redelivers later).

// ─── POST /api/webhooks/mercadopago ───────────────────────────────────────────

// handleMercadoPagoWebhook receives payment notifications. The body is
// untrusted: only the payment id is taken from it, and the authoritative
// status comes from a direct API fetch inside the Confirm pipeline.
func (s *Server) handleMercadoPagoWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 65536)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondErr(w, http.StatusBadRequest, "could not read request body")
		return
	}

	paymentID := payment.ExtractPaymentID(body)
	if paymentID == "" {
		// Not a payment notification (or a malformed one). Ack so the
		// provider does not retry something we will never act on.
		s.logger.Debug("webhook: mercadopago event without payment id", logField(r))
		respond(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	res, err := s.recon.Confirm(r.Context(), db.PaymentMethodMercadoPago, s.mp, paymentID)
	if err != nil {
		s.logger.Error("webhook: mercadopago unconfirmable",
			"payment_id", paymentID, "error", err, logField(r))
		respondErr(w, http.StatusInternalServerError, "verification failed")
		return
	}

	s.logger.Info("webhook: mercadopago processed",
		"payment_id", paymentID, "outcome", res.Outcome.String(), logField(r))
	respond(w, http.StatusOK, map[string]string{"status": res.Outcome.String()})
}

// handleMercadoPagoWebhookPing answers the dashboard's endpoint check.
func (s *Server) handleMercadoPagoWebhookPing(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ─── POST /api/webhooks/paddle ────────────────────────────────────────────────

// handlePaddleWebhook receives Paddle billing events. There is no payment
// API to call back into: the HMAC signature over the raw body is what makes
// the payload trustworthy, so a verified transaction.completed feeds the
// Confirm pipeline directly.
func (s *Server) handlePaddleWebhook(w http.ResponseWriter, r *http.Request) {
	if !s.paddle.Configured() {
		respondErr(w, http.StatusNotImplemented, "paddle is not configured")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 65536)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondErr(w, http.StatusBadRequest, "could not read request body")
		return
	}

	if !s.paddle.VerifySignature(r.Header.Get("Paddle-Signature"), body) {
		s.logger.Warn("webhook: paddle signature rejected", logField(r))
		respondErr(w, http.StatusUnauthorized, "invalid webhook signature")
		return
	}

	event, err := payment.ParseEvent(body)
	if err != nil {
		// Signed but unparsable. Nothing to retry — ack and move on.
		s.logger.Warn("webhook: paddle event unparsable", "error", err, logField(r))
		respond(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	if event.EventType != "transaction.completed" {
		s.logger.Debug("webhook: paddle event skipped", "type", event.EventType, logField(r))
		respond(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	res, err := s.recon.Confirm(r.Context(), db.PaymentMethodPaddle,
		payment.Trusted(event.Result()), event.TxnID)
	if err != nil {
		s.logger.Error("webhook: paddle unconfirmable",
			"txn_id", event.TxnID, "error", err, logField(r))
		respondErr(w, http.StatusInternalServerError, "verification failed")
		return
	}

	s.logger.Info("webhook: paddle processed",
		"txn_id", event.TxnID, "outcome", res.Outcome.String(), logField(r))
	respond(w, http.StatusOK, map[string]string{"status": res.Outcome.String()})
}
