package api

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/liammdev/cartasecreta/internal/db"
	"github.com/liammdev/cartasecreta/internal/payment"
	"github.com/liammdev/cartasecreta/internal/recon"
	"github.com/liammdev/cartasecreta/internal/store"
)

// premiumPriceUSD is the flat price for a premium letter.
const premiumPriceUSD = 1.00

// checkoutRequest is shared by both checkout-initiation endpoints.
type checkoutRequest struct {
	LetterID string `json:"letter_id"`
}

// loadPayableLetter fetches the letter and applies the guards common to
// every checkout initiation: it must exist, be premium, and not be paid.
// On failure it writes the response and returns false.
func (s *Server) loadPayableLetter(w http.ResponseWriter, r *http.Request, rawID string) (db.Letter, bool) {
	id, err := parseUUID(rawID)
	if err != nil {
		respondErr(w, http.StatusBadRequest, "invalid letter_id")
		return db.Letter{}, false
	}

	letter, err := s.q.GetLetterByID(r.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		respondErr(w, http.StatusNotFound, "letter not found")
		return db.Letter{}, false
	}
	if err != nil {
		s.respondInternalErr(w, r, fmt.Errorf("get letter: %w", err))
		return db.Letter{}, false
	}

	if !letter.IsPremium {
		respondErr(w, http.StatusBadRequest, "letter does not require payment")
		return db.Letter{}, false
	}
	if letter.PaymentStatus == db.PaymentStatusPaid {
		respondErr(w, http.StatusBadRequest, "letter is already paid")
		return db.Letter{}, false
	}

	return letter, true
}

// ─── POST /api/checkout/mercadopago ───────────────────────────────────────────

type mpCheckoutResponse struct {
	PreferenceID string `json:"preference_id"`
	InitPoint    string `json:"init_point"`
}

// handleMercadoPagoCheckout creates a hosted-checkout preference. The letter
// id travels as external_reference and comes back in the webhook's payment
// object, which is how the Confirm pipeline finds the row.
func (s *Server) handleMercadoPagoCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if !decode(w, r, &req) {
		return
	}

	letter, ok := s.loadPayableLetter(w, r, req.LetterID)
	if !ok {
		return
	}

	pref, err := s.mp.CreatePreference(r.Context(), payment.CreatePreferenceParams{
		LetterID:     letter.ID.String(),
		SenderName:   letter.SenderName,
		ReceiverName: letter.ReceiverName,
		AmountUSD:    premiumPriceUSD,
		BaseURL:      s.cfg.BaseURL,
	})
	if err != nil {
		s.logger.Error("checkout: mercadopago preference failed",
			"letter_id", letter.ID, "error", err, logField(r))
		respondErr(w, http.StatusBadGateway, "could not start checkout")
		return
	}

	respond(w, http.StatusCreated, mpCheckoutResponse{
		PreferenceID: pref.ID,
		InitPoint:    pref.InitPoint,
	})
}

// ─── POST /api/checkout/paypal ────────────────────────────────────────────────

type paypalOrderResponse struct {
	OrderID string `json:"order_id"`
}

// handleCreatePaypalOrder creates a PayPal order and records its id on the
// letter. The reference_id inside the order carries the letter id back out
// of the capture response.
func (s *Server) handleCreatePaypalOrder(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if !decode(w, r, &req) {
		return
	}

	letter, ok := s.loadPayableLetter(w, r, req.LetterID)
	if !ok {
		return
	}

	orderID, err := s.paypal.CreateOrder(r.Context(), payment.CreateOrderParams{
		LetterID:     letter.ID.String(),
		SenderName:   letter.SenderName,
		ReceiverName: letter.ReceiverName,
		AmountUSD:    fmt.Sprintf("%.2f", premiumPriceUSD),
	})
	if err != nil {
		s.logger.Error("checkout: paypal order failed",
			"letter_id", letter.ID, "error", err, logField(r))
		respondErr(w, http.StatusBadGateway, "could not start checkout")
		return
	}

	attached, err := s.store.AttachPaypalOrder(r.Context(), db.AttachPaypalOrderParams{
		ID:      letter.ID,
		OrderID: orderID,
	})
	if errors.Is(err, store.ErrOrderAlreadyAttached) {
		// Double-clicked checkout button. Hand back the order already on the
		// letter; the one we just created is abandoned and expires at PayPal.
		respond(w, http.StatusOK, paypalOrderResponse{OrderID: attached.PaypalOrderID.String})
		return
	}
	if err != nil {
		s.respondInternalErr(w, r, fmt.Errorf("attach paypal order: %w", err))
		return
	}

	respond(w, http.StatusCreated, paypalOrderResponse{OrderID: orderID})
}

// ─── POST /api/checkout/paypal/capture ────────────────────────────────────────

type paypalCaptureRequest struct {
	OrderID string `json:"order_id"`
}

type paypalCaptureResponse struct {
	Status   string `json:"status"`
	LetterID string `json:"letter_id,omitempty"`
}

// handleCapturePaypalOrder captures the approved order and feeds the result
// through the same Confirm pipeline the webhooks use. Unlike the webhooks
// this endpoint faces the buyer, so non-success outcomes map to real HTTP
// errors instead of quiet acks.
func (s *Server) handleCapturePaypalOrder(w http.ResponseWriter, r *http.Request) {
	var req paypalCaptureRequest
	if !decode(w, r, &req) {
		return
	}
	if req.OrderID == "" {
		respondErr(w, http.StatusBadRequest, "order_id is required")
		return
	}

	res, err := s.recon.Confirm(r.Context(), db.PaymentMethodPayPal, s.paypal, req.OrderID)
	if err != nil {
		s.logger.Error("checkout: paypal capture unconfirmable",
			"order_id", req.OrderID, "error", err, logField(r))
		respondErr(w, http.StatusBadGateway, "could not confirm payment with PayPal")
		return
	}

	switch res.Outcome {
	case recon.OutcomeConfirmed, recon.OutcomeDuplicate:
		respond(w, http.StatusOK, paypalCaptureResponse{
			Status:   "paid",
			LetterID: res.Letter.ID.String(),
		})
	case recon.OutcomeNotApproved:
		respondErr(w, http.StatusPaymentRequired, "payment was not completed")
	default: // OutcomeIgnored — capture succeeded but no letter matches
		respondErr(w, http.StatusNotFound, "no letter found for this order")
	}
}
