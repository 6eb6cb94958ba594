package api

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/liammdev/cartasecreta/internal/db"
	"github.com/liammdev/cartasecreta/internal/email"
	"github.com/liammdev/cartasecreta/internal/metrics"
)

// ─── POST /api/letters ────────────────────────────────────────────────────────

type createLetterRequest struct {
	SenderName       string `json:"sender_name"`
	ReceiverName     string `json:"receiver_name"`
	ReceiverEmail    string `json:"receiver_email"`
	MessageType      string `json:"message_type"`
	Theme            string `json:"theme"`
	CustomContent    string `json:"custom_content"`
	RelationshipType string `json:"relationship_type"`
	PhotoURL         string `json:"photo_url"`
	MusicURL         string `json:"music_url"`
	IsPremium        bool   `json:"is_premium"`

	// ScheduledAt is the sender's local wall time, "2006-01-02T15:04".
	// Empty means send immediately. Timezone is required when set.
	ScheduledAt string `json:"scheduled_at"`
	Timezone    string `json:"timezone"`
}

type createLetterResponse struct {
	LetterID string `json:"letter_id"`
	Status   string `json:"status"`
	URL      string `json:"url"`
}

// handleCreateLetter creates a letter and routes it down one of three paths:
//
//   - premium           → pending_payment, nothing sent until a provider confirms
//   - scheduled (free)  → pending, the dispatch sweep sends it when due
//   - free immediate    → sent right here, before the response is written
func (s *Server) handleCreateLetter(w http.ResponseWriter, r *http.Request) {
	var req createLetterRequest
	if !decode(w, r, &req) {
		return
	}

	req.SenderName = strings.TrimSpace(req.SenderName)
	req.ReceiverName = strings.TrimSpace(req.ReceiverName)
	req.ReceiverEmail = strings.TrimSpace(req.ReceiverEmail)

	switch {
	case req.SenderName == "" || req.ReceiverName == "":
		respondErr(w, http.StatusBadRequest, "sender_name and receiver_name are required")
		return
	case !validEmail(req.ReceiverEmail):
		respondErr(w, http.StatusBadRequest, "receiver_email is not a valid address")
		return
	case req.MessageType == "":
		respondErr(w, http.StatusBadRequest, "message_type is required")
		return
	case req.ScheduledAt != "" && req.Timezone == "":
		respondErr(w, http.StatusBadRequest, "timezone is required for scheduled letters")
		return
	}

	if req.Theme == "" {
		req.Theme = "classic"
	}
	if req.RelationshipType == "" {
		req.RelationshipType = "pareja"
	}

	// Decide the initial lifecycle state. Premium wins over scheduling: a
	// scheduled premium letter still waits for payment first, and the paid
	// transition sends it (scheduling is a free-tier feature).
	status := db.LetterStatusSending
	paymentStatus := db.PaymentStatusFree
	scheduled := req.ScheduledAt != "" && !req.IsPremium

	switch {
	case req.IsPremium:
		status = db.LetterStatusPendingPayment
		paymentStatus = db.PaymentStatusPending
	case scheduled:
		status = db.LetterStatusPending
	}

	letter, err := s.q.CreateLetter(r.Context(), db.CreateLetterParams{
		ID:               uuid.New(),
		SenderName:       req.SenderName,
		ReceiverName:     req.ReceiverName,
		ReceiverEmail:    req.ReceiverEmail,
		MessageType:      req.MessageType,
		Theme:            req.Theme,
		CustomContent:    req.CustomContent,
		RelationshipType: req.RelationshipType,
		PhotoURL:         req.PhotoURL,
		MusicURL:         req.MusicURL,
		Status:           status,
		PaymentStatus:    paymentStatus,
		IsPremium:        req.IsPremium,
		Timezone:         req.Timezone,
		ScheduledAt:      scheduledAtOrEmpty(req, scheduled),
	})
	if err != nil {
		s.respondInternalErr(w, r, fmt.Errorf("create letter: %w", err))
		return
	}
	metrics.LettersCreated.Inc()

	// Free immediate path: deliver before responding so the sender knows it
	// went out. The row was created in 'sending' for this path.
	if status == db.LetterStatusSending {
		provider, sendErr := s.mailer.SendLetter(r.Context(), email.LetterParams{
			To:           letter.ReceiverEmail,
			SenderName:   letter.SenderName,
			ReceiverName: letter.ReceiverName,
			MessageType:  letter.MessageType,
			LetterID:     letter.ID.String(),
		})
		if sendErr != nil {
			s.logger.Error("create letter: delivery failed",
				"letter_id", letter.ID, "error", sendErr, logField(r))
			if _, err := s.q.MarkLetterFailed(r.Context(), letter.ID); err != nil {
				s.logger.Error("create letter: could not mark letter failed",
					"letter_id", letter.ID, "error", err, logField(r))
			}
			respondErr(w, http.StatusBadGateway, "could not deliver the letter, please try again")
			return
		}
		letter, err = s.q.MarkLetterSent(r.Context(), db.MarkLetterSentParams{
			ID:            letter.ID,
			EmailProvider: provider,
		})
		if err != nil {
			s.respondInternalErr(w, r, fmt.Errorf("mark letter sent: %w", err))
			return
		}
	}

	respond(w, http.StatusCreated, createLetterResponse{
		LetterID: letter.ID.String(),
		Status:   string(letter.Status),
		URL:      s.cfg.BaseURL + "/carta/" + letter.ID.String(),
	})
}

func scheduledAtOrEmpty(req createLetterRequest, scheduled bool) string {
	if !scheduled {
		return ""
	}
	return req.ScheduledAt
}

// ─── GET /api/letters/{letterID} ─────────────────────────────────────────────

type letterResponse struct {
	LetterID         string `json:"letter_id"`
	Locked           bool   `json:"locked"`
	SenderName       string `json:"sender_name,omitempty"`
	ReceiverName     string `json:"receiver_name,omitempty"`
	MessageType      string `json:"message_type,omitempty"`
	Response         string `json:"response,omitempty"`
	Theme            string `json:"theme"`
	CustomContent    string `json:"custom_content,omitempty"`
	RelationshipType string `json:"relationship_type,omitempty"`
	PhotoURL         string `json:"photo_url,omitempty"`
	MusicURL         string `json:"music_url,omitempty"`
	IsPremium        bool   `json:"is_premium"`
	Status           string `json:"status"`
}

// handleGetLetter returns the letter view payload. A premium letter whose
// payment never arrived stays locked: the content fields are withheld so
// the hosted-checkout URL cannot be skipped.
func (s *Server) handleGetLetter(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUID(chi.URLParam(r, "letterID"))
	if err != nil {
		respondErr(w, http.StatusBadRequest, "invalid letter id")
		return
	}

	letter, err := s.q.GetLetterByID(r.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		respondErr(w, http.StatusNotFound, "letter not found")
		return
	}
	if err != nil {
		s.respondInternalErr(w, r, fmt.Errorf("get letter: %w", err))
		return
	}

	if letter.IsPremium && letter.PaymentStatus != db.PaymentStatusPaid {
		respond(w, http.StatusOK, letterResponse{
			LetterID:  letter.ID.String(),
			Locked:    true,
			Theme:     letter.Theme,
			IsPremium: true,
			Status:    string(letter.Status),
		})
		return
	}

	respond(w, http.StatusOK, letterResponse{
		LetterID:         letter.ID.String(),
		SenderName:       letter.SenderName,
		ReceiverName:     letter.ReceiverName,
		MessageType:      letter.MessageType,
		Response:         letter.Response.String,
		Theme:            letter.Theme,
		CustomContent:    letter.CustomContent.String,
		RelationshipType: letter.RelationshipType,
		PhotoURL:         letter.PhotoURL.String,
		MusicURL:         letter.MusicURL.String,
		IsPremium:        letter.IsPremium,
		Status:           string(letter.Status),
	})
}

// ─── POST /api/letters/{letterID}/respond ────────────────────────────────────

type respondRequest struct {
	Response string `json:"response"`
}

// handleRespond stores the recipient's answer ("yes" / "no").
func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUID(chi.URLParam(r, "letterID"))
	if err != nil {
		respondErr(w, http.StatusBadRequest, "invalid letter id")
		return
	}

	var req respondRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Response != "yes" && req.Response != "no" {
		respondErr(w, http.StatusBadRequest, `response must be "yes" or "no"`)
		return
	}

	letter, err := s.q.SetLetterResponse(r.Context(), db.SetLetterResponseParams{
		ID:       id,
		Response: req.Response,
	})
	if errors.Is(err, sql.ErrNoRows) {
		respondErr(w, http.StatusNotFound, "letter not found")
		return
	}
	if err != nil {
		s.respondInternalErr(w, r, fmt.Errorf("set letter response: %w", err))
		return
	}

	respond(w, http.StatusOK, map[string]string{
		"letter_id": letter.ID.String(),
		"response":  letter.Response.String,
	})
}

// ─── PATCH /api/letters/{letterID}/sender-email ──────────────────────────────

type senderEmailRequest struct {
	SenderEmail string `json:"sender_email"`
}

// handleSetSenderEmail attaches the sender's address after submission, so
// they can be notified when the recipient responds.
func (s *Server) handleSetSenderEmail(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUID(chi.URLParam(r, "letterID"))
	if err != nil {
		respondErr(w, http.StatusBadRequest, "invalid letter id")
		return
	}

	var req senderEmailRequest
	if !decode(w, r, &req) {
		return
	}
	req.SenderEmail = strings.TrimSpace(req.SenderEmail)
	if !validEmail(req.SenderEmail) {
		respondErr(w, http.StatusBadRequest, "sender_email is not a valid address")
		return
	}

	letter, err := s.q.SetSenderEmail(r.Context(), db.SetSenderEmailParams{
		ID:          id,
		SenderEmail: req.SenderEmail,
	})
	if errors.Is(err, sql.ErrNoRows) {
		respondErr(w, http.StatusNotFound, "letter not found")
		return
	}
	if err != nil {
		s.respondInternalErr(w, r, fmt.Errorf("set sender email: %w", err))
		return
	}

	respond(w, http.StatusOK, map[string]string{
		"letter_id":    letter.ID.String(),
		"sender_email": letter.SenderEmail.String,
	})
}

// ─── HELPERS ─────────────────────────────────────────────────────────────────

// validEmail is a cheap shape check, not RFC validation. The email provider
// is the real authority on deliverability.
func validEmail(s string) bool {
	at := strings.IndexByte(s, '@')
	return at > 0 && at < len(s)-3 && strings.Contains(s[at:], ".")
}
