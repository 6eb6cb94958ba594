// Package recon implements payment reconciliation: confirming a provider
// transaction authoritatively and applying exactly one paid transition plus
// notification per letter. It is written once against payment.Verifier so
// the three providers share a single code path instead of three copies of
// the same handler.
package recon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/liammdev/cartasecreta/internal/db"
	"github.com/liammdev/cartasecreta/internal/email"
	"github.com/liammdev/cartasecreta/internal/metrics"
	"github.com/liammdev/cartasecreta/internal/payment"
	"github.com/liammdev/cartasecreta/internal/store"
)

// Outcome says what a Confirm call did. Webhook handlers ack 200 for every
// outcome; the distinction exists for logging, metrics, and the PayPal
// capture endpoint's user-facing response.
type Outcome int

const (
	// OutcomeConfirmed — this invocation owned the paid transition and the
	// notification attempt.
	OutcomeConfirmed Outcome = iota
	// OutcomeDuplicate — the conditional update affected zero rows; an
	// earlier invocation already completed the transition. Idempotent no-op.
	OutcomeDuplicate
	// OutcomeNotApproved — the provider reported a non-success status.
	// Terminal for this event, no mutation.
	OutcomeNotApproved
	// OutcomeIgnored — no usable letter reference (unknown letter, missing
	// external reference). Acked and dropped.
	OutcomeIgnored
	// OutcomeUnconfirmable — the provider could not be reached or answered
	// with an error. State untouched; the provider's redelivery will retry.
	OutcomeUnconfirmable
)

func (o Outcome) String() string {
	switch o {
	case OutcomeConfirmed:
		return "confirmed"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeNotApproved:
		return "not_approved"
	case OutcomeIgnored:
		return "ignored"
	default:
		return "unconfirmable"
	}
}

// Result is what Confirm hands back to the caller.
type Result struct {
	Outcome Outcome
	// Letter is the committed row for Confirmed and Duplicate outcomes.
	Letter db.Letter
}

// letterStore is the slice of *store.Store the reconciler needs.
type letterStore interface {
	MarkLetterPaid(ctx context.Context, p db.MarkLetterPaidParams) (db.Letter, error)
	Q() db.Querier
}

// letterMailer matches *email.LetterMailer.
type letterMailer interface {
	SendLetter(ctx context.Context, p email.LetterParams) (string, error)
}

// Reconciler applies the confirm-verify-transition-notify pipeline.
type Reconciler struct {
	store  letterStore
	mailer letterMailer
	logger *slog.Logger
}

// New constructs a Reconciler.
func New(st letterStore, mailer letterMailer, logger *slog.Logger) *Reconciler {
	return &Reconciler{store: st, mailer: mailer, logger: logger}
}

// Confirm verifies ref through v and, on confirmed success, applies the
// conditional paid transition and sends the notification email.
//
// The returned error is non-nil only for OutcomeUnconfirmable; every other
// outcome is a settled decision and webhook callers must ack it with 200 —
// a non-2xx on a settled event only invites the provider's retry storm.
// Unconfirmable is the one case worth a non-2xx, so the provider
// redelivers once the upstream API or the database is back.
//
// A notification failure after the transition never rolls the payment
// back: the money moved in the real world, so the failure is logged and
// surfaced through metrics only.
func (r *Reconciler) Confirm(ctx context.Context, method db.PaymentMethod, v payment.Verifier, ref string) (Result, error) {
	log := r.logger.With("provider", string(method), "ref", ref)

	res, err := v.Verify(ctx, ref)
	if err != nil {
		// Network/auth/timeout — not a negative confirmation. Leave the
		// letter untouched and let the provider redeliver.
		log.Warn("recon: cannot confirm payment yet", "error", err)
		return Result{Outcome: OutcomeUnconfirmable}, fmt.Errorf("recon: verify %s %s: %w", method, ref, err)
	}

	if !res.Paid {
		log.Info("recon: payment not in success status, ignoring", "status", res.Status)
		return Result{Outcome: OutcomeNotApproved}, nil
	}

	if res.LetterID == "" {
		log.Info("recon: confirmed payment has no letter reference, ignoring")
		return Result{Outcome: OutcomeIgnored}, nil
	}
	letterID, err := uuid.Parse(res.LetterID)
	if err != nil {
		log.Warn("recon: letter reference is not a valid id, ignoring", "letter_ref", res.LetterID)
		return Result{Outcome: OutcomeIgnored}, nil
	}

	providerRef := res.ProviderRef
	if providerRef == "" {
		providerRef = ref
	}

	letter, err := r.store.MarkLetterPaid(ctx, db.MarkLetterPaidParams{
		ID:          letterID,
		Method:      method,
		ProviderRef: providerRef,
	})
	if errors.Is(err, store.ErrAlreadyPaid) {
		// A concurrent or earlier delivery owns the side effects. The
		// committed state is what we wanted — skip the email.
		log.Info("recon: letter already processed, skipping", "letter_id", letterID)
		metrics.PaymentsDuplicate.WithLabelValues(string(method)).Inc()
		return Result{Outcome: OutcomeDuplicate, Letter: letter}, nil
	}
	if errors.Is(err, store.ErrLetterNotFound) {
		log.Warn("recon: confirmed payment references unknown letter", "letter_id", letterID)
		return Result{Outcome: OutcomeIgnored}, nil
	}
	if err != nil {
		// The DB write itself failed; the letter is still unpaid and the
		// provider will redeliver.
		log.Error("recon: paid transition failed", "letter_id", letterID, "error", err)
		return Result{Outcome: OutcomeUnconfirmable}, fmt.Errorf("recon: mark paid: %w", err)
	}

	log.Info("recon: payment confirmed", "letter_id", letterID, "status", res.Status)
	metrics.PaymentsConfirmed.WithLabelValues(string(method)).Inc()

	// This invocation owns the notification. Failure here is logged, never
	// propagated — the transition is already committed.
	provider, sendErr := r.mailer.SendLetter(ctx, email.LetterParams{
		To:           letter.ReceiverEmail,
		SenderName:   letter.SenderName,
		ReceiverName: letter.ReceiverName,
		MessageType:  letter.MessageType,
		LetterID:     letter.ID.String(),
	})
	if sendErr != nil {
		log.Error("recon: notification email failed after paid transition",
			"letter_id", letterID,
			"to", letter.ReceiverEmail,
			"error", sendErr,
		)
		return Result{Outcome: OutcomeConfirmed, Letter: letter}, nil
	}

	updated, dbErr := r.store.Q().SetEmailProvider(ctx, db.SetEmailProviderParams{
		ID:            letter.ID,
		EmailProvider: provider,
	})
	if dbErr != nil {
		// Audit column only — the letter is paid, sent, and delivered.
		log.Warn("recon: could not record email provider", "letter_id", letterID, "error", dbErr)
		return Result{Outcome: OutcomeConfirmed, Letter: letter}, nil
	}

	return Result{Outcome: OutcomeConfirmed, Letter: updated}, nil
}
