// Package worker contains the scheduled dispatch sweep: the batch job that
// finds letters whose send time has elapsed and delivers them through the
// email fallback chain. It is decoupled from the HTTP layer — the api
// package triggers sweeps through a narrow interface and never imports the
// concrete Runner.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/liammdev/cartasecreta/internal/db"
	"github.com/liammdev/cartasecreta/internal/email"
	"github.com/liammdev/cartasecreta/internal/metrics"
	"github.com/liammdev/cartasecreta/internal/store"
)

// Summary reports one sweep's outcome.
type Summary struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	// Skipped counts letters another instance claimed between our SELECT
	// and our claim. Not part of the external contract, useful in logs.
	Skipped int `json:"-"`
}

// letterStore is the slice of *store.Store the sweep needs.
type letterStore interface {
	ClaimForDispatch(ctx context.Context, id uuid.UUID) (db.Letter, error)
	FinishDispatch(ctx context.Context, id uuid.UUID, emailProvider string, delivered bool) (db.Letter, error)
}

// letterMailer matches *email.LetterMailer.
type letterMailer interface {
	SendLetter(ctx context.Context, p email.LetterParams) (string, error)
}

// Sweeper executes one dispatch sweep: select due letters, claim each with
// a conditional update, deliver, finalize.
type Sweeper struct {
	q         db.Querier
	store     letterStore
	mailer    letterMailer
	batchSize int32
	logger    *slog.Logger
}

// NewSweeper constructs a Sweeper. batchSize bounds a single invocation's
// work; anything beyond it waits for the next tick.
func NewSweeper(q db.Querier, st letterStore, mailer letterMailer, batchSize int32, logger *slog.Logger) *Sweeper {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Sweeper{q: q, store: st, mailer: mailer, batchSize: batchSize, logger: logger}
}

// RunSweep processes one batch of due letters. Each letter is handled
// independently: a delivery failure marks that letter failed and moves on,
// it never aborts the batch. The returned error covers only the initial
// SELECT — per-letter failures are part of the Summary.
func (s *Sweeper) RunSweep(ctx context.Context) (Summary, error) {
	letters, err := s.q.ListDueLetters(ctx, s.batchSize)
	if err != nil {
		return Summary{}, fmt.Errorf("sweep: list due letters: %w", err)
	}

	var sum Summary
	for _, l := range letters {
		select {
		case <-ctx.Done():
			return sum, ctx.Err()
		default:
		}
		s.dispatch(ctx, l, &sum)
	}

	if sum.Processed > 0 || sum.Skipped > 0 {
		s.logger.Info("sweep: completed",
			"processed", sum.Processed,
			"succeeded", sum.Succeeded,
			"failed", sum.Failed,
			"skipped", sum.Skipped,
		)
	}
	return sum, nil
}

// dispatch claims and delivers a single letter.
func (s *Sweeper) dispatch(ctx context.Context, l db.Letter, sum *Summary) {
	log := s.logger.With("letter_id", l.ID)

	// Claim before sending: the conditional update is what stops an
	// overlapping sweep on another instance from double-sending.
	claimed, err := s.store.ClaimForDispatch(ctx, l.ID)
	if errors.Is(err, store.ErrNotClaimable) {
		log.Debug("sweep: letter claimed elsewhere, skipping")
		sum.Skipped++
		return
	}
	if err != nil {
		log.Error("sweep: claim failed", "error", err)
		sum.Skipped++
		return
	}

	sum.Processed++

	provider, sendErr := s.mailer.SendLetter(ctx, email.LetterParams{
		To:           claimed.ReceiverEmail,
		SenderName:   claimed.SenderName,
		ReceiverName: claimed.ReceiverName,
		MessageType:  claimed.MessageType,
		LetterID:     claimed.ID.String(),
	})

	if sendErr != nil {
		log.Error("sweep: delivery failed, marking letter failed", "error", sendErr)
		if _, err := s.store.FinishDispatch(ctx, claimed.ID, "", false); err != nil {
			log.Error("sweep: could not mark letter failed", "error", err)
		}
		metrics.SweepLetters.WithLabelValues("failed").Inc()
		sum.Failed++
		return
	}

	if _, err := s.store.FinishDispatch(ctx, claimed.ID, provider, true); err != nil {
		// The email went out but the finalize write failed; the letter is
		// stuck in 'sending' for operator attention. Do not re-claim.
		log.Error("sweep: could not mark letter sent", "provider", provider, "error", err)
	}
	metrics.SweepLetters.WithLabelValues("sent").Inc()
	sum.Succeeded++
}
