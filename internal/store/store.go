// Package store wraps db.Querier with the guarded state transitions of the
// letter lifecycle. Every transition here is a single conditional UPDATE —
// the only concurrency primitive this system relies on, since webhook
// deliveries and sweep runs may execute on separate instances with no
// shared memory.
//
// Single-query reads (GetLetterByID etc.) should be called directly on
// db.Querier in handlers — there is no value in proxying them through this
// package.
//
// Dependency rule: store imports db only. It never imports api, worker,
// recon, payment, or email.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/liammdev/cartasecreta/internal/db"
)

// ─── ERRORS ──────────────────────────────────────────────────────────────────

// ErrLetterNotFound is returned when the referenced letter does not exist.
var ErrLetterNotFound = errors.New("store: letter not found")

// ErrAlreadyPaid means the conditional paid-transition affected zero rows:
// an earlier invocation (possibly a concurrent duplicate webhook delivery)
// already completed it. Callers must treat this as an idempotent no-op and
// must not send the notification email.
var ErrAlreadyPaid = errors.New("store: letter already paid")

// ErrOrderAlreadyAttached is returned when a letter already has a PayPal
// order id. The checkout handler should return the existing order rather
// than creating a second one.
var ErrOrderAlreadyAttached = errors.New("store: paypal order already attached to letter")

// ErrNotClaimable means the letter left the 'pending' state between the
// sweep's SELECT and its claim — another sweep instance won the row, or a
// payment transition got there first. Not an error condition for the sweep.
var ErrNotClaimable = errors.New("store: letter is not claimable for dispatch")

// Store attaches the guarded transitions to a pool + Querier pair.
type Store struct {
	pool *sql.DB
	q    db.Querier
}

// New creates a Store from a live connection pool. The pool must already be
// open and verified (e.g. via PingContext) before calling New.
func New(pool *sql.DB, q db.Querier) *Store {
	return &Store{pool: pool, q: q}
}

// Q exposes the underlying Querier so callers can run single-query reads
// without going through a store method.
func (s *Store) Q() db.Querier {
	return s.q
}

// ─── PAID TRANSITION ─────────────────────────────────────────────────────────

// MarkLetterPaid applies the exactly-once paid transition: payment_status
// 'paid', the provider's correlation column, status 'sent', sent_at. The
// returned letter is the committed row; on ErrAlreadyPaid the previously
// committed row is returned so callers can still log its state.
//
// Which concurrent duplicate wins is deliberately unspecified — the
// committed state is identical either way.
func (s *Store) MarkLetterPaid(ctx context.Context, p db.MarkLetterPaidParams) (db.Letter, error) {
	letter, err := s.q.MarkLetterPaid(ctx, p)
	if errors.Is(err, sql.ErrNoRows) {
		// Zero rows: either a duplicate delivery or an unknown letter.
		existing, getErr := s.q.GetLetterByID(ctx, p.ID)
		if errors.Is(getErr, sql.ErrNoRows) {
			return db.Letter{}, ErrLetterNotFound
		}
		if getErr != nil {
			return db.Letter{}, fmt.Errorf("MarkLetterPaid: reread letter: %w", getErr)
		}
		return existing, ErrAlreadyPaid
	}
	if err != nil {
		return db.Letter{}, fmt.Errorf("MarkLetterPaid: %w", err)
	}
	return letter, nil
}

// ─── CHECKOUT ────────────────────────────────────────────────────────────────

// AttachPaypalOrder records the order id created at checkout initiation.
//
// Race scenario without the guard: two browser tabs initiate checkout, both
// create an order at PayPal, and the second write silently overwrites the
// first — orphaning an order the buyer may be mid-approval on. The
// conditional update lets exactly one write land; the loser receives
// ErrOrderAlreadyAttached along with the winning row so the handler can
// return the existing order id.
func (s *Store) AttachPaypalOrder(ctx context.Context, p db.AttachPaypalOrderParams) (db.Letter, error) {
	letter, err := s.q.AttachPaypalOrder(ctx, p)
	if errors.Is(err, sql.ErrNoRows) {
		existing, getErr := s.q.GetLetterByID(ctx, p.ID)
		if errors.Is(getErr, sql.ErrNoRows) {
			return db.Letter{}, ErrLetterNotFound
		}
		if getErr != nil {
			return db.Letter{}, fmt.Errorf("AttachPaypalOrder: reread letter: %w", getErr)
		}
		return existing, ErrOrderAlreadyAttached
	}
	if err != nil {
		return db.Letter{}, fmt.Errorf("AttachPaypalOrder: %w", err)
	}
	return letter, nil
}

// ─── DISPATCH SWEEP ──────────────────────────────────────────────────────────

// ClaimForDispatch moves a pending letter to 'sending' so exactly one sweep
// invocation owns its delivery attempt.
func (s *Store) ClaimForDispatch(ctx context.Context, id uuid.UUID) (db.Letter, error) {
	letter, err := s.q.ClaimDueLetter(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return db.Letter{}, ErrNotClaimable
	}
	if err != nil {
		return db.Letter{}, fmt.Errorf("ClaimForDispatch: %w", err)
	}
	return letter, nil
}

// FinishDispatch finalizes a claimed letter: 'sent' with the delivering
// provider on success, terminal 'failed' otherwise.
func (s *Store) FinishDispatch(ctx context.Context, id uuid.UUID, emailProvider string, delivered bool) (db.Letter, error) {
	if delivered {
		letter, err := s.q.MarkLetterSent(ctx, db.MarkLetterSentParams{ID: id, EmailProvider: emailProvider})
		if err != nil {
			return db.Letter{}, fmt.Errorf("FinishDispatch: mark sent: %w", err)
		}
		return letter, nil
	}
	letter, err := s.q.MarkLetterFailed(ctx, id)
	if err != nil {
		return db.Letter{}, fmt.Errorf("FinishDispatch: mark failed: %w", err)
	}
	return letter, nil
}
