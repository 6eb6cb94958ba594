package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// DBTX is the subset of *sql.DB / *sql.Tx the queries need.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries is the concrete Querier backed by Postgres.
type Queries struct {
	db DBTX
}

// New returns a Queries bound to the given pool or transaction.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

var _ Querier = (*Queries)(nil)

// letterColumns is the canonical select list. The additive columns from
// later migrations are COALESCEd so rows created before those migrations
// still scan into sensible defaults.
const letterColumns = `
	id, sender_name, receiver_name, receiver_email, sender_email,
	message_type, response,
	COALESCE(theme, 'classic'),
	custom_content,
	COALESCE(relationship_type, 'pareja'),
	photo_url, music_url,
	COALESCE(status, 'sent'),
	COALESCE(payment_status, 'free'),
	COALESCE(is_premium, FALSE),
	payment_method, paypal_order_id, mp_payment_id, paddle_txn_id,
	email_provider, timezone, scheduled_at, sent_at, created_at`

func scanLetter(row interface{ Scan(dest ...any) error }) (Letter, error) {
	var l Letter
	err := row.Scan(
		&l.ID, &l.SenderName, &l.ReceiverName, &l.ReceiverEmail, &l.SenderEmail,
		&l.MessageType, &l.Response,
		&l.Theme,
		&l.CustomContent,
		&l.RelationshipType,
		&l.PhotoURL, &l.MusicURL,
		&l.Status,
		&l.PaymentStatus,
		&l.IsPremium,
		&l.PaymentMethod, &l.PaypalOrderID, &l.MpPaymentID, &l.PaddleTxnID,
		&l.EmailProvider, &l.Timezone, &l.ScheduledAt, &l.SentAt, &l.CreatedAt,
	)
	return l, err
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (q *Queries) CreateLetter(ctx context.Context, p CreateLetterParams) (Letter, error) {
	// Scheduled letters store the submitted wall-clock time interpreted in the
	// sender's timezone, so "Feb 14, 09:00" means 09:00 where they live.
	const insert = `
		INSERT INTO letters (
			id, sender_name, receiver_name, receiver_email, message_type,
			theme, custom_content, relationship_type, photo_url, music_url,
			status, payment_status, is_premium, timezone, scheduled_at, created_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14,
			CASE WHEN $15 = '' THEN NULL
			     ELSE ($15::timestamp AT TIME ZONE $14) END,
			NOW()
		)
		RETURNING` + letterColumns

	return scanLetter(q.db.QueryRowContext(ctx, insert,
		p.ID, p.SenderName, p.ReceiverName, p.ReceiverEmail, p.MessageType,
		p.Theme, nullIfEmpty(p.CustomContent), p.RelationshipType,
		nullIfEmpty(p.PhotoURL), nullIfEmpty(p.MusicURL),
		p.Status, p.PaymentStatus, p.IsPremium, p.Timezone, p.ScheduledAt,
	))
}

func (q *Queries) GetLetterByID(ctx context.Context, id uuid.UUID) (Letter, error) {
	const query = `SELECT` + letterColumns + ` FROM letters WHERE id = $1`
	return scanLetter(q.db.QueryRowContext(ctx, query, id))
}

func (q *Queries) SetLetterResponse(ctx context.Context, p SetLetterResponseParams) (Letter, error) {
	const query = `
		UPDATE letters SET response = $2
		WHERE id = $1
		RETURNING` + letterColumns
	return scanLetter(q.db.QueryRowContext(ctx, query, p.ID, p.Response))
}

func (q *Queries) SetSenderEmail(ctx context.Context, p SetSenderEmailParams) (Letter, error) {
	const query = `
		UPDATE letters SET sender_email = $2
		WHERE id = $1
		RETURNING` + letterColumns
	return scanLetter(q.db.QueryRowContext(ctx, query, p.ID, p.SenderEmail))
}

func (q *Queries) AttachPaypalOrder(ctx context.Context, p AttachPaypalOrderParams) (Letter, error) {
	const query = `
		UPDATE letters
		SET paypal_order_id = $2, payment_method = 'paypal'
		WHERE id = $1
		  AND paypal_order_id IS NULL
		  AND payment_status <> 'paid'
		RETURNING` + letterColumns
	return scanLetter(q.db.QueryRowContext(ctx, query, p.ID, p.OrderID))
}

func (q *Queries) MarkLetterPaid(ctx context.Context, p MarkLetterPaidParams) (Letter, error) {
	// One conditional statement is the whole idempotency story: concurrent
	// duplicate deliveries race on payment_status <> 'paid' and exactly one
	// of them sees a returned row.
	var refColumn string
	switch p.Method {
	case PaymentMethodMercadoPago:
		refColumn = "mp_payment_id"
	case PaymentMethodPayPal:
		refColumn = "paypal_order_id"
	case PaymentMethodPaddle:
		refColumn = "paddle_txn_id"
	default:
		return Letter{}, fmt.Errorf("db: unknown payment method %q", p.Method)
	}

	query := `
		UPDATE letters
		SET payment_status = 'paid',
		    payment_method = $3,
		    ` + refColumn + ` = $2,
		    status = 'sent',
		    sent_at = NOW()
		WHERE id = $1
		  AND payment_status <> 'paid'
		RETURNING` + letterColumns
	return scanLetter(q.db.QueryRowContext(ctx, query, p.ID, p.ProviderRef, string(p.Method)))
}

func (q *Queries) ListDueLetters(ctx context.Context, limit int32) ([]Letter, error) {
	const query = `
		SELECT` + letterColumns + `
		FROM letters
		WHERE status = 'pending'
		  AND scheduled_at IS NOT NULL
		  AND scheduled_at <= NOW()
		ORDER BY scheduled_at
		LIMIT $1`

	rows, err := q.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var letters []Letter
	for rows.Next() {
		l, err := scanLetter(rows)
		if err != nil {
			return nil, err
		}
		letters = append(letters, l)
	}
	return letters, rows.Err()
}

func (q *Queries) ClaimDueLetter(ctx context.Context, id uuid.UUID) (Letter, error) {
	const query = `
		UPDATE letters SET status = 'sending'
		WHERE id = $1 AND status = 'pending'
		RETURNING` + letterColumns
	return scanLetter(q.db.QueryRowContext(ctx, query, id))
}

func (q *Queries) MarkLetterSent(ctx context.Context, p MarkLetterSentParams) (Letter, error) {
	const query = `
		UPDATE letters
		SET status = 'sent', sent_at = NOW(), email_provider = $2
		WHERE id = $1
		RETURNING` + letterColumns
	return scanLetter(q.db.QueryRowContext(ctx, query, p.ID, p.EmailProvider))
}

func (q *Queries) MarkLetterFailed(ctx context.Context, id uuid.UUID) (Letter, error) {
	const query = `
		UPDATE letters SET status = 'failed'
		WHERE id = $1
		RETURNING` + letterColumns
	return scanLetter(q.db.QueryRowContext(ctx, query, id))
}

func (q *Queries) SetEmailProvider(ctx context.Context, p SetEmailProviderParams) (Letter, error) {
	const query = `
		UPDATE letters SET email_provider = $2
		WHERE id = $1
		RETURNING` + letterColumns
	return scanLetter(q.db.QueryRowContext(ctx, query, p.ID, p.EmailProvider))
}
