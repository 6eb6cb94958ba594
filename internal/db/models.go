// Package db is the query layer over the letters table. It exposes a
// Querier interface so handlers, the store, and the worker can be tested
// against in-memory stubs, plus the concrete Queries implementation backed
// by database/sql.
package db

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// LetterStatus is the delivery lifecycle of a letter.
type LetterStatus string

const (
	// LetterStatusPending — scheduled, waiting for the dispatch sweep.
	LetterStatusPending LetterStatus = "pending"
	// LetterStatusPendingPayment — premium letter waiting for a provider
	// to confirm payment.
	LetterStatusPendingPayment LetterStatus = "pending_payment"
	// LetterStatusSending — claimed by a sweep, send in flight. A row stuck
	// here after a crash needs operator attention; it is never re-claimed.
	LetterStatusSending LetterStatus = "sending"
	// LetterStatusSent — delivered (terminal).
	LetterStatusSent LetterStatus = "sent"
	// LetterStatusFailed — the sweep exhausted every email provider (terminal).
	LetterStatusFailed LetterStatus = "failed"
)

// PaymentStatus is the payment lifecycle of a letter. Paid is monotonic:
// nothing in this codebase writes it back to free or pending.
type PaymentStatus string

const (
	PaymentStatusFree    PaymentStatus = "free"
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
)

// PaymentMethod identifies which provider's correlation column a paid
// transition writes. At most one is ever populated per letter.
type PaymentMethod string

const (
	PaymentMethodMercadoPago PaymentMethod = "mercadopago"
	PaymentMethodPayPal      PaymentMethod = "paypal"
	PaymentMethodPaddle      PaymentMethod = "paddle"
)

// Letter is one row of the letters table.
type Letter struct {
	ID               uuid.UUID
	SenderName       string
	ReceiverName     string
	ReceiverEmail    string
	SenderEmail      sql.NullString
	MessageType      string
	Response         sql.NullString
	Theme            string
	CustomContent    sql.NullString
	RelationshipType string
	PhotoURL         sql.NullString
	MusicURL         sql.NullString
	Status           LetterStatus
	PaymentStatus    PaymentStatus
	IsPremium        bool
	PaymentMethod    sql.NullString
	PaypalOrderID    sql.NullString
	MpPaymentID      sql.NullString
	PaddleTxnID      sql.NullString
	EmailProvider    sql.NullString
	Timezone         sql.NullString
	ScheduledAt      sql.NullTime
	SentAt           sql.NullTime
	CreatedAt        time.Time
}
