package db

import (
	"context"

	"github.com/google/uuid"
)

// Querier is the full query surface over the letters table. The api, store,
// recon, and worker packages depend on this interface; tests substitute
// in-memory stubs.
type Querier interface {
	CreateLetter(ctx context.Context, p CreateLetterParams) (Letter, error)
	GetLetterByID(ctx context.Context, id uuid.UUID) (Letter, error)

	// SetLetterResponse stores the recipient's yes/no answer.
	SetLetterResponse(ctx context.Context, p SetLetterResponseParams) (Letter, error)

	// SetSenderEmail attaches the sender's contact address after sending.
	SetSenderEmail(ctx context.Context, p SetSenderEmailParams) (Letter, error)

	// AttachPaypalOrder records the order id created at checkout initiation.
	// The update only applies while no order is attached and the letter is
	// unpaid; zero rows surfaces as sql.ErrNoRows.
	AttachPaypalOrder(ctx context.Context, p AttachPaypalOrderParams) (Letter, error)

	// MarkLetterPaid is the exactly-once gate for the paid path: a single
	// conditional UPDATE guarded by payment_status <> 'paid'. Zero affected
	// rows surfaces as sql.ErrNoRows, meaning some earlier invocation
	// already owns the paid side effects.
	MarkLetterPaid(ctx context.Context, p MarkLetterPaidParams) (Letter, error)

	// ListDueLetters returns up to limit letters with status='pending' whose
	// scheduled_at has elapsed.
	ListDueLetters(ctx context.Context, limit int32) ([]Letter, error)

	// ClaimDueLetter moves one pending letter to 'sending'. Zero affected
	// rows surfaces as sql.ErrNoRows, meaning another sweep got there first
	// or the letter left 'pending' by some other path.
	ClaimDueLetter(ctx context.Context, id uuid.UUID) (Letter, error)

	// MarkLetterSent finalizes a claimed letter after a successful send.
	MarkLetterSent(ctx context.Context, p MarkLetterSentParams) (Letter, error)

	// MarkLetterFailed finalizes a claimed letter after delivery exhausted
	// every provider.
	MarkLetterFailed(ctx context.Context, id uuid.UUID) (Letter, error)

	// SetEmailProvider records which transport delivered an already-sent
	// letter (paid and free-immediate paths, where the send happens after
	// the status transition).
	SetEmailProvider(ctx context.Context, p SetEmailProviderParams) (Letter, error)
}

// CreateLetterParams carries every writable field at submission time.
// Status and PaymentStatus are decided by the caller from the
// premium/scheduling combination.
type CreateLetterParams struct {
	ID               uuid.UUID
	SenderName       string
	ReceiverName     string
	ReceiverEmail    string
	MessageType      string
	Theme            string
	CustomContent    string
	RelationshipType string
	PhotoURL         string
	MusicURL         string
	Status           LetterStatus
	PaymentStatus    PaymentStatus
	IsPremium        bool
	Timezone         string
	ScheduledAt      string // client-local "2006-01-02T15:04" wall time, empty for immediate
}

type SetLetterResponseParams struct {
	ID       uuid.UUID
	Response string
}

type SetSenderEmailParams struct {
	ID          uuid.UUID
	SenderEmail string
}

type AttachPaypalOrderParams struct {
	ID      uuid.UUID
	OrderID string
}

type MarkLetterPaidParams struct {
	ID uuid.UUID
	// Method selects which correlation column ProviderRef is written to.
	Method      PaymentMethod
	ProviderRef string
}

type MarkLetterSentParams struct {
	ID            uuid.UUID
	EmailProvider string
}

type SetEmailProviderParams struct {
	ID            uuid.UUID
	EmailProvider string
}
