// Package payment holds the per-provider clients that confirm payments
// authoritatively. A webhook body is never trusted on its own: MercadoPago
// and PayPal payloads only contribute a transaction reference, and the real
// status is fetched from the provider's API. Paddle is the exception — its
// webhook is HMAC-signed, so the verified payload itself is authoritative.
package payment

import "context"

// Result is the authoritative outcome of verifying one transaction.
type Result struct {
	// Paid is true only for the provider's single success status
	// ("approved" for MercadoPago, "COMPLETED" for PayPal,
	// "transaction.completed" for Paddle).
	Paid bool

	// Status is the provider's raw status string, kept for logging.
	Status string

	// LetterID is the external reference the provider echoes back — the
	// only binding between a provider transaction and our letter.
	LetterID string

	// ProviderRef is the provider-side transaction id persisted to the
	// letter's correlation column.
	ProviderRef string
}

// Verifier confirms a transaction reference against the provider's
// authoritative state. A returned error means "cannot confirm yet" — the
// caller leaves the letter untouched and relies on webhook redelivery; it
// is never a negative confirmation.
type Verifier interface {
	Verify(ctx context.Context, ref string) (Result, error)
}

// Trusted wraps an already-verified result (a signature-checked Paddle
// payload) as a Verifier, so the reconciliation handler has a single entry
// point for both authority models.
func Trusted(res Result) Verifier {
	return trustedVerifier{res: res}
}

type trustedVerifier struct {
	res Result
}

func (v trustedVerifier) Verify(_ context.Context, _ string) (Result, error) {
	return v.res, nil
}
