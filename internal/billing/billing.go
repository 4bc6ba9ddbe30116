package billing

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/fieldstack/fieldstack/internal/domain"
)

// Provider defines the interface to the payment gateway.
// Implementations can use Stripe, Square, etc.
type Provider interface {
	// CreatePaymentLink creates a hosted payment page for an invoice's
	// open balance. Idempotent per invoice: implementations must accept
	// an idempotency key so a repeated call while a link is outstanding
	// returns the same link rather than a duplicate charge target.
	CreatePaymentLink(ctx context.Context, params CreatePaymentLinkParams) (*PaymentLink, error)

	// CheckStatus pulls the payment state of a previously created link.
	// The reconciliation path when webhook delivery is unavailable or
	// delayed.
	CheckStatus(ctx context.Context, params CheckStatusParams) (*PaymentStatus, error)

	// ParseWebhookEvent verifies the webhook signature and normalizes
	// the payload into a gateway-neutral event. The signing secret is
	// injected at construction, never read from ambient state.
	ParseWebhookEvent(payload []byte, signature string) (*WebhookEvent, error)
}

// Normalized webhook event types.
const (
	EventPaymentMade = "invoice.payment_made"
	EventLinkExpired = "invoice.link_expired"
)

// CreatePaymentLinkParams contains parameters for creating a payment link.
type CreatePaymentLinkParams struct {
	InvoiceID     uuid.UUID
	InvoiceNumber string

	// AmountDue is the open balance the link collects, in cents.
	AmountDue domain.Cents

	// PayerContact prefills the payer's email on the hosted page.
	PayerContact string

	Description string

	// IdempotencyKey scopes link creation to one outstanding link per
	// invoice. Callers derive it from the invoice id.
	IdempotencyKey string
}

// PaymentLink is a hosted payment page created by the gateway.
type PaymentLink struct {
	// SessionID is the gateway's identifier for the link, used by
	// CheckStatus.
	SessionID string

	// URL is the hosted page the payer is sent to.
	URL string

	ExpiresAt time.Time
}

// CheckStatusParams identifies the link to reconcile.
type CheckStatusParams struct {
	InvoiceID uuid.UUID
	SessionID string
}

// PaymentStatus is the gateway's view of a payment link.
type PaymentStatus struct {
	Paid bool

	// Amount and TransactionID are set when Paid is true.
	Amount        domain.Cents
	TransactionID string
	PaidAt        time.Time
}

// WebhookEvent is a gateway webhook normalized into neutral terms.
type WebhookEvent struct {
	// ID is the gateway's event id, the dedup key for webhook replay.
	ID string

	// Type is one of the normalized event constants.
	Type string

	// InvoiceID is our invoice the event refers to, recovered from the
	// gateway session's reference field.
	InvoiceID uuid.UUID

	// Amount and TransactionID are set for payment events.
	Amount        domain.Cents
	TransactionID string

	OccurredAt time.Time
}
