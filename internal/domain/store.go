package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// InvoiceStore persists invoice aggregates.
//
// UpdateInvoice is a compare-and-swap on the invoice version: the write
// commits only when the stored version equals expectedVersion, and the
// ledger append, status change, and version bump land in one
// transaction. An invoice is never observable with payments recorded
// but status not yet advanced.
type InvoiceStore interface {
	// CreateInvoice persists a newly built invoice at version 1.
	CreateInvoice(ctx context.Context, inv *Invoice) error

	// GetInvoice loads the full aggregate: line items, payments, refunds.
	GetInvoice(ctx context.Context, invoiceID uuid.UUID) (*Invoice, error)

	// GetInvoiceByNumber loads an invoice by its human-readable number.
	GetInvoiceByNumber(ctx context.Context, number string) (*Invoice, error)

	// ListInvoices lists invoice aggregates, newest first.
	ListInvoices(ctx context.Context, params ListInvoicesParams) ([]Invoice, error)

	// UpdateInvoice commits inv when the stored version still equals
	// expectedVersion, bumping inv.Version. Fails with
	// ErrVersionConflict when another writer got there first.
	UpdateInvoice(ctx context.Context, inv *Invoice, expectedVersion int64) error

	// NextInvoiceNumber allocates the next human-readable invoice number.
	NextInvoiceNumber(ctx context.Context) (string, error)

	// ListOverdueCandidates returns ids of unpaid invoices past their
	// due date whose stored status has not yet been swept to OVERDUE.
	ListOverdueCandidates(ctx context.Context, now time.Time) ([]uuid.UUID, error)

	// ListScheduledDue returns ids of SCHEDULED invoices whose send
	// time has arrived.
	ListScheduledDue(ctx context.Context, now time.Time) ([]uuid.UUID, error)

	// ListOpenPaymentLinks returns ids of unpaid invoices with an
	// outstanding gateway link, for pull reconciliation.
	ListOpenPaymentLinks(ctx context.Context) ([]uuid.UUID, error)

	// MarkGatewayEvent records a webhook event id. Returns false when
	// the id was already recorded, the signal to drop the replay.
	MarkGatewayEvent(ctx context.Context, eventID string) (bool, error)

	// UnmarkGatewayEvent forgets a recorded event id so the gateway's
	// redelivery of the same event is processed instead of dropped.
	// Called when applying the event failed after it was marked.
	UnmarkGatewayEvent(ctx context.Context, eventID string) error
}
