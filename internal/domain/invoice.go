package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Cents is a monetary amount in minor currency units (US cents).
// All currency arithmetic in the core happens on this integer type;
// floating-point money is not representable here.
type Cents int64

// InvoiceStatus is the lifecycle status of an invoice.
// Only these enumerated values are ever persisted or compared.
type InvoiceStatus string

const (
	StatusDraft         InvoiceStatus = "DRAFT"
	StatusScheduled     InvoiceStatus = "SCHEDULED"
	StatusSent          InvoiceStatus = "SENT"
	StatusPartiallyPaid InvoiceStatus = "PARTIALLY_PAID"
	StatusPaid          InvoiceStatus = "PAID"
	StatusOverdue       InvoiceStatus = "OVERDUE"
	StatusCanceled      InvoiceStatus = "CANCELED"
	StatusRefunded      InvoiceStatus = "REFUNDED"
)

// allStatuses is the closed set accepted at the persistence boundary.
var allStatuses = map[InvoiceStatus]bool{
	StatusDraft:         true,
	StatusScheduled:     true,
	StatusSent:          true,
	StatusPartiallyPaid: true,
	StatusPaid:          true,
	StatusOverdue:       true,
	StatusCanceled:      true,
	StatusRefunded:      true,
}

// ParseInvoiceStatus validates a persisted status string.
// Free-form status strings are rejected at the boundary.
func ParseInvoiceStatus(s string) (InvoiceStatus, error) {
	status := InvoiceStatus(s)
	if !allStatuses[status] {
		return "", Errorf(EINVALID, "invoice.status", "unknown invoice status: %q", s)
	}
	return status, nil
}

// IsTerminal reports whether no further transitions are permitted.
func (s InvoiceStatus) IsTerminal() bool {
	return s == StatusPaid || s == StatusCanceled || s == StatusRefunded
}

// Label returns the human-readable status label for dashboards.
func (s InvoiceStatus) Label() string {
	switch s {
	case StatusDraft:
		return "Draft"
	case StatusScheduled:
		return "Scheduled"
	case StatusSent:
		return "Sent"
	case StatusPartiallyPaid:
		return "Partially Paid"
	case StatusPaid:
		return "Paid"
	case StatusOverdue:
		return "Overdue"
	case StatusCanceled:
		return "Canceled"
	case StatusRefunded:
		return "Refunded"
	default:
		return string(s)
	}
}

// Color returns the badge color used by the dashboard for this status.
func (s InvoiceStatus) Color() string {
	switch s {
	case StatusPaid:
		return "green"
	case StatusPartiallyPaid:
		return "blue"
	case StatusOverdue:
		return "red"
	case StatusCanceled, StatusRefunded:
		return "gray"
	case StatusScheduled:
		return "purple"
	case StatusSent:
		return "yellow"
	default:
		return "gray"
	}
}

// PaymentMethod is the channel a payment arrived through.
type PaymentMethod string

const (
	MethodCash         PaymentMethod = "CASH"
	MethodCheck        PaymentMethod = "CHECK"
	MethodBankTransfer PaymentMethod = "BANK_TRANSFER"
	MethodCreditCard   PaymentMethod = "CREDIT_CARD"
	MethodOther        PaymentMethod = "OTHER"
)

var allMethods = map[PaymentMethod]bool{
	MethodCash:         true,
	MethodCheck:        true,
	MethodBankTransfer: true,
	MethodCreditCard:   true,
	MethodOther:        true,
}

// ParsePaymentMethod validates a payment method string.
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	m := PaymentMethod(s)
	if !allMethods[m] {
		return "", Errorf(EINVALID, "payment.method", "unknown payment method: %q", s)
	}
	return m, nil
}

// LineItem is one billable entry contributing to the invoice subtotal.
// LineTotal is always recomputed by the builder, never trusted as input.
type LineItem struct {
	Description string `json:"description"`
	Quantity    int64  `json:"quantity"`
	UnitPrice   Cents  `json:"unit_price_cents"`
	LineTotal   Cents  `json:"line_total_cents"`
}

// Payment is one append-only ledger entry against an invoice.
type Payment struct {
	ID                    uuid.UUID     `json:"id"`
	Amount                Cents         `json:"amount_cents"`
	Method                PaymentMethod `json:"method"`
	ExternalTransactionID string        `json:"external_transaction_id,omitempty"`
	PaidAt                time.Time     `json:"paid_at"`
	Note                  string        `json:"note,omitempty"`
	RecordedBy            string        `json:"recorded_by"`
}

// Refund is a compensating ledger entry. Refunds never rewrite payments;
// they decrement amountPaid by their own amount.
type Refund struct {
	ID         uuid.UUID `json:"id"`
	Amount     Cents     `json:"amount_cents"`
	Reason     string    `json:"reason"`
	RefundedAt time.Time `json:"refunded_at"`
	RecordedBy string    `json:"recorded_by"`
}

// PaymentSettings controls how an invoice may be settled.
type PaymentSettings struct {
	AcceptedMethods      []PaymentMethod `json:"accepted_methods"`
	AllowPartialPayments bool            `json:"allow_partial_payments"`
	AutoChargeEnabled    bool            `json:"auto_charge_enabled"`
}

// Invoice is the billing aggregate root.
//
// Monetary fields are integer cents and are derived: Subtotal from line
// items, AmountPaid from the payment and refund ledgers, AmountDue from
// TotalAmount minus AmountPaid. The ledger (internal/invoice) is the only
// code permitted to move AmountPaid/AmountDue.
type Invoice struct {
	ID                 uuid.UUID     `json:"id"`
	Number             string        `json:"number"`
	ClientID           uuid.UUID     `json:"client_id"`
	AdditionalPayerIDs []uuid.UUID   `json:"additional_payer_ids,omitempty"`
	ProjectID          *uuid.UUID    `json:"project_id,omitempty"`
	LineItems          []LineItem    `json:"line_items"`
	TaxRate            float64       `json:"tax_rate"`
	Subtotal           Cents         `json:"subtotal_cents"`
	TaxAmount          Cents         `json:"tax_cents"`
	DiscountAmount     Cents         `json:"discount_cents"`
	TotalAmount        Cents         `json:"total_cents"`
	AmountPaid         Cents         `json:"amount_paid_cents"`
	AmountDue          Cents         `json:"amount_due_cents"`
	Status             InvoiceStatus `json:"status"`
	IssueDate          time.Time     `json:"issue_date"`
	DueDate            time.Time     `json:"due_date"`
	ScheduledSendAt    *time.Time    `json:"scheduled_send_at,omitempty"`
	PaidAt             *time.Time    `json:"paid_at,omitempty"`
	Settings           PaymentSettings `json:"payment_settings"`
	Payments           []Payment     `json:"payments"`
	Refunds            []Refund      `json:"refunds,omitempty"`

	// PaymentLinkURL is the outstanding hosted payment page for this
	// invoice, reused on repeat link requests instead of creating a
	// duplicate charge target. GatewaySessionID identifies the same
	// link on the gateway side for status pulls.
	PaymentLinkURL   string `json:"payment_link_url,omitempty"`
	GatewaySessionID string `json:"gateway_session_id,omitempty"`

	// Version increments on every persisted update and backs the
	// per-invoice compare-and-swap: two concurrent writers cannot both
	// commit against the same version.
	Version int64 `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasTransaction reports whether a gateway transaction id is already
// present in the payment ledger.
func (inv *Invoice) HasTransaction(txID string) bool {
	if txID == "" {
		return false
	}
	for _, p := range inv.Payments {
		if p.ExternalTransactionID == txID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy. Mutating operations work on a clone so a
// failed precondition leaves the caller's invoice untouched.
func (inv *Invoice) Clone() *Invoice {
	out := *inv
	out.AdditionalPayerIDs = append([]uuid.UUID(nil), inv.AdditionalPayerIDs...)
	out.LineItems = append([]LineItem(nil), inv.LineItems...)
	out.Payments = append([]Payment(nil), inv.Payments...)
	out.Refunds = append([]Refund(nil), inv.Refunds...)
	out.Settings.AcceptedMethods = append([]PaymentMethod(nil), inv.Settings.AcceptedMethods...)
	if inv.ProjectID != nil {
		id := *inv.ProjectID
		out.ProjectID = &id
	}
	if inv.ScheduledSendAt != nil {
		t := *inv.ScheduledSendAt
		out.ScheduledSendAt = &t
	}
	if inv.PaidAt != nil {
		t := *inv.PaidAt
		out.PaidAt = &t
	}
	return &out
}

// CheckInvariants verifies the ledger arithmetic that must hold after
// every mutation. Used by the store before committing and by tests.
func (inv *Invoice) CheckInvariants() error {
	var paid Cents
	for _, p := range inv.Payments {
		paid += p.Amount
	}
	for _, r := range inv.Refunds {
		paid -= r.Amount
	}
	if paid != inv.AmountPaid {
		return Errorf(EINTERNAL, "invoice.invariants",
			"amount paid %d does not equal ledger sum %d", inv.AmountPaid, paid)
	}
	if inv.AmountDue != inv.TotalAmount-inv.AmountPaid {
		return Errorf(EINTERNAL, "invoice.invariants",
			"amount due %d does not equal total %d minus paid %d", inv.AmountDue, inv.TotalAmount, inv.AmountPaid)
	}
	if inv.AmountDue < 0 {
		return Errorf(EINTERNAL, "invoice.invariants", "amount due is negative: %d", inv.AmountDue)
	}
	if inv.AmountPaid < 0 || inv.AmountPaid > inv.TotalAmount {
		return Errorf(EINTERNAL, "invoice.invariants", "amount paid out of range: %d", inv.AmountPaid)
	}
	paidStatus := inv.AmountDue == 0 && inv.AmountPaid > 0
	if (inv.Status == StatusPaid) != paidStatus && inv.Status != StatusRefunded && inv.Status != StatusCanceled {
		return Errorf(EINTERNAL, "invoice.invariants",
			"status %s inconsistent with paid %d / due %d", inv.Status, inv.AmountPaid, inv.AmountDue)
	}
	return nil
}

// Invoice-related domain errors.
var (
	ErrInvoiceNotFound          = &Error{Code: ENOTFOUND, Message: "Invoice not found"}
	ErrInvoiceNotPayable        = &Error{Code: ECONFLICT, Message: "Invoice cannot accept payments in its current status"}
	ErrPaymentAmountInvalid     = &Error{Code: EPAYMENT, Message: "Payment amount must be greater than zero"}
	ErrPaymentExceedsBalance    = &Error{Code: EPAYMENT, Message: "Payment amount exceeds invoice balance"}
	ErrPartialPaymentDisallowed = &Error{Code: EPAYMENT, Message: "Invoice does not accept partial payments"}
	ErrMethodNotAccepted        = &Error{Code: EPAYMENT, Message: "Payment method not accepted for this invoice"}
	ErrRefundExceedsPaid        = &Error{Code: EPAYMENT, Message: "Refund amount exceeds amount paid"}
	ErrVersionConflict          = &Error{Code: ECONFLICT, Message: "Invoice was modified concurrently"}
	ErrInvoiceNumberGeneration  = &Error{Code: EINTERNAL, Message: "Failed to generate invoice number"}
)

// InvoiceService manages invoice lifecycle, payment recording, and
// gateway reconciliation.
type InvoiceService interface {
	// CreateInvoice builds and persists a new DRAFT invoice.
	CreateInvoice(ctx context.Context, params CreateInvoiceParams) (*Invoice, error)

	// GetInvoice retrieves an invoice by ID. Overdue state is
	// re-evaluated on read; a stale stored status is swept forward.
	GetInvoice(ctx context.Context, invoiceID uuid.UUID) (*Invoice, error)

	// GetInvoiceByNumber retrieves an invoice by its human-readable number.
	GetInvoiceByNumber(ctx context.Context, number string) (*Invoice, error)

	// ListInvoices lists invoices with pagination.
	ListInvoices(ctx context.Context, params ListInvoicesParams) ([]Invoice, error)

	// ScheduleInvoice marks a draft for future sending.
	ScheduleInvoice(ctx context.Context, invoiceID uuid.UUID, sendAt time.Time) (*Invoice, error)

	// SendInvoice publishes a draft or scheduled invoice.
	SendInvoice(ctx context.Context, invoiceID uuid.UUID) (*Invoice, error)

	// CancelInvoice terminates an unpaid invoice.
	CancelInvoice(ctx context.Context, invoiceID uuid.UUID) (*Invoice, error)

	// RefundInvoice refunds a paid invoice, recording a compensating
	// ledger entry and moving the invoice to REFUNDED.
	RefundInvoice(ctx context.Context, params RefundInvoiceParams) (*Invoice, error)

	// RecordPayment appends a manually recorded payment.
	RecordPayment(ctx context.Context, params RecordPaymentParams) (*Invoice, *Payment, error)

	// HandleGatewayPayment applies a gateway-confirmed payment. Safe to
	// call repeatedly with the same transaction id; replays are no-ops.
	HandleGatewayPayment(ctx context.Context, params GatewayPaymentParams) (*Invoice, error)

	// CreatePaymentLink returns a hosted payment URL for the open
	// balance, reusing an outstanding link when one exists.
	CreatePaymentLink(ctx context.Context, invoiceID uuid.UUID, payerContact string) (string, error)

	// ReconcileFromGateway pulls payment status from the gateway, the
	// fallback path when webhook delivery is unavailable or delayed.
	ReconcileFromGateway(ctx context.Context, invoiceID uuid.UUID) (*Invoice, error)

	// MarkInvoicesOverdue sweeps unpaid invoices past their due date.
	// Idempotent; typically run on a timer.
	MarkInvoicesOverdue(ctx context.Context) (int, error)

	// PublishScheduledInvoices sends scheduled invoices whose send
	// date has arrived. Idempotent.
	PublishScheduledInvoices(ctx context.Context) (int, error)
}

// CreateInvoiceParams contains parameters for creating an invoice.
type CreateInvoiceParams struct {
	ClientID           uuid.UUID
	AdditionalPayerIDs []uuid.UUID
	ProjectID          *uuid.UUID
	LineItems          []LineItemInput
	TaxRate            float64
	DiscountAmount     Cents
	IssueDate          time.Time // zero value means now
	DueDate            time.Time
	Settings           PaymentSettings
	CreatedBy          string
}

// LineItemInput is a line item as submitted; totals are never trusted.
type LineItemInput struct {
	Description string
	Quantity    int64
	UnitPrice   Cents
}

// ListInvoicesParams contains pagination and filters for listing.
type ListInvoicesParams struct {
	ClientID *uuid.UUID
	Status   *InvoiceStatus
	Limit    int32
	Offset   int32
}

// RecordPaymentParams is the manual payment command.
type RecordPaymentParams struct {
	InvoiceID  uuid.UUID
	Amount     Cents
	Method     PaymentMethod
	Note       string
	RecordedBy string
}

// GatewayPaymentParams is a payment confirmed by the payment processor.
// EventID is the gateway's webhook event id; it dedups replayed
// deliveries before the ledger's own transaction-id check runs.
type GatewayPaymentParams struct {
	InvoiceID             uuid.UUID
	Amount                Cents
	ExternalTransactionID string
	EventID               string
	PaidAt                time.Time
}

// RefundInvoiceParams contains parameters for refunding a paid invoice.
type RefundInvoiceParams struct {
	InvoiceID  uuid.UUID
	Amount     Cents // zero means full amount paid
	Reason     string
	RecordedBy string
}
