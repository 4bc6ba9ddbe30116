package invoice

import (
	"time"

	"github.com/google/uuid"

	"github.com/fieldstack/fieldstack/internal/domain"
)

// The ledger is the only code allowed to move AmountPaid and AmountDue.
// Entries are append-only: a wrong payment is corrected by a
// compensating refund entry, never by editing or deleting.

// ApplyPayment validates and appends a payment to inv, recomputes the
// balance, and advances the status. inv is mutated in place; callers
// that need rollback-on-error work on a clone.
//
// Returns applied=false with a nil error when the payment carries an
// externalTransactionId already present in the ledger. Repeated webhook
// delivery is therefore a silent no-op rather than a duplicate charge.
//
// Overpayment is rejected, never capped. When the invoice disallows
// partial payments the amount must settle the balance exactly.
func ApplyPayment(inv *domain.Invoice, p domain.Payment) (applied bool, err error) {
	// Dedup before every other check. The common replay is a full
	// payment that already settled the invoice: by the time the
	// duplicate arrives the status is terminal and the amount exceeds
	// the zero balance, and it must still no-op rather than error.
	if inv.HasTransaction(p.ExternalTransactionID) {
		return false, nil
	}

	if inv.Status.IsTerminal() || inv.Status == domain.StatusDraft {
		return false, IllegalTransition(EventPaymentApplied, inv.Status)
	}

	if p.Amount <= 0 {
		return false, domain.ErrPaymentAmountInvalid
	}
	if p.Amount > inv.AmountDue {
		return false, domain.ErrPaymentExceedsBalance
	}
	if !inv.Settings.AllowPartialPayments && p.Amount != inv.AmountDue {
		return false, domain.ErrPartialPaymentDisallowed
	}

	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.PaidAt.IsZero() {
		p.PaidAt = time.Now().UTC()
	}

	newDue := inv.AmountDue - p.Amount
	next, err := Transition(inv.Status, EventPaymentApplied, newDue)
	if err != nil {
		return false, err
	}

	inv.Payments = append(inv.Payments, p)
	inv.AmountPaid += p.Amount
	inv.AmountDue = newDue
	inv.Status = next
	inv.UpdatedAt = p.PaidAt
	if next == domain.StatusPaid {
		paidAt := p.PaidAt
		inv.PaidAt = &paidAt
	}
	return true, nil
}

// ApplyRefund appends a compensating refund entry and moves the invoice
// to REFUNDED. Only a PAID invoice can be refunded. The refund amount is
// bounded by the amount paid, so paid never drops below zero and due
// never rises above the total.
func ApplyRefund(inv *domain.Invoice, r domain.Refund) error {
	if inv.Status != domain.StatusPaid {
		return IllegalTransition(EventRefund, inv.Status)
	}
	if r.Amount <= 0 {
		return domain.ErrPaymentAmountInvalid
	}
	if r.Amount > inv.AmountPaid {
		return domain.ErrRefundExceedsPaid
	}

	next, err := Transition(inv.Status, EventRefund, inv.AmountDue)
	if err != nil {
		return err
	}

	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.RefundedAt.IsZero() {
		r.RefundedAt = time.Now().UTC()
	}

	inv.Refunds = append(inv.Refunds, r)
	inv.AmountPaid -= r.Amount
	inv.AmountDue += r.Amount
	inv.Status = next
	inv.UpdatedAt = r.RefundedAt
	return nil
}
