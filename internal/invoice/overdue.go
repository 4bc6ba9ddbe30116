package invoice

import (
	"time"

	"github.com/fieldstack/fieldstack/internal/domain"
)

// IsOverdue reports whether an invoice should be treated as overdue.
// Pure function of status, due date, and the supplied clock; the stored
// OVERDUE status is a cache of this result, never the authority.
func IsOverdue(status domain.InvoiceStatus, dueDate, now time.Time) bool {
	return !status.IsTerminal() && now.After(dueDate)
}

// MarkOverdue advances the stored status to OVERDUE when the invoice is
// past due with a balance outstanding. Reports whether the invoice
// changed. Invoices whose status cannot legally reach OVERDUE (drafts,
// scheduled, already overdue, terminal) are left alone.
func MarkOverdue(inv *domain.Invoice, now time.Time) bool {
	if inv.Status != domain.StatusSent && inv.Status != domain.StatusPartiallyPaid {
		return false
	}
	if inv.AmountDue <= 0 || !IsOverdue(inv.Status, inv.DueDate, now) {
		return false
	}
	next, err := Transition(inv.Status, EventDueDateElapsed, inv.AmountDue)
	if err != nil {
		return false
	}
	inv.Status = next
	inv.UpdatedAt = now
	return true
}
