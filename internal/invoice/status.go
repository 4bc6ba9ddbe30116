package invoice

import (
	"github.com/fieldstack/fieldstack/internal/domain"
)

// Event is a lifecycle event driving a status transition.
type Event string

const (
	EventSend           Event = "send"
	EventSchedule       Event = "schedule"
	EventPaymentApplied Event = "payment_applied"
	EventDueDateElapsed Event = "due_date_elapsed"
	EventCancel         Event = "cancel"
	EventRefund         Event = "refund"
)

// sources lists the states each event may fire from. Destinations are
// resolved in Transition; PaymentApplied is the only event whose
// destination depends on the balance.
var sources = map[Event][]domain.InvoiceStatus{
	EventSend:           {domain.StatusDraft, domain.StatusScheduled},
	EventSchedule:       {domain.StatusDraft},
	EventPaymentApplied: {domain.StatusSent, domain.StatusPartiallyPaid, domain.StatusOverdue},
	EventDueDateElapsed: {domain.StatusSent, domain.StatusPartiallyPaid},
	EventCancel:         {domain.StatusDraft, domain.StatusScheduled, domain.StatusSent, domain.StatusPartiallyPaid, domain.StatusOverdue},
	EventRefund:         {domain.StatusPaid},
}

// Transition resolves the destination status for event fired from
// current. amountDue is consulted only for PaymentApplied: a zero
// balance lands on PAID, anything else on PARTIALLY_PAID. An invoice
// settled in full while OVERDUE therefore moves straight to PAID.
func Transition(current domain.InvoiceStatus, event Event, amountDue domain.Cents) (domain.InvoiceStatus, error) {
	allowed := false
	for _, s := range sources[event] {
		if s == current {
			allowed = true
			break
		}
	}
	if !allowed {
		return "", IllegalTransition(event, current)
	}

	switch event {
	case EventSend:
		return domain.StatusSent, nil
	case EventSchedule:
		return domain.StatusScheduled, nil
	case EventPaymentApplied:
		if amountDue == 0 {
			return domain.StatusPaid, nil
		}
		return domain.StatusPartiallyPaid, nil
	case EventDueDateElapsed:
		return domain.StatusOverdue, nil
	case EventCancel:
		return domain.StatusCanceled, nil
	case EventRefund:
		return domain.StatusRefunded, nil
	default:
		return "", domain.Errorf(domain.EINTERNAL, "invoice.transition", "unknown event: %q", event)
	}
}

// IllegalTransition builds the conflict error for an event fired from a
// state that forbids it. The message names both so callers can tell a
// replayed webhook from a genuinely wrong command.
func IllegalTransition(event Event, current domain.InvoiceStatus) error {
	return domain.Errorf(domain.ECONFLICT, "invoice.transition",
		"cannot apply %s to invoice in status %s", event, current)
}
