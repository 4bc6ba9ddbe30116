package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fieldstack/fieldstack/internal/billing"
	"github.com/fieldstack/fieldstack/internal/domain"
	"github.com/fieldstack/fieldstack/internal/invoice"
	"github.com/fieldstack/fieldstack/internal/telemetry"
)

// maxUpdateRetries bounds the optimistic-concurrency retry loop. Three
// attempts ride out a webhook racing a manual payment; anything still
// conflicting after that surfaces to the caller.
const maxUpdateRetries = 3

// InvoiceService implements domain.InvoiceService on top of an
// InvoiceStore and a payment gateway.
//
// Every mutation goes through a read-modify-write cycle guarded by the
// store's version compare-and-swap, so concurrent writers against the
// same invoice are serialized without cross-invoice locking. Gateway
// calls always happen outside that window.
type InvoiceService struct {
	store   domain.InvoiceStore
	gateway billing.Provider
	logger  *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewInvoiceService creates a new InvoiceService instance.
func NewInvoiceService(store domain.InvoiceStore, gateway billing.Provider, logger *slog.Logger) *InvoiceService {
	if logger == nil {
		logger = slog.Default()
	}
	return &InvoiceService{
		store:   store,
		gateway: gateway,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

var _ domain.InvoiceService = (*InvoiceService)(nil)

// CreateInvoice builds, numbers, and persists a new DRAFT invoice.
func (s *InvoiceService) CreateInvoice(ctx context.Context, params domain.CreateInvoiceParams) (*domain.Invoice, error) {
	const op = "invoice_service.create"

	inv, err := invoice.Build(params, s.now())
	if err != nil {
		return nil, err
	}

	number, err := s.store.NextInvoiceNumber(ctx)
	if err != nil {
		return nil, domain.WrapError(err, domain.EINTERNAL, op, "failed to allocate invoice number")
	}
	inv.Number = number

	if err := s.store.CreateInvoice(ctx, inv); err != nil {
		return nil, domain.WrapError(err, domain.EINTERNAL, op, "failed to persist invoice")
	}

	telemetry.Business.InvoicesCreated.Inc()
	s.logger.InfoContext(ctx, "invoice created",
		slog.String("invoice_id", inv.ID.String()),
		slog.String("number", inv.Number),
		slog.Int64("total_cents", int64(inv.TotalAmount)))
	return inv, nil
}

// GetInvoice retrieves an invoice, re-evaluating overdue state on read.
// A stale stored status is swept forward best-effort; losing that write
// to a concurrent update is fine, the next read sweeps again.
func (s *InvoiceService) GetInvoice(ctx context.Context, invoiceID uuid.UUID) (*domain.Invoice, error) {
	inv, err := s.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	return s.sweepOverdueOnRead(ctx, inv), nil
}

// GetInvoiceByNumber retrieves an invoice by its human-readable number.
func (s *InvoiceService) GetInvoiceByNumber(ctx context.Context, number string) (*domain.Invoice, error) {
	inv, err := s.store.GetInvoiceByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	return s.sweepOverdueOnRead(ctx, inv), nil
}

func (s *InvoiceService) sweepOverdueOnRead(ctx context.Context, inv *domain.Invoice) *domain.Invoice {
	expected := inv.Version
	updated := inv.Clone()
	if !invoice.MarkOverdue(updated, s.now()) {
		return inv
	}
	if err := s.store.UpdateInvoice(ctx, updated, expected); err != nil {
		if errors.Is(err, domain.ErrVersionConflict) {
			return inv
		}
		s.logger.WarnContext(ctx, "failed to persist overdue sweep on read",
			slog.String("invoice_id", inv.ID.String()),
			slog.String("error", err.Error()))
		return updated
	}
	telemetry.Business.InvoicesOverdue.Inc()
	return updated
}

// ListInvoices lists invoices with pagination.
func (s *InvoiceService) ListInvoices(ctx context.Context, params domain.ListInvoicesParams) ([]domain.Invoice, error) {
	if params.Limit <= 0 {
		params.Limit = 50
	}
	if params.Limit > 200 {
		params.Limit = 200
	}
	return s.store.ListInvoices(ctx, params)
}

// ScheduleInvoice marks a draft for future sending.
func (s *InvoiceService) ScheduleInvoice(ctx context.Context, invoiceID uuid.UUID, sendAt time.Time) (*domain.Invoice, error) {
	const op = "invoice_service.schedule"

	if !sendAt.After(s.now()) {
		return nil, domain.Invalid(op, "scheduled send time must be in the future")
	}

	return s.updateWithRetry(ctx, invoiceID, func(inv *domain.Invoice) (bool, error) {
		next, err := invoice.Transition(inv.Status, invoice.EventSchedule, inv.AmountDue)
		if err != nil {
			return false, err
		}
		inv.Status = next
		t := sendAt.UTC()
		inv.ScheduledSendAt = &t
		inv.UpdatedAt = s.now()
		return true, nil
	})
}

// SendInvoice publishes a draft or scheduled invoice.
func (s *InvoiceService) SendInvoice(ctx context.Context, invoiceID uuid.UUID) (*domain.Invoice, error) {
	inv, err := s.updateWithRetry(ctx, invoiceID, s.sendMutation)
	if err != nil {
		return nil, err
	}
	telemetry.Business.InvoicesSent.Inc()
	s.logger.InfoContext(ctx, "invoice sent",
		slog.String("invoice_id", inv.ID.String()),
		slog.String("number", inv.Number))
	return inv, nil
}

func (s *InvoiceService) sendMutation(inv *domain.Invoice) (bool, error) {
	next, err := invoice.Transition(inv.Status, invoice.EventSend, inv.AmountDue)
	if err != nil {
		return false, err
	}
	inv.Status = next
	inv.ScheduledSendAt = nil
	inv.UpdatedAt = s.now()
	return true, nil
}

// CancelInvoice terminates an unpaid invoice.
func (s *InvoiceService) CancelInvoice(ctx context.Context, invoiceID uuid.UUID) (*domain.Invoice, error) {
	inv, err := s.updateWithRetry(ctx, invoiceID, func(inv *domain.Invoice) (bool, error) {
		next, err := invoice.Transition(inv.Status, invoice.EventCancel, inv.AmountDue)
		if err != nil {
			return false, err
		}
		inv.Status = next
		inv.PaymentLinkURL = ""
		inv.GatewaySessionID = ""
		inv.UpdatedAt = s.now()
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	telemetry.Business.InvoicesCanceled.Inc()
	return inv, nil
}

// RefundInvoice refunds a paid invoice. A zero amount refunds the full
// amount paid. The refund lands as a compensating ledger entry and the
// invoice moves to REFUNDED.
func (s *InvoiceService) RefundInvoice(ctx context.Context, params domain.RefundInvoiceParams) (*domain.Invoice, error) {
	inv, err := s.updateWithRetry(ctx, params.InvoiceID, func(inv *domain.Invoice) (bool, error) {
		amount := params.Amount
		if amount == 0 {
			amount = inv.AmountPaid
		}
		return true, invoice.ApplyRefund(inv, domain.Refund{
			Amount:     amount,
			Reason:     params.Reason,
			RefundedAt: s.now(),
			RecordedBy: params.RecordedBy,
		})
	})
	if err != nil {
		return nil, err
	}
	telemetry.Business.RefundsRecorded.Inc()
	s.logger.InfoContext(ctx, "invoice refunded",
		slog.String("invoice_id", inv.ID.String()),
		slog.String("reason", params.Reason))
	return inv, nil
}

// RecordPayment appends a manually recorded payment to the ledger.
func (s *InvoiceService) RecordPayment(ctx context.Context, params domain.RecordPaymentParams) (*domain.Invoice, *domain.Payment, error) {
	const op = "invoice_service.record_payment"

	if _, err := domain.ParsePaymentMethod(string(params.Method)); err != nil {
		return nil, nil, err
	}
	if params.RecordedBy == "" {
		return nil, nil, domain.Invalid(op, "recordedBy is required")
	}

	payment := domain.Payment{
		ID:         uuid.New(),
		Amount:     params.Amount,
		Method:     params.Method,
		Note:       params.Note,
		PaidAt:     s.now(),
		RecordedBy: params.RecordedBy,
	}

	inv, err := s.updateWithRetry(ctx, params.InvoiceID, func(inv *domain.Invoice) (bool, error) {
		if !methodAccepted(inv.Settings.AcceptedMethods, params.Method) {
			return false, domain.ErrMethodNotAccepted
		}
		applied, err := invoice.ApplyPayment(inv, payment)
		if err != nil {
			return false, err
		}
		if applied && inv.Status == domain.StatusPaid {
			inv.PaymentLinkURL = ""
			inv.GatewaySessionID = ""
		}
		return applied, nil
	})
	if err != nil {
		telemetry.Business.PaymentsRejected.WithLabelValues(domain.ErrorCode(err)).Inc()
		return nil, nil, err
	}

	telemetry.Business.PaymentsRecorded.WithLabelValues(string(params.Method)).Inc()
	telemetry.Business.PaymentValue.Observe(float64(params.Amount))
	s.logger.InfoContext(ctx, "payment recorded",
		slog.String("invoice_id", inv.ID.String()),
		slog.Int64("amount_cents", int64(params.Amount)),
		slog.String("method", string(params.Method)),
		slog.String("status", string(inv.Status)))
	return inv, &payment, nil
}

// HandleGatewayPayment applies a gateway-confirmed payment.
//
// Two dedup layers keep webhook replay idempotent: the event id is
// checked against previously seen events, and the ledger itself drops
// payments whose transaction id is already recorded. Either way a
// replay returns the current invoice with no state change.
func (s *InvoiceService) HandleGatewayPayment(ctx context.Context, params domain.GatewayPaymentParams) (*domain.Invoice, error) {
	const op = "invoice_service.gateway_payment"

	if params.ExternalTransactionID == "" {
		return nil, domain.Invalid(op, "gateway payment requires a transaction id")
	}

	if params.EventID != "" {
		fresh, err := s.store.MarkGatewayEvent(ctx, params.EventID)
		if err != nil {
			return nil, domain.WrapError(err, domain.EINTERNAL, op, "failed to record gateway event")
		}
		if !fresh {
			telemetry.Business.WebhooksDuplicate.Inc()
			s.logger.InfoContext(ctx, "dropped replayed gateway event",
				slog.String("event_id", params.EventID),
				slog.String("invoice_id", params.InvoiceID.String()))
			return s.store.GetInvoice(ctx, params.InvoiceID)
		}
	}

	paidAt := params.PaidAt
	if paidAt.IsZero() {
		paidAt = s.now()
	}

	var applied bool
	inv, err := s.updateWithRetry(ctx, params.InvoiceID, func(inv *domain.Invoice) (bool, error) {
		var err error
		applied, err = invoice.ApplyPayment(inv, domain.Payment{
			ID:                    uuid.New(),
			Amount:                params.Amount,
			Method:                domain.MethodCreditCard,
			ExternalTransactionID: params.ExternalTransactionID,
			PaidAt:                paidAt,
			RecordedBy:            "gateway",
		})
		if err != nil {
			return false, err
		}
		if applied && inv.Status == domain.StatusPaid {
			inv.PaymentLinkURL = ""
			inv.GatewaySessionID = ""
		}
		return applied, nil
	})
	if err != nil {
		// The event was marked seen but its payment never landed. Forget
		// it so the gateway's redelivery is processed, not dropped.
		if params.EventID != "" {
			if unmarkErr := s.store.UnmarkGatewayEvent(ctx, params.EventID); unmarkErr != nil {
				s.logger.ErrorContext(ctx, "failed to forget gateway event after rejected payment",
					slog.String("event_id", params.EventID),
					slog.String("error", unmarkErr.Error()))
			}
		}
		telemetry.Business.PaymentsRejected.WithLabelValues(domain.ErrorCode(err)).Inc()
		return nil, err
	}

	if !applied {
		telemetry.Business.WebhooksDuplicate.Inc()
		return inv, nil
	}
	telemetry.Business.PaymentsRecorded.WithLabelValues(string(domain.MethodCreditCard)).Inc()
	telemetry.Business.PaymentValue.Observe(float64(params.Amount))
	s.logger.InfoContext(ctx, "gateway payment applied",
		slog.String("invoice_id", inv.ID.String()),
		slog.String("transaction_id", params.ExternalTransactionID),
		slog.String("status", string(inv.Status)))
	return inv, nil
}

// CreatePaymentLink returns a hosted payment URL for the invoice's open
// balance. An outstanding link is reused; otherwise the gateway call
// runs without holding the invoice update window, and the resulting
// link is persisted afterwards with the usual version check.
func (s *InvoiceService) CreatePaymentLink(ctx context.Context, invoiceID uuid.UUID, payerContact string) (string, error) {
	const op = "invoice_service.payment_link"

	inv, err := s.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return "", err
	}
	if inv.Status.IsTerminal() || inv.Status == domain.StatusDraft {
		return "", domain.Conflict(op, fmt.Sprintf("cannot create payment link for %s invoice", inv.Status))
	}
	if inv.PaymentLinkURL != "" {
		return inv.PaymentLinkURL, nil
	}

	// Gateway I/O happens here, before any update window opens.
	link, err := s.gateway.CreatePaymentLink(ctx, billing.CreatePaymentLinkParams{
		InvoiceID:      inv.ID,
		InvoiceNumber:  inv.Number,
		AmountDue:      inv.AmountDue,
		PayerContact:   payerContact,
		IdempotencyKey: fmt.Sprintf("invoice-link-%s-%d", inv.ID, inv.Version),
	})
	if err != nil {
		return "", err
	}

	updated, err := s.updateWithRetry(ctx, invoiceID, func(inv *domain.Invoice) (bool, error) {
		if inv.PaymentLinkURL != "" {
			// A concurrent caller won the race; keep their link.
			return false, nil
		}
		if inv.Status.IsTerminal() {
			return false, domain.Conflict(op, fmt.Sprintf("invoice settled while creating link, now %s", inv.Status))
		}
		inv.PaymentLinkURL = link.URL
		inv.GatewaySessionID = link.SessionID
		inv.UpdatedAt = s.now()
		return true, nil
	})
	if err != nil {
		return "", err
	}
	return updated.PaymentLinkURL, nil
}

// ReconcileFromGateway pulls payment status for an invoice with an
// outstanding link. The fallback when webhook delivery is unavailable
// or delayed; a payment found this way flows through the same ledger
// path as a webhook, so running both never double-applies.
func (s *InvoiceService) ReconcileFromGateway(ctx context.Context, invoiceID uuid.UUID) (*domain.Invoice, error) {
	const op = "invoice_service.reconcile"

	inv, err := s.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.GatewaySessionID == "" {
		return nil, domain.Conflict(op, "invoice has no outstanding payment link to reconcile")
	}
	if inv.Status.IsTerminal() {
		return inv, nil
	}

	status, err := s.gateway.CheckStatus(ctx, billing.CheckStatusParams{
		InvoiceID: inv.ID,
		SessionID: inv.GatewaySessionID,
	})
	if err != nil {
		return nil, err
	}
	if !status.Paid {
		return inv, nil
	}

	return s.HandleGatewayPayment(ctx, domain.GatewayPaymentParams{
		InvoiceID:             inv.ID,
		Amount:                status.Amount,
		ExternalTransactionID: status.TransactionID,
		PaidAt:                status.PaidAt,
	})
}

// MarkInvoicesOverdue sweeps unpaid invoices past their due date into
// OVERDUE. Idempotent, unordered, and isolated per invoice: one
// invoice's failure never stops the sweep.
func (s *InvoiceService) MarkInvoicesOverdue(ctx context.Context) (int, error) {
	const op = "invoice_service.overdue_sweep"

	now := s.now()
	ids, err := s.store.ListOverdueCandidates(ctx, now)
	if err != nil {
		return 0, domain.WrapError(err, domain.EINTERNAL, op, "failed to list overdue candidates")
	}

	marked := 0
	for _, id := range ids {
		_, err := s.updateWithRetry(ctx, id, func(inv *domain.Invoice) (bool, error) {
			return invoice.MarkOverdue(inv, now), nil
		})
		if err != nil {
			s.logger.ErrorContext(ctx, "overdue sweep failed for invoice",
				slog.String("invoice_id", id.String()),
				slog.String("error", err.Error()))
			continue
		}
		marked++
		telemetry.Business.InvoicesOverdue.Inc()
	}

	if marked > 0 {
		s.logger.InfoContext(ctx, "overdue sweep complete", slog.Int("marked", marked))
	}
	return marked, nil
}

// PublishScheduledInvoices sends SCHEDULED invoices whose send time has
// arrived. Idempotent; an invoice already sent by a concurrent sweep is
// skipped.
func (s *InvoiceService) PublishScheduledInvoices(ctx context.Context) (int, error) {
	const op = "invoice_service.publish_scheduled"

	now := s.now()
	ids, err := s.store.ListScheduledDue(ctx, now)
	if err != nil {
		return 0, domain.WrapError(err, domain.EINTERNAL, op, "failed to list scheduled invoices")
	}

	published := 0
	for _, id := range ids {
		_, err := s.updateWithRetry(ctx, id, func(inv *domain.Invoice) (bool, error) {
			if inv.Status != domain.StatusScheduled {
				return false, nil
			}
			if inv.ScheduledSendAt == nil || inv.ScheduledSendAt.After(now) {
				return false, nil
			}
			return s.sendMutation(inv)
		})
		if err != nil {
			s.logger.ErrorContext(ctx, "scheduled publish failed for invoice",
				slog.String("invoice_id", id.String()),
				slog.String("error", err.Error()))
			continue
		}
		published++
		telemetry.Business.InvoicesPublished.Inc()
		telemetry.Business.InvoicesSent.Inc()
	}
	return published, nil
}

// ReconcileOpenInvoices pulls gateway status for every unpaid invoice
// with an outstanding payment link. Covers the window where webhook
// delivery is down; isolated per invoice like the other sweeps.
func (s *InvoiceService) ReconcileOpenInvoices(ctx context.Context) (int, error) {
	const op = "invoice_service.reconcile_sweep"

	ids, err := s.store.ListOpenPaymentLinks(ctx)
	if err != nil {
		return 0, domain.WrapError(err, domain.EINTERNAL, op, "failed to list open payment links")
	}

	settled := 0
	for _, id := range ids {
		inv, err := s.ReconcileFromGateway(ctx, id)
		if err != nil {
			s.logger.ErrorContext(ctx, "reconciliation failed for invoice",
				slog.String("invoice_id", id.String()),
				slog.String("error", err.Error()))
			continue
		}
		if inv.Status == domain.StatusPaid {
			settled++
		}
	}
	return settled, nil
}

// updateWithRetry runs a read-modify-write cycle under the store's
// version compare-and-swap, re-reading and retrying on conflict up to
// maxUpdateRetries times. The mutation runs on a clone, so a rejected
// mutation never leaks partial changes. Returning changed=false skips
// the write entirely (the no-op path for replays and races).
func (s *InvoiceService) updateWithRetry(ctx context.Context, invoiceID uuid.UUID, mutate func(*domain.Invoice) (bool, error)) (*domain.Invoice, error) {
	var lastErr error
	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		inv, err := s.store.GetInvoice(ctx, invoiceID)
		if err != nil {
			return nil, err
		}

		updated := inv.Clone()
		changed, err := mutate(updated)
		if err != nil {
			return nil, err
		}
		if !changed {
			return inv, nil
		}

		if err := updated.CheckInvariants(); err != nil {
			return nil, err
		}

		err = s.store.UpdateInvoice(ctx, updated, inv.Version)
		if err == nil {
			return updated, nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) {
			return nil, err
		}
		telemetry.Business.VersionConflicts.Inc()
		lastErr = err
	}
	return nil, lastErr
}

func methodAccepted(accepted []domain.PaymentMethod, method domain.PaymentMethod) bool {
	if len(accepted) == 0 {
		return true
	}
	for _, m := range accepted {
		if m == method {
			return true
		}
	}
	return false
}
