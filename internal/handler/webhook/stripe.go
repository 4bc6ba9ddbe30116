// Package webhook receives payment gateway callbacks.
package webhook

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/fieldstack/fieldstack/internal/billing"
	"github.com/fieldstack/fieldstack/internal/domain"
	"github.com/fieldstack/fieldstack/internal/handler"
	"github.com/fieldstack/fieldstack/internal/telemetry"
)

// maxBodyBytes caps webhook payloads, mirroring Stripe's own limit.
const maxBodyBytes = 64 * 1024

// StripeHandler processes Stripe webhook deliveries.
//
// Processing is idempotent end to end: the provider verifies the
// signature, the service dedups the event id, and the ledger dedups the
// transaction id. Replays therefore acknowledge with 200 and change
// nothing.
type StripeHandler struct {
	provider billing.Provider
	invoices domain.InvoiceService
	logger   *slog.Logger
}

// NewStripeHandler creates a new StripeHandler instance.
func NewStripeHandler(provider billing.Provider, invoices domain.InvoiceService, logger *slog.Logger) *StripeHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeHandler{
		provider: provider,
		invoices: invoices,
		logger:   logger,
	}
}

// HandleWebhook handles POST /webhooks/stripe.
//
// Status codes drive Stripe's retry behavior: 2xx acknowledges, 4xx
// drops (bad signature, malformed payload), 5xx retries (transient
// processing failure).
func (h *StripeHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	telemetry.Business.WebhooksReceived.Inc()

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		telemetry.Business.WebhooksFailed.Inc()
		handler.RespondError(w, r, domain.Invalid("webhook.stripe", "failed to read webhook body"))
		return
	}

	event, err := h.provider.ParseWebhookEvent(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, billing.ErrUnhandledEvent) {
			// Not ours to process; acknowledge so Stripe stops retrying.
			handler.RespondJSON(w, http.StatusOK, map[string]bool{"received": true})
			return
		}
		telemetry.Business.WebhooksFailed.Inc()
		h.logger.WarnContext(r.Context(), "rejected webhook",
			slog.String("error", err.Error()))
		handler.RespondError(w, r, domain.Invalid("webhook.stripe", "invalid webhook payload"))
		return
	}

	switch event.Type {
	case billing.EventPaymentMade:
		_, err = h.invoices.HandleGatewayPayment(r.Context(), domain.GatewayPaymentParams{
			InvoiceID:             event.InvoiceID,
			Amount:                event.Amount,
			ExternalTransactionID: event.TransactionID,
			EventID:               event.ID,
			PaidAt:                event.OccurredAt,
		})

	case billing.EventLinkExpired:
		h.logger.InfoContext(r.Context(), "payment link expired",
			slog.String("invoice_id", event.InvoiceID.String()),
			slog.String("event_id", event.ID))

	default:
		h.logger.InfoContext(r.Context(), "ignoring webhook event",
			slog.String("type", event.Type))
	}

	if err != nil {
		code := domain.ErrorCode(err)
		// Payment and state conflicts are final: the same delivery will
		// fail the same way tomorrow, so acknowledge and alert instead
		// of letting Stripe hammer the endpoint.
		if code == domain.EPAYMENT || code == domain.ECONFLICT || code == domain.ENOTFOUND {
			telemetry.Business.WebhooksFailed.Inc()
			h.logger.ErrorContext(r.Context(), "webhook payment not applicable",
				slog.String("event_id", event.ID),
				slog.String("invoice_id", event.InvoiceID.String()),
				slog.String("error", err.Error()))
			handler.RespondJSON(w, http.StatusOK, map[string]bool{"received": true})
			return
		}
		telemetry.Business.WebhooksFailed.Inc()
		handler.RespondError(w, r, err)
		return
	}

	telemetry.Business.WebhooksProcessed.Inc()
	telemetry.Business.WebhookLatency.Observe(time.Since(start).Seconds())
	handler.RespondJSON(w, http.StatusOK, map[string]bool{"received": true})
}
