package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/fieldstack/fieldstack/internal/domain"
	"github.com/fieldstack/fieldstack/internal/telemetry"
)

// StripeProvider implements Provider using Stripe Checkout Sessions as
// hosted payment links. All credentials live in the injected config;
// the global stripe.Key is never set.
type StripeProvider struct {
	api    *client.API
	config StripeConfig
	logger *slog.Logger
}

// NewStripeProvider creates a Stripe billing provider.
func NewStripeProvider(config StripeConfig, logger *slog.Logger) (*StripeProvider, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	api := &client.API{}
	api.Init(config.APIKey, nil)

	return &StripeProvider{
		api:    api,
		config: config,
		logger: logger,
	}, nil
}

// CreatePaymentLink creates a Checkout Session collecting the invoice's
// open balance. The idempotency key makes repeated calls for the same
// invoice return the original session instead of a new charge target.
func (s *StripeProvider) CreatePaymentLink(ctx context.Context, params CreatePaymentLinkParams) (*PaymentLink, error) {
	start := time.Now()

	description := params.Description
	if description == "" {
		description = fmt.Sprintf("Invoice %s", params.InvoiceNumber)
	}

	sessionParams := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(params.InvoiceID.String()),
		SuccessURL:        stripe.String(s.config.SuccessURL),
		CancelURL:         stripe.String(s.config.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(s.config.Currency),
					UnitAmount: stripe.Int64(int64(params.AmountDue)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(description),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Description: stripe.String(description),
		},
	}
	sessionParams.Context = ctx
	if params.PayerContact != "" {
		sessionParams.CustomerEmail = stripe.String(params.PayerContact)
	}
	sessionParams.AddMetadata("invoice_id", params.InvoiceID.String())
	sessionParams.AddMetadata("invoice_number", params.InvoiceNumber)
	if params.IdempotencyKey != "" {
		sessionParams.SetIdempotencyKey(params.IdempotencyKey)
	}

	session, err := s.api.CheckoutSessions.New(sessionParams)
	telemetry.RecordStripeAPICall("checkout_session_create", time.Since(start), err == nil)
	if err != nil {
		return nil, wrapStripeErr(err, "create payment link")
	}

	s.logger.InfoContext(ctx, "created payment link",
		slog.String("invoice_id", params.InvoiceID.String()),
		slog.String("session_id", session.ID))

	link := &PaymentLink{
		SessionID: session.ID,
		URL:       session.URL,
	}
	if session.ExpiresAt > 0 {
		link.ExpiresAt = time.Unix(session.ExpiresAt, 0).UTC()
	}
	return link, nil
}

// CheckStatus pulls the session's payment state from Stripe.
func (s *StripeProvider) CheckStatus(ctx context.Context, params CheckStatusParams) (*PaymentStatus, error) {
	if params.SessionID == "" {
		return nil, ErrSessionNotFound
	}

	start := time.Now()
	getParams := &stripe.CheckoutSessionParams{}
	getParams.Context = ctx
	getParams.AddExpand("payment_intent")

	session, err := s.api.CheckoutSessions.Get(params.SessionID, getParams)
	telemetry.RecordStripeAPICall("checkout_session_get", time.Since(start), err == nil)
	if err != nil {
		return nil, wrapStripeErr(err, "check payment status")
	}

	status := &PaymentStatus{}
	if session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid {
		status.Paid = true
		status.Amount = domain.Cents(session.AmountTotal)
		status.TransactionID = session.ID
		if session.PaymentIntent != nil {
			status.TransactionID = session.PaymentIntent.ID
			status.PaidAt = time.Unix(session.PaymentIntent.Created, 0).UTC()
		}
	}
	return status, nil
}

// ParseWebhookEvent verifies the payload and normalizes the Stripe event
// into gateway-neutral terms. Event types with no mapping return
// ErrUnhandledEvent so handlers can acknowledge without acting.
func (s *StripeProvider) ParseWebhookEvent(payload []byte, signature string) (*WebhookEvent, error) {
	event, err := webhook.ConstructEvent(payload, signature, s.config.WebhookSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWebhookSignature, err)
	}

	out := &WebhookEvent{
		ID:         event.ID,
		OccurredAt: time.Unix(event.Created, 0).UTC(),
	}

	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		session, err := sessionFromEvent(event.Data.Raw)
		if err != nil {
			return nil, err
		}
		if session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
			// Completed sessions for delayed methods fire again as
			// async_payment_succeeded once funds clear.
			return nil, fmt.Errorf("%w: %s (unpaid session)", ErrUnhandledEvent, event.Type)
		}
		invoiceID, err := invoiceIDFromSession(session)
		if err != nil {
			return nil, err
		}
		out.Type = EventPaymentMade
		out.InvoiceID = invoiceID
		out.Amount = domain.Cents(session.AmountTotal)
		out.TransactionID = session.ID
		if session.PaymentIntent != nil && session.PaymentIntent.ID != "" {
			out.TransactionID = session.PaymentIntent.ID
		}
		return out, nil

	case "checkout.session.expired":
		session, err := sessionFromEvent(event.Data.Raw)
		if err != nil {
			return nil, err
		}
		invoiceID, err := invoiceIDFromSession(session)
		if err != nil {
			return nil, err
		}
		out.Type = EventLinkExpired
		out.InvoiceID = invoiceID
		return out, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnhandledEvent, event.Type)
	}
}

func sessionFromEvent(raw json.RawMessage) (*stripe.CheckoutSession, error) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("billing: malformed checkout session payload: %w", err)
	}
	return &session, nil
}

func invoiceIDFromSession(session *stripe.CheckoutSession) (uuid.UUID, error) {
	ref := session.ClientReferenceID
	if ref == "" {
		ref = session.Metadata["invoice_id"]
	}
	if ref == "" {
		return uuid.Nil, ErrMissingInvoiceReference
	}
	id, err := uuid.Parse(ref)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %q", ErrMissingInvoiceReference, ref)
	}
	return id, nil
}

// wrapStripeErr converts SDK errors into StripeError, preserving decline
// and request details for logging.
func wrapStripeErr(err error, action string) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.Code == stripe.ErrorCodeResourceMissing {
			return fmt.Errorf("%w: %v", ErrSessionNotFound, err)
		}
		return &StripeError{
			Message:       fmt.Sprintf("failed to %s: %s", action, stripeErr.Msg),
			Code:          string(stripeErr.Code),
			DeclineCode:   string(stripeErr.DeclineCode),
			HTTPStatus:    stripeErr.HTTPStatusCode,
			RequestID:     stripeErr.RequestID,
			OriginalError: err,
		}
	}
	return &StripeError{
		Message:       fmt.Sprintf("failed to %s", action),
		OriginalError: err,
	}
}
