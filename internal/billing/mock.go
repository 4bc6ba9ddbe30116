package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fieldstack/fieldstack/internal/domain"
)

// MockProvider is a mock payment gateway for testing.
// Simulates link creation and payment confirmation without network calls.
type MockProvider struct {
	// CreatePaymentLinkFunc allows customizing link creation behavior
	CreatePaymentLinkFunc func(ctx context.Context, params CreatePaymentLinkParams) (*PaymentLink, error)

	// CheckStatusFunc allows customizing status pull behavior
	CheckStatusFunc func(ctx context.Context, params CheckStatusParams) (*PaymentStatus, error)

	// ParseWebhookEventFunc allows customizing event parsing behavior
	ParseWebhookEventFunc func(payload []byte, signature string) (*WebhookEvent, error)

	// Links stores created links keyed by idempotency key, so repeated
	// creation for the same invoice returns the same link.
	Links map[string]*PaymentLink

	// Statuses stores payment state keyed by session id.
	Statuses map[string]*PaymentStatus

	// CallLog tracks method calls for test assertions
	CallLog []string
}

// NewMockProvider creates a new mock gateway.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Links:    make(map[string]*PaymentLink),
		Statuses: make(map[string]*PaymentStatus),
		CallLog:  []string{},
	}
}

// CreatePaymentLink returns a stable fake link per idempotency key.
func (m *MockProvider) CreatePaymentLink(ctx context.Context, params CreatePaymentLinkParams) (*PaymentLink, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("CreatePaymentLink(%s, %d)", params.InvoiceID, params.AmountDue))

	if m.CreatePaymentLinkFunc != nil {
		return m.CreatePaymentLinkFunc(ctx, params)
	}

	if link, ok := m.Links[params.IdempotencyKey]; ok && params.IdempotencyKey != "" {
		return link, nil
	}

	sessionID := "cs_test_" + uuid.New().String()
	link := &PaymentLink{
		SessionID: sessionID,
		URL:       "https://pay.example.com/" + sessionID,
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}
	if params.IdempotencyKey != "" {
		m.Links[params.IdempotencyKey] = link
	}
	m.Statuses[sessionID] = &PaymentStatus{Paid: false}
	return link, nil
}

// CheckStatus returns the stored status for a session.
func (m *MockProvider) CheckStatus(ctx context.Context, params CheckStatusParams) (*PaymentStatus, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("CheckStatus(%s)", params.SessionID))

	if m.CheckStatusFunc != nil {
		return m.CheckStatusFunc(ctx, params)
	}

	status, ok := m.Statuses[params.SessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return status, nil
}

// MarkPaid flips a session to paid, as if the payer completed checkout.
func (m *MockProvider) MarkPaid(sessionID string, amount int64, transactionID string) {
	m.Statuses[sessionID] = &PaymentStatus{
		Paid:          true,
		Amount:        domain.Cents(amount),
		TransactionID: transactionID,
		PaidAt:        time.Now(),
	}
}

// ParseWebhookEvent delegates to the customization hook. The default
// rejects the literal signature "invalid" and treats everything else as
// an event type with no mapping.
func (m *MockProvider) ParseWebhookEvent(payload []byte, signature string) (*WebhookEvent, error) {
	m.CallLog = append(m.CallLog, "ParseWebhookEvent")

	if m.ParseWebhookEventFunc != nil {
		return m.ParseWebhookEventFunc(payload, signature)
	}
	if signature == "invalid" {
		return nil, ErrInvalidWebhookSignature
	}
	return nil, ErrUnhandledEvent
}
