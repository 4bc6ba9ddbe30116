package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldstack/fieldstack/internal/domain"
	"github.com/fieldstack/fieldstack/internal/handler/api"
	"github.com/fieldstack/fieldstack/internal/router"
)

// mockInvoiceService stubs the slices of the service each test needs.
// Unstubbed methods panic through the embedded nil interface.
type mockInvoiceService struct {
	domain.InvoiceService

	createFunc      func(ctx context.Context, params domain.CreateInvoiceParams) (*domain.Invoice, error)
	getFunc         func(ctx context.Context, id uuid.UUID) (*domain.Invoice, error)
	getByNumberFunc func(ctx context.Context, number string) (*domain.Invoice, error)
	paymentFunc     func(ctx context.Context, params domain.RecordPaymentParams) (*domain.Invoice, *domain.Payment, error)
	linkFunc        func(ctx context.Context, id uuid.UUID, contact string) (string, error)
}

func (m *mockInvoiceService) CreateInvoice(ctx context.Context, params domain.CreateInvoiceParams) (*domain.Invoice, error) {
	return m.createFunc(ctx, params)
}

func (m *mockInvoiceService) GetInvoice(ctx context.Context, id uuid.UUID) (*domain.Invoice, error) {
	return m.getFunc(ctx, id)
}

func (m *mockInvoiceService) GetInvoiceByNumber(ctx context.Context, number string) (*domain.Invoice, error) {
	return m.getByNumberFunc(ctx, number)
}

func (m *mockInvoiceService) RecordPayment(ctx context.Context, params domain.RecordPaymentParams) (*domain.Invoice, *domain.Payment, error) {
	return m.paymentFunc(ctx, params)
}

func (m *mockInvoiceService) CreatePaymentLink(ctx context.Context, id uuid.UUID, contact string) (string, error) {
	return m.linkFunc(ctx, id, contact)
}

func newTestRouter(svc domain.InvoiceService) *router.Router {
	r := router.New()
	api.NewInvoiceHandler(svc, nil).Register(r)
	return r
}

func sampleInvoice(id uuid.UUID) *domain.Invoice {
	return &domain.Invoice{
		ID:          id,
		Number:      "INV-00042",
		Status:      domain.StatusSent,
		Subtotal:    10000,
		TaxAmount:   800,
		TotalAmount: 10800,
		AmountDue:   10800,
	}
}

func TestCreateInvoiceEndpoint(t *testing.T) {
	var got domain.CreateInvoiceParams
	svc := &mockInvoiceService{
		createFunc: func(ctx context.Context, params domain.CreateInvoiceParams) (*domain.Invoice, error) {
			got = params
			inv := sampleInvoice(uuid.New())
			inv.Status = domain.StatusDraft
			return inv, nil
		},
	}
	r := newTestRouter(svc)

	clientID := uuid.New()
	body := `{
		"client_id": "` + clientID.String() + `",
		"line_items": [{"description": "Framing labor", "quantity": 2, "unit_price_cents": 5000}],
		"tax_rate": 0.08,
		"due_date": "` + time.Now().AddDate(0, 1, 0).Format(time.RFC3339) + `",
		"created_by": "pm@example.com"
	}`
	req := httptest.NewRequest(http.MethodPost, "/invoices", strings.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, clientID, got.ClientID)
	require.Len(t, got.LineItems, 1)
	assert.Equal(t, domain.Cents(5000), got.LineItems[0].UnitPrice)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "$108.00", resp["total_display"])
}

func TestCreateInvoiceValidationErrorShape(t *testing.T) {
	svc := &mockInvoiceService{
		createFunc: func(ctx context.Context, params domain.CreateInvoiceParams) (*domain.Invoice, error) {
			return nil, domain.NewValidationError("invoice.build", "line_items", "at least one line item is required")
		},
	}
	r := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/invoices", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp struct {
		Code   string            `json:"code"`
		Fields map[string]string `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(domain.EINVALID), resp.Code)
	assert.Contains(t, resp.Fields, "line_items")
}

func TestGetInvoiceByIDOrNumber(t *testing.T) {
	id := uuid.New()
	svc := &mockInvoiceService{
		getFunc: func(ctx context.Context, got uuid.UUID) (*domain.Invoice, error) {
			assert.Equal(t, id, got)
			return sampleInvoice(id), nil
		},
		getByNumberFunc: func(ctx context.Context, number string) (*domain.Invoice, error) {
			assert.Equal(t, "INV-00042", number)
			return sampleInvoice(id), nil
		},
	}
	r := newTestRouter(svc)

	for _, path := range []string{"/invoices/" + id.String(), "/invoices/INV-00042"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestGetInvoiceNotFound(t *testing.T) {
	svc := &mockInvoiceService{
		getFunc: func(ctx context.Context, id uuid.UUID) (*domain.Invoice, error) {
			return nil, domain.ErrInvoiceNotFound
		},
	}
	r := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/invoices/"+uuid.NewString(), nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecordPaymentEndpoint(t *testing.T) {
	id := uuid.New()
	svc := &mockInvoiceService{
		paymentFunc: func(ctx context.Context, params domain.RecordPaymentParams) (*domain.Invoice, *domain.Payment, error) {
			assert.Equal(t, id, params.InvoiceID)
			assert.Equal(t, domain.Cents(5000), params.Amount)
			assert.Equal(t, domain.MethodCheck, params.Method)
			inv := sampleInvoice(id)
			inv.Status = domain.StatusPartiallyPaid
			inv.AmountPaid = 5000
			inv.AmountDue = 5800
			p := domain.Payment{ID: uuid.New(), Amount: params.Amount, Method: params.Method, RecordedBy: params.RecordedBy}
			return inv, &p, nil
		},
	}
	r := newTestRouter(svc)

	body := `{"amount_cents": 5000, "method": "CHECK", "recorded_by": "office@example.com"}`
	req := httptest.NewRequest(http.MethodPost, "/invoices/"+id.String()+"/payments", strings.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Invoice struct {
			Status     string `json:"status"`
			DueDisplay string `json:"amount_due_display"`
		} `json:"invoice"`
		Payment domain.Payment `json:"payment"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "PARTIALLY_PAID", resp.Invoice.Status)
	assert.Equal(t, "$58.00", resp.Invoice.DueDisplay)
	assert.Equal(t, domain.Cents(5000), resp.Payment.Amount)
}

func TestRecordPaymentOverpaymentRejected(t *testing.T) {
	id := uuid.New()
	svc := &mockInvoiceService{
		paymentFunc: func(ctx context.Context, params domain.RecordPaymentParams) (*domain.Invoice, *domain.Payment, error) {
			return nil, nil, domain.ErrPaymentExceedsBalance
		},
	}
	r := newTestRouter(svc)

	body := `{"amount_cents": 999999, "method": "CHECK", "recorded_by": "office@example.com"}`
	req := httptest.NewRequest(http.MethodPost, "/invoices/"+id.String()+"/payments", strings.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
}

func TestCreatePaymentLinkEndpoint(t *testing.T) {
	id := uuid.New()
	svc := &mockInvoiceService{
		linkFunc: func(ctx context.Context, got uuid.UUID, contact string) (string, error) {
			assert.Equal(t, id, got)
			assert.Equal(t, "owner@example.com", contact)
			return "https://checkout.stripe.com/pay/cs_test_123", nil
		},
	}
	r := newTestRouter(svc)

	body := `{"payer_contact": "owner@example.com"}`
	req := httptest.NewRequest(http.MethodPost, "/invoices/"+id.String()+"/payment-link", strings.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "https://checkout.stripe.com/pay/cs_test_123", resp["payment_url"])
}
