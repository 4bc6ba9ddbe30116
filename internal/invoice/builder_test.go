package invoice_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldstack/fieldstack/internal/domain"
	"github.com/fieldstack/fieldstack/internal/invoice"
)

func buildParams() domain.CreateInvoiceParams {
	return domain.CreateInvoiceParams{
		ClientID: uuid.New(),
		LineItems: []domain.LineItemInput{
			{Description: "Framing labor", Quantity: 2, UnitPrice: 5000},
		},
		TaxRate: 0.08,
		DueDate: time.Now().AddDate(0, 1, 0),
	}
}

func TestBuildComputesTotals(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	inv, err := invoice.Build(buildParams(), now)
	require.NoError(t, err)

	assert.Equal(t, domain.Cents(10000), inv.Subtotal)
	assert.Equal(t, domain.Cents(800), inv.TaxAmount)
	assert.Equal(t, domain.Cents(10800), inv.TotalAmount)
	assert.Equal(t, domain.Cents(0), inv.AmountPaid)
	assert.Equal(t, domain.Cents(10800), inv.AmountDue)
	assert.Equal(t, domain.StatusDraft, inv.Status)
	assert.Equal(t, now, inv.IssueDate, "zero issue date defaults to now")
	assert.Equal(t, domain.Cents(10000), inv.LineItems[0].LineTotal)
	require.NoError(t, inv.CheckInvariants())
}

func TestBuildRoundsTaxHalfUp(t *testing.T) {
	tests := []struct {
		name     string
		subtotal domain.Cents
		taxRate  float64
		wantTax  domain.Cents
	}{
		{"exact", 10000, 0.08, 800},
		{"half rounds up", 125, 0.1, 13},     // 12.5
		{"below half rounds down", 124, 0.1, 12}, // 12.4
		{"above half rounds up", 126, 0.1, 13},   // 12.6
		{"zero rate", 10000, 0, 0},
		{"full rate", 333, 1, 333},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := buildParams()
			params.LineItems = []domain.LineItemInput{
				{Description: "Materials", Quantity: 1, UnitPrice: tt.subtotal},
			}
			params.TaxRate = tt.taxRate

			inv, err := invoice.Build(params, time.Now())
			require.NoError(t, err)
			assert.Equal(t, tt.wantTax, inv.TaxAmount)
		})
	}
}

// Rebuilding from identical inputs must always yield identical totals.
func TestBuildIsDeterministic(t *testing.T) {
	params := buildParams()
	params.LineItems = []domain.LineItemInput{
		{Description: "Drywall", Quantity: 7, UnitPrice: 3333},
		{Description: "Paint", Quantity: 3, UnitPrice: 1299},
	}
	params.TaxRate = 0.0825
	now := time.Now()

	first, err := invoice.Build(params, now)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		again, err := invoice.Build(params, now)
		require.NoError(t, err)
		assert.Equal(t, first.Subtotal, again.Subtotal)
		assert.Equal(t, first.TaxAmount, again.TaxAmount)
		assert.Equal(t, first.TotalAmount, again.TotalAmount)
	}
}

func TestBuildAppliesDiscount(t *testing.T) {
	params := buildParams()
	params.DiscountAmount = 800

	inv, err := invoice.Build(params, time.Now())
	require.NoError(t, err)
	assert.Equal(t, domain.Cents(10000), inv.TotalAmount)
	assert.Equal(t, domain.Cents(10000), inv.AmountDue)
}

func TestBuildValidation(t *testing.T) {
	issue := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		mutate    func(*domain.CreateInvoiceParams)
		wantField string
	}{
		{
			name:      "missing client",
			mutate:    func(p *domain.CreateInvoiceParams) { p.ClientID = uuid.Nil },
			wantField: "client_id",
		},
		{
			name:      "empty line items",
			mutate:    func(p *domain.CreateInvoiceParams) { p.LineItems = nil },
			wantField: "line_items",
		},
		{
			name: "negative quantity",
			mutate: func(p *domain.CreateInvoiceParams) {
				p.LineItems[0].Quantity = -1
			},
			wantField: "line_items[0].quantity",
		},
		{
			name: "negative unit price",
			mutate: func(p *domain.CreateInvoiceParams) {
				p.LineItems[0].UnitPrice = -100
			},
			wantField: "line_items[0].unit_price",
		},
		{
			name:      "tax rate above one",
			mutate:    func(p *domain.CreateInvoiceParams) { p.TaxRate = 1.5 },
			wantField: "tax_rate",
		},
		{
			name:      "negative discount",
			mutate:    func(p *domain.CreateInvoiceParams) { p.DiscountAmount = -1 },
			wantField: "discount_cents",
		},
		{
			name: "discount exceeds subtotal plus tax",
			mutate: func(p *domain.CreateInvoiceParams) {
				p.DiscountAmount = 99999
			},
			wantField: "discount_cents",
		},
		{
			name: "due date precedes issue date",
			mutate: func(p *domain.CreateInvoiceParams) {
				p.IssueDate = issue
				p.DueDate = issue.AddDate(0, 0, -1)
			},
			wantField: "due_date",
		},
		{
			name:      "missing due date",
			mutate:    func(p *domain.CreateInvoiceParams) { p.DueDate = time.Time{} },
			wantField: "due_date",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := buildParams()
			tt.mutate(&params)

			_, err := invoice.Build(params, time.Now())
			require.Error(t, err)
			require.True(t, domain.IsValidationError(err), "expected validation error, got %v", err)
			assert.Contains(t, domain.GetValidationFields(err), tt.wantField)
		})
	}
}
