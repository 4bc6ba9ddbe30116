package invoice

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fieldstack/fieldstack/internal/domain"
)

// Build assembles a fully computed DRAFT invoice from raw input.
//
// Computation order is fixed: per-line totals, subtotal, tax, discount,
// grand total. Tax is rounded to the nearest cent, half away from zero,
// so rebuilding from identical inputs always yields identical totals.
// Line totals are always recomputed; submitted totals are never trusted.
//
// Build has no side effects beyond the returned invoice; persistence and
// invoice numbering belong to the caller.
func Build(params domain.CreateInvoiceParams, now time.Time) (*domain.Invoice, error) {
	const op = "invoice.build"

	var verr error
	if params.ClientID == uuid.Nil {
		verr = domain.AddFieldError(verr, "client_id", "client is required")
	}
	if len(params.LineItems) == 0 {
		verr = domain.AddFieldError(verr, "line_items", "at least one line item is required")
	}
	for i, item := range params.LineItems {
		if item.Description == "" {
			verr = domain.AddFieldError(verr, fmt.Sprintf("line_items[%d].description", i), "description is required")
		}
		if item.Quantity < 0 {
			verr = domain.AddFieldError(verr, fmt.Sprintf("line_items[%d].quantity", i), "quantity cannot be negative")
		}
		if item.UnitPrice < 0 {
			verr = domain.AddFieldError(verr, fmt.Sprintf("line_items[%d].unit_price", i), "unit price cannot be negative")
		}
	}
	if params.TaxRate < 0 || params.TaxRate > 1 {
		verr = domain.AddFieldError(verr, "tax_rate", "tax rate must be a fraction between 0 and 1")
	}
	if params.DiscountAmount < 0 {
		verr = domain.AddFieldError(verr, "discount_cents", "discount cannot be negative")
	}

	issueDate := params.IssueDate
	if issueDate.IsZero() {
		issueDate = now
	}
	if params.DueDate.IsZero() {
		verr = domain.AddFieldError(verr, "due_date", "due date is required")
	} else if params.DueDate.Before(issueDate) {
		verr = domain.AddFieldError(verr, "due_date", "due date cannot precede issue date")
	}
	if verr != nil {
		return nil, withOp(verr, op)
	}

	items := make([]domain.LineItem, len(params.LineItems))
	var subtotal domain.Cents
	for i, in := range params.LineItems {
		lineTotal := domain.Cents(in.Quantity) * in.UnitPrice
		items[i] = domain.LineItem{
			Description: in.Description,
			Quantity:    in.Quantity,
			UnitPrice:   in.UnitPrice,
			LineTotal:   lineTotal,
		}
		subtotal += lineTotal
	}

	tax := roundTax(subtotal, params.TaxRate)
	if params.DiscountAmount > subtotal+tax {
		return nil, withOp(domain.AddFieldError(nil, "discount_cents", "discount cannot exceed subtotal plus tax"), op)
	}
	total := subtotal + tax - params.DiscountAmount

	settings := params.Settings
	if len(settings.AcceptedMethods) == 0 {
		settings.AcceptedMethods = []domain.PaymentMethod{
			domain.MethodCash,
			domain.MethodCheck,
			domain.MethodBankTransfer,
			domain.MethodCreditCard,
			domain.MethodOther,
		}
	}

	return &domain.Invoice{
		ID:                 uuid.New(),
		ClientID:           params.ClientID,
		AdditionalPayerIDs: params.AdditionalPayerIDs,
		ProjectID:          params.ProjectID,
		LineItems:          items,
		TaxRate:            params.TaxRate,
		Subtotal:           subtotal,
		TaxAmount:          tax,
		DiscountAmount:     params.DiscountAmount,
		TotalAmount:        total,
		AmountPaid:         0,
		AmountDue:          total,
		Status:             domain.StatusDraft,
		IssueDate:          issueDate,
		DueDate:            params.DueDate,
		Settings:           settings,
		Payments:           []domain.Payment{},
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

// roundTax computes round-half-up tax on an integer-cents subtotal.
// decimal.Round rounds half away from zero, which coincides with
// half-up for the non-negative amounts produced here. This is the only
// place fractional arithmetic touches money, and it never leaves as a
// float.
func roundTax(subtotal domain.Cents, rate float64) domain.Cents {
	if rate == 0 || subtotal == 0 {
		return 0
	}
	tax := decimal.NewFromInt(int64(subtotal)).
		Mul(decimal.NewFromFloat(rate)).
		Round(0)
	return domain.Cents(tax.IntPart())
}

func withOp(err error, op string) error {
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		ve.Op = op
	}
	return err
}
