package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/fieldstack/fieldstack/internal/domain"
)

type rowScanner interface {
	Scan(dest ...any) error
}

// scanInvoice reads one invoices row. Status strings are validated at
// this boundary; a row with an unknown status never enters the core.
func scanInvoice(row rowScanner) (*domain.Invoice, error) {
	var (
		inv          domain.Invoice
		status       string
		methods      []string
		subtotal     int64
		tax          int64
		discount     int64
		total        int64
		paid         int64
		due          int64
	)

	err := row.Scan(
		&inv.ID, &inv.Number, &inv.ClientID, &inv.AdditionalPayerIDs, &inv.ProjectID, &inv.TaxRate,
		&subtotal, &tax, &discount, &total, &paid, &due,
		&status, &inv.IssueDate, &inv.DueDate, &inv.ScheduledSendAt, &inv.PaidAt,
		&methods, &inv.Settings.AllowPartialPayments, &inv.Settings.AutoChargeEnabled,
		&inv.PaymentLinkURL, &inv.GatewaySessionID, &inv.Version, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	inv.Subtotal = domain.Cents(subtotal)
	inv.TaxAmount = domain.Cents(tax)
	inv.DiscountAmount = domain.Cents(discount)
	inv.TotalAmount = domain.Cents(total)
	inv.AmountPaid = domain.Cents(paid)
	inv.AmountDue = domain.Cents(due)

	inv.Status, err = domain.ParseInvoiceStatus(status)
	if err != nil {
		return nil, err
	}
	inv.Settings.AcceptedMethods, err = stringsToMethods(methods)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// loadChildren fills line items, payments, and refunds in ledger order.
func (s *InvoiceStore) loadChildren(ctx context.Context, inv *domain.Invoice) error {
	rows, err := s.pool.Query(ctx, `
		SELECT description, quantity, unit_price_cents, line_total_cents
		FROM invoice_line_items WHERE invoice_id = $1 ORDER BY position`, inv.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	inv.LineItems = []domain.LineItem{}
	for rows.Next() {
		var (
			item      domain.LineItem
			unitPrice int64
			lineTotal int64
		)
		if err := rows.Scan(&item.Description, &item.Quantity, &unitPrice, &lineTotal); err != nil {
			return err
		}
		item.UnitPrice = domain.Cents(unitPrice)
		item.LineTotal = domain.Cents(lineTotal)
		inv.LineItems = append(inv.LineItems, item)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if err := s.loadPayments(ctx, inv); err != nil {
		return err
	}
	return s.loadRefunds(ctx, inv)
}

func (s *InvoiceStore) loadPayments(ctx context.Context, inv *domain.Invoice) error {
	rows, err := s.pool.Query(ctx, `
		SELECT id, amount_cents, method, external_transaction_id, paid_at, note, recorded_by
		FROM invoice_payments WHERE invoice_id = $1 ORDER BY position`, inv.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	inv.Payments = []domain.Payment{}
	for rows.Next() {
		var (
			p      domain.Payment
			amount int64
			method string
		)
		if err := rows.Scan(&p.ID, &amount, &method, &p.ExternalTransactionID, &p.PaidAt, &p.Note, &p.RecordedBy); err != nil {
			return err
		}
		p.Amount = domain.Cents(amount)
		p.Method, err = domain.ParsePaymentMethod(method)
		if err != nil {
			return err
		}
		inv.Payments = append(inv.Payments, p)
	}
	return rows.Err()
}

func (s *InvoiceStore) loadRefunds(ctx context.Context, inv *domain.Invoice) error {
	rows, err := s.pool.Query(ctx, `
		SELECT id, amount_cents, reason, refunded_at, recorded_by
		FROM invoice_refunds WHERE invoice_id = $1 ORDER BY position`, inv.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	inv.Refunds = nil
	for rows.Next() {
		var (
			r      domain.Refund
			amount int64
		)
		if err := rows.Scan(&r.ID, &amount, &r.Reason, &r.RefundedAt, &r.RecordedBy); err != nil {
			return err
		}
		r.Amount = domain.Cents(amount)
		inv.Refunds = append(inv.Refunds, r)
	}
	return rows.Err()
}

func insertLineItems(ctx context.Context, tx pgx.Tx, invoiceID uuid.UUID, items []domain.LineItem) error {
	for i, item := range items {
		_, err := tx.Exec(ctx, `
			INSERT INTO invoice_line_items (invoice_id, position, description, quantity, unit_price_cents, line_total_cents)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			invoiceID, i, item.Description, item.Quantity, int64(item.UnitPrice), int64(item.LineTotal))
		if err != nil {
			return err
		}
	}
	return nil
}

// appendPayments inserts ledger entries past the persisted count.
// Entries already on disk are never rewritten.
func appendPayments(ctx context.Context, tx pgx.Tx, inv *domain.Invoice) error {
	var existing int
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM invoice_payments WHERE invoice_id = $1`, inv.ID).Scan(&existing); err != nil {
		return err
	}
	for i := existing; i < len(inv.Payments); i++ {
		p := inv.Payments[i]
		_, err := tx.Exec(ctx, `
			INSERT INTO invoice_payments (id, invoice_id, position, amount_cents, method, external_transaction_id, paid_at, note, recorded_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			p.ID, inv.ID, i, int64(p.Amount), string(p.Method), p.ExternalTransactionID, p.PaidAt, p.Note, p.RecordedBy)
		if err != nil {
			return err
		}
	}
	return nil
}

func appendRefunds(ctx context.Context, tx pgx.Tx, inv *domain.Invoice) error {
	var existing int
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM invoice_refunds WHERE invoice_id = $1`, inv.ID).Scan(&existing); err != nil {
		return err
	}
	for i := existing; i < len(inv.Refunds); i++ {
		r := inv.Refunds[i]
		_, err := tx.Exec(ctx, `
			INSERT INTO invoice_refunds (id, invoice_id, position, amount_cents, reason, refunded_at, recorded_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			r.ID, inv.ID, i, int64(r.Amount), r.Reason, r.RefundedAt, r.RecordedBy)
		if err != nil {
			return err
		}
	}
	return nil
}

func methodsToStrings(methods []domain.PaymentMethod) []string {
	out := make([]string, len(methods))
	for i, m := range methods {
		out[i] = string(m)
	}
	return out
}

func stringsToMethods(values []string) ([]domain.PaymentMethod, error) {
	out := make([]domain.PaymentMethod, len(values))
	for i, v := range values {
		m, err := domain.ParsePaymentMethod(v)
		if err != nil {
			return nil, err
		}
		out[i] = m
	}
	return out, nil
}

// touchTimestamps normalizes zero timestamps before insert so NOT NULL
// columns never receive the zero time.
func touchTimestamps(inv *domain.Invoice, now time.Time) {
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = now
	}
	if inv.UpdatedAt.IsZero() {
		inv.UpdatedAt = now
	}
}
