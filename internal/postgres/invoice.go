package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldstack/fieldstack/internal/domain"
)

// InvoiceStore implements domain.InvoiceStore using PostgreSQL.
//
// Writes go through transactions keyed on the invoice version column:
// the UPDATE only matches when the stored version equals the version
// the caller read, so two concurrent read-modify-write cycles cannot
// both commit. Ledger entries land in the same transaction as the
// status change.
type InvoiceStore struct {
	pool *pgxpool.Pool
}

// Compile-time check to ensure InvoiceStore implements domain.InvoiceStore.
var _ domain.InvoiceStore = (*InvoiceStore)(nil)

// NewInvoiceStore creates a new InvoiceStore instance.
func NewInvoiceStore(pool *pgxpool.Pool) *InvoiceStore {
	return &InvoiceStore{pool: pool}
}

const invoiceColumns = `id, number, client_id, additional_payer_ids, project_id, tax_rate,
	subtotal_cents, tax_cents, discount_cents, total_cents, amount_paid_cents, amount_due_cents,
	status, issue_date, due_date, scheduled_send_at, paid_at,
	accepted_methods, allow_partial_payments, auto_charge_enabled,
	payment_link_url, gateway_session_id, version, created_at, updated_at`

// CreateInvoice persists a newly built invoice and its line items.
func (s *InvoiceStore) CreateInvoice(ctx context.Context, inv *domain.Invoice) error {
	const op = "postgres.invoice_create"

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.WrapError(err, domain.EINTERNAL, op, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	inv.Version = 1
	touchTimestamps(inv, time.Now().UTC())
	_, err = tx.Exec(ctx, `
		INSERT INTO invoices (
			id, number, client_id, additional_payer_ids, project_id, tax_rate,
			subtotal_cents, tax_cents, discount_cents, total_cents, amount_paid_cents, amount_due_cents,
			status, issue_date, due_date, scheduled_send_at, paid_at,
			accepted_methods, allow_partial_payments, auto_charge_enabled,
			payment_link_url, gateway_session_id, version, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17,
			$18, $19, $20,
			$21, $22, $23, $24, $25
		)`,
		inv.ID, inv.Number, inv.ClientID, inv.AdditionalPayerIDs, inv.ProjectID, inv.TaxRate,
		int64(inv.Subtotal), int64(inv.TaxAmount), int64(inv.DiscountAmount), int64(inv.TotalAmount),
		int64(inv.AmountPaid), int64(inv.AmountDue),
		string(inv.Status), inv.IssueDate, inv.DueDate, inv.ScheduledSendAt, inv.PaidAt,
		methodsToStrings(inv.Settings.AcceptedMethods), inv.Settings.AllowPartialPayments, inv.Settings.AutoChargeEnabled,
		inv.PaymentLinkURL, inv.GatewaySessionID, inv.Version, inv.CreatedAt, inv.UpdatedAt,
	)
	if err != nil {
		return domain.WrapError(err, domain.EINTERNAL, op, "failed to insert invoice")
	}

	if err := insertLineItems(ctx, tx, inv.ID, inv.LineItems); err != nil {
		return domain.WrapError(err, domain.EINTERNAL, op, "failed to insert line items")
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.WrapError(err, domain.EINTERNAL, op, "failed to commit")
	}
	return nil
}

// GetInvoice loads the full aggregate.
func (s *InvoiceStore) GetInvoice(ctx context.Context, invoiceID uuid.UUID) (*domain.Invoice, error) {
	const op = "postgres.invoice_get"
	return s.getInvoiceWhere(ctx, op, "id = $1", invoiceID)
}

// GetInvoiceByNumber loads the full aggregate by invoice number.
func (s *InvoiceStore) GetInvoiceByNumber(ctx context.Context, number string) (*domain.Invoice, error) {
	const op = "postgres.invoice_get_by_number"
	return s.getInvoiceWhere(ctx, op, "number = $1", number)
}

func (s *InvoiceStore) getInvoiceWhere(ctx context.Context, op, where string, arg any) (*domain.Invoice, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf("SELECT %s FROM invoices WHERE %s", invoiceColumns, where), arg)
	inv, err := scanInvoice(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrInvoiceNotFound
		}
		return nil, domain.WrapError(err, domain.EINTERNAL, op, "failed to load invoice")
	}

	if err := s.loadChildren(ctx, inv); err != nil {
		return nil, domain.WrapError(err, domain.EINTERNAL, op, "failed to load invoice children")
	}
	return inv, nil
}

// ListInvoices lists invoice aggregates, newest first.
func (s *InvoiceStore) ListInvoices(ctx context.Context, params domain.ListInvoicesParams) ([]domain.Invoice, error) {
	const op = "postgres.invoice_list"

	query := fmt.Sprintf("SELECT %s FROM invoices WHERE 1=1", invoiceColumns)
	args := []any{}
	if params.ClientID != nil {
		args = append(args, *params.ClientID)
		query += fmt.Sprintf(" AND client_id = $%d", len(args))
	}
	if params.Status != nil {
		args = append(args, string(*params.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	args = append(args, params.Limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))
	args = append(args, params.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, domain.WrapError(err, domain.EINTERNAL, op, "failed to list invoices")
	}
	defer rows.Close()

	var out []domain.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, domain.WrapError(err, domain.EINTERNAL, op, "failed to scan invoice")
		}
		out = append(out, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapError(err, domain.EINTERNAL, op, "failed to iterate invoices")
	}

	for i := range out {
		if err := s.loadChildren(ctx, &out[i]); err != nil {
			return nil, domain.WrapError(err, domain.EINTERNAL, op, "failed to load invoice children")
		}
	}
	return out, nil
}

// UpdateInvoice commits the aggregate when the stored version still
// equals expectedVersion. New ledger entries (payments and refunds past
// the previously persisted count) are appended in the same transaction;
// existing entries are never touched.
func (s *InvoiceStore) UpdateInvoice(ctx context.Context, inv *domain.Invoice, expectedVersion int64) error {
	const op = "postgres.invoice_update"

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.WrapError(err, domain.EINTERNAL, op, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	newVersion := expectedVersion + 1
	tag, err := tx.Exec(ctx, `
		UPDATE invoices SET
			status = $1,
			amount_paid_cents = $2,
			amount_due_cents = $3,
			scheduled_send_at = $4,
			paid_at = $5,
			payment_link_url = $6,
			gateway_session_id = $7,
			due_date = $8,
			allow_partial_payments = $9,
			accepted_methods = $10,
			auto_charge_enabled = $11,
			updated_at = $12,
			version = $13
		WHERE id = $14 AND version = $15`,
		string(inv.Status),
		int64(inv.AmountPaid),
		int64(inv.AmountDue),
		inv.ScheduledSendAt,
		inv.PaidAt,
		inv.PaymentLinkURL,
		inv.GatewaySessionID,
		inv.DueDate,
		inv.Settings.AllowPartialPayments,
		methodsToStrings(inv.Settings.AcceptedMethods),
		inv.Settings.AutoChargeEnabled,
		inv.UpdatedAt,
		newVersion,
		inv.ID, expectedVersion,
	)
	if err != nil {
		return domain.WrapError(err, domain.EINTERNAL, op, "failed to update invoice")
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM invoices WHERE id = $1)`, inv.ID).Scan(&exists); err != nil {
			return domain.WrapError(err, domain.EINTERNAL, op, "failed to check invoice existence")
		}
		if !exists {
			return domain.ErrInvoiceNotFound
		}
		return domain.ErrVersionConflict
	}

	if err := appendPayments(ctx, tx, inv); err != nil {
		return domain.WrapError(err, domain.EINTERNAL, op, "failed to append payments")
	}
	if err := appendRefunds(ctx, tx, inv); err != nil {
		return domain.WrapError(err, domain.EINTERNAL, op, "failed to append refunds")
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.WrapError(err, domain.EINTERNAL, op, "failed to commit")
	}
	inv.Version = newVersion
	return nil
}

// NextInvoiceNumber allocates the next human-readable invoice number.
func (s *InvoiceStore) NextInvoiceNumber(ctx context.Context) (string, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT nextval('invoice_number_seq')`).Scan(&n); err != nil {
		return "", domain.WrapError(err, domain.EINTERNAL, "postgres.invoice_number", "failed to advance invoice sequence")
	}
	return fmt.Sprintf("INV-%05d", n), nil
}

// ListOverdueCandidates returns ids of unpaid invoices past due whose
// stored status has not been swept yet.
func (s *InvoiceStore) ListOverdueCandidates(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	return s.listIDs(ctx, `
		SELECT id FROM invoices
		WHERE status IN ('SENT', 'PARTIALLY_PAID')
		  AND amount_due_cents > 0
		  AND due_date < $1`, now)
}

// ListScheduledDue returns ids of SCHEDULED invoices whose send time arrived.
func (s *InvoiceStore) ListScheduledDue(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	return s.listIDs(ctx, `
		SELECT id FROM invoices
		WHERE status = 'SCHEDULED'
		  AND scheduled_send_at IS NOT NULL
		  AND scheduled_send_at <= $1`, now)
}

// ListOpenPaymentLinks returns ids of unpaid invoices with an
// outstanding gateway link.
func (s *InvoiceStore) ListOpenPaymentLinks(ctx context.Context) ([]uuid.UUID, error) {
	return s.listIDs(ctx, `
		SELECT id FROM invoices
		WHERE gateway_session_id <> ''
		  AND status NOT IN ('PAID', 'CANCELED', 'REFUNDED', 'DRAFT')`)
}

func (s *InvoiceStore) listIDs(ctx context.Context, query string, args ...any) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MarkGatewayEvent records a webhook event id, returning false when the
// id was already seen.
func (s *InvoiceStore) MarkGatewayEvent(ctx context.Context, eventID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO gateway_events (event_id) VALUES ($1)
		ON CONFLICT (event_id) DO NOTHING`, eventID)
	if err != nil {
		return false, domain.WrapError(err, domain.EINTERNAL, "postgres.gateway_event", "failed to record gateway event")
	}
	return tag.RowsAffected() == 1, nil
}

// UnmarkGatewayEvent forgets an event id so the gateway's redelivery is
// processed rather than dropped as a duplicate.
func (s *InvoiceStore) UnmarkGatewayEvent(ctx context.Context, eventID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM gateway_events WHERE event_id = $1`, eventID)
	if err != nil {
		return domain.WrapError(err, domain.EINTERNAL, "postgres.gateway_event", "failed to forget gateway event")
	}
	return nil
}
