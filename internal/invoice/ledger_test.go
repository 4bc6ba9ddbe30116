package invoice_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldstack/fieldstack/internal/domain"
	"github.com/fieldstack/fieldstack/internal/invoice"
)

// sentInvoice builds a 10800-cent invoice and moves it to SENT.
func sentInvoice(t *testing.T) *domain.Invoice {
	t.Helper()

	params := buildParams()
	params.Settings.AllowPartialPayments = true
	inv, err := invoice.Build(params, time.Now())
	require.NoError(t, err)

	next, err := invoice.Transition(inv.Status, invoice.EventSend, inv.AmountDue)
	require.NoError(t, err)
	inv.Status = next
	return inv
}

func TestApplyPaymentLifecycle(t *testing.T) {
	inv := sentInvoice(t)

	// Manual cash payment covering half the balance.
	applied, err := invoice.ApplyPayment(inv, domain.Payment{
		Amount:     5400,
		Method:     domain.MethodCash,
		RecordedBy: "admin-1",
	})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, domain.Cents(5400), inv.AmountPaid)
	assert.Equal(t, domain.Cents(5400), inv.AmountDue)
	assert.Equal(t, domain.StatusPartiallyPaid, inv.Status)
	require.NoError(t, inv.CheckInvariants())

	// Gateway payment settles the rest.
	applied, err = invoice.ApplyPayment(inv, domain.Payment{
		Amount:                5400,
		Method:                domain.MethodCreditCard,
		ExternalTransactionID: "tx-1",
		RecordedBy:            "gateway",
	})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, domain.Cents(0), inv.AmountDue)
	assert.Equal(t, domain.StatusPaid, inv.Status)
	require.NotNil(t, inv.PaidAt)
	require.NoError(t, inv.CheckInvariants())

	// Webhook replay with the same transaction id is a silent no-op.
	applied, err = invoice.ApplyPayment(inv, domain.Payment{
		Amount:                5400,
		Method:                domain.MethodCreditCard,
		ExternalTransactionID: "tx-1",
		RecordedBy:            "gateway",
	})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Len(t, inv.Payments, 2)
	assert.Equal(t, domain.Cents(10800), inv.AmountPaid)
	assert.Equal(t, domain.StatusPaid, inv.Status)

	// A fresh payment against the paid invoice is rejected outright.
	_, err = invoice.ApplyPayment(inv, domain.Payment{Amount: 100, Method: domain.MethodCash})
	require.Error(t, err)
	assert.Equal(t, domain.ECONFLICT, domain.ErrorCode(err))
	assert.Len(t, inv.Payments, 2)
}

// The settling transaction redelivered after the invoice went terminal
// must still no-op: dedup runs before the status guard.
func TestApplyPaymentReplayOnSettledInvoice(t *testing.T) {
	inv := sentInvoice(t)

	applied, err := invoice.ApplyPayment(inv, domain.Payment{
		Amount:                inv.AmountDue,
		Method:                domain.MethodCreditCard,
		ExternalTransactionID: "tx-settle",
		RecordedBy:            "gateway",
	})
	require.NoError(t, err)
	require.True(t, applied)
	require.Equal(t, domain.StatusPaid, inv.Status)

	applied, err = invoice.ApplyPayment(inv, domain.Payment{
		Amount:                10800,
		Method:                domain.MethodCreditCard,
		ExternalTransactionID: "tx-settle",
		RecordedBy:            "gateway",
	})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Len(t, inv.Payments, 1)
	assert.Equal(t, domain.StatusPaid, inv.Status)
	require.NoError(t, inv.CheckInvariants())
}

func TestApplyPaymentRejections(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(*domain.Invoice)
		payment domain.Payment
		wantErr error
	}{
		{
			name:    "zero amount",
			payment: domain.Payment{Amount: 0, Method: domain.MethodCash},
			wantErr: domain.ErrPaymentAmountInvalid,
		},
		{
			name:    "negative amount",
			payment: domain.Payment{Amount: -100, Method: domain.MethodCash},
			wantErr: domain.ErrPaymentAmountInvalid,
		},
		{
			name:    "overpayment",
			payment: domain.Payment{Amount: 10801, Method: domain.MethodCash},
			wantErr: domain.ErrPaymentExceedsBalance,
		},
		{
			name: "partial disallowed",
			prepare: func(inv *domain.Invoice) {
				inv.Settings.AllowPartialPayments = false
			},
			payment: domain.Payment{Amount: 5000, Method: domain.MethodCash},
			wantErr: domain.ErrPartialPaymentDisallowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := sentInvoice(t)
			if tt.prepare != nil {
				tt.prepare(inv)
			}
			before := inv.Clone()

			applied, err := invoice.ApplyPayment(inv, tt.payment)
			require.ErrorIs(t, err, tt.wantErr)
			assert.False(t, applied)

			// Rejection leaves the invoice unchanged.
			assert.Equal(t, before.AmountPaid, inv.AmountPaid)
			assert.Equal(t, before.AmountDue, inv.AmountDue)
			assert.Equal(t, before.Status, inv.Status)
			assert.Equal(t, len(before.Payments), len(inv.Payments))
		})
	}
}

func TestApplyPaymentOnDraft(t *testing.T) {
	inv, err := invoice.Build(buildParams(), time.Now())
	require.NoError(t, err)

	_, err = invoice.ApplyPayment(inv, domain.Payment{Amount: 100, Method: domain.MethodCash})
	require.Error(t, err)
	assert.Equal(t, domain.ECONFLICT, domain.ErrorCode(err))
}

func TestOverdueInvoiceSettledInFullGoesStraightToPaid(t *testing.T) {
	inv := sentInvoice(t)
	inv.DueDate = time.Now().Add(-24 * time.Hour)

	require.True(t, invoice.IsOverdue(inv.Status, inv.DueDate, time.Now()))
	require.True(t, invoice.MarkOverdue(inv, time.Now()))
	assert.Equal(t, domain.StatusOverdue, inv.Status)

	applied, err := invoice.ApplyPayment(inv, domain.Payment{
		Amount: inv.AmountDue,
		Method: domain.MethodBankTransfer,
	})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, domain.StatusPaid, inv.Status)
	require.NoError(t, inv.CheckInvariants())
}

func TestApplyRefund(t *testing.T) {
	inv := sentInvoice(t)
	_, err := invoice.ApplyPayment(inv, domain.Payment{Amount: inv.AmountDue, Method: domain.MethodCheck})
	require.NoError(t, err)
	require.Equal(t, domain.StatusPaid, inv.Status)

	err = invoice.ApplyRefund(inv, domain.Refund{
		Amount:     10800,
		Reason:     "project canceled",
		RecordedBy: "admin-1",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRefunded, inv.Status)
	assert.Equal(t, domain.Cents(0), inv.AmountPaid)
	assert.Equal(t, domain.Cents(10800), inv.AmountDue)
	assert.Len(t, inv.Payments, 1, "refund never rewrites the payment ledger")
	assert.Len(t, inv.Refunds, 1)
	require.NoError(t, inv.CheckInvariants())
}

func TestApplyRefundRejections(t *testing.T) {
	t.Run("unpaid invoice", func(t *testing.T) {
		inv := sentInvoice(t)
		err := invoice.ApplyRefund(inv, domain.Refund{Amount: 100})
		require.Error(t, err)
		assert.Equal(t, domain.ECONFLICT, domain.ErrorCode(err))
	})

	t.Run("refund exceeds paid", func(t *testing.T) {
		inv := sentInvoice(t)
		_, err := invoice.ApplyPayment(inv, domain.Payment{Amount: inv.AmountDue, Method: domain.MethodCash})
		require.NoError(t, err)

		err = invoice.ApplyRefund(inv, domain.Refund{Amount: inv.AmountPaid + 1})
		require.ErrorIs(t, err, domain.ErrRefundExceedsPaid)
		assert.Equal(t, domain.StatusPaid, inv.Status)
	})
}
