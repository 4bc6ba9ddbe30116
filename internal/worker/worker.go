// Package worker runs the periodic billing sweeps.
package worker

import (
	"context"
	"log/slog"
	"time"
)

// InvoiceSweeper is the slice of the invoice service the worker drives.
type InvoiceSweeper interface {
	MarkInvoicesOverdue(ctx context.Context) (int, error)
	PublishScheduledInvoices(ctx context.Context) (int, error)
	ReconcileOpenInvoices(ctx context.Context) (int, error)
}

// Worker periodically marks overdue invoices, publishes scheduled ones,
// and reconciles open payment links against the gateway. Every sweep is
// idempotent and isolated per invoice, so overlapping runs from
// multiple instances waste work but never corrupt state.
type Worker struct {
	invoices InvoiceSweeper
	logger   *slog.Logger

	sweepInterval     time.Duration
	reconcileInterval time.Duration
}

// Config controls sweep cadence.
type Config struct {
	// SweepInterval is how often overdue marking and scheduled
	// publishing run.
	SweepInterval time.Duration

	// ReconcileInterval is how often open payment links are polled.
	// Zero disables pull reconciliation.
	ReconcileInterval time.Duration
}

// New creates a new Worker instance.
func New(invoices InvoiceSweeper, config Config, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = 5 * time.Minute
	}
	return &Worker{
		invoices:          invoices,
		logger:            logger,
		sweepInterval:     config.SweepInterval,
		reconcileInterval: config.ReconcileInterval,
	}
}

// Run blocks, sweeping on each tick until ctx is canceled. Always
// returns ctx.Err().
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("billing worker started",
		slog.Duration("sweep_interval", w.sweepInterval),
		slog.Duration("reconcile_interval", w.reconcileInterval))

	sweep := time.NewTicker(w.sweepInterval)
	defer sweep.Stop()

	var reconcile <-chan time.Time
	if w.reconcileInterval > 0 {
		t := time.NewTicker(w.reconcileInterval)
		defer t.Stop()
		reconcile = t.C
	}

	// One sweep at startup so a restart never delays overdue marking
	// by a full interval.
	w.runSweep(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("billing worker stopped")
			return ctx.Err()
		case <-sweep.C:
			w.runSweep(ctx)
		case <-reconcile:
			w.runReconcile(ctx)
		}
	}
}

func (w *Worker) runSweep(ctx context.Context) {
	if overdue, err := w.invoices.MarkInvoicesOverdue(ctx); err != nil {
		w.logger.Error("overdue sweep failed", slog.String("error", err.Error()))
	} else if overdue > 0 {
		w.logger.Info("marked invoices overdue", slog.Int("count", overdue))
	}

	if published, err := w.invoices.PublishScheduledInvoices(ctx); err != nil {
		w.logger.Error("scheduled publish failed", slog.String("error", err.Error()))
	} else if published > 0 {
		w.logger.Info("published scheduled invoices", slog.Int("count", published))
	}
}

func (w *Worker) runReconcile(ctx context.Context) {
	settled, err := w.invoices.ReconcileOpenInvoices(ctx)
	if err != nil {
		w.logger.Error("gateway reconciliation failed", slog.String("error", err.Error()))
		return
	}
	if settled > 0 {
		w.logger.Info("reconciled paid invoices from gateway", slog.Int("count", settled))
	}
}
