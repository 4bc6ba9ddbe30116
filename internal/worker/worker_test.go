package worker_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fieldstack/fieldstack/internal/worker"
)

type fakeSweeper struct {
	overdue    atomic.Int64
	published  atomic.Int64
	reconciled atomic.Int64
	sweepErr   error
}

func (f *fakeSweeper) MarkInvoicesOverdue(ctx context.Context) (int, error) {
	f.overdue.Add(1)
	return 1, f.sweepErr
}

func (f *fakeSweeper) PublishScheduledInvoices(ctx context.Context) (int, error) {
	f.published.Add(1)
	return 0, nil
}

func (f *fakeSweeper) ReconcileOpenInvoices(ctx context.Context) (int, error) {
	f.reconciled.Add(1)
	return 0, nil
}

func TestWorkerRunsSweepsUntilCanceled(t *testing.T) {
	sweeper := &fakeSweeper{}
	w := worker.New(sweeper, worker.Config{
		SweepInterval:     5 * time.Millisecond,
		ReconcileInterval: 5 * time.Millisecond,
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	err := w.Run(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	// One sweep at startup plus at least one tick of each.
	assert.GreaterOrEqual(t, sweeper.overdue.Load(), int64(2))
	assert.GreaterOrEqual(t, sweeper.published.Load(), int64(2))
	assert.GreaterOrEqual(t, sweeper.reconciled.Load(), int64(1))
}

func TestWorkerSweepErrorDoesNotStopLoop(t *testing.T) {
	sweeper := &fakeSweeper{sweepErr: errors.New("db down")}
	w := worker.New(sweeper, worker.Config{SweepInterval: 5 * time.Millisecond}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()

	_ = w.Run(ctx)

	// Failures are logged and the next tick still runs.
	assert.GreaterOrEqual(t, sweeper.overdue.Load(), int64(2))
	// Publishing still runs within the same sweep after the overdue
	// pass fails.
	assert.GreaterOrEqual(t, sweeper.published.Load(), int64(2))
}

func TestWorkerReconcileDisabledWhenIntervalZero(t *testing.T) {
	sweeper := &fakeSweeper{}
	w := worker.New(sweeper, worker.Config{SweepInterval: 5 * time.Millisecond}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()

	_ = w.Run(ctx)
	assert.Equal(t, int64(0), sweeper.reconciled.Load())
}
