// Package telemetry exposes Prometheus business metrics for the billing
// core. Metrics register on the default registerer at init and are
// served from the /metrics endpoint.
package telemetry

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BusinessMetrics tracks invoice and payment activity.
type BusinessMetrics struct {
	InvoicesCreated prometheus.Counter
	InvoicesSent    prometheus.Counter

	PaymentsRecorded *prometheus.CounterVec // labeled by method
	PaymentsRejected *prometheus.CounterVec // labeled by reason
	PaymentValue     prometheus.Histogram   // cents per applied payment

	WebhooksReceived  prometheus.Counter
	WebhooksProcessed prometheus.Counter
	WebhooksFailed    prometheus.Counter
	WebhooksDuplicate prometheus.Counter
	WebhookLatency    prometheus.Histogram

	RefundsRecorded   prometheus.Counter
	InvoicesCanceled  prometheus.Counter
	InvoicesOverdue   prometheus.Counter
	InvoicesPublished prometheus.Counter

	VersionConflicts prometheus.Counter

	StripeAPILatency *prometheus.HistogramVec // labeled by operation, success
}

// Business is the process-wide metrics instance.
var Business = newBusinessMetrics()

func newBusinessMetrics() *BusinessMetrics {
	return &BusinessMetrics{
		InvoicesCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fieldstack_invoices_created_total",
			Help: "Total invoices created",
		}),
		InvoicesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fieldstack_invoices_sent_total",
			Help: "Total invoices sent to clients",
		}),
		PaymentsRecorded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldstack_payments_recorded_total",
			Help: "Payments applied to the ledger",
		}, []string{"method"}),
		PaymentsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldstack_payments_rejected_total",
			Help: "Payments rejected before reaching the ledger",
		}, []string{"reason"}),
		PaymentValue: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "fieldstack_payment_value_cents",
			Help:    "Value of applied payments in cents",
			Buckets: prometheus.ExponentialBuckets(1000, 4, 10), // $10 .. ~$2.6M
		}),
		WebhooksReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fieldstack_gateway_webhooks_received_total",
			Help: "Gateway webhook deliveries received",
		}),
		WebhooksProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fieldstack_gateway_webhooks_processed_total",
			Help: "Gateway webhooks that changed ledger state",
		}),
		WebhooksFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fieldstack_gateway_webhooks_failed_total",
			Help: "Gateway webhooks that failed processing",
		}),
		WebhooksDuplicate: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fieldstack_gateway_webhooks_duplicate_total",
			Help: "Gateway webhook replays dropped by dedup",
		}),
		WebhookLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "fieldstack_gateway_webhook_duration_seconds",
			Help:    "Webhook processing time",
			Buckets: prometheus.DefBuckets,
		}),
		RefundsRecorded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fieldstack_refunds_recorded_total",
			Help: "Refund ledger entries recorded",
		}),
		InvoicesCanceled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fieldstack_invoices_canceled_total",
			Help: "Invoices moved to CANCELED",
		}),
		InvoicesOverdue: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fieldstack_invoices_marked_overdue_total",
			Help: "Invoices moved to OVERDUE by the sweep or a read",
		}),
		InvoicesPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fieldstack_scheduled_invoices_published_total",
			Help: "Scheduled invoices sent by the sweep",
		}),
		VersionConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fieldstack_invoice_version_conflicts_total",
			Help: "Optimistic concurrency conflicts on invoice updates",
		}),
		StripeAPILatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fieldstack_stripe_api_duration_seconds",
			Help:    "Latency of Stripe API calls",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "success"}),
	}
}

// RecordStripeAPICall observes one Stripe API round trip.
func RecordStripeAPICall(operation string, d time.Duration, success bool) {
	Business.StripeAPILatency.
		WithLabelValues(operation, strconv.FormatBool(success)).
		Observe(d.Seconds())
}
