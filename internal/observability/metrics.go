package observability

// Pipeline metrics. HTTP request metrics live in the middleware package;
// these cover the background side: webhook outcomes, the job queue, order
// transitions, inventory and notifications. Labels are bounded enums only.

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// WebhooksTotal counts ingested callbacks by source and outcome
	// (accepted, duplicate, invalid_signature, unparseable, disabled, error).
	WebhooksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keyshop_webhooks_total",
			Help: "Webhook callbacks received, by source and outcome.",
		},
		[]string{"source", "outcome"},
	)

	// JobsTotal counts settled job runs by kind and outcome
	// (done, retry, deferred, failed).
	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keyshop_jobs_total",
			Help: "Background job runs, by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	// JobDuration observes handler run time in seconds by kind.
	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "keyshop_job_duration_seconds",
			Help:    "Duration of background job handlers in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// OrderTransitions counts committed order status changes.
	OrderTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keyshop_order_transitions_total",
			Help: "Committed order status transitions.",
		},
		[]string{"from", "to"},
	)

	// ReservationsTotal counts reserve attempts by outcome
	// (reserved, insufficient, conflict).
	ReservationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keyshop_reservations_total",
			Help: "Inventory reservation attempts, by outcome.",
		},
		[]string{"outcome"},
	)

	// DecryptFailures counts inventory items that failed authentication on
	// finalize and were marked invalid. Any increase should page.
	DecryptFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "keyshop_inventory_decrypt_failures_total",
			Help: "Inventory items marked invalid after a decryption failure.",
		},
	)

	// SweptReservations counts reservations released by the TTL sweeper.
	SweptReservations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "keyshop_swept_reservations_total",
			Help: "Expired reservations released by the sweeper.",
		},
	)

	// NotificationsTotal counts delivery events by outcome (sent, error, skipped).
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keyshop_notifications_total",
			Help: "Delivery notifications, by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		WebhooksTotal,
		JobsTotal,
		JobDuration,
		OrderTransitions,
		ReservationsTotal,
		DecryptFailures,
		SweptReservations,
		NotificationsTotal,
	)
}
