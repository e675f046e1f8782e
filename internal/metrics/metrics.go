package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Scheduler metrics
	RemindersFired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remindbot_reminders_fired_total",
			Help: "Total reminder notifications delivered",
		},
		[]string{"kind"}, // "once" or "recurring"
	)

	CatchUpSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "remindbot_catchup_skipped_total",
			Help: "Recurring occurrences passed over after downtime",
		},
	)

	SendFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "remindbot_send_failures_total",
			Help: "Failed notification sends",
		},
	)

	StoreFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remindbot_store_failures_total",
			Help: "Store writes that failed after retries",
		},
		[]string{"op"},
	)

	PendingWakeups = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "remindbot_pending_wakeups",
			Help: "Wakeups held by the scheduler heap",
		},
	)

	InFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "remindbot_firings_in_flight",
			Help: "Firings currently handled by workers",
		},
	)

	AlarmsRinging = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "remindbot_alarms_ringing",
			Help: "Alarm reminders that fired and were not silenced",
		},
	)

	FireLag = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "remindbot_fire_lag_seconds",
			Help:    "Delay between scheduled and actual delivery",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 30, 60, 300, 3600},
		},
	)

	// Command metrics
	CommandsHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remindbot_commands_total",
			Help: "Commands handled",
		},
		[]string{"command", "result"},
	)

	// Housekeeping metrics
	Purged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "remindbot_purged_total",
			Help: "Terminal reminders removed by housekeeping",
		},
	)

	// Infrastructure metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remindbot_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
)
