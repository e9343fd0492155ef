package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Delivery results recorded by RecordDelivery.
const (
	DeliveryDelivered   = "delivered"
	DeliveryChannelFail = "channel_error"
	DeliverySendFail    = "send_error"
	DeliveryRejected    = "circuit_open"
)

var (
	botCommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_commands_total",
			Help: "Total number of bot commands received labeled by command and status",
		},
		[]string{"command", "status"},
	)
	commandDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "command_duration_seconds",
			Help:    "Duration of bot commands in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)
	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of errors split by type and severity",
		},
		[]string{"type", "severity"},
	)
	presenceUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "presence_users",
			Help: "Current number of users marked present",
		},
	)
	reminderSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reminder_subscribers",
			Help: "Current number of users opted into reminders",
		},
	)
	reminderSweepsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reminder_sweeps_total",
			Help: "Total number of reminder sweeps performed",
		},
	)
	reminderDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminder_deliveries_total",
			Help: "Total number of reminder deliveries by result",
		},
		[]string{"result"},
	)
	reminderTickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reminder_tick_duration_seconds",
			Help:    "Duration of one reminder scheduler tick in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
	presenceEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presence_events_total",
			Help: "Total number of presence events by direction",
		},
		[]string{"direction"},
	)
)

// RecordCommand increments command counters and records duration.
func RecordCommand(command, status string, duration time.Duration) {
	if command == "" {
		command = "unknown"
	}
	if status == "" {
		status = "unknown"
	}

	botCommandsTotal.WithLabelValues(command, status).Inc()
	commandDurationSeconds.WithLabelValues(command).Observe(duration.Seconds())
}

// RecordError increments error counters with metadata.
func RecordError(errType, severity string) {
	if errType == "" {
		errType = "unknown"
	}
	if severity == "" {
		severity = "unknown"
	}

	errorsTotal.WithLabelValues(errType, severity).Inc()
}

// RecordPresenceEvent counts joins and leaves.
func RecordPresenceEvent(joined bool) {
	direction := "left"
	if joined {
		direction = "joined"
	}
	presenceEventsTotal.WithLabelValues(direction).Inc()
}

// RecordSweep records one scheduler tick.
func RecordSweep(duration time.Duration) {
	reminderSweepsTotal.Inc()
	reminderTickDuration.Observe(duration.Seconds())
}

// RecordDelivery counts a reminder delivery outcome.
func RecordDelivery(result string) {
	if result == "" {
		result = "unknown"
	}
	reminderDeliveriesTotal.WithLabelValues(result).Inc()
}

// SetPresenceUsers updates the present users gauge.
func SetPresenceUsers(count int) {
	presenceUsers.Set(float64(count))
}

// SetReminderSubscribers updates the opted-in users gauge.
func SetReminderSubscribers(count int) {
	reminderSubscribers.Set(float64(count))
}

// Sizer reports the size of a registry.
type Sizer interface {
	Len() int
}

// RegistryCollector periodically samples registry sizes into gauges.
type RegistryCollector struct {
	presence  Sizer
	reminders Sizer
	interval  time.Duration
}

// NewRegistryCollector builds a collector; a non-positive interval defaults to 10 seconds.
func NewRegistryCollector(presence, reminders Sizer, interval time.Duration) *RegistryCollector {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &RegistryCollector{presence: presence, reminders: reminders, interval: interval}
}

// Run samples the registries until ctx is cancelled.
func (c *RegistryCollector) Run(ctx context.Context) {
	if c == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		c.collect()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *RegistryCollector) collect() {
	if c.presence != nil {
		SetPresenceUsers(c.presence.Len())
	}
	if c.reminders != nil {
		SetReminderSubscribers(c.reminders.Len())
	}
}
