package prometheus

import (
	"net/http"
	"time"

	"github.com/crabzie/factory-runtime/internal/core/port"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "factory"

// Exporter records runtime activity as prometheus collectors
type Exporter struct {
	registry      *prometheus.Registry
	reservations  *prometheus.CounterVec
	busySeconds   *prometheus.CounterVec
	completions   *prometheus.CounterVec
	notifications *prometheus.CounterVec
	machineBusy   *prometheus.GaugeVec
}

var _ port.Metrics = (*Exporter)(nil)

// NewExporter registers the factory collectors on a fresh registry
func NewExporter() *Exporter {
	e := &Exporter{
		registry: prometheus.NewRegistry(),
		reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservations_total",
			Help:      "Assignment attempts by outcome.",
		}, []string{"outcome"}),
		busySeconds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "machine_busy_seconds_total",
			Help:      "Wall time machines spent on naturally completed jobs.",
		}, []string{"machine"}),
		completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_completions_total",
			Help:      "Jobs that ran their full duration.",
		}, []string{"machine"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completion_notifications_total",
			Help:      "Completion callback deliveries by result.",
		}, []string{"machine", "result"}),
		machineBusy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "machine_busy",
			Help:      "1 while the machine runs a job.",
		}, []string{"machine"}),
	}
	e.registry.MustRegister(
		e.reservations,
		e.busySeconds,
		e.completions,
		e.notifications,
		e.machineBusy,
		collectors.NewGoCollector(),
	)
	return e
}

func (e *Exporter) ObserveReservation(outcome string) {
	e.reservations.WithLabelValues(outcome).Inc()
}

func (e *Exporter) ObserveCompletion(machine string, busy time.Duration) {
	e.completions.WithLabelValues(machine).Inc()
	e.busySeconds.WithLabelValues(machine).Add(busy.Seconds())
}

func (e *Exporter) ObserveNotification(machine string, err error) {
	result := "delivered"
	if err != nil {
		result = "failed"
	}
	e.notifications.WithLabelValues(machine, result).Inc()
}

func (e *Exporter) SetMachineBusy(machine string, busy bool) {
	v := 0.0
	if busy {
		v = 1
	}
	e.machineBusy.WithLabelValues(machine).Set(v)
}

// Handler serves the registry in the exposition format
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}
