// Package metrics exposes prometheus instrumentation for the appointment
// engine and the notification fanout.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// AppointmentMetrics exposes counters/histograms for lifecycle flows.
type AppointmentMetrics struct {
	transitionsTotal *prometheus.CounterVec
	wizardStepsTotal *prometheus.CounterVec
	fanoutTotal      *prometheus.CounterVec
	fanoutLatency    *prometheus.HistogramVec
}

func NewAppointmentMetrics(reg prometheus.Registerer) *AppointmentMetrics {
	m := &AppointmentMetrics{
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicops",
			Subsystem: "appointments",
			Name:      "transitions_total",
			Help:      "Total appointment state transitions",
		}, []string{"from", "to"}),
		wizardStepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicops",
			Subsystem: "wizard",
			Name:      "steps_total",
			Help:      "Total completion wizard steps processed",
		}, []string{"step", "status"}),
		fanoutTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicops",
			Subsystem: "notifications",
			Name:      "fanout_total",
			Help:      "Total notification fanout channel attempts",
		}, []string{"kind", "channel", "status"}),
		fanoutLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinicops",
			Subsystem: "notifications",
			Name:      "fanout_latency_seconds",
			Help:      "Latency of dispatching one event to all recipients",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.transitionsTotal, m.wizardStepsTotal, m.fanoutTotal, m.fanoutLatency)
	return m
}

func (m *AppointmentMetrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(from, to).Inc()
}

func (m *AppointmentMetrics) ObserveWizardStep(step, status string) {
	if m == nil {
		return
	}
	m.wizardStepsTotal.WithLabelValues(step, status).Inc()
}

func (m *AppointmentMetrics) ObserveFanout(kind, channel, status string) {
	if m == nil {
		return
	}
	m.fanoutTotal.WithLabelValues(kind, channel, status).Inc()
}

func (m *AppointmentMetrics) ObserveFanoutLatency(kind string, seconds float64) {
	if m == nil {
		return
	}
	m.fanoutLatency.WithLabelValues(kind).Observe(seconds)
}
