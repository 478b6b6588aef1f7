package services

import "github.com/prometheus/client_golang/prometheus"

// Metrics groups the hunt engine's collectors. A nil *Metrics is a no-op.
type Metrics struct {
	submissions        *prometheus.CounterVec
	classifierDuration prometheus.Histogram
	announcements      *prometheus.CounterVec
	assignments        *prometheus.CounterVec
	staged             prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		submissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hunt_submissions_total",
				Help: "Submissions by outcome",
			},
			[]string{"outcome"},
		),
		classifierDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "hunt_classifier_duration_seconds",
				Help:    "Latency of vision classifier calls",
				Buckets: prometheus.DefBuckets,
			},
		),
		announcements: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hunt_announcements_total",
				Help: "Task transition announcements per group send",
			},
			[]string{"kind", "result"},
		),
		assignments: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hunt_group_assignments_total",
				Help: "Group assignment attempts by result",
			},
			[]string{"result"},
		),
		staged: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "hunt_staged_attachments_total",
				Help: "Attachments staged awaiting a mention",
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.submissions, m.classifierDuration, m.announcements, m.assignments, m.staged)
	}
	return m
}

func (m *Metrics) submission(outcome string) {
	if m != nil {
		m.submissions.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) classifierSeconds(s float64) {
	if m != nil {
		m.classifierDuration.Observe(s)
	}
}

func (m *Metrics) announcement(kind, result string) {
	if m != nil {
		m.announcements.WithLabelValues(kind, result).Inc()
	}
}

func (m *Metrics) assignment(result string) {
	if m != nil {
		m.assignments.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) stagedAttachment() {
	if m != nil {
		m.staged.Inc()
	}
}
