// Package metrics defines Prometheus metrics for the deskpilot engine.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds all registered Prometheus collectors.
type Metrics struct {
	ActionDuration   *prometheus.HistogramVec
	ActionsTotal     *prometheus.CounterVec
	ReplansTotal     prometheus.Counter
	SkillIndexLookup *prometheus.CounterVec
	SnapshotsCached  prometheus.Counter
}

// New creates uninitialised metric instances.
func New() *Metrics {
	return &Metrics{
		ActionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "deskpilot_action_duration_seconds",
				Help:    "Duration of each automation action in seconds.",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool", "result"},
		),
		ActionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deskpilot_actions_total",
				Help: "Total number of automation actions by tool and result.",
			},
			[]string{"tool", "result"},
		),
		ReplansTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deskpilot_replans_total",
			Help: "Total number of recovery plans generated.",
		}),
		SkillIndexLookup: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deskpilot_skill_lookups_total",
				Help: "Skill index lookups by outcome (hit or miss).",
			},
			[]string{"outcome"},
		),
		SnapshotsCached: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deskpilot_snapshots_cached_total",
			Help: "Total number of UI snapshots cached.",
		}),
	}
}

// RegisterWith registers a pre-built Metrics instance with the given registry.
func RegisterWith(reg prometheus.Registerer, m *Metrics) error {
	collectors := []prometheus.Collector{
		m.ActionDuration,
		m.ActionsTotal,
		m.ReplansTotal,
		m.SkillIndexLookup,
		m.SnapshotsCached,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Register registers all metrics with the given registry.
func Register(reg prometheus.Registerer) (*Metrics, error) {
	m := New()
	if err := RegisterWith(reg, m); err != nil {
		return nil, err
	}
	return m, nil
}
