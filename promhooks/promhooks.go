// Package promhooks exports walk metrics to Prometheus through osp.Hooks.
package promhooks

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jaseci-labs/osp"
)

// Collector holds the walk metrics.
type Collector struct {
	walks       *prometheus.CounterVec
	visits      *prometheus.CounterVec
	reports     *prometheus.CounterVec
	disengages  *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	activeWalks prometheus.Gauge
}

// New registers the walk metrics with reg. A nil reg selects the default
// registerer. Registering twice on one registerer panics.
func New(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Collector{
		walks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "osp_walks_total",
			Help: "Total finished walks by walker type and outcome",
		}, []string{"walker_type", "outcome"}),
		visits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "osp_walk_visits_total",
			Help: "Total locations visited by walker and location type",
		}, []string{"walker_type", "location_type"}),
		reports: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "osp_walk_reports_total",
			Help: "Total values reported by walker type",
		}, []string{"walker_type"}),
		disengages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "osp_walk_disengages_total",
			Help: "Total walks stopped by disengage",
		}, []string{"walker_type"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "osp_walk_duration_seconds",
			Help:    "Walk duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}, []string{"walker_type"}),
		activeWalks: factory.NewGauge(prometheus.GaugeOpts{
			Name: "osp_walks_active",
			Help: "Walks currently running",
		}),
	}
}

// Hooks returns hooks that feed the collector. Pass them to osp.WithHooks.
func (c *Collector) Hooks() osp.Hooks {
	return osp.Hooks{
		OnSpawn: func(context.Context, osp.WalkEvent) {
			c.activeWalks.Inc()
		},
		OnArrive: func(_ context.Context, ev osp.WalkEvent) {
			c.visits.WithLabelValues(ev.WalkerType, ev.LocationType).Inc()
		},
		OnReport: func(_ context.Context, ev osp.WalkEvent) {
			c.reports.WithLabelValues(ev.WalkerType).Inc()
		},
		OnDisengage: func(_ context.Context, ev osp.WalkEvent) {
			c.disengages.WithLabelValues(ev.WalkerType).Inc()
		},
		OnFinish: func(_ context.Context, ev osp.WalkEvent) {
			c.activeWalks.Dec()
			outcome := "ok"
			if ev.Err != nil {
				outcome = "error"
			}
			c.walks.WithLabelValues(ev.WalkerType, outcome).Inc()
			c.duration.WithLabelValues(ev.WalkerType).Observe(ev.Metrics.Duration.Seconds())
		},
	}
}
