// Package metrics exposes Prometheus collectors for citation graph builds.
package metrics

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/latebit/citegraph/internal/graph"
)

// Build results.
const (
	ResultOK        = "ok"
	ResultError     = "error"
	ResultCancelled = "cancelled"
)

// Metrics holds the build collectors registered with one registry.
type Metrics struct {
	nodesAdded    *prometheus.CounterVec
	edgesAdded    *prometheus.CounterVec
	builds        *prometheus.CounterVec
	buildDuration prometheus.Histogram
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		// Labels: type (node type, "unknown" until set)
		nodesAdded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "citegraph",
			Name:      "nodes_added_total",
			Help:      "Nodes added to citation graphs",
		}, []string{"type"}),

		// Labels: type (explicit, discovered, virtual)
		edgesAdded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "citegraph",
			Name:      "edges_added_total",
			Help:      "Citation edges added to citation graphs",
		}, []string{"type"}),

		// Labels: result (ok, error, cancelled)
		builds: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "citegraph",
			Name:      "builds_total",
			Help:      "Completed graph builds by result",
		}, []string{"result"}),

		buildDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "citegraph",
			Name:      "build_duration_seconds",
			Help:      "Wall time of graph builds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
	}
}

// ObserveBuild records a finished build that started at start.
func (m *Metrics) ObserveBuild(start time.Time, err error) {
	m.buildDuration.Observe(time.Since(start).Seconds())
	m.builds.WithLabelValues(Result(err)).Inc()
}

// Result maps a build error to its result label.
func Result(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ResultCancelled
	}
	return ResultError
}

// Observer counts the nodes and edges of a single graph. Attribute merges
// on an existing node are not counted again.
type Observer struct {
	m *Metrics

	mu   sync.Mutex
	seen map[string]bool
}

// Observer returns a graph.Listener for one build.
func (m *Metrics) Observer() *Observer {
	return &Observer{m: m, seen: make(map[string]bool)}
}

var _ graph.Listener = (*Observer)(nil)

func (o *Observer) NodeAdded(n graph.Node) {
	o.mu.Lock()
	first := !o.seen[n.ID]
	o.seen[n.ID] = true
	o.mu.Unlock()
	if first {
		o.m.nodesAdded.WithLabelValues(label(n.Type())).Inc()
	}
}

func (o *Observer) EdgeAdded(e graph.Edge) {
	o.m.edgesAdded.WithLabelValues(label(e.Type())).Inc()
}

func label(t string) string {
	if t == "" {
		return graph.TypeUnknown
	}
	return t
}
