// Package metrics counts link lifecycle events with Prometheus collectors.
// The process has no listener, so the counters are published by writing
// the registry to a node_exporter textfile.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sundayezeilo/linkkeeper/internal/shortener"
)

const namespace = "linkkeeper"

// Recorder implements shortener.Observer on its own registry, so several
// recorders can coexist in one process.
type Recorder struct {
	registry *prometheus.Registry

	created    prometheus.Counter
	collisions prometheus.Counter
	fetched    prometheus.Counter
	evicted    *prometheus.CounterVec
}

func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		created: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "links_created_total",
			Help:      "Short links issued.",
		}),
		collisions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "code_collisions_total",
			Help:      "Candidate short codes rejected because another link held them.",
		}),
		fetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "links_fetched_total",
			Help:      "Successful fetches, each of which consumed one click.",
		}),
		// reason: EXPIRED or OUT_OF_CLICKS
		evicted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "links_evicted_total",
			Help:      "Links removed by the sweep.",
		}, []string{"reason"}),
	}

	r.registry.MustRegister(r.created, r.collisions, r.fetched, r.evicted)
	return r
}

// Registry exposes the collectors for gathering.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

func (r *Recorder) LinkCreated()   { r.created.Inc() }
func (r *Recorder) CodeCollision() { r.collisions.Inc() }
func (r *Recorder) LinkFetched()   { r.fetched.Inc() }

func (r *Recorder) LinkEvicted(reason shortener.Reason) {
	r.evicted.WithLabelValues(string(reason)).Inc()
}

// WriteTextfile writes the current values to path in the text exposition
// format. The file is replaced atomically.
func (r *Recorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.registry)
}

var _ shortener.Observer = (*Recorder)(nil)
