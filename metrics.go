package incremental

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// LoadOutcome labels the result of a cache load.
type LoadOutcome string

const (
	LoadHit     LoadOutcome = "hit"
	LoadCold    LoadOutcome = "cold"
	LoadInvalid LoadOutcome = "invalid"
	LoadError   LoadOutcome = "error"
)

// Recorder receives observability hooks from change detection, propagation and
// cache persistence. Implementations may forward to Prometheus or anything else.
type Recorder interface {
	ObserveChanges(dirty, clean, added, deleted int)
	ObserveDetection(fastPathHits, hashComputations int)
	ObservePropagation(render, skip int, d time.Duration)
	IncLoad(outcome LoadOutcome)
	AddShardWrites(n int)
}

// NoopRecorder is a Recorder that does nothing (default when metrics are not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveChanges(int, int, int, int) {}
func (NoopRecorder) ObserveDetection(int, int) {}
func (NoopRecorder) ObservePropagation(int, int, time.Duration) {}
func (NoopRecorder) IncLoad(LoadOutcome) {}
func (NoopRecorder) AddShardWrites(int) {}

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once                sync.Once
	classifications     *prom.CounterVec
	fastPathHits        prom.Counter
	hashComputations    prom.Counter
	propagationDuration prom.Histogram
	renderDecisions     *prom.CounterVec
	loads               *prom.CounterVec
	shardWrites         prom.Counter
}

// NewPrometheusRecorder constructs and registers the metrics on reg.
// A nil reg gets a private registry.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.classifications = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "docbuild",
			Name:      "change_classifications_total",
			Help:      "Documents classified by change detection",
		}, []string{"class"})
		pr.fastPathHits = prom.NewCounter(prom.CounterOpts{
			Namespace: "docbuild",
			Name:      "change_fast_path_hits_total",
			Help:      "Documents classified clean from their modification time alone",
		})
		pr.hashComputations = prom.NewCounter(prom.CounterOpts{
			Namespace: "docbuild",
			Name:      "change_hash_computations_total",
			Help:      "Content hashes computed during change detection",
		})
		pr.propagationDuration = prom.NewHistogram(prom.HistogramOpts{
			Namespace: "docbuild",
			Name:      "propagation_duration_seconds",
			Help:      "Duration of dirty propagation",
			Buckets:   prom.DefBuckets,
		})
		pr.renderDecisions = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "docbuild",
			Name:      "render_decisions_total",
			Help:      "Render decisions produced by propagation",
		}, []string{"decision"})
		pr.loads = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "docbuild",
			Name:      "cache_loads_total",
			Help:      "Cache load attempts by outcome",
		}, []string{"outcome"})
		pr.shardWrites = prom.NewCounter(prom.CounterOpts{
			Namespace: "docbuild",
			Name:      "cache_shard_writes_total",
			Help:      "Export shard files written",
		})
		reg.MustRegister(pr.classifications, pr.fastPathHits, pr.hashComputations,
			pr.propagationDuration, pr.renderDecisions, pr.loads, pr.shardWrites)
	})
	return pr
}

func (p *PrometheusRecorder) ObserveChanges(dirty, clean, added, deleted int) {
	if p == nil || p.classifications == nil {
		return
	}
	p.classifications.WithLabelValues("dirty").Add(float64(dirty))
	p.classifications.WithLabelValues("clean").Add(float64(clean))
	p.classifications.WithLabelValues("new").Add(float64(added))
	p.classifications.WithLabelValues("deleted").Add(float64(deleted))
}

func (p *PrometheusRecorder) ObserveDetection(fastPathHits, hashComputations int) {
	if p == nil || p.fastPathHits == nil {
		return
	}
	p.fastPathHits.Add(float64(fastPathHits))
	p.hashComputations.Add(float64(hashComputations))
}

func (p *PrometheusRecorder) ObservePropagation(render, skip int, d time.Duration) {
	if p == nil || p.renderDecisions == nil {
		return
	}
	p.renderDecisions.WithLabelValues("render").Add(float64(render))
	p.renderDecisions.WithLabelValues("skip").Add(float64(skip))
	p.propagationDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncLoad(outcome LoadOutcome) {
	if p == nil || p.loads == nil {
		return
	}
	p.loads.WithLabelValues(string(outcome)).Inc()
}

func (p *PrometheusRecorder) AddShardWrites(n int) {
	if p == nil || p.shardWrites == nil {
		return
	}
	p.shardWrites.Add(float64(n))
}
