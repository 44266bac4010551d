// Package metrics exposes Prometheus instruments for simulations and policy adaptation
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all Finovera metrics on a private Prometheus registry
type Registry struct {
	reg *prometheus.Registry

	// Policy adaptation
	AdaptDuration *prometheus.HistogramVec
	Adaptations   *prometheus.CounterVec
	FinetuneSteps prometheus.Counter

	// Adapted policy cache
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec

	// Simulations
	Episodes        *prometheus.CounterVec
	EpisodeDuration prometheus.Histogram
	EnvSteps        prometheus.Counter
	ActiveRuns      prometheus.Gauge

	// HTTP
	RequestDuration *prometheus.HistogramVec
}

// New creates a registry with every Finovera collector registered
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		AdaptDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "finovera_policy_adapt_duration_seconds",
				Help:    "Duration of structural adaptation plus fine-tune per asset count",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"result"},
		),

		Adaptations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finovera_policy_adaptations_total",
				Help: "Total number of policy adaptations by result",
			},
			[]string{"result"},
		),

		FinetuneSteps: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "finovera_policy_finetune_steps_total",
				Help: "Total environment steps spent fine-tuning",
			},
		),

		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finovera_policy_cache_hits_total",
				Help: "Adapted policy cache hits by tier",
			},
			[]string{"tier"},
		),

		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finovera_policy_cache_misses_total",
				Help: "Adapted policy cache misses by tier",
			},
			[]string{"tier"},
		),

		Episodes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finovera_episodes_total",
				Help: "Completed simulation episodes by termination reason",
			},
			[]string{"reason"},
		),

		EpisodeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "finovera_episode_duration_seconds",
				Help:    "Wall-clock duration of one simulation run",
				Buckets: prometheus.DefBuckets,
			},
		),

		EnvSteps: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "finovera_env_steps_total",
				Help: "Environment steps executed by the simulation driver",
			},
		),

		ActiveRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "finovera_active_runs",
				Help: "Number of simulations currently running",
			},
		),

		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "finovera_http_request_duration_seconds",
				Help:    "HTTP request duration by route and status",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method", "status"},
		),
	}

	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.AdaptDuration,
		r.Adaptations,
		r.FinetuneSteps,
		r.CacheHits,
		r.CacheMisses,
		r.Episodes,
		r.EpisodeDuration,
		r.EnvSteps,
		r.ActiveRuns,
		r.RequestDuration,
	)

	return r
}

// Handler serves the registry in the Prometheus exposition format
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// Gatherer exposes the underlying registry, mainly for tests
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// ObserveAdaptation records one adaptation outcome
func (r *Registry) ObserveAdaptation(d time.Duration, steps int, err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.AdaptDuration.WithLabelValues(result).Observe(d.Seconds())
	r.Adaptations.WithLabelValues(result).Inc()
	r.FinetuneSteps.Add(float64(steps))
}

// RecordCacheHit records a cache hit for tier ("memory", "redis", "disk")
func (r *Registry) RecordCacheHit(tier string) {
	if r == nil {
		return
	}
	r.CacheHits.WithLabelValues(tier).Inc()
}

// RecordCacheMiss records a cache miss for tier
func (r *Registry) RecordCacheMiss(tier string) {
	if r == nil {
		return
	}
	r.CacheMisses.WithLabelValues(tier).Inc()
}

// RunTimer tracks one simulation run
type RunTimer struct {
	r     *Registry
	start time.Time
}

// StartRun marks a simulation as active
func (r *Registry) StartRun() *RunTimer {
	if r == nil {
		return &RunTimer{}
	}
	r.ActiveRuns.Inc()
	return &RunTimer{r: r, start: time.Now()}
}

// Stop records the finished episode; reason is "horizon", "floor", "cancelled" or "error"
func (t *RunTimer) Stop(reason string, steps int) {
	if t.r == nil {
		return
	}
	t.r.ActiveRuns.Dec()
	t.r.EpisodeDuration.Observe(time.Since(t.start).Seconds())
	t.r.Episodes.WithLabelValues(reason).Inc()
	t.r.EnvSteps.Add(float64(steps))
}

// ObserveRequest records an HTTP request
func (r *Registry) ObserveRequest(route, method string, status int, d time.Duration) {
	if r == nil {
		return
	}
	r.RequestDuration.WithLabelValues(route, method, statusClass(status)).Observe(d.Seconds())
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
