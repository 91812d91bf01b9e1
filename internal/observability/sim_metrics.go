package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SimCollector exposes simulation-loop Prometheus metrics.
type SimCollector struct {
	gatherer prometheus.Gatherer

	Ticks             prometheus.Counter
	TickDuration      prometheus.Histogram
	ZoneFires         prometheus.Counter
	Launches          prometheus.Counter
	Hits              prometheus.Counter
	Interceptors      *prometheus.GaugeVec
	TelemetryErrors   *prometheus.CounterVec
	PathCacheHitRatio prometheus.Gauge
	PlanningDuration  prometheus.Histogram
}

// NewSimCollector registers simulation metrics against the provided registerer.
func NewSimCollector(reg prometheus.Registerer) (*SimCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	ticks, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "intercept_ticks_total",
		Help: "Number of counted simulation ticks.",
	}), "intercept_ticks_total")
	if err != nil {
		return nil, err
	}

	tickDuration, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "intercept_tick_duration_seconds",
		Help:    "Wall-clock time spent inside one simulation tick.",
		Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
	}), "intercept_tick_duration_seconds")
	if err != nil {
		return nil, err
	}

	zoneFires, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "intercept_zone_fires_total",
		Help: "Number of trigger zone entries.",
	}), "intercept_zone_fires_total")
	if err != nil {
		return nil, err
	}

	launches, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "intercept_launches_total",
		Help: "Number of interceptors switched from circling to an intercept path.",
	}), "intercept_launches_total")
	if err != nil {
		return nil, err
	}

	hits, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "intercept_hits_total",
		Help: "Number of registered proximity hits.",
	}), "intercept_hits_total")
	if err != nil {
		return nil, err
	}

	interceptors := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "intercept_active_interceptors",
		Help: "Interceptors in the current run, labeled by state.",
	}, []string{"state"})
	if err := reg.Register(interceptors); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, err
		}
		existing, ok := are.ExistingCollector.(*prometheus.GaugeVec)
		if !ok {
			return nil, err
		}
		interceptors = existing
	}

	telemetryErrors, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "intercept_telemetry_errors_total",
		Help: "Failed calls to the remote telemetry source, labeled by operation.",
	}, []string{"op"}), "intercept_telemetry_errors_total")
	if err != nil {
		return nil, err
	}

	cacheRatio, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "intercept_path_cache_hit_ratio",
		Help: "Hit ratio for the geodesic path cache.",
	}), "intercept_path_cache_hit_ratio")
	if err != nil {
		return nil, err
	}

	planning, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "intercept_planning_duration_seconds",
		Help:    "Duration of batch intercept planning.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	}), "intercept_planning_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &SimCollector{
		gatherer:          gatherer,
		Ticks:             ticks,
		TickDuration:      tickDuration,
		ZoneFires:         zoneFires,
		Launches:          launches,
		Hits:              hits,
		Interceptors:      interceptors,
		TelemetryErrors:   telemetryErrors,
		PathCacheHitRatio: cacheRatio,
		PlanningDuration:  planning,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SimCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a /metrics handler for the collector's registry.
func (c *SimCollector) Handler() http.Handler {
	if c == nil {
		return handlerFor(nil)
	}
	return handlerFor(c.gatherer)
}

// ObserveTick records one counted tick and its duration.
func (c *SimCollector) ObserveTick(d time.Duration) {
	if c == nil {
		return
	}
	c.Ticks.Inc()
	c.TickDuration.Observe(d.Seconds())
}

func (c *SimCollector) IncZoneFires() {
	if c != nil {
		c.ZoneFires.Inc()
	}
}

// ObserveLaunch records n launched interceptors and the planning time.
func (c *SimCollector) ObserveLaunch(n int, d time.Duration) {
	if c == nil {
		return
	}
	c.Launches.Add(float64(n))
	c.PlanningDuration.Observe(d.Seconds())
}

func (c *SimCollector) AddHits(n int) {
	if c != nil && n > 0 {
		c.Hits.Add(float64(n))
	}
}

// SetEntityCounts satisfies state.MetricsRecorder.
func (c *SimCollector) SetEntityCounts(circling, transiting, hit int) {
	if c == nil {
		return
	}
	c.Interceptors.WithLabelValues("circling").Set(float64(circling))
	c.Interceptors.WithLabelValues("transiting").Set(float64(transiting))
	c.Interceptors.WithLabelValues("hit").Set(float64(hit))
}

// IncTelemetryError counts a failed telemetry call for op.
func (c *SimCollector) IncTelemetryError(op string) {
	if c != nil {
		c.TelemetryErrors.WithLabelValues(op).Inc()
	}
}

// SetPathCacheHitRatio sets the path cache hit ratio, clamped to [0, 1].
func (c *SimCollector) SetPathCacheHitRatio(ratio float64) {
	if c == nil {
		return
	}
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	c.PathCacheHitRatio.Set(ratio)
}
