package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-voice-cache/types"
)

type PrometheusConfig struct {
	Namespace       string            `yaml:"namespace" json:"namespace"`
	Labels          map[string]string `yaml:"labels" json:"labels"`
	EnableGoMetrics bool              `yaml:"enable_go_metrics" json:"enable_go_metrics"`
}

// PrometheusRecorder exposes the recorder contract over a private
// prometheus registry. Counts become counters, millisecond timings
// become histograms, byte sizes and mode flags become gauges.
// Collectors are created lazily on first use per metric name.
type PrometheusRecorder struct {
	logger     types.Logger
	config     *PrometheusConfig
	registry   *prometheus.Registry
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
	mu         sync.Mutex
}

func NewPrometheusRecorder(logger types.Logger, config *PrometheusConfig) *PrometheusRecorder {
	if config == nil {
		config = &PrometheusConfig{}
	}
	if config.Namespace == "" {
		config.Namespace = "voice_cache"
	}

	registry := prometheus.NewRegistry()
	if config.EnableGoMetrics {
		registry.MustRegister(collectors.NewGoCollector())
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	return &PrometheusRecorder{
		logger:     logger,
		config:     config,
		registry:   registry,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

func (p *PrometheusRecorder) Registry() *prometheus.Registry {
	return p.registry
}

func (p *PrometheusRecorder) Record(name string, value float64, unit string, tags map[string]string) {
	defer func() {
		// Mismatched label sets on an existing collector panic inside the
		// prometheus client; metrics must never take the caller down.
		if r := recover(); r != nil {
			p.logger.Error("Metric recording failed",
				zap.String("name", name),
				zap.Any("reason", r))
		}
	}()

	switch unit {
	case types.UnitMilliseconds:
		p.histogram(name, tags).With(tags).Observe(value)
	case types.UnitBytes:
		p.gauge(name, "_bytes", tags).With(tags).Set(value)
	case types.UnitGauge:
		p.gauge(name, "", tags).With(tags).Set(value)
	default:
		p.counter(name, tags).With(tags).Add(value)
	}
}

func (p *PrometheusRecorder) counter(name string, tags map[string]string) *prometheus.CounterVec {
	p.mu.Lock()
	defer p.mu.Unlock()

	if counter, exists := p.counters[name]; exists {
		return counter
	}

	counter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   p.config.Namespace,
			Name:        name + "_total",
			Help:        "Counter metric " + name,
			ConstLabels: p.config.Labels,
		},
		labelNames(tags),
	)

	p.registry.MustRegister(counter)
	p.counters[name] = counter

	return counter
}

func (p *PrometheusRecorder) gauge(name, suffix string, tags map[string]string) *prometheus.GaugeVec {
	p.mu.Lock()
	defer p.mu.Unlock()

	if gauge, exists := p.gauges[name]; exists {
		return gauge
	}

	gauge := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   p.config.Namespace,
			Name:        name + suffix,
			Help:        "Gauge metric " + name,
			ConstLabels: p.config.Labels,
		},
		labelNames(tags),
	)

	p.registry.MustRegister(gauge)
	p.gauges[name] = gauge

	return gauge
}

func (p *PrometheusRecorder) histogram(name string, tags map[string]string) *prometheus.HistogramVec {
	p.mu.Lock()
	defer p.mu.Unlock()

	if histogram, exists := p.histograms[name]; exists {
		return histogram
	}

	histogram := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   p.config.Namespace,
			Name:        name + "_ms",
			Help:        "Latency metric " + name,
			Buckets:     []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
			ConstLabels: p.config.Labels,
		},
		labelNames(tags),
	)

	p.registry.MustRegister(histogram)
	p.histograms[name] = histogram

	return histogram
}

func labelNames(tags map[string]string) []string {
	names := make([]string, 0, len(tags))
	for name := range tags {
		names = append(names, name)
	}
	return names
}
