package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Collector records hub metrics. A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	sessionsActive    prometheus.Gauge
	connectionsActive *prometheus.GaugeVec
	messagesTotal     *prometheus.CounterVec
	queueWaitsTotal   *prometheus.CounterVec
	handlerDuration   *prometheus.HistogramVec
	audioFlushesTotal *prometheus.CounterVec
	liveTransitions   *prometheus.CounterVec
	liveTerminals     prometheus.Counter
	droppedFrames     *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector creates a collector backed by its own registry.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	c := &Collector{
		registry: reg,
		logger:   logger.With(zap.String("component", "metrics")),
	}

	c.sessionsActive = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Number of sessions held by the registry",
	})

	c.connectionsActive = f.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of attached connections per channel",
		},
		[]string{"channel"},
	)

	c.messagesTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Total number of wire messages",
		},
		[]string{"channel", "kind", "direction"},
	)

	c.queueWaitsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_waits_total",
			Help:      "Requests queued behind a busy channel",
		},
		[]string{"channel"},
	)

	c.handlerDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handler_duration_seconds",
			Help:      "Channel handler execution time in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
		},
		[]string{"channel"},
	)

	c.audioFlushesTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_flushes_total",
			Help:      "Audio buffer flushes by direction and reason",
		},
		[]string{"direction", "reason"},
	)

	c.liveTransitions = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_state_transitions_total",
			Help:      "Live backend connection state transitions",
		},
		[]string{"state"},
	)

	c.liveTerminals = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "live_terminal_failures_total",
		Help:      "Live workers that exhausted their retry budget",
	})

	c.droppedFrames = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_frames_total",
			Help:      "Outbound frames dropped because the channel was absent or saturated",
		},
		[]string{"channel"},
	)

	return c
}

// Handler serves the collector's registry.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, for tests.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collector) SessionCreated() {
	if c == nil {
		return
	}
	c.sessionsActive.Inc()
}

func (c *Collector) SessionClosed() {
	if c == nil {
		return
	}
	c.sessionsActive.Dec()
}

func (c *Collector) ConnectionAttached(channel string) {
	if c == nil {
		return
	}
	c.connectionsActive.WithLabelValues(channel).Inc()
}

func (c *Collector) ConnectionDetached(channel string) {
	if c == nil {
		return
	}
	c.connectionsActive.WithLabelValues(channel).Dec()
}

func (c *Collector) Message(channel, kind, direction string) {
	if c == nil {
		return
	}
	c.messagesTotal.WithLabelValues(channel, kind, direction).Inc()
}

func (c *Collector) QueueWait(channel string) {
	if c == nil {
		return
	}
	c.queueWaitsTotal.WithLabelValues(channel).Inc()
}

func (c *Collector) HandlerDone(channel string, d time.Duration) {
	if c == nil {
		return
	}
	c.handlerDuration.WithLabelValues(channel).Observe(d.Seconds())
}

func (c *Collector) AudioFlush(direction, reason string) {
	if c == nil {
		return
	}
	c.audioFlushesTotal.WithLabelValues(direction, reason).Inc()
}

func (c *Collector) LiveState(state string) {
	if c == nil {
		return
	}
	c.liveTransitions.WithLabelValues(state).Inc()
}

func (c *Collector) LiveTerminal() {
	if c == nil {
		return
	}
	c.liveTerminals.Inc()
	c.logger.Warn("Live worker reached terminal failure")
}

func (c *Collector) FrameDropped(channel string) {
	if c == nil {
		return
	}
	c.droppedFrames.WithLabelValues(channel).Inc()
}
