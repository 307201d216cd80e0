// Package metrics exports pipeline metrics in Prometheus format. The
// collector observes the event bus, so the dispatcher and gateway never
// reference it directly.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"mathbot/internal/bus"
)

// Collector holds the mathbot metrics and the registry they live in.
type Collector struct {
	registry  *prometheus.Registry
	startTime time.Time

	events          *prometheus.CounterVec
	classifications *prometheus.CounterVec
	gatewayLatency  *prometheus.HistogramVec
	degraded        *prometheus.CounterVec
}

// NewCollector registers the metrics plus the Go runtime and process
// collectors on a fresh registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	c := &Collector{registry: reg, startTime: time.Now()}
	c.events = f.NewCounterVec(prometheus.CounterOpts{
		Name: "mathbot_events_total",
		Help: "Inbound events by platform and terminal state",
	}, []string{"platform", "state", "reason"})
	c.classifications = f.NewCounterVec(prometheus.CounterOpts{
		Name: "mathbot_classifier_matches_total",
		Help: "Events classified as math related, by matched pattern",
	}, []string{"pattern"})
	c.gatewayLatency = f.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mathbot_gateway_latency_seconds",
		Help:    "Model call latency by backend and outcome",
		Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 30, 60, 120},
	}, []string{"backend", "outcome"})
	c.degraded = f.NewCounterVec(prometheus.CounterOpts{
		Name: "mathbot_replies_degraded_total",
		Help: "Replies sent without their visualization",
	}, []string{"platform"})
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "mathbot_uptime_seconds",
		Help: "Time since start in seconds",
	}, func() float64 { return c.Uptime().Seconds() })

	return c
}

// Registry returns the registry backing the collector.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Uptime returns how long the collector has been running.
func (c *Collector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// Subscribe hooks the collector onto eb.
func (c *Collector) Subscribe(eb *bus.EventBus) {
	eb.On(bus.EventReplied, c.terminal("replied"))
	eb.On(bus.EventIgnored, c.terminal("ignored"))
	eb.On(bus.EventFailed, c.terminal("failed"))
	eb.On(bus.EventClassified, c.classified)
	eb.On(bus.EventInvoked, c.invoked)
	eb.On(bus.EventDegraded, c.degradedReply)
}

func (c *Collector) terminal(state string) bus.EventHandler {
	return func(e bus.Event) {
		c.events.WithLabelValues(payloadString(e, "platform"), state, payloadString(e, "reason")).Inc()
	}
}

func (c *Collector) classified(e bus.Event) {
	if math, _ := e.Payload["math"].(bool); !math {
		return
	}
	c.classifications.WithLabelValues(payloadString(e, "pattern")).Inc()
}

func (c *Collector) invoked(e bus.Event) {
	latency, _ := e.Payload["latency"].(time.Duration)
	c.gatewayLatency.WithLabelValues(payloadString(e, "backend"), payloadString(e, "outcome")).Observe(latency.Seconds())
}

func (c *Collector) degradedReply(e bus.Event) {
	c.degraded.WithLabelValues(payloadString(e, "platform")).Inc()
}

func payloadString(e bus.Event, key string) string {
	s, _ := e.Payload[key].(string)
	return s
}
