// Package metrics exports Prometheus counters for the interaction loop
// and the proactive layer. All Collector methods are nil-safe so callers
// never have to guard the disabled case.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds the runtime metric families.
type Collector struct {
	turns         *prometheus.CounterVec
	turnLatency   prometheus.Histogram
	llmTokens     *prometheus.CounterVec
	searches      prometheus.Counter
	notifications *prometheus.CounterVec
	ingestChunks  prometheus.Counter
	graphNodes    prometheus.Gauge
	graphEdges    prometheus.Gauge
}

// NewCollector registers the metric families on reg (the default
// registerer when nil). Re-registering an already known family reuses
// the existing collector.
func NewCollector(namespace string, reg prometheus.Registerer) (*Collector, error) {
	if namespace == "" {
		namespace = "psycho"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Completed interaction turns by domain and detected signal.",
		}, []string{"domain", "signal"}),
		turnLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_latency_seconds",
			Help:      "Wall time of one full interaction turn.",
			Buckets:   prometheus.DefBuckets,
		}),
		llmTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "Token usage by direction.",
		}, []string{"direction"}),
		searches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "web_searches_total",
			Help:      "Web searches triggered by user messages.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Proactive notifications emitted by type.",
		}, []string{"type"}),
		ingestChunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingested_chunks_total",
			Help:      "Text chunks processed by the ingestion pipeline.",
		}),
		graphNodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "graph_active_nodes",
			Help:      "Active (non-deprecated) knowledge graph nodes.",
		}),
		graphEdges: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "graph_edges",
			Help:      "Knowledge graph edges.",
		}),
	}

	var err error
	if c.turns, err = register(reg, c.turns); err != nil {
		return nil, err
	}
	if c.turnLatency, err = register(reg, c.turnLatency); err != nil {
		return nil, err
	}
	if c.llmTokens, err = register(reg, c.llmTokens); err != nil {
		return nil, err
	}
	if c.searches, err = register(reg, c.searches); err != nil {
		return nil, err
	}
	if c.notifications, err = register(reg, c.notifications); err != nil {
		return nil, err
	}
	if c.ingestChunks, err = register(reg, c.ingestChunks); err != nil {
		return nil, err
	}
	if c.graphNodes, err = register(reg, c.graphNodes); err != nil {
		return nil, err
	}
	if c.graphEdges, err = register(reg, c.graphEdges); err != nil {
		return nil, err
	}
	return c, nil
}

// register adds col to reg, reusing the already registered collector when
// the family exists (two agents in one process share one registry).
func register[C prometheus.Collector](reg prometheus.Registerer, col C) (C, error) {
	err := reg.Register(col)
	if err == nil {
		return col, nil
	}
	if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing, nil
		}
		return col, nil
	}
	var zero C
	return zero, fmt.Errorf("register metric: %w", err)
}

// RecordTurn tracks one completed interaction.
func (c *Collector) RecordTurn(domain, signal string, latency time.Duration, inputTokens, outputTokens int) {
	if c == nil {
		return
	}
	c.turns.WithLabelValues(domain, signal).Inc()
	c.turnLatency.Observe(latency.Seconds())
	c.llmTokens.WithLabelValues("input").Add(float64(inputTokens))
	c.llmTokens.WithLabelValues("output").Add(float64(outputTokens))
}

// RecordSearch tracks one web search.
func (c *Collector) RecordSearch() {
	if c == nil {
		return
	}
	c.searches.Inc()
}

// RecordNotification tracks one emitted notification.
func (c *Collector) RecordNotification(notificationType string) {
	if c == nil {
		return
	}
	c.notifications.WithLabelValues(notificationType).Inc()
}

// RecordIngestedChunks tracks chunk throughput of the ingestion pipeline.
func (c *Collector) RecordIngestedChunks(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.ingestChunks.Add(float64(n))
}

// SetGraphSize updates the graph gauges.
func (c *Collector) SetGraphSize(activeNodes, edges int) {
	if c == nil {
		return
	}
	c.graphNodes.Set(float64(activeNodes))
	c.graphEdges.Set(float64(edges))
}
