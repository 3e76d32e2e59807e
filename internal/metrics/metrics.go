// Package metrics collects and exposes Prometheus metrics for the
// identity-bridge pipeline and its claim endpoints.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector registers and records the bridge counters.
type Collector struct {
	webhookUpdates *prometheus.CounterVec
	accessLinks    *prometheus.CounterVec
	claims         *prometheus.CounterVec
}

// NewCollector creates a Collector and registers its metrics with the registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		webhookUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jiwar_webhook_updates_total",
			Help: "Inbound webhook updates by type.",
		}, []string{"type"}),
		accessLinks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jiwar_access_links_total",
			Help: "Outbound access links by kind (login or signup).",
		}, []string{"kind"}),
		claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jiwar_claims_total",
			Help: "Browser claims by branch and outcome.",
		}, []string{"branch", "outcome"}),
	}

	reg.MustRegister(c.webhookUpdates, c.accessLinks, c.claims)
	return c
}

// RecordUpdate counts one inbound webhook update.
func (c *Collector) RecordUpdate(updateType string) {
	c.webhookUpdates.WithLabelValues(updateType).Inc()
}

// RecordLink counts one issued access link.
func (c *Collector) RecordLink(kind string) {
	c.accessLinks.WithLabelValues(kind).Inc()
}

// RecordClaim counts one claim attempt.
func (c *Collector) RecordClaim(branch, outcome string) {
	c.claims.WithLabelValues(branch, outcome).Inc()
}

// Handler returns the HTTP handler serving Prometheus scrapes.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
