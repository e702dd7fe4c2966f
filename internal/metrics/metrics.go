// Package metrics exposes Prometheus counters for upstream portal traffic and served requests.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns its registry so tests and multiple servers in one process don't collide.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	reg *prometheus.Registry

	UpstreamCalls   *prometheus.CounterVec   // portal, action, result
	UpstreamLatency *prometheus.HistogramVec // portal, action
	SessionRenewals *prometheus.CounterVec   // portal, reason
	Requests        *prometheus.CounterVec   // portal, mode, code
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		UpstreamCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stalker_upstream_calls_total",
			Help: "Portal load.php calls by action and result (ok, error).",
		}, []string{"portal", "action", "result"}),
		UpstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stalker_upstream_duration_seconds",
			Help:    "Portal load.php call latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"portal", "action"}),
		SessionRenewals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stalker_session_renewals_total",
			Help: "Handshake+profile sequences by reason (expired, forced).",
		}, []string{"portal", "reason"}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stalker_requests_total",
			Help: "Served requests by mode (playlist, resolve, debug) and HTTP status.",
		}, []string{"portal", "mode", "code"}),
	}
	reg.MustRegister(m.UpstreamCalls, m.UpstreamLatency, m.SessionRenewals, m.Requests,
		collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// ObserveUpstream records one portal call. result is "ok" or "error".
func (m *Metrics) ObserveUpstream(portal, action, result string, start time.Time) {
	if m == nil {
		return
	}
	m.UpstreamCalls.WithLabelValues(portal, action, result).Inc()
	m.UpstreamLatency.WithLabelValues(portal, action).Observe(time.Since(start).Seconds())
}

func (m *Metrics) SessionRenewed(portal, reason string) {
	if m == nil {
		return
	}
	m.SessionRenewals.WithLabelValues(portal, reason).Inc()
}

func (m *Metrics) Request(portal, mode string, code int) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(portal, mode, strconv.Itoa(code)).Inc()
}
