// Package observability exports cache, fetch and notification events as
// Prometheus metrics.
package observability

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"gitpulse/internal/cache"
	"gitpulse/internal/dashboard"
	"gitpulse/internal/github"
)

// PrometheusHooks implements cache.Hooks, github.Hooks and dashboard.Notifier.
type PrometheusHooks struct {
	cacheEvents   *prometheus.CounterVec
	cacheBytes    *prometheus.CounterVec
	cacheRemoved  prometheus.Counter
	fetchEvents   *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	throttleWait  prometheus.Histogram
	notifications *prometheus.CounterVec
}

var (
	_ cache.Hooks        = (*PrometheusHooks)(nil)
	_ github.Hooks       = (*PrometheusHooks)(nil)
	_ dashboard.Notifier = (*PrometheusHooks)(nil)
)

// NewPrometheusHooks registers the collectors with the default registry.
func NewPrometheusHooks() *PrometheusHooks {
	return NewPrometheusHooksWith(prometheus.DefaultRegisterer)
}

// NewPrometheusHooksWith registers the collectors with reg.
func NewPrometheusHooksWith(reg prometheus.Registerer) *PrometheusHooks {
	f := promauto.With(reg)
	return &PrometheusHooks{
		cacheEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gitpulse_cache_events_total",
			Help: "Cache lookups and mutations by event type and payload kind",
		}, []string{"event", "kind"}),
		cacheBytes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gitpulse_cache_bytes_total",
			Help: "Bytes read from and written to the cache store",
		}, []string{"direction"}),
		cacheRemoved: f.NewCounter(prometheus.CounterOpts{
			Name: "gitpulse_cache_entries_removed_total",
			Help: "Entries removed by delete, namespace delete and clear",
		}),
		fetchEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gitpulse_fetch_events_total",
			Help: "Fetch executor events by type and upstream status",
		}, []string{"event", "status"}),
		fetchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gitpulse_upstream_request_duration_seconds",
			Help:    "Duration of upstream GitHub requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),
		throttleWait: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "gitpulse_throttle_wait_seconds",
			Help:    "Delay applied after an upstream throttling response",
			Buckets: []float64{0.1, 0.5, 1, 2, 5},
		}),
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gitpulse_notifications_total",
			Help: "User-visible failure notifications by operation and error kind",
		}, []string{"operation", "kind"}),
	}
}

// OnCacheEvent implements cache.Hooks.
func (h *PrometheusHooks) OnCacheEvent(_ context.Context, ev cache.Event) {
	h.cacheEvents.WithLabelValues(string(ev.Type), string(ev.Kind)).Inc()
	switch ev.Type {
	case cache.EventHit:
		h.cacheBytes.WithLabelValues("read").Add(float64(ev.Bytes))
	case cache.EventWrite:
		h.cacheBytes.WithLabelValues("write").Add(float64(ev.Bytes))
	case cache.EventDelete, cache.EventClear:
		h.cacheRemoved.Add(float64(ev.Count))
	}
}

// OnFetchEvent implements github.Hooks.
func (h *PrometheusHooks) OnFetchEvent(_ context.Context, ev github.Event) {
	status := statusLabel(ev.Status)
	h.fetchEvents.WithLabelValues(string(ev.Type), status).Inc()
	switch ev.Type {
	case github.EventRequest:
		h.fetchDuration.WithLabelValues(status).Observe(ev.Duration.Seconds())
	case github.EventThrottled:
		h.throttleWait.Observe(ev.Wait.Seconds())
	}
}

// Notify implements dashboard.Notifier.
func (h *PrometheusHooks) Notify(_ context.Context, n dashboard.Notification) {
	h.notifications.WithLabelValues(n.Operation, string(n.Kind)).Inc()
}

func statusLabel(status int) string {
	if status == 0 {
		return "none"
	}
	return strconv.Itoa(status)
}
