package twitter

import (
	"github.com/anatolykoptev/go-twitter-timeline/timeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes client and traversal counters to Prometheus.
//
//   - twitter_api_requests_total{endpoint, outcome} (Counter): outcome is ok, error or rate_limited
//   - twitter_timeline_pages_total{operation} (Counter): pages fetched by paginated operations
//   - twitter_timeline_items_total{operation} (Counter): items carried by those pages
//   - twitter_timeline_empty_pages_total{operation} (Counter): pages that carried no items
type Metrics struct {
	requests   *prometheus.CounterVec
	pages      *prometheus.CounterVec
	items      *prometheus.CounterVec
	emptyPages *prometheus.CounterVec
}

// NewMetrics registers the client metrics with reg. A nil reg uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "twitter_api_requests_total",
			Help: "Twitter API requests by endpoint and outcome",
		}, []string{"endpoint", "outcome"}),
		pages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "twitter_timeline_pages_total",
			Help: "Timeline pages fetched by operation",
		}, []string{"operation"}),
		items: f.NewCounterVec(prometheus.CounterOpts{
			Name: "twitter_timeline_items_total",
			Help: "Items extracted from timeline pages by operation",
		}, []string{"operation"}),
		emptyPages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "twitter_timeline_empty_pages_total",
			Help: "Timeline pages that carried no items, by operation",
		}, []string{"operation"}),
	}
}

// APIHook returns a ClientConfig.MetricsHook that counts requests.
func (m *Metrics) APIHook() func(endpoint string, success, rateLimited bool) {
	return func(endpoint string, success, rateLimited bool) {
		outcome := "error"
		switch {
		case rateLimited:
			outcome = "rate_limited"
		case success:
			outcome = "ok"
		}
		m.requests.WithLabelValues(endpoint, outcome).Inc()
	}
}

// PageHook returns a ClientConfig.PageHook that counts pages and items.
func (m *Metrics) PageHook() func(operation string, ev timeline.PageEvent) {
	return func(operation string, ev timeline.PageEvent) {
		m.pages.WithLabelValues(operation).Inc()
		m.items.WithLabelValues(operation).Add(float64(ev.Items))
		if ev.Items == 0 {
			m.emptyPages.WithLabelValues(operation).Inc()
		}
	}
}
