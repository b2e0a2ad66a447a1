package twitter

import (
	"testing"

	"github.com/anatolykoptev/go-twitter-timeline/timeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsAPIHook(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	hook := m.APIHook()

	hook("Followers", true, false)
	hook("Followers", true, false)
	hook("Followers", false, true)
	hook("SearchTimeline", false, false)

	assert.InDelta(t, 2, testutil.ToFloat64(m.requests.WithLabelValues("Followers", "ok")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.requests.WithLabelValues("Followers", "rate_limited")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.requests.WithLabelValues("SearchTimeline", "error")), 0)
}

func TestMetricsPageHook(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	hook := m.PageHook()

	hook("Followers", timeline.PageEvent{Page: 1, Items: 20, Next: "c1"})
	hook("Followers", timeline.PageEvent{Page: 2, Items: 0, Next: "c2", EmptyRun: 1})
	hook("Followers", timeline.PageEvent{Page: 3, Items: 5})

	assert.InDelta(t, 3, testutil.ToFloat64(m.pages.WithLabelValues("Followers")), 0)
	assert.InDelta(t, 25, testutil.ToFloat64(m.items.WithLabelValues("Followers")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.emptyPages.WithLabelValues("Followers")), 0)
}

func TestNewMetricsRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.APIHook()("UserTweets", true, false)
	m.PageHook()("UserTweets", timeline.PageEvent{Items: 1})

	n, err := testutil.GatherAndCount(reg)
	assert.NoError(t, err)
	assert.Equal(t, 4, n)
}
