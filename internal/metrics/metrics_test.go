package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectors(t *testing.T) {
	m := New()
	m.EventApplied("created")
	m.EventApplied("created")
	m.Expansion("unsupported")
	m.CacheNodes(3)
	m.Write("complete", nil)
	m.Write("complete", errors.New("disk full"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.eventsApplied.WithLabelValues("created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.expansions.WithLabelValues("unsupported")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.cacheNodes))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.writes.WithLabelValues("complete", "error")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.EventApplied("deleted")
		m.Expansion("expanded")
		m.CacheNodes(1)
		m.Write("skip", nil)
	})
}

func TestHandler(t *testing.T) {
	m := New()
	m.EventApplied("renamed")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `raido_engine_events_applied_total{kind="renamed"} 1`))
}
