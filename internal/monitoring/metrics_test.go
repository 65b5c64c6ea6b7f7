package monitoring

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_IndependentRegistries(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()

	a.Updates.WithLabelValues("http").Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.Updates.WithLabelValues("http")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Updates.WithLabelValues("http")))
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics()
	m.Viewers.Set(3)
	m.ObserveHTTP("/get-latest-coordinates/", http.StatusOK, 5*time.Millisecond)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "probe_viewers 3")
	assert.Contains(t, string(body), `http_requests_total{route="/get-latest-coordinates/",status="200"} 1`)
}
