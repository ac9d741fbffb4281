package web_test

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/monasca/monagent/internal/fixtures"
	"github.com/monasca/monagent/pkg/healthcheck"
	"github.com/monasca/monagent/pkg/web"
)

func TestHttpServerShutsdown(t *testing.T) {
	t.Parallel()

	testCtx, completed := fixtures.TestContext(t, 5*time.Second)
	defer completed()

	hs, err := web.NewHttpServer(fixtures.NewTestLogger(t), "127.0.0.1:0", web.Options{EnableHealthcheck: true})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(testCtx)
	chDone := make(chan struct{}, 1)
	go func() {
		hs.Run(ctx)
		chDone <- struct{}{}
	}()

	var addr net.Addr
	select {
	case addr = <-hs.Addr():
	case <-testCtx.Done():
		t.FailNow()
	}
	resp, err := http.Get("http://" + addr.String() + "/healthcheck")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case <-testCtx.Done():
	case <-chDone:
	}
}

func TestNoEndpoints(t *testing.T) {
	t.Parallel()
	_, err := web.NewHttpServer(fixtures.NewTestLogger(t), "127.0.0.1:0", web.Options{})
	require.Error(t, err)
	_, err = web.NewHttpServer(fixtures.NewTestLogger(t), "127.0.0.1:0", web.Options{EnableMetrics: true})
	require.Error(t, err)
}

func TestHealthChecks(t *testing.T) {
	t.Parallel()

	good := func() (string, healthcheck.HealthyStatus) { return "listening", healthcheck.Healthy }
	bad := func() (string, healthcheck.HealthyStatus) { return "forwarder down", healthcheck.Unhealthy }

	hs, err := web.NewHttpServer(fixtures.NewTestLogger(t), "127.0.0.1:0", web.Options{
		EnableHealthcheck: true,
		HealthChecks:      []healthcheck.HealthcheckFunc{good},
		DeepChecks:        []healthcheck.HealthcheckFunc{good, bad},
	})
	require.NoError(t, err)

	tests := []struct {
		path   string
		status int
		body   string
	}{
		{path: "/healthcheck", status: http.StatusOK, body: `{"ok":["listening"],"failed":[]}`},
		{path: "/deepcheck", status: http.StatusInternalServerError, body: `{"ok":["listening"],"failed":["forwarder down"]}`},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		hs.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
		assert.Equal(t, tt.status, rec.Code, tt.path)
		assert.JSONEq(t, tt.body, rec.Body.String(), tt.path)
	}

	rec := httptest.NewRecorder()
	hs.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: "monagent_test_gauge", Help: "test"})
	g.Set(3)
	reg.MustRegister(g)

	hs, err := web.NewHttpServer(fixtures.NewTestLogger(t), "127.0.0.1:0", web.Options{
		EnableMetrics: true,
		Gatherer:      reg,
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	hs.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "monagent_test_gauge 3"))
}
