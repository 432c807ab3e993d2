package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// assertMetricLine checks that the Prometheus output contains a metric
// matching the given name, partial label pattern, and value. The regex allows
// the extra OTel scope labels injected by the exporter.
func assertMetricLine(t *testing.T, output, name, labels, value string) {
	t.Helper()
	pattern := name + `\{[^}]*` + labels + `[^}]*\} ` + value
	assert.Regexp(t, pattern, output)
}

func scrape(t *testing.T, provider *Provider) string {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	provider.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	return w.Body.String()
}

func TestNewBusinessMetrics(t *testing.T) {
	provider, err := NewProvider("test_app")
	require.NoError(t, err)

	businessMetrics, err := NewBusinessMetrics(provider.MeterProvider(), "test_app")

	require.NoError(t, err)
	assert.NotNil(t, businessMetrics)
}

func TestBusinessMetrics_Integration(t *testing.T) {
	provider, err := NewProvider("integration_test")
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, provider.Shutdown(context.Background()))
	}()

	bm, err := NewBusinessMetrics(provider.MeterProvider(), "integration_test")
	require.NoError(t, err)

	ctx := context.Background()

	bm.RecordOperation(ctx, "ingest", "job_run", "success")
	bm.RecordOperation(ctx, "ingest", "job_run", "success")
	bm.RecordOperation(ctx, "ingest", "job_run", "error")
	bm.RecordOperation(ctx, "backout", "move_batch", "success")

	bm.RecordDuration(ctx, "ingest", "job_run", 50*time.Millisecond, "success")
	bm.RecordDuration(ctx, "ingest", "job_run", 70*time.Millisecond, "success")
	bm.RecordDuration(ctx, "backout", "move_batch", 10*time.Millisecond, "success")

	bm.RecordMessages(ctx, "ORDERS.IN", "read", 7)
	bm.RecordMessages(ctx, "ORDERS.IN", "read", 3)
	bm.RecordMessages(ctx, "ORDERS.IN", "failed", 2)
	bm.RecordMessages(ctx, "ORDERS.IN", "diverted", 0)

	output := scrape(t, provider)

	assertMetricLine(t, output,
		`integration_test_operations_total`,
		`domain="ingest".*operation="job_run".*status="success"`,
		`2`,
	)
	assertMetricLine(t, output,
		`integration_test_operations_total`,
		`domain="ingest".*operation="job_run".*status="error"`,
		`1`,
	)
	assertMetricLine(t, output,
		`integration_test_operations_total`,
		`domain="backout".*operation="move_batch".*status="success"`,
		`1`,
	)
	assertMetricLine(t, output,
		`integration_test_operation_duration_seconds_count`,
		`domain="ingest".*operation="job_run".*status="success"`,
		`2`,
	)
	assertMetricLine(t, output,
		`integration_test_messages_total`,
		`outcome="read".*queue="ORDERS.IN"`,
		`10`,
	)
	assertMetricLine(t, output,
		`integration_test_messages_total`,
		`outcome="failed".*queue="ORDERS.IN"`,
		`2`,
	)
	assert.NotContains(t, output, `outcome="diverted"`)
}

func TestNewNoOpBusinessMetrics(t *testing.T) {
	noOpMetrics := NewNoOpBusinessMetrics()

	assert.IsType(t, &NoOpBusinessMetrics{}, noOpMetrics)
	assert.NotPanics(t, func() {
		ctx := context.Background()
		noOpMetrics.RecordOperation(ctx, "ingest", "job_run", "success")
		noOpMetrics.RecordDuration(ctx, "backout", "divert", 100*time.Millisecond, "error")
		noOpMetrics.RecordMessages(ctx, "ORDERS.IN", "read", 5)
	})
}
