package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveRequestAndExpose(t *testing.T) {
	m := New()
	m.ObserveRequest("/api/v1/orders", http.MethodGet, http.StatusOK, 20*time.Millisecond)
	m.OrdersSubmitted.WithLabelValues("sale").Add(2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `posledger_http_requests_total{method="GET",route="/api/v1/orders",status="200"} 1`)
	assert.Contains(t, body, `posledger_orders_submitted_total{kind="sale"} 2`)
}

func TestInstancesDoNotShareRegistries(t *testing.T) {
	require.NotPanics(t, func() {
		New()
		New()
	})
}
