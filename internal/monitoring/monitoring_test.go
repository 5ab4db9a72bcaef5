package monitoring_test

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/orbagent/core/internal/monitoring"
)

func TestHandlerExportsRegisteredMetrics(t *testing.T) {
	m := monitoring.New()
	m.CellState.WithLabelValues("thermal").Set(1)
	m.McuRetries.Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "orb_broker_cell_state"))
	assert.True(t, strings.Contains(body, "orb_mculink_send_retries_total"))
}
