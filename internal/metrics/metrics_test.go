package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCardEventsTotal(t *testing.T) {
	c := CardEventsTotal.WithLabelValues("world", "added")
	before := testutil.ToFloat64(c)
	c.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(c))
}

func TestRecordUsage(t *testing.T) {
	before := testutil.CollectAndCount(ContextOverflowTokens)
	RecordUsage(10, 20, 30, 0)
	RecordUsage(10, 20, 30, 5)
	assert.Equal(t, before, testutil.CollectAndCount(ContextOverflowTokens))
	assert.Equal(t, 3, testutil.CollectAndCount(ContextTokens))
}

func TestHandler(t *testing.T) {
	GenerationTotal.WithLabelValues("completed").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "talemind_generation_total")
}
