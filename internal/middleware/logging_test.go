package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NikhilSetiya/pipeline-doctor/pkg/logging"
	"github.com/NikhilSetiya/pipeline-doctor/pkg/metrics"
)

func newTestLogger(t *testing.T) (*logging.Logger, *bytes.Buffer) {
	t.Helper()
	logger, err := logging.NewLogger(&logging.Config{Level: "info", Format: "json", Output: "stdout"})
	require.NoError(t, err)
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	return logger, &buf
}

func TestLoggingMiddleware_EchoesCorrelationID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger, buf := newTestLogger(t)

	router := gin.New()
	router.Use(LoggingMiddleware(logger))
	router.POST("/api/v1/events", func(c *gin.Context) {
		assert.Equal(t, "corr-7", logging.GetCorrelationID(c.Request.Context()))
		c.Status(http.StatusAccepted)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", nil)
	req.Header.Set(CorrelationHeader, "corr-7")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "corr-7", w.Header().Get(CorrelationHeader))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "corr-7", entry["correlation_id"])
	assert.Equal(t, float64(http.StatusAccepted), entry["http_status"])
}

func TestRecoveryMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger, _ := newTestLogger(t)
	m := metrics.NewMetrics(&metrics.Config{Namespace: "test", Enabled: true, Registry: prometheus.NewRegistry()})

	router := gin.New()
	router.Use(LoggingMiddleware(logger), RecoveryMiddleware(logger, m))
	router.GET("/boom", func(c *gin.Context) { panic("nil classifier") })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, w.Header().Get(CorrelationHeader), body["correlation_id"])
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PanicsTotal.WithLabelValues("http")))
}
