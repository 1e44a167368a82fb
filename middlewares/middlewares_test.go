package middlewares

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"checkout-service/logging"
	"checkout-service/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() { gin.SetMode(gin.TestMode) }

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func whoami(c *gin.Context) {
	uid, ok := UserID(c)
	c.JSON(http.StatusOK, gin.H{"user_id": uid, "authenticated": ok})
}

func TestAuthMiddleware(t *testing.T) {
	r := gin.New()
	r.GET("/me", AuthMiddleware("s3cret"), whoami)

	w := serve(r, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer junk")
	assert.Equal(t, http.StatusUnauthorized, serve(r, req).Code)

	tok, err := utils.GenerateToken("s3cret", 7, time.Hour)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	w = serve(r, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":7,"authenticated":true}`, w.Body.String())
}

func TestOptionalAuthAllowsGuests(t *testing.T) {
	r := gin.New()
	r.GET("/me", OptionalAuth("s3cret"), whoami)

	w := serve(r, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":0,"authenticated":false}`, w.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer junk")
	assert.Equal(t, http.StatusUnauthorized, serve(r, req).Code)
}

func TestServiceKey(t *testing.T) {
	r := gin.New()
	r.POST("/internal", ServiceKey("k1"), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	cases := []struct {
		key  string
		want int
	}{
		{"", http.StatusUnauthorized},
		{"wrong", http.StatusForbidden},
		{"k1", http.StatusNoContent},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/internal", nil)
		if tc.key != "" {
			req.Header.Set(ServiceKeyHeader, tc.key)
		}
		assert.Equal(t, tc.want, serve(r, req).Code, "key %q", tc.key)
	}
}

func TestRequestLoggerSetsRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestLogger(logging.Discard()), PrometheusMiddleware())
	r.GET("/ping", func(c *gin.Context) {
		assert.NotNil(t, logging.From(c))
		c.String(http.StatusOK, "pong")
	})

	w := serve(r, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeader, "abc")
	assert.Equal(t, "abc", serve(r, req).Header().Get(RequestIDHeader))
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, c.Write(m))
	return m.GetCounter().GetValue()
}

func TestRecordOrderOperationOutcomes(t *testing.T) {
	cases := map[int]string{
		http.StatusOK:                  "success",
		http.StatusCreated:             "success",
		http.StatusConflict:            "rejected",
		http.StatusUnauthorized:        "rejected",
		http.StatusInternalServerError: "error",
		http.StatusServiceUnavailable:  "error",
	}
	for status, outcome := range cases {
		c := orderOperations.WithLabelValues("test_op", outcome)
		before := counterValue(t, c)
		RecordOrderOperation("test_op", status)
		assert.Equal(t, before+1, counterValue(t, c), "status %d", status)
	}
}

func TestPrometheusMiddlewareLabelsUnmatchedRoutes(t *testing.T) {
	r := gin.New()
	r.Use(PrometheusMiddleware())
	r.GET("/api/orders/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	routed := httpRequestsTotal.WithLabelValues(http.MethodGet, "/api/orders/:id", "204")
	unmatched := httpRequestsTotal.WithLabelValues(http.MethodGet, "unmatched", "404")
	beforeRouted, beforeUnmatched := counterValue(t, routed), counterValue(t, unmatched)

	serve(r, httptest.NewRequest(http.MethodGet, "/api/orders/ORDER-1", nil))
	serve(r, httptest.NewRequest(http.MethodGet, "/nope", nil))

	assert.Equal(t, beforeRouted+1, counterValue(t, routed))
	assert.Equal(t, beforeUnmatched+1, counterValue(t, unmatched))
}
