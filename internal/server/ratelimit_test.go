package server

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

// hit sends one POST /search from addr through h.
func hit(h http.Handler, addr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/search", nil)
	req.RemoteAddr = addr
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func newTestLimiter(t *testing.T, rps float64, burst int) (*rateLimiter, *prometheus.CounterVec) {
	t.Helper()
	rejected := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "rejected_total"}, []string{labelHandler})
	rl, stop := newRateLimiter(rps, burst, rejected)
	t.Cleanup(stop)
	return rl, rejected
}

func TestRateLimit_BurstThenReject(t *testing.T) {
	t.Parallel()

	rl, rejected := newTestLimiter(t, 0.001, 3)
	h := rl.wrap("search", okHandler)

	for i := range 3 {
		assert.Equal(t, http.StatusOK, hit(h, "10.0.0.1:1000").Code, "request %d", i)
	}

	w := hit(h, "10.0.0.1:1000")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t, `{"success":false,"error":"rate limit exceeded"}`, w.Body.String())
	assert.InDelta(t, 1, testutil.ToFloat64(rejected.WithLabelValues("search")), 0)
}

func TestRateLimit_RetryAfterReflectsRefill(t *testing.T) {
	t.Parallel()

	// One token every 4s: the second request must wait about 4 seconds.
	rl, _ := newTestLimiter(t, 0.25, 1)
	h := rl.wrap("ask", okHandler)

	require.Equal(t, http.StatusOK, hit(h, "10.0.0.2:1").Code)
	w := hit(h, "10.0.0.2:1")
	require.Equal(t, http.StatusTooManyRequests, w.Code)

	retry, err := strconv.Atoi(w.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, retry, 3)
	assert.LessOrEqual(t, retry, 4)
}

func TestRateLimit_RejectionDoesNotConsumeTokens(t *testing.T) {
	t.Parallel()

	rl, _ := newTestLimiter(t, 1, 1)
	base := time.Now()
	rl.now = func() time.Time { return base }
	h := rl.wrap("search", okHandler)

	require.Equal(t, http.StatusOK, hit(h, "10.0.0.3:1").Code)
	for range 5 {
		require.Equal(t, http.StatusTooManyRequests, hit(h, "10.0.0.3:1").Code)
	}

	// A single refill interval later the client is allowed again.
	rl.now = func() time.Time { return base.Add(time.Second) }
	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.3:1").Code)
}

func TestRateLimit_ClientsAreIndependent(t *testing.T) {
	t.Parallel()

	rl, _ := newTestLimiter(t, 0.001, 1)
	h := rl.wrap("index", okHandler)

	hit(h, "192.168.1.1:1111")
	require.Equal(t, http.StatusTooManyRequests, hit(h, "192.168.1.1:2222").Code, "same IP, other port")
	assert.Equal(t, http.StatusOK, hit(h, "192.168.1.2:1111").Code)
}

func TestRateLimit_SweepDropsIdleClients(t *testing.T) {
	t.Parallel()

	rl, _ := newTestLimiter(t, 10, 10)
	base := time.Now()
	rl.now = func() time.Time { return base }

	rl.bucketFor("10.1.1.1")
	rl.now = func() time.Time { return base.Add(clientIdleTTL - time.Second) }
	rl.bucketFor("10.1.1.2")
	require.Equal(t, 2, rl.size())

	rl.now = func() time.Time { return base.Add(clientIdleTTL + time.Second) }
	rl.sweep()
	assert.Equal(t, 1, rl.size())
}

func TestRateLimit_StopIsIdempotent(t *testing.T) {
	t.Parallel()

	_, stop := newRateLimiter(1, 1, nil)
	stop()
	assert.NotPanics(t, stop)
}

func TestClientIP(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"127.0.0.1:54321": "127.0.0.1",
		"[::1]:8080":      "::1",
		"noport":          "noport",
	}
	for addr, want := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		assert.Equal(t, want, clientIP(req), addr)
	}
}
