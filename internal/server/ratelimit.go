package server

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/54b3r/leann-go/internal/logging"
)

const (
	// defaultRateLimit is the sustained requests/second allowed per client.
	defaultRateLimit = 10
	// defaultRateBurst is the per-client burst when none is configured.
	defaultRateBurst = 20
	// clientIdleTTL is how long an unseen client keeps its bucket.
	clientIdleTTL = 5 * time.Minute
	// sweepInterval is how often idle buckets are dropped.
	sweepInterval = time.Minute
)

// bucket is one client's token bucket.
type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter enforces a token-bucket limit per client IP. Buckets idle for
// longer than clientIdleTTL are swept so the map stays bounded.
type rateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket

	rps   rate.Limit
	burst int

	// rejected counts 429s per handler. May be nil.
	rejected *prometheus.CounterVec
	// now is replaced in tests.
	now func() time.Time
}

// newRateLimiter returns a limiter and a stop function for its sweeper.
func newRateLimiter(rps float64, burst int, rejected *prometheus.CounterVec) (*rateLimiter, func()) {
	rl := &rateLimiter{
		buckets:  make(map[string]*bucket),
		rps:      rate.Limit(rps),
		burst:    burst,
		rejected: rejected,
		now:      time.Now,
	}

	done := make(chan struct{})
	var once sync.Once
	go func() {
		t := time.NewTicker(sweepInterval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				rl.sweep()
			}
		}
	}()

	return rl, func() { once.Do(func() { close(done) }) }
}

// bucketFor returns the limiter for ip, creating it on first use.
func (rl *rateLimiter) bucketFor(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[ip]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.buckets[ip] = b
	}
	b.lastSeen = rl.now()
	return b.limiter
}

// sweep drops buckets not seen within clientIdleTTL.
func (rl *rateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-clientIdleTTL)
	for ip, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, ip)
		}
	}
}

// size reports the number of tracked clients.
func (rl *rateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// wrap limits next per client IP. Rejected requests get 429 with the error
// envelope and a Retry-After header in whole seconds.
func (rl *rateLimiter) wrap(handler string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		lim := rl.bucketFor(ip)

		now := rl.now()
		res := lim.ReserveN(now, 1)
		if res.OK() && res.DelayFrom(now) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		retry := 1
		if res.OK() {
			retry = max(1, int(math.Ceil(res.DelayFrom(now).Seconds())))
			res.CancelAt(now)
		}
		if rl.rejected != nil {
			rl.rejected.WithLabelValues(handler).Inc()
		}
		logging.FromContext(r.Context()).Warn("rate limit exceeded",
			slog.String("ip", ip),
			slog.String(labelHandler, handler),
		)
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		writeJSON(r.Context(), w, http.StatusTooManyRequests, envelope{Error: "rate limit exceeded"})
	})
}

// clientIP returns the host part of RemoteAddr. X-Forwarded-For is ignored.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
