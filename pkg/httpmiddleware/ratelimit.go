package httpmiddleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig configures the per-client sliding window limiter.
type RateLimitConfig struct {
	// Max is the request budget per Window.
	Max    int
	Window time.Duration
	// Key identifies the client. Defaults to ClientIP.
	Key func(*http.Request) string
}

// slidingWindow approximates a sliding log with two fixed windows: the
// previous window's count is weighted by how much of it still overlaps.
type slidingWindow struct {
	start time.Time
	prev  float64
	curr  float64
}

type limiter struct {
	max    int
	window time.Duration
	key    func(*http.Request) string
	now    func() time.Time

	mu      sync.Mutex
	clients map[string]*slidingWindow
}

func newLimiter(cfg RateLimitConfig) *limiter {
	l := &limiter{
		max:     cfg.Max,
		window:  cfg.Window,
		key:     cfg.Key,
		now:     time.Now,
		clients: make(map[string]*slidingWindow),
	}
	if l.key == nil {
		l.key = ClientIP
	}
	return l
}

// take consumes one request from key's budget if any is left.
func (l *limiter) take(key string) (remaining int, reset time.Time, ok bool) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	sw, found := l.clients[key]
	if !found {
		sw = &slidingWindow{start: now.Truncate(l.window)}
		l.clients[key] = sw
	}
	if elapsed := now.Sub(sw.start); elapsed >= l.window {
		periods := elapsed / l.window
		if periods == 1 {
			sw.prev = sw.curr
		} else {
			sw.prev = 0
		}
		sw.curr = 0
		sw.start = sw.start.Add(periods * l.window)
	}

	overlap := 1 - float64(now.Sub(sw.start))/float64(l.window)
	used := sw.prev*max(overlap, 0) + sw.curr
	reset = sw.start.Add(l.window)
	if used >= float64(l.max) {
		return 0, reset, false
	}
	sw.curr++
	return max(int(float64(l.max)-used-1), 0), reset, true
}

// evict forgets clients idle for two windows.
func (l *limiter) evict() {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	for key, sw := range l.clients {
		if now.Sub(sw.start) >= 2*l.window {
			delete(l.clients, key)
		}
	}
}

func (l *limiter) evictLoop(ctx context.Context) {
	ticker := time.NewTicker(2 * l.window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.evict()
		}
	}
}

// RateLimit rejects clients over budget with 429. Every response carries the
// X-RateLimit-* headers. Idle clients are evicted until ctx is done.
func RateLimit(ctx context.Context, cfg RateLimitConfig) Middleware {
	l := newLimiter(cfg)
	go l.evictLoop(ctx)
	return l.middleware
}

func (l *limiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		remaining, reset, ok := l.take(l.key(r))

		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(l.max))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
		if !ok {
			wait := reset.Sub(l.now())
			h.Set("Retry-After", strconv.Itoa(int(max(wait, 0).Round(time.Second)/time.Second)+1))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientIP returns the first X-Forwarded-For hop, X-Real-IP, or the host of
// RemoteAddr, in that order.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
