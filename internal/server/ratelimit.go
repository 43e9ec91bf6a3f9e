// ratelimit.go - Sliding-window rate limiter by client IP.
//
// Each endpoint class gets its own limiter so a burst of uploads cannot
// starve the page's list polling.
package server

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"copycat/internal/logging"
	"copycat/internal/metrics"
)

// rateLimiter allows rate requests per window per IP.
type rateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     int
	window   time.Duration
	done     chan struct{}
	stopOnce sync.Once
}

// visitor tracks request timestamps for a single IP address
type visitor struct {
	mu       sync.Mutex
	requests []time.Time
}

// newRateLimiter creates a rate limiter that allows 'rate' requests per 'window'.
// Example: newRateLimiter(100, time.Minute) allows 100 requests per minute per IP.
func newRateLimiter(rate int, window time.Duration) *rateLimiter {
	rl := &rateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate,
		window:   window,
		done:     make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

// allow checks if a request from the given IP should be allowed
func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	v, exists := rl.visitors[ip]
	if !exists {
		v = &visitor{requests: make([]time.Time, 0, rl.rate)}
		rl.visitors[ip] = v
	}
	rl.mu.Unlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-rl.window)

	valid := v.requests[:0]
	for _, t := range v.requests {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	v.requests = valid

	if len(v.requests) >= rl.rate {
		return false
	}
	v.requests = append(v.requests, now)
	return true
}

// cleanup periodically removes visitors with no recent requests
func (rl *rateLimiter) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
		}

		rl.mu.Lock()
		cutoff := time.Now().Add(-rl.window * 2)
		for ip, v := range rl.visitors {
			v.mu.Lock()
			if len(v.requests) == 0 || v.requests[len(v.requests)-1].Before(cutoff) {
				delete(rl.visitors, ip)
			}
			v.mu.Unlock()
		}
		rl.mu.Unlock()
	}
}

func (rl *rateLimiter) stop() {
	rl.stopOnce.Do(func() { close(rl.done) })
}

// endpointRateLimitConfig holds the per-class limits.
type endpointRateLimitConfig struct {
	UploadRate   int
	FetchRate    int
	MutateRate   int
	DownloadRate int
	APIRate      int
	Window       time.Duration
}

// defaultEndpointRateLimitConfig is sized for a LAN: several tabs polling
// /files and /clipboard every two seconds stay well below APIRate.
func defaultEndpointRateLimitConfig() endpointRateLimitConfig {
	return endpointRateLimitConfig{
		UploadRate:   120,
		FetchRate:    30,
		MutateRate:   300,
		DownloadRate: 600,
		APIRate:      1200,
		Window:       time.Minute,
	}
}

type endpointRateLimiter struct {
	upload   *rateLimiter
	fetch    *rateLimiter
	mutate   *rateLimiter
	download *rateLimiter
	api      *rateLimiter
	window   time.Duration
}

func newEndpointRateLimiter(cfg endpointRateLimitConfig) *endpointRateLimiter {
	return &endpointRateLimiter{
		upload:   newRateLimiter(cfg.UploadRate, cfg.Window),
		fetch:    newRateLimiter(cfg.FetchRate, cfg.Window),
		mutate:   newRateLimiter(cfg.MutateRate, cfg.Window),
		download: newRateLimiter(cfg.DownloadRate, cfg.Window),
		api:      newRateLimiter(cfg.APIRate, cfg.Window),
		window:   cfg.Window,
	}
}

// classify picks the limiter for a request.
func (erl *endpointRateLimiter) classify(r *http.Request) (*rateLimiter, string) {
	path := r.URL.Path
	switch {
	case path == "/upload-from-url":
		return erl.fetch, "fetch"
	case path == "/" && r.Method == http.MethodPost:
		return erl.upload, "upload"
	case strings.HasPrefix(path, "/uploads/") || strings.HasPrefix(path, "/inline/") ||
		strings.HasPrefix(path, "/view/") || path == "/archive":
		return erl.download, "download"
	case r.Method == http.MethodPost:
		return erl.mutate, "mutate"
	default:
		return erl.api, "api"
	}
}

func (erl *endpointRateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limiter, class := erl.classify(r)
		ip := getClientIP(r)

		if !limiter.allow(ip) {
			logging.WithContext(r.Context()).Warn("rate_limit_exceeded",
				zap.String("ip", ip),
				zap.String("path", r.URL.Path),
				zap.String("method", r.Method),
				zap.String("limit_type", class),
			)
			metrics.RecordRateLimited(class)

			w.Header().Set("Retry-After", strconv.Itoa(int(erl.window.Seconds())))
			w.Header().Set("X-RateLimit-Limit-Type", class)
			writeJSON(w, http.StatusTooManyRequests, map[string]string{
				"status": "error",
				"error":  "Rate limit exceeded for " + class + " requests. Please try again later.",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (erl *endpointRateLimiter) stop() {
	for _, rl := range []*rateLimiter{erl.upload, erl.fetch, erl.mutate, erl.download, erl.api} {
		rl.stop()
	}
}

// getClientIP extracts the client's IP address from the request.
// It checks X-Forwarded-For and X-Real-IP headers first (for reverse proxies),
// then falls back to RemoteAddr.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	// RemoteAddr is "ip:port"
	if i := strings.LastIndexByte(r.RemoteAddr, ':'); i >= 0 {
		return strings.Trim(r.RemoteAddr[:i], "[]")
	}
	return r.RemoteAddr
}
