// Package middleware adapts the detection engine onto net/http: a
// standard recovery/rate-limit/logging/security chain, response-header
// forwarding, and the client-fingerprint ingestion endpoint.
package middleware

import (
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/northboundlabs/botshield/internal/monitoring"
)

// MaxRateLimitBuckets bounds the per-IP token bucket map to prevent
// memory exhaustion from IP spoofing.
const MaxRateLimitBuckets = 100_000

// responseWriter wraps http.ResponseWriter to capture the status code and
// a bounded prefix of the body, both needed by response analysis.
type responseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	bodyPrefix  []byte
	bodyLimit   int
}

func (w *responseWriter) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	if len(w.bodyPrefix) < w.bodyLimit {
		remaining := w.bodyLimit - len(w.bodyPrefix)
		if remaining > len(b) {
			remaining = len(b)
		}
		w.bodyPrefix = append(w.bodyPrefix, b[:remaining]...)
	}
	return w.ResponseWriter.Write(b)
}

func (w *responseWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// rateLimiter is a per-IP token bucket limiter.
type rateLimiter struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	rate       int
	maxBuckets int
}

type bucket struct {
	tokens    int
	lastCheck time.Time
}

func newRateLimiter(ratePerSecond int) *rateLimiter {
	rl := &rateLimiter{buckets: make(map[string]*bucket), rate: ratePerSecond, maxBuckets: MaxRateLimitBuckets}
	go rl.cleanup()
	return rl
}

func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	b, exists := rl.buckets[ip]
	if !exists {
		if len(rl.buckets) >= rl.maxBuckets {
			rl.evictOldest()
		}
		rl.buckets[ip] = &bucket{tokens: rl.rate - 1, lastCheck: now}
		return true
	}

	elapsed := now.Sub(b.lastCheck).Seconds()
	b.tokens += int(elapsed * float64(rl.rate))
	if b.tokens > rl.rate {
		b.tokens = rl.rate
	}
	b.lastCheck = now

	if b.tokens > 0 {
		b.tokens--
		return true
	}
	return false
}

func (rl *rateLimiter) evictOldest() {
	var oldestKey string
	var oldestTime time.Time
	first := true
	for k, b := range rl.buckets {
		if first || b.lastCheck.Before(oldestTime) {
			oldestKey, oldestTime, first = k, b.lastCheck, false
		}
	}
	if oldestKey != "" {
		delete(rl.buckets, oldestKey)
	}
}

func (rl *rateLimiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		rl.mu.Lock()
		cutoff := time.Now().Add(-10 * time.Minute)
		for ip, b := range rl.buckets {
			if b.lastCheck.Before(cutoff) {
				delete(rl.buckets, ip)
			}
		}
		rl.mu.Unlock()
	}
}

// Chain bundles the stateful middleware pieces (rate limiter) that must
// persist across requests.
type Chain struct {
	limiter        *rateLimiter
	trustedProxies map[string]struct{}
	allowedOrigins []string
}

// New builds a middleware chain. trustedProxies lists remote addresses
// allowed to set X-Forwarded-For/X-Real-IP (spec §6 "trusted-proxy-aware
// parsing of forwarded headers").
func New(ratePerSecond int, trustedProxies []string, allowedOrigins []string) *Chain {
	proxies := make(map[string]struct{}, len(trustedProxies))
	for _, p := range trustedProxies {
		proxies[p] = struct{}{}
	}
	return &Chain{
		limiter:        newRateLimiter(ratePerSecond),
		trustedProxies: proxies,
		allowedOrigins: allowedOrigins,
	}
}

// PanicRecovery recovers from a handler panic, logs it, and returns 500.
func (c *Chain) PanicRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Error().Interface("panic", err).Str("stack", string(debug.Stack())).Msg("panic recovered in request handler")
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// RateLimit enforces a per-IP token bucket.
func (c *Chain) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := c.ClientIP(r)
		if !c.limiter.allow(ip) {
			log.Warn().Str("ip", ip).Msg("rate limit exceeded")
			w.Header().Set("Retry-After", "1")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Logging assigns/propagates a request ID and logs request/response timing.
func (c *Chain) Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set(HeaderRequestID, requestID)

		ctx := monitoring.WithRequestID(r.Context(), requestID)
		r = r.WithContext(ctx)

		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK, bodyLimit: 64 * 1024}
		next.ServeHTTP(wrapped, r)

		log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapped.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// Security sets baseline security headers and handles CORS preflight.
func (c *Chain) Security(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'")

		origin := r.Header.Get("Origin")
		if origin != "" && c.isAllowedOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Signature-Id, X-Request-ID")
			w.Header().Set("Access-Control-Max-Age", "86400")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (c *Chain) isAllowedOrigin(origin string) bool {
	for _, allowed := range c.allowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// ClientIP extracts the client address, trusting X-Forwarded-For/X-Real-IP
// only when RemoteAddr is a configured trusted proxy.
func (c *Chain) ClientIP(r *http.Request) string {
	remoteIP, _, _ := net.SplitHostPort(r.RemoteAddr)
	if _, trusted := c.trustedProxies[remoteIP]; trusted {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			if idx := strings.Index(xff, ","); idx != -1 {
				return strings.TrimSpace(xff[:idx])
			}
			return strings.TrimSpace(xff)
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return xri
		}
	}
	if remoteIP == "" {
		return r.RemoteAddr
	}
	return remoteIP
}

// ResponseBodyPrefix returns the bounded body prefix captured by Logging's
// wrapped writer, for response analysis. Any writer other than the one
// Logging wrapped returns nil.
func ResponseBodyPrefix(w http.ResponseWriter) []byte {
	if rw, ok := w.(*responseWriter); ok {
		return rw.bodyPrefix
	}
	return nil
}

// StatusOf returns the status code recorded by Logging's wrapped writer,
// or 200 if the writer was never wrapped.
func StatusOf(w http.ResponseWriter) int {
	if rw, ok := w.(*responseWriter); ok {
		return rw.status
	}
	return http.StatusOK
}
