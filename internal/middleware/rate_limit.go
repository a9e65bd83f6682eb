package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimit 按调用方限制固定窗口内的请求数。已鉴权的请求按 actor 计数，其余按来源 IP。
// maxRequests 或 window 不为正时不限流。
func RateLimit(maxRequests int, window time.Duration) func(http.Handler) http.Handler {
	if maxRequests <= 0 || window <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	limiter := newWindowLimiter(maxRequests, window, time.Now)
	retryAfter := strconv.Itoa(int(window.Round(time.Second).Seconds()))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.allow(clientKey(r)) {
				w.Header().Set("Retry-After", retryAfter)
				writeJSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type windowLimiter struct {
	mu      sync.Mutex
	clients map[string]*bucket
	limit   int
	span    time.Duration
	now     func() time.Time
}

type bucket struct {
	count   int
	expires time.Time
}

func newWindowLimiter(limit int, span time.Duration, now func() time.Time) *windowLimiter {
	return &windowLimiter{
		clients: make(map[string]*bucket),
		limit:   limit,
		span:    span,
		now:     now,
	}
}

func (l *windowLimiter) allow(key string) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.clients[key]
	if !ok || now.After(entry.expires) {
		if len(l.clients) >= 1024 {
			l.evictExpired(now)
		}
		l.clients[key] = &bucket{count: 1, expires: now.Add(l.span)}
		return true
	}
	if entry.count >= l.limit {
		return false
	}
	entry.count++
	return true
}

func (l *windowLimiter) evictExpired(now time.Time) {
	for key, entry := range l.clients {
		if now.After(entry.expires) {
			delete(l.clients, key)
		}
	}
}

func clientKey(r *http.Request) string {
	anonymous, _ := r.Context().Value(anonymousContextKey{}).(bool)
	if actor, ok := ActorFrom(r.Context()); ok && actor.ID != "" && !anonymous {
		return "actor:" + actor.ID
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return "ip:" + strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "ip:" + r.RemoteAddr
	}
	return "ip:" + host
}
