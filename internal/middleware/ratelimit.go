package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"server/internal/shopify"
)

type bucket struct {
	count int
	until time.Time
}

type limiter struct {
	mu      sync.Mutex
	limit   int
	per     time.Duration
	buckets map[string]*bucket
	sweepAt time.Time
}

func (l *limiter) allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	// evict stale buckets at most once per window so the map does not grow
	// with every shop and IP ever seen
	if now.After(l.sweepAt) {
		for k, b := range l.buckets {
			if now.After(b.until) {
				delete(l.buckets, k)
			}
		}
		l.sweepAt = now.Add(l.per)
	}

	b, ok := l.buckets[key]
	if !ok || now.After(b.until) {
		b = &bucket{until: now.Add(l.per)}
		l.buckets[key] = b
	}
	if b.count >= l.limit {
		return false
	}
	b.count++
	return true
}

// RateLimit caps requests per key per window. Authenticated requests are
// keyed by shop domain; unauthenticated ones fall back to the client IP.
func RateLimit(limit int, per time.Duration) func(http.Handler) http.Handler {
	l := &limiter{limit: limit, per: per, buckets: map[string]*bucket{}}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := shopify.ShopFromContext(r.Context())
			if key == "" {
				key = clientIPForRateLimit(r)
			}
			if !l.allow(key, time.Now()) {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIPForRateLimit(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		for _, part := range strings.Split(xf, ",") {
			ip := strings.TrimSpace(part)
			if ip == "" {
				continue
			}
			if net.ParseIP(ip) != nil {
				return ip
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		if net.ParseIP(host) != nil {
			return host
		}
	} else if net.ParseIP(r.RemoteAddr) != nil {
		return r.RemoteAddr
	}

	return r.RemoteAddr
}
