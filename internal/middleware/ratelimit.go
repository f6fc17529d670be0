package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained refill rate per key
	RequestsPerSecond float64
	// BurstSize is the bucket capacity; defaults to RequestsPerSecond
	BurstSize int
	// KeyExtractor extracts the key for rate limiting; defaults to IPKeyExtractor
	KeyExtractor func(*http.Request) string
	// SkipPaths are never rate limited
	SkipPaths []string
	// Store keeps the buckets; defaults to an in-memory store
	Store RateLimitStore
}

// RateLimitStore defines the interface for rate limit storage
type RateLimitStore interface {
	// Allow takes one token from key's bucket
	Allow(key string, rate float64, burst int) bool
	// Cleanup removes idle buckets
	Cleanup()
}

// TokenBucket represents a token bucket for rate limiting
type TokenBucket struct {
	tokens     float64
	capacity   float64
	refillRate float64
	lastRefill time.Time
	mu         sync.Mutex
}

// InMemoryRateLimitStore implements RateLimitStore in process memory
type InMemoryRateLimitStore struct {
	buckets map[string]*TokenBucket
	mu      sync.Mutex
	idle    time.Duration
	now     func() time.Time
}

// NewInMemoryRateLimitStore creates a new in-memory rate limit store
func NewInMemoryRateLimitStore() *InMemoryRateLimitStore {
	return &InMemoryRateLimitStore{
		buckets: make(map[string]*TokenBucket),
		idle:    time.Hour,
		now:     time.Now,
	}
}

// Allow implements RateLimitStore.Allow
func (s *InMemoryRateLimitStore) Allow(key string, rate float64, burst int) bool {
	s.mu.Lock()
	bucket, exists := s.buckets[key]
	if !exists {
		bucket = &TokenBucket{
			tokens:     float64(burst),
			capacity:   float64(burst),
			refillRate: rate,
			lastRefill: s.now(),
		}
		s.buckets[key] = bucket
	}
	s.mu.Unlock()

	return bucket.allow(s.now())
}

// Cleanup implements RateLimitStore.Cleanup
func (s *InMemoryRateLimitStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, bucket := range s.buckets {
		bucket.mu.Lock()
		if now.Sub(bucket.lastRefill) > s.idle {
			delete(s.buckets, key)
		}
		bucket.mu.Unlock()
	}
}

// Len returns the number of tracked keys
func (s *InMemoryRateLimitStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}

// allow refills the bucket up to capacity and consumes one token if available
func (tb *TokenBucket) allow(now time.Time) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	elapsed := now.Sub(tb.lastRefill).Seconds()
	tb.tokens += elapsed * tb.refillRate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now

	if tb.tokens >= 1.0 {
		tb.tokens -= 1.0
		return true
	}
	return false
}

// RateLimit returns a token bucket rate limiting middleware
func RateLimit(config RateLimitConfig) func(http.Handler) http.Handler {
	if config.Store == nil {
		config.Store = NewInMemoryRateLimitStore()
	}
	if config.KeyExtractor == nil {
		config.KeyExtractor = IPKeyExtractor
	}
	if config.BurstSize <= 0 {
		config.BurstSize = int(config.RequestsPerSecond)
		if config.BurstSize < 1 {
			config.BurstSize = 1
		}
	}
	limit := fmt.Sprintf("%.0f", config.RequestsPerSecond)
	retryAfter := "1"
	if config.RequestsPerSecond > 0 && config.RequestsPerSecond < 1 {
		retryAfter = fmt.Sprintf("%.0f", 1/config.RequestsPerSecond)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, skipPath := range config.SkipPaths {
				if r.URL.Path == skipPath {
					next.ServeHTTP(w, r)
					return
				}
			}

			w.Header().Set("X-RateLimit-Limit", limit)
			if !config.Store.Allow(config.KeyExtractor(r), config.RequestsPerSecond, config.BurstSize) {
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("Retry-After", retryAfter)
				writeError(w, http.StatusTooManyRequests, "Rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// TrustedProxies holds additional trusted proxy IPs/CIDRs beyond private networks
var TrustedProxies []string

// privateNetworks contains RFC 1918 private ranges and loopback
var privateNetworks []*net.IPNet

func init() {
	privateCIDRs := []string{
		"127.0.0.0/8",
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"::1/128",
		"fc00::/7",
	}
	for _, cidr := range privateCIDRs {
		_, network, _ := net.ParseCIDR(cidr)
		privateNetworks = append(privateNetworks, network)
	}
}

// IPKeyExtractor extracts the client IP address. X-Forwarded-For and
// X-Real-IP are honoured only when the direct peer is a trusted proxy.
func IPKeyExtractor(r *http.Request) string {
	remoteIP := stripPort(r.RemoteAddr)

	if isTrustedProxy(remoteIP) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			// client, proxy1, proxy2
			parts := strings.SplitN(xff, ",", 2)
			if clientIP := strings.TrimSpace(parts[0]); clientIP != "" {
				return clientIP
			}
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
	}

	return remoteIP
}

// stripPort removes the port from an address like "192.168.1.1:12345" or "[::1]:8080"
func stripPort(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func isTrustedProxy(ip string) bool {
	parsedIP := net.ParseIP(ip)
	if parsedIP != nil {
		for _, network := range privateNetworks {
			if network.Contains(parsedIP) {
				return true
			}
		}
	}

	for _, trusted := range TrustedProxies {
		if strings.Contains(trusted, "/") {
			_, network, err := net.ParseCIDR(trusted)
			if err == nil && parsedIP != nil && network.Contains(parsedIP) {
				return true
			}
		} else if trusted == ip {
			return true
		}
	}
	return false
}
