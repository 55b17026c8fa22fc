package server

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// maxTrackedClients bounds the per-IP limiter table. Evicted clients start
// over with a full bucket.
const maxTrackedClients = 4096

// clientLimiter hands out one token bucket per client IP. Forwarding
// headers are honoured only when the direct peer is a trusted proxy.
type clientLimiter struct {
	perMinute int
	burst     int
	limiters  *lru.Cache[string, *rate.Limiter]
	proxies   []*net.IPNet
}

func newClientLimiter(perMinute, burst int, trustedProxies []string) (*clientLimiter, error) {
	proxies, err := parseTrustedProxies(trustedProxies)
	if err != nil {
		return nil, err
	}
	cache, err := lru.New[string, *rate.Limiter](maxTrackedClients)
	if err != nil {
		return nil, err
	}
	if burst < 1 {
		burst = 1
	}
	return &clientLimiter{perMinute: perMinute, burst: burst, limiters: cache, proxies: proxies}, nil
}

// parseTrustedProxies accepts bare IPs and CIDR blocks.
func parseTrustedProxies(entries []string) ([]*net.IPNet, error) {
	out := make([]*net.IPNet, 0, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if _, n, err := net.ParseCIDR(e); err == nil {
			out = append(out, n)
			continue
		}
		ip := net.ParseIP(e)
		if ip == nil {
			return nil, fmt.Errorf("trusted proxy %q is neither an IP nor a CIDR", e)
		}
		bits := 128
		if ip.To4() != nil {
			ip, bits = ip.To4(), 32
		}
		out = append(out, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return out, nil
}

func (l *clientLimiter) trusted(ip string) bool {
	parsed := net.ParseIP(strings.Trim(ip, "[]"))
	if parsed == nil {
		return false
	}
	for _, n := range l.proxies {
		if n.Contains(parsed) {
			return true
		}
	}
	return false
}

func (l *clientLimiter) get(ip string) *rate.Limiter {
	if lim, ok := l.limiters.Get(ip); ok {
		return lim
	}
	lim := rate.NewLimiter(rate.Limit(float64(l.perMinute)/60.0), l.burst)
	// a concurrent Add for the same ip only costs that client one bucket
	l.limiters.Add(ip, lim)
	return lim
}

// clientIP is the peer address unless the peer is a trusted proxy. Then
// X-Forwarded-For is walked from the right, skipping trusted hops, with
// X-Real-IP as the fallback.
func (l *clientLimiter) clientIP(r *http.Request) string {
	peer, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		peer = r.RemoteAddr
	}
	if !l.trusted(peer) {
		return peer
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop == "" {
				continue
			}
			if i == 0 || !l.trusted(hop) {
				return hop
			}
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return peer
}

func isLoopback(ip string) bool {
	if ip == "localhost" {
		return true
	}
	parsed := net.ParseIP(strings.Trim(ip, "[]"))
	return parsed != nil && parsed.IsLoopback()
}

// rateLimitMiddleware answers 429 with Retry-After once a client exhausts
// its bucket. Loopback clients are exempt.
func (s *Server) rateLimitMiddleware(l *clientLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := l.clientIP(r)
			if isLoopback(ip) {
				next.ServeHTTP(w, r)
				return
			}
			lim := l.get(ip)
			res := lim.Reserve()
			if delay := res.Delay(); !res.OK() || delay > 0 {
				res.Cancel()
				retry := int(delay.Seconds()) + 1
				if !res.OK() || retry > 60 {
					retry = 60
				}
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.perMinute))
				w.Header().Set("X-RateLimit-Remaining", "0")
				respondError(w, http.StatusTooManyRequests, "too many requests")
				return
			}
			remaining := int(lim.Tokens())
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.perMinute))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			next.ServeHTTP(w, r)
		})
	}
}
