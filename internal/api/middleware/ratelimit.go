package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Togather-Foundation/safetynow/internal/api/problem"
	"github.com/Togather-Foundation/safetynow/internal/config"
	"golang.org/x/time/rate"
)

type RateLimitTier string

const (
	TierPublic        RateLimitTier = "public"
	TierAuthenticated RateLimitTier = "authenticated"
	TierLogin         RateLimitTier = "login" // login, registration and password reset
)

const (
	limiterTTL      = 15 * time.Minute
	sweepInterval   = 5 * time.Minute
	loginRefillRate = 3 * time.Minute
)

type rateLimitKey string

const rateLimitTierKey rateLimitKey = "rateLimitTier"

func WithRateLimitTier(ctx context.Context, tier RateLimitTier) context.Context {
	return context.WithValue(ctx, rateLimitTierKey, tier)
}

// RateLimitTierFromContext reports the tier stored by WithRateLimitTier,
// defaulting to TierPublic.
func RateLimitTierFromContext(ctx context.Context) RateLimitTier {
	if value, ok := ctx.Value(rateLimitTierKey).(RateLimitTier); ok {
		return value
	}
	return TierPublic
}

// RateLimiter holds per-client token buckets keyed by tier and client IP.
type RateLimiter struct {
	cfg   config.RateLimitConfig
	store *limiterStore
	env   string
}

func NewRateLimiter(cfg config.RateLimitConfig, env string) *RateLimiter {
	return &RateLimiter{cfg: cfg, store: newLimiterStore(cfg), env: env}
}

// Tier returns middleware that enforces the given tier's limit on the
// wrapped handler.
func (l *RateLimiter) Tier(tier RateLimitTier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limiter := l.store.limiter(tier, clientKey(r, l.cfg.TrustedProxyCIDRs))
			if limiter == nil {
				next.ServeHTTP(w, WithTierRequest(r, tier))
				return
			}

			if !limiter.Allow() {
				retryAfter := time.Minute
				if tier == TierLogin {
					retryAfter = loginRefillRate
				}
				w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
				problem.Write(w, r, http.StatusTooManyRequests, problem.TypeRateLimited, "Too many requests", problem.ErrRateLimited, l.env)
				return
			}

			next.ServeHTTP(w, WithTierRequest(r, tier))
		})
	}
}

func WithTierRequest(r *http.Request, tier RateLimitTier) *http.Request {
	return r.WithContext(WithRateLimitTier(r.Context(), tier))
}

type limiterStore struct {
	mu        sync.Mutex
	limiters  map[string]*limiterEntry
	limits    map[RateLimitTier]int
	lastSweep time.Time
	now       func() time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newLimiterStore(cfg config.RateLimitConfig) *limiterStore {
	return &limiterStore{
		limiters: make(map[string]*limiterEntry),
		limits: map[RateLimitTier]int{
			TierPublic:        cfg.PublicPerMinute,
			TierAuthenticated: cfg.AuthedPerMinute,
			TierLogin:         cfg.LoginPer15Minutes,
		},
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

func (s *limiterStore) limiter(tier RateLimitTier, key string) *rate.Limiter {
	limit := s.limits[tier]
	if limit <= 0 {
		return nil
	}

	lookup := string(tier) + ":" + key
	if key == "" {
		lookup = string(tier)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Sub(s.lastSweep) >= sweepInterval {
		s.sweepLocked(now)
	}

	if entry, ok := s.limiters[lookup]; ok {
		entry.lastSeen = now
		return entry.limiter
	}

	var limiter *rate.Limiter
	if tier == TierLogin {
		// Burst of limit attempts, one token back every three minutes.
		limiter = rate.NewLimiter(rate.Every(loginRefillRate), limit)
	} else {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(limit)), limit)
	}

	s.limiters[lookup] = &limiterEntry{limiter: limiter, lastSeen: now}
	return limiter
}

// sweepLocked drops entries idle longer than limiterTTL. Runs inline on
// access so the store needs no background goroutine.
func (s *limiterStore) sweepLocked(now time.Time) {
	for key, entry := range s.limiters {
		if now.Sub(entry.lastSeen) > limiterTTL {
			delete(s.limiters, key)
		}
	}
	s.lastSweep = now
}

// clientKey identifies the caller. Forwarding headers are only trusted
// when the connection comes from a configured proxy CIDR.
func clientKey(r *http.Request, trustedProxyCIDRs []string) string {
	if r == nil {
		return ""
	}

	remoteIP := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		remoteIP = host
	}

	if isTrustedProxy(remoteIP, trustedProxyCIDRs) {
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			first, _, _ := strings.Cut(forwarded, ",")
			if first = strings.TrimSpace(first); first != "" {
				return first
			}
		}
		if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
			return strings.TrimSpace(realIP)
		}
	}

	return remoteIP
}

func isTrustedProxy(ip string, trustedCIDRs []string) bool {
	if len(trustedCIDRs) == 0 {
		return false
	}

	parsedIP := net.ParseIP(ip)
	if parsedIP == nil {
		return false
	}

	for _, cidrStr := range trustedCIDRs {
		_, cidr, err := net.ParseCIDR(cidrStr)
		if err != nil {
			continue
		}
		if cidr.Contains(parsedIP) {
			return true
		}
	}

	return false
}
