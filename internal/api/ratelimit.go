package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/ashureev/crmchat/internal/identity"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// limiterIdle is how long an unused per-client limiter is kept.
const limiterIdle = 10 * time.Minute

// RateLimiter bounds requests with a token bucket per client id. Requests
// without an established client id share a bucket per remote IP.
type RateLimiter struct {
	clients *cache.Cache
	rps     rate.Limit
	burst   int
}

// NewRateLimiter creates a limiter. A non-positive rps returns nil, which
// Middleware treats as unlimited.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		clients: cache.New(limiterIdle, limiterIdle),
		rps:     rate.Limit(rps),
		burst:   burst,
	}
}

// Allow reports whether clientID may make a request now.
func (rl *RateLimiter) Allow(clientID string) bool {
	return rl.limiter(clientID).Allow()
}

func (rl *RateLimiter) limiter(clientID string) *rate.Limiter {
	if v, ok := rl.clients.Get(clientID); ok {
		lim := v.(*rate.Limiter)
		// Refresh the idle expiry.
		rl.clients.SetDefault(clientID, lim)
		return lim
	}
	lim := rate.NewLimiter(rl.rps, rl.burst)
	if err := rl.clients.Add(clientID, lim, cache.DefaultExpiration); err != nil {
		// Another request created it first.
		if v, ok := rl.clients.Get(clientID); ok {
			return v.(*rate.Limiter)
		}
	}
	return lim
}

// Middleware rejects requests over the caller's budget with 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	if rl == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(limitKey(r)) {
			retry := time.Duration(float64(time.Second) / float64(rl.rps))
			w.Header().Set("Retry-After", strconv.Itoa(max(1, int(retry.Seconds()))))
			Error(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// limitKey picks the bucket for r. A freshly minted client id changes on every
// cookieless request, so those fall back to the remote IP.
func limitKey(r *http.Request) string {
	ctx := r.Context()
	if id := identity.ClientIDFromContext(ctx); id != "" && !identity.IsNewClient(ctx) {
		return "client:" + id
	}
	return "ip:" + identity.IPFromRequest(r)
}
