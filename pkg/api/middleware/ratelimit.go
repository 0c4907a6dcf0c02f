package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"github.com/familyhub/contextd/pkg/api/response"
)

// maxPeekBytes bounds how much of a request body is read to find owner_id.
const maxPeekBytes = 1 << 20

// idleLimiterTTL is how long an unused per-owner limiter is kept.
const idleLimiterTTL = 10 * time.Minute

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per owner. Requests without an owner
// are keyed by remote address.
type RateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*clientLimiter
	rate      rate.Limit
	burst     int
	lastSweep time.Time
	now       func() time.Time
}

// NewRateLimiter creates a limiter allowing requestsPerSecond per owner with
// the given burst.
func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = int(math.Ceil(requestsPerSecond))
	}
	return &RateLimiter{
		limiters: make(map[string]*clientLimiter),
		rate:     rate.Limit(requestsPerSecond),
		burst:    burst,
		now:      time.Now,
	}
}

// SetLimit changes the rate of every existing and future bucket.
func (rl *RateLimiter) SetLimit(requestsPerSecond float64, burst int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if burst <= 0 {
		burst = int(math.Ceil(requestsPerSecond))
	}
	rl.rate = rate.Limit(requestsPerSecond)
	rl.burst = burst
	now := rl.now()
	for _, cl := range rl.limiters {
		cl.limiter.SetLimitAt(now, rl.rate)
		cl.limiter.SetBurstAt(now, rl.burst)
	}
}

// getLimiter gets or creates the bucket for key and drops idle buckets at
// most once per TTL.
func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) > idleLimiterTTL {
		for k, cl := range rl.limiters {
			if now.Sub(cl.lastSeen) > idleLimiterTTL {
				delete(rl.limiters, k)
			}
		}
		rl.lastSweep = now
	}

	cl, ok := rl.limiters[key]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[key] = cl
	}
	cl.lastSeen = now
	return cl.limiter
}

// Len returns the number of tracked buckets.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// Handler rejects requests over the owner's rate with 429 and a
// Retry-After header. It must run after routing so the {ownerID} URL
// parameter is visible.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := ownerKey(r)
		limiter := rl.getLimiter(key)

		now := rl.now()
		res := limiter.ReserveN(now, 1)
		if !res.OK() {
			rl.reject(w, r, time.Second)
			return
		}
		if delay := res.DelayFrom(now); delay > 0 {
			res.CancelAt(now)
			rl.reject(w, r, delay)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) reject(w http.ResponseWriter, r *http.Request, retryAfter time.Duration) {
	secs := int(math.Ceil(retryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	response.Error(w, http.StatusTooManyRequests, response.ErrCodeRateLimited,
		response.ErrRateLimited.Error(), GetRequestID(r.Context()))
}

// ownerKey finds the owner a request acts for: the {ownerID} path parameter,
// then the owner_id query parameter, then owner_id in a JSON body.
func ownerKey(r *http.Request) string {
	if id := chi.URLParam(r, "ownerID"); id != "" {
		return "owner:" + id
	}
	if id := r.URL.Query().Get("owner_id"); id != "" {
		return "owner:" + id
	}
	if id := peekBodyOwner(r); id != "" {
		return "owner:" + id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "addr:" + host
}

// peekBodyOwner decodes owner_id from the body and restores the body for the
// next handler.
func peekBodyOwner(r *http.Request) string {
	if r.Body == nil || r.Body == http.NoBody {
		return ""
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPeekBytes+1))
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil || len(body) > maxPeekBytes {
		return ""
	}

	var peek struct {
		OwnerID string `json:"owner_id"`
	}
	if json.Unmarshal(body, &peek) != nil {
		return ""
	}
	return peek.OwnerID
}
