package api

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Cost-weighted per-IP rate limiting for the wallet surface.
//
// Endpoints are not equal: a balance or send request carries wallet
// secrets and drives a full watch-only scan against the node, while a
// wallet create is pure local computation. Each protected route therefore
// declares a token cost, and every IP draws from one shared bucket, so a
// client hammering scans exhausts its budget long before a client doing
// key operations does.

// Route costs in bucket tokens.
const (
	// CostLight covers local-only operations (wallet create/restore).
	CostLight = 1.0

	// CostScan covers operations that fan out into node RPC work
	// (balance scans, sends, watch-only imports).
	CostScan = 5.0
)

// walletBucket is one IP's remaining budget.
type walletBucket struct {
	mu       sync.Mutex
	tokens   float64
	lastSeen time.Time
}

// Limiter refills every bucket at a fixed token rate and prunes buckets
// for IPs that have gone quiet.
type Limiter struct {
	refillPerSec float64
	capacity     float64

	mu      sync.Mutex
	buckets map[string]*walletBucket
}

// NewLimiter allows tokensPerMin tokens per minute per IP with the given
// burst capacity. At the default costs that is tokensPerMin light calls or
// tokensPerMin/5 scans per minute.
func NewLimiter(tokensPerMin, capacity int) *Limiter {
	l := &Limiter{
		refillPerSec: float64(tokensPerMin) / 60.0,
		capacity:     float64(capacity),
		buckets:      make(map[string]*walletBucket),
	}
	go l.pruneLoop(10 * time.Minute)
	return l
}

// take attempts to withdraw cost tokens for ip. When the budget is short
// it reports how long until the withdrawal would succeed.
func (l *Limiter) take(ip string, cost float64) (bool, time.Duration) {
	l.mu.Lock()
	bucket, ok := l.buckets[ip]
	if !ok {
		bucket = &walletBucket{tokens: l.capacity, lastSeen: time.Now()}
		l.buckets[ip] = bucket
	}
	l.mu.Unlock()

	bucket.mu.Lock()
	defer bucket.mu.Unlock()

	now := time.Now()
	bucket.tokens += now.Sub(bucket.lastSeen).Seconds() * l.refillPerSec
	if bucket.tokens > l.capacity {
		bucket.tokens = l.capacity
	}
	bucket.lastSeen = now

	if bucket.tokens >= cost {
		bucket.tokens -= cost
		return true, 0
	}
	wait := time.Duration((cost-bucket.tokens)/l.refillPerSec*float64(time.Second)) + time.Millisecond
	return false, wait
}

// Require returns a middleware charging cost tokens per request.
func (l *Limiter) Require(cost float64) gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, retryAfter := l.take(c.ClientIP(), cost)
		if !allowed {
			c.Header("Retry-After", retryAfter.String())
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":      "Rate limit exceeded",
				"retryAfter": retryAfter.String(),
				"limit":      fmt.Sprintf("%.0f tokens/minute per IP, this endpoint costs %.0f", l.refillPerSec*60, cost),
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// pruneLoop drops buckets idle for longer than maxIdle so transient IPs
// cannot grow the map without bound.
func (l *Limiter) pruneLoop(maxIdle time.Duration) {
	ticker := time.NewTicker(maxIdle)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-maxIdle)
		l.mu.Lock()
		for ip, b := range l.buckets {
			b.mu.Lock()
			idle := b.lastSeen.Before(cutoff)
			b.mu.Unlock()
			if idle {
				delete(l.buckets, ip)
			}
		}
		l.mu.Unlock()
	}
}
