// ratelimit.go implements client-side rate limiting for the Polymarket CLOB API.
//
// Polymarket enforces per-category rate limits measured in requests per
// 10-second windows. Each category gets a golang.org/x/time/rate limiter
// that refills continuously (rather than in 10s bursts) so sustained load
// stays under the hard limits.
//
// Three limiters are maintained:
//   - Order:  50/sec, burst 350 (maps to Polymarket's 3500/10s limit)
//   - Cancel: 30/sec, burst 300 (maps to 3000/10s limit)
//   - Book:   15/sec, burst 150 (maps to 1500/10s limit)
package exchange

import "golang.org/x/time/rate"

// RateLimiter groups limiters by Polymarket API endpoint category.
// Each trading operation must call the appropriate limiter's Wait() before
// making the HTTP request; Wait blocks until a slot is free or the context
// is cancelled.
type RateLimiter struct {
	Order  *rate.Limiter // POST /order — placing new orders
	Cancel *rate.Limiter // DELETE /order, /cancel-all
	Book   *rate.Limiter // GET /book, /orders — book and open-order reads
}

// NewRateLimiter creates limiters tuned to Polymarket's published limits.
// Bursts are set to the 10-second allowance, rates to 1/10th of it for
// smooth refill.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		Order:  rate.NewLimiter(rate.Limit(50), 350), // 3500 per 10s window
		Cancel: rate.NewLimiter(rate.Limit(30), 300), // 3000 per 10s window
		Book:   rate.NewLimiter(rate.Limit(15), 150), // 1500 per 10s window
	}
}
