package http

import "golang.org/x/time/rate"

// rateLimiter caps inbound messages per connection. A nil limiter allows everything.
type rateLimiter struct {
	limiter *rate.Limiter
}

// newRateLimiter allows perMinute messages per minute with a burst of a tenth
// of that. perMinute <= 0 disables limiting.
func newRateLimiter(perMinute int) *rateLimiter {
	if perMinute <= 0 {
		return nil
	}
	burst := perMinute / 10
	if burst < 1 {
		burst = 1
	}
	return &rateLimiter{
		limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60), burst),
	}
}

func (r *rateLimiter) allow() bool {
	if r == nil {
		return true
	}
	return r.limiter.Allow()
}

const errCodeRateLimited = "rate_limited"
