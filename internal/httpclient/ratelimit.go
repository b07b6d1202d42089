package httpclient

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter wraps golang.org/x/time/rate to pace outbound calls against a
// single portal or a global EPG refresh budget. nil is a valid *Limiter
// (unlimited) so callers can pass through a disabled limiter without a nil
// check at every call site.
type Limiter struct {
	l *rate.Limiter
}

// NewLimiter builds a token-bucket limiter allowing ratePerSecond sustained
// requests with a burst of burst. ratePerSecond <= 0 disables limiting.
func NewLimiter(ratePerSecond float64, burst int) *Limiter {
	if ratePerSecond <= 0 {
		return &Limiter{}
	}
	return &Limiter{l: rate.NewLimiter(rate.Limit(ratePerSecond), burst)}
}

// Wait blocks until a token is available or ctx is cancelled.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil || l.l == nil {
		return nil
	}
	return l.l.Wait(ctx)
}
