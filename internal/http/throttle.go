package http

import (
	"errors"
	"fmt"
	"math"
	nethttp "net/http"

	"golang.org/x/time/rate"
)

// ErrThrottleWait is returned when a request was cancelled while waiting
// for a token.
var ErrThrottleWait = errors.New("throttle wait failed")

// ThrottledTransport limits outbound requests with a token bucket.
type ThrottledTransport struct {
	limiter *rate.Limiter
	next    nethttp.RoundTripper
}

// NewThrottledTransport wraps next with a limiter allowing rps requests
// per second. burst <= 0 means ceil(rps).
func NewThrottledTransport(next nethttp.RoundTripper, rps float64, burst int) *ThrottledTransport {
	if next == nil {
		next = nethttp.DefaultTransport
	}
	if burst <= 0 {
		burst = int(math.Ceil(rps))
	}
	return &ThrottledTransport{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		next:    next,
	}
}

// RoundTrip implements http.RoundTripper.
func (t *ThrottledTransport) RoundTrip(req *nethttp.Request) (*nethttp.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrThrottleWait, err)
	}
	return t.next.RoundTrip(req)
}
