package anthropic

import (
	"context"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// rateLimitedClient throttles CreateMessage calls with a token bucket.
type rateLimitedClient struct {
	inner   Client
	limiter *rate.Limiter
}

// RateLimited wraps a Client so that outbound calls never exceed rps
// requests per second. A non-positive rps returns the client unchanged.
func RateLimited(c Client, rps float64) Client {
	if rps <= 0 {
		return c
	}
	return &rateLimitedClient{
		inner:   c,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

func (c *rateLimitedClient) CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "anthropic: rate limiter wait")
	}
	return c.inner.CreateMessage(ctx, req)
}
