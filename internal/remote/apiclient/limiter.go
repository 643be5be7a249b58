package apiclient

import (
	"log/slog"
	"math"

	"golang.org/x/time/rate"
)

// LimitCalls caps outgoing requests at perSecond with a burst of one
// second's worth of calls. perSecond <= 0 removes the cap. Retries count
// against the same budget.
func (c *Client) LimitCalls(perSecond float64) {
	if perSecond <= 0 {
		c.limiter = nil
		return
	}

	burst := max(1, int(math.Ceil(perSecond)))
	c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)

	c.logger.Info("call rate cap enabled",
		slog.Float64("calls_per_second", perSecond),
		slog.Int("burst", burst),
	)
}
