package redis

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

const healthTimeout = 3 * time.Second

// HealthChecker returns the /healthz check. A failed ping is unhealthy, and
// so are pool wait timeouts seen since the previous check, since the rate
// limiters and the embedding cache share one pool.
func (c *Client) HealthChecker() func(ctx context.Context) error {
	var seen atomic.Uint32
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, healthTimeout)
		defer cancel()

		if err := c.Ping(ctx); err != nil {
			return err
		}

		st := c.client.PoolStats()
		if prev := seen.Swap(st.Timeouts); st.Timeouts > prev {
			return fmt.Errorf("redis pool exhausted: %d wait timeouts, %d/%d connections idle",
				st.Timeouts-prev, st.IdleConns, st.TotalConns)
		}
		return nil
	}
}
