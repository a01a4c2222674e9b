// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tclink

import (
	"context"
	"errors"
	"time"
)

// Watchdog feeds the peer watchdog every interval until ctx is done or
// the client shuts down. Individual failures are logged and retried on
// the next tick. It returns nil when ctx ends and the client error when
// the client closes first.
func (c *Client) Watchdog(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.done:
			return c.Err()
		case <-ticker.C:
			feedCtx, cancel := context.WithTimeout(ctx, interval)
			err := c.FeedWatchdog(feedCtx)
			cancel()
			if err != nil {
				if errors.Is(err, ErrClosed) {
					return err
				}
				c.log.Warn().Err(err).Msg("watchdog feed failed")
			}
		}
	}
}
