package client

import (
	"context"

	"github.com/mirkobrombin/go-walrus/pkg/errs"
	"github.com/mirkobrombin/go-walrus/pkg/monitor"
	"github.com/mirkobrombin/go-walrus/pkg/pubsub"
	"github.com/redis/go-redis/v9"
)

// Listen subscribes handler to channels and patterns on a dedicated
// connection. In the background the call returns once subscribed;
// otherwise it blocks until the loop ends.
func (c *Client) Listen(ctx context.Context, handler pubsub.Handler, channels, patterns []string, background bool) (*pubsub.Listener, error) {
	l, err := pubsub.New(c.rdb, handler, channels, patterns,
		pubsub.WithLogger(c.logger),
		pubsub.WithMetrics(c.metrics),
	)
	if err != nil {
		return nil, err
	}
	if background {
		return l, l.Start(ctx)
	}
	return l, l.Run(ctx)
}

// Monitor feeds every command the store executes to callback until it
// returns false. Only single-node channels can monitor.
func (c *Client) Monitor(ctx context.Context, callback monitor.Callback) error {
	rc, ok := c.rdb.(*redis.Client)
	if !ok {
		return errs.Unsupportedf("monitor needs a single-node client, got %T", c.rdb)
	}
	return monitor.Run(ctx, monitor.RedisTap{Client: rc}, callback,
		monitor.WithLogger(c.logger),
		monitor.WithMetrics(c.metrics),
	)
}
