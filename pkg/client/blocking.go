package client

import (
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// blockingChannel returns the channel immediate blocking commands (XREAD
// BLOCK, BZPOPMIN, BZPOPMAX) are sent on. Those commands must wait exactly
// as long as they ask the store to, so the channel may neither apply its
// own read deadline nor re-send a command whose read failed. When rdb
// already behaves that way it is returned as is; otherwise a client with
// the same options minus the read deadline and retries is created, and
// owned reports that the caller must close it.
func blockingChannel(rdb redis.UniversalClient, logger *slog.Logger) (ch redis.UniversalClient, owned bool) {
	switch r := rdb.(type) {
	case *redis.Client:
		opt := r.Options()
		if opt.ReadTimeout <= 0 && opt.MaxRetries == 0 {
			return rdb, false
		}
		clone := *opt
		clone.ReadTimeout = -1
		clone.MaxRetries = -1
		logger.Debug("walrus: dedicated connection pool for blocking commands", "read_timeout", opt.ReadTimeout, "max_retries", opt.MaxRetries)
		return redis.NewClient(&clone), true
	case *redis.ClusterClient:
		opt := r.Options()
		if opt.ReadTimeout <= 0 && opt.MaxRetries < 0 {
			return rdb, false
		}
		clone := *opt
		clone.ReadTimeout = -1
		clone.MaxRetries = -1
		logger.Debug("walrus: dedicated connection pool for blocking commands", "read_timeout", opt.ReadTimeout, "max_retries", opt.MaxRetries)
		return redis.NewClusterClient(&clone), true
	default:
		logger.Warn("walrus: blocking commands follow the channel's read timeout", "channel", fmt.Sprintf("%T", rdb))
		return rdb, false
	}
}
