package redis

import (
	"context"

	"github.com/kart-io/logger"
	goredis "github.com/redis/go-redis/v9"
)

// redisLogger routes go-redis internal messages to the unified logger.
// go-redis only calls this hook for connection problems, so everything
// lands at the warning level.
type redisLogger struct{}

func (redisLogger) Printf(ctx context.Context, format string, args ...interface{}) {
	logger.Global().WithCtx(ctx).Warnf(format, args...)
}

func init() {
	goredis.SetLogger(redisLogger{})
}
