package redis

import (
	"context"

	"github.com/kart-io/logger"
	goredis "github.com/redis/go-redis/v9"
)

// redisLogger 将 go-redis 的内部日志（多为连接池与重连告警）转到统一日志。
type redisLogger struct{}

func (redisLogger) Printf(ctx context.Context, format string, v ...any) {
	logger.Global().WithCtx(ctx).Warnf("redis: "+format, v...)
}

func init() {
	goredis.SetLogger(redisLogger{})
}
