package mysql

import (
	"context"
	"errors"
	"time"

	gormlogger "gorm.io/gorm/logger"

	"github.com/kart-io/logger"
)

// dbLogger bridges GORM's logger interface onto the unified logger.
// Record-not-found errors are never logged: the stores translate them
// into domain results, so they are expected flow rather than failures.
type dbLogger struct {
	level         gormlogger.LogLevel
	slowThreshold time.Duration
}

func newDBLogger(level gormlogger.LogLevel, slowThreshold time.Duration) *dbLogger {
	return &dbLogger{level: level, slowThreshold: slowThreshold}
}

// LogMode returns a copy at the requested level.
func (l *dbLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

func (l *dbLogger) Info(ctx context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Info {
		logger.Global().WithCtx(ctx).Infof(msg, args...)
	}
}

func (l *dbLogger) Warn(ctx context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Warn {
		logger.Global().WithCtx(ctx).Warnf(msg, args...)
	}
}

func (l *dbLogger) Error(ctx context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Error {
		logger.Global().WithCtx(ctx).Errorf(msg, args...)
	}
}

// Trace logs executed statements: failures at error level, statements
// over the slow threshold at warn level, everything else at info level.
func (l *dbLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)

	if err != nil && l.level >= gormlogger.Error && !errors.Is(err, gormlogger.ErrRecordNotFound) {
		sql, rows := fc()
		logger.Global().WithCtx(ctx).Errorw("mysql query failed",
			"error", err,
			"sql", sql,
			"rows", rows,
			"duration_ms", float64(elapsed.Nanoseconds())/1e6,
		)
		return
	}

	if l.slowThreshold > 0 && elapsed > l.slowThreshold && l.level >= gormlogger.Warn {
		sql, rows := fc()
		logger.Global().WithCtx(ctx).Warnw("mysql slow query",
			"sql", sql,
			"rows", rows,
			"duration_ms", float64(elapsed.Nanoseconds())/1e6,
			"threshold_ms", float64(l.slowThreshold.Nanoseconds())/1e6,
		)
		return
	}

	if l.level >= gormlogger.Info {
		sql, rows := fc()
		logger.Global().WithCtx(ctx).Infow("mysql query",
			"sql", sql,
			"rows", rows,
			"duration_ms", float64(elapsed.Nanoseconds())/1e6,
		)
	}
}

var _ gormlogger.Interface = (*dbLogger)(nil)
