package storage

import (
	"context"
	"time"

	"gorm.io/gorm/logger"

	"cdpqa/internal/ctxkeys"
	applog "cdpqa/internal/logger"
)

const slowQuery = 500 * time.Millisecond

// GormLogger 将 GORM 日志转发到项目日志，附带运行追踪 ID
type GormLogger struct {
	log      applog.Logger
	LogLevel logger.LogLevel
}

// NewGormLogger 默认只记录告警与错误
func NewGormLogger(l applog.Logger) *GormLogger {
	if l == nil {
		l = applog.NewNop()
	}
	return &GormLogger{log: l, LogLevel: logger.Warn}
}

// LogMode 设置日志级别
func (l *GormLogger) LogMode(level logger.LogLevel) logger.Interface {
	n := *l
	n.LogLevel = level
	return &n
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= logger.Info {
		l.log.Info(msg, l.fields(ctx, "data", data)...)
	}
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= logger.Warn {
		l.log.Warn(msg, l.fields(ctx, "data", data)...)
	}
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= logger.Error {
		l.log.Error(msg, l.fields(ctx, "data", data)...)
	}
}

// Trace 记录 SQL；记录不存在不视为错误
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.LogLevel <= logger.Silent {
		return
	}
	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := l.fields(ctx, "sql", sql, "rows", rows, "elapsed", elapsed)

	switch {
	case err != nil && err != logger.ErrRecordNotFound && l.LogLevel >= logger.Error:
		l.log.Error("SQL 执行错误", append(fields, "error", err)...)
	case elapsed > slowQuery && l.LogLevel >= logger.Warn:
		l.log.Warn("慢 SQL", append(fields, "threshold", slowQuery)...)
	case l.LogLevel >= logger.Info:
		l.log.Debug("SQL 执行", fields...)
	}
}

func (l *GormLogger) fields(ctx context.Context, kv ...any) []any {
	if id := ctxkeys.TraceID(ctx); id != "" {
		return append([]any{"traceId", id}, kv...)
	}
	return kv
}
