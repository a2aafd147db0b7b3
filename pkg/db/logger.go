package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"smallbiznis-academy/pkg/logger"

	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/gorm/utils"
)

// GormLogger routes gorm's output through zap with the caller's trace fields.
// Write conflicts and duplicate keys are expected under contention and the
// enrollment retry loop handles them, so they are logged at warn.
type GormLogger struct {
	SlowThreshold time.Duration
	Level         gormlogger.LogLevel
	ShowSQL       bool
}

func NewGormLogger(level gormlogger.LogLevel, showSQL bool) *GormLogger {
	return &GormLogger{
		Level:         level,
		ShowSQL:       showSQL,
		SlowThreshold: 200 * time.Millisecond,
	}
}

func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	cp := *l
	cp.Level = level
	return &cp
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.Level >= gormlogger.Info {
		logger.FromContext(ctx).Info(fmt.Sprintf(msg, data...))
	}
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.Level >= gormlogger.Warn {
		logger.FromContext(ctx).Warn(fmt.Sprintf(msg, data...))
	}
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.Level >= gormlogger.Error {
		logger.FromContext(ctx).Error(fmt.Sprintf(msg, data...))
	}
}

func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.Level <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := []zap.Field{
		zap.String("file", utils.FileWithLineNum()),
		zap.String("sql", sql),
		zap.Int64("rows", rows),
		zap.Float64("duration_ms", float64(elapsed.Microseconds())/1000),
	}
	log := logger.FromContext(ctx)

	switch {
	case err != nil && errors.Is(err, gormlogger.ErrRecordNotFound):
	case err != nil && (IsWriteConflict(err) || IsDuplicateKey(err)):
		log.Warn("gorm.contention", append(fields, zap.Error(err))...)
	case err != nil:
		log.Error("gorm.query", append(fields, zap.Error(err))...)
	case l.SlowThreshold != 0 && elapsed > l.SlowThreshold:
		log.Warn("gorm.slow_query", append(fields, zap.Duration("threshold", l.SlowThreshold))...)
	case l.Level == gormlogger.Info && l.ShowSQL:
		log.Debug("gorm.query", fields...)
	}
}
