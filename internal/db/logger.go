package db

import (
	"context"
	"errors"
	"time"

	"provision/internal/logs"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const slowQuery = 200 * time.Millisecond

// gormLogger пишет сообщения gorm в общий logrus-логгер.
// Отсутствие записи — штатный исход поиска, в лог не попадает.
type gormLogger struct {
	log   *logrus.Entry
	level logger.LogLevel
	slow  time.Duration
}

func newGormLogger() logger.Interface {
	return &gormLogger{log: logs.Component("gorm"), level: logger.Warn, slow: slowQuery}
}

func (l *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	c := *l
	c.level = level
	return &c
}

func (l *gormLogger) Info(ctx context.Context, msg string, args ...any) {
	if l.level >= logger.Info {
		l.log.WithContext(ctx).Infof(msg, args...)
	}
}

func (l *gormLogger) Warn(ctx context.Context, msg string, args ...any) {
	if l.level >= logger.Warn {
		l.log.WithContext(ctx).Warnf(msg, args...)
	}
}

func (l *gormLogger) Error(ctx context.Context, msg string, args ...any) {
	if l.level >= logger.Error {
		l.log.WithContext(ctx).Errorf(msg, args...)
	}
}

func (l *gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= logger.Silent {
		return
	}
	elapsed := time.Since(begin)
	switch {
	case err != nil && l.level >= logger.Error && !errors.Is(err, gorm.ErrRecordNotFound):
		sql, rows := fc()
		l.log.WithContext(ctx).WithFields(logrus.Fields{
			"sql":     sql,
			"rows":    rows,
			"elapsed": elapsed,
			"error":   err,
		}).Error("query failed")
	case l.slow > 0 && elapsed > l.slow && l.level >= logger.Warn:
		sql, rows := fc()
		l.log.WithContext(ctx).WithFields(logrus.Fields{
			"sql":     sql,
			"rows":    rows,
			"elapsed": elapsed,
		}).Warn("slow query")
	case l.level >= logger.Info:
		sql, rows := fc()
		l.log.WithContext(ctx).WithFields(logrus.Fields{
			"sql":     sql,
			"rows":    rows,
			"elapsed": elapsed,
		}).Debug("query")
	}
}
