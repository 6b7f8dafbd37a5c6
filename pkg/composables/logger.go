package composables

import (
	"context"

	"github.com/sirupsen/logrus"
)

type loggerKey struct{}

func WithLogger(ctx context.Context, logger *logrus.Entry) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// UseLogger returns the entry carried by ctx or one built on the standard logger.
func UseLogger(ctx context.Context) *logrus.Entry {
	if ctx != nil {
		switch typed := ctx.Value(loggerKey{}).(type) {
		case *logrus.Entry:
			return typed
		case *logrus.Logger:
			return logrus.NewEntry(typed)
		}
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

// LogWithFields logs through the entry carried by ctx.
func LogWithFields(ctx context.Context, level logrus.Level, msg string, fields logrus.Fields) {
	UseLogger(ctx).WithFields(fields).Log(level, msg)
}
