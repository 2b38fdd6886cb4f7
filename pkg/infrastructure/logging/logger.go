package logging

import (
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"gitea.xscloud.ru/xscloud/staffsync/pkg/application/logging"
)

const appNameKey = "app_name"

type Config struct {
	AppName string
	// Level is a logrus level name, "info" when empty or unknown.
	Level  string
	Output io.Writer
}

func NewJSONLogger(config *Config) logging.MainLogger {
	impl := logrus.New()
	impl.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap:        fieldMap,
	})
	output := config.Output
	if output == nil {
		output = os.Stderr
	}
	impl.SetOutput(output)
	impl.SetLevel(parseLevel(config.Level))
	impl.AddHook(NewStackTraceHook())
	return &loggerImpl{
		FieldLogger: impl.WithField(appNameKey, config.AppName),
	}
}

// NewDiscardLogger is used by tests and dry runs.
func NewDiscardLogger() logging.MainLogger {
	return NewJSONLogger(&Config{Output: io.Discard})
}

type loggerImpl struct {
	logrus.FieldLogger
}

func (l *loggerImpl) WithField(key string, value interface{}) logging.Logger {
	return &loggerImpl{l.FieldLogger.WithField(key, value)}
}

func (l *loggerImpl) WithFields(fields logging.Fields) logging.Logger {
	return &loggerImpl{l.FieldLogger.WithFields(logrus.Fields(fields))}
}

func (l *loggerImpl) Error(err error, args ...interface{}) {
	l.FieldLogger.WithError(err).Error(args...)
}

func (l *loggerImpl) Warning(err error, args ...interface{}) {
	l.FieldLogger.WithError(err).Warn(args...)
}

func (l *loggerImpl) FatalError(err error, args ...interface{}) {
	l.FieldLogger.WithError(err).Fatal(args...)
}

func parseLevel(level string) logrus.Level {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return logrus.InfoLevel
	}
	return parsed
}

var fieldMap = logrus.FieldMap{
	logrus.FieldKeyTime: "@timestamp",
	logrus.FieldKeyMsg:  "message",
}
