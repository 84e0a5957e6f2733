// internal/infra/logger/logger.go
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"reminder_notification_bot/internal/infra/config"
)

const serviceName = "reminder-engine"

// Log is the global logger instance
var Log = logrus.New()

// Init configures the global logger from the application configuration and
// returns the base entry every component derives its logger from.
func Init(cfg *config.AppConfig) *logrus.Entry {
	return configure(Log, os.Stdout, cfg.LogLevel, cfg.Environment)
}

func configure(l *logrus.Logger, out io.Writer, levelName, environment string) *logrus.Entry {
	l.SetOutput(out)

	level, err := logrus.ParseLevel(strings.ToLower(levelName))
	if err != nil {
		l.SetLevel(logrus.InfoLevel)
		l.Warnf("Invalid log level '%s', defaulting to 'info'. Error: %v", levelName, err)
	} else {
		l.SetLevel(level)
	}

	switch strings.ToLower(environment) {
	case "production", "staging":
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00", // ISO8601
		})
	default:
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	entry := l.WithField("service", serviceName)
	entry.Debugf("Log level set to %s for environment %s", l.GetLevel(), environment)
	return entry
}

// Get returns the configured global logger.
func Get() *logrus.Logger {
	return Log
}
