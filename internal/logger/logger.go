// Package logger builds the process-wide structured logger.
package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New builds a logrus.Logger configured from level/format strings such as
// those read from LOG_LEVEL/LOG_FORMAT.
func New(level, format string) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	log.SetLevel(parsed)

	if format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return log
}
