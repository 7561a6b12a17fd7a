package config

import (
	"github.com/sirupsen/logrus"
)

// NewLogger builds the engine's root logger, matching the teacher's
// logconfig package: a level from configuration and a plain text
// formatter with timestamps left on for production use.
func NewLogger(level string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		DisableLevelTruncation: true,
		PadLevelText:           true,
	})

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	log.SetLevel(parsed)

	return log
}
