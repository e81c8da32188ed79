package log

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/haronband/director/pkg/config"
	"github.com/sirupsen/logrus"
)

// NewLogger builds the process-wide logger. In debug mode (or with
// DEBUG=TRUE) records are written as JSON lines to development.log under
// the config directory; otherwise they're dropped below error level, since
// the director normally runs unattended under a process supervisor that
// captures stderr.
func NewLogger(cfg *config.Config) *logrus.Entry {
	var logger *logrus.Logger
	if cfg.Debug || os.Getenv("DEBUG") == "TRUE" {
		logger = newDevelopmentLogger(cfg)
	} else {
		logger = newProductionLogger()
	}

	logger.Formatter = &logrus.JSONFormatter{}

	return logger.WithFields(logrus.Fields{
		"debug":     cfg.Debug,
		"version":   cfg.Version,
		"commit":    cfg.Commit,
		"buildDate": cfg.BuildDate,
	})
}

func getLogLevel() logrus.Level {
	strLevel := os.Getenv("LOG_LEVEL")
	level, err := logrus.ParseLevel(strLevel)
	if err != nil {
		return logrus.DebugLevel
	}
	return level
}

func newDevelopmentLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(getLogLevel())
	file, err := os.OpenFile(filepath.Join(cfg.ConfigDir, "development.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
	if err != nil {
		fmt.Println("unable to log to file")
		os.Exit(1)
	}
	logger.SetOutput(file)
	return logger
}

func newProductionLogger() *logrus.Logger {
	logger := logrus.New()
	logger.Out = os.Stderr
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}
