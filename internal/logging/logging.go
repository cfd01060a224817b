// Package logging configures the process-wide logrus logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/face-attendance/internal/config"
)

// New returns a logger configured from cfg, writing to out.
func New(cfg config.LogConfig, out io.Writer) (*logrus.Logger, error) {
	logger := logrus.New()
	if err := apply(logger, cfg, out); err != nil {
		return nil, err
	}
	return logger, nil
}

// Setup configures the standard logrus logger, which is what packages log
// through when no logger is injected.
func Setup(cfg config.LogConfig) error {
	return apply(logrus.StandardLogger(), cfg, os.Stdout)
}

func apply(logger *logrus.Logger, cfg config.LogConfig, out io.Writer) error {
	level := logrus.InfoLevel
	if cfg.Level != "" {
		parsed, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}

	switch strings.ToLower(cfg.Format) {
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("invalid log format %q, expected text or json", cfg.Format)
	}

	logger.SetOutput(out)
	logger.SetLevel(level)
	return nil
}
