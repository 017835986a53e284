// Package logging configures the shared logrus logger and provides Gin
// middleware for HTTP request logging and panic recovery.
package logging

import (
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/contextgate/contextgate/internal/config"
)

// SetupBaseLogger applies the default logger configuration. Called from main
// before any config is available so early startup lines are formatted.
func SetupBaseLogger() {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	log.SetLevel(log.InfoLevel)
	log.SetOutput(os.Stderr)
}

// Configure applies the logging section of the configuration: level, and
// optional rotated file output alongside stderr.
func Configure(cfg *config.LoggingConfig) {
	level, err := log.ParseLevel(cfg.GetLevel())
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)

	if cfg != nil && strings.TrimSpace(cfg.File) != "" {
		rotated := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			MaxAge:     14, // days
			Compress:   true,
		}
		log.SetOutput(io.MultiWriter(os.Stderr, rotated))
	}
}
