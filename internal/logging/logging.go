// Package logging points the standard logger at stdout and, optionally, a
// rotating log file.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Capitan-Parrot/distributed-led-scanner/internal/config"
)

const (
	defaultMaxSizeMB  = 100
	defaultMaxBackups = 3
	defaultMaxAgeDays = 30
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Setup configures the standard logger. The returned closer flushes and closes
// the log file, if any.
func Setup(cfg config.Logging) io.Closer {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if cfg.File == "" {
		log.SetOutput(os.Stdout)
		return nopCloser{}
	}

	file := newRotator(cfg)
	log.SetOutput(io.MultiWriter(os.Stdout, file))
	log.Printf("Logging: writing to %s (max %dMB, %d backups, %d days)", file.Filename, file.MaxSize, file.MaxBackups, file.MaxAge)
	return file
}

func newRotator(cfg config.Logging) *lumberjack.Logger {
	l := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	if l.MaxSize <= 0 {
		l.MaxSize = defaultMaxSizeMB
	}
	if l.MaxBackups <= 0 {
		l.MaxBackups = defaultMaxBackups
	}
	if l.MaxAge <= 0 {
		l.MaxAge = defaultMaxAgeDays
	}
	return l
}
