// Package logging - provides the process-wide structured logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path"
	"runtime"
	"strings"
	"sync"

	formatter "github.com/antonfisher/nested-logrus-formatter"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/nvr-ai/go-fusion3d/config"
)

var (
	logger *logrus.Logger
	once   sync.Once
)

// Fields are structured key/value pairs attached to an entry.
type Fields = logrus.Fields

// Logger returns the process logger, creating it at info level on first use.
func Logger() *logrus.Logger {
	once.Do(func() {
		logger = newLogger(config.LogConfig{Level: "info"})
	})
	return logger
}

// Configure replaces the process logger's level and outputs from cfg.
//
// Arguments:
//   - cfg: Level, optional rotating file and rotation limits.
//
// Returns:
//   - error: The level could not be parsed.
func Configure(cfg config.LogConfig) error {
	l := Logger()
	level := logrus.InfoLevel
	if cfg.Level != "" {
		parsed, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			return fmt.Errorf("parse log level: %w", err)
		}
		level = parsed
	}
	l.SetLevel(level)
	l.SetOutput(outputs(cfg))
	return nil
}

func newLogger(cfg config.LogConfig) *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&formatter.Formatter{
		NoColors:        true,
		TimestampFormat: "02 Jan 06 - 15:04:05",
		HideKeys:        false,
		CallerFirst:     true,
		CustomCallerFormatter: func(f *runtime.Frame) string {
			s := strings.Split(f.Function, ".")
			funcName := s[len(s)-1]
			return fmt.Sprintf(" [%s:%d][%s()]", path.Base(f.File), f.Line, funcName)
		},
	})
	l.SetOutput(outputs(cfg))
	l.SetReportCaller(true)
	return l
}

func outputs(cfg config.LogConfig) io.Writer {
	writers := []io.Writer{os.Stderr}
	if cfg.File != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.File,
			LocalTime:  true,
			Compress:   cfg.Compress,
			MaxSize:    cfg.MaxSizeMB,
			MaxAge:     cfg.MaxAgeDays,
			MaxBackups: cfg.MaxBackups,
		})
	}
	return io.MultiWriter(writers...)
}

// Debug logs msg with fields at debug level.
func Debug(fields Fields, msg string) {
	Logger().WithFields(orEmpty(fields)).Debug(msg)
}

// Info logs msg with fields at info level.
func Info(fields Fields, msg string) {
	Logger().WithFields(orEmpty(fields)).Info(msg)
}

// Warn logs msg with fields at warn level.
func Warn(fields Fields, msg string) {
	Logger().WithFields(orEmpty(fields)).Warn(msg)
}

// Error logs msg with fields at error level.
func Error(fields Fields, msg string) {
	Logger().WithFields(orEmpty(fields)).Error(msg)
}

// DebugEnabled reports whether debug entries are emitted, so callers can skip building fields.
func DebugEnabled() bool {
	return Logger().IsLevelEnabled(logrus.DebugLevel)
}

func orEmpty(fields Fields) Fields {
	if fields == nil {
		return Fields{}
	}
	return fields
}
