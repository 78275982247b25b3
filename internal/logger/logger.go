// Package logger wraps logrus with context propagation and optional file rotation.
package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Fields is a set of structured log fields.
type Fields map[string]any

// Standard field names.
const (
	FieldRequestID  = "request_id"
	FieldComponent  = "component"
	FieldMemberID   = "member_id"
	FieldEventID    = "event_id"
	FieldCount      = "count"
	FieldDurationMs = "duration_ms"
)

// Logger wraps logrus.Entry to provide structured logging with context support.
type Logger struct {
	*logrus.Entry
}

var (
	defaultLogger   = New(nil, os.Stderr)
	defaultLoggerMu sync.RWMutex

	closer   io.Closer
	closerMu sync.Mutex
)

type contextKey struct{}

// New creates a logger from the log config. A nil config yields an info-level
// JSON logger. If out is nil, output goes to stdout plus the rotating file
// when one is configured.
func New(cfg *config.LogConfig, out io.Writer) *Logger {
	if cfg == nil {
		cfg = &config.LogConfig{Level: "info", Format: "json"}
	}

	log := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if strings.ToLower(cfg.Format) == "text" {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	}

	if out != nil {
		log.SetOutput(out)
	} else {
		writers := []io.Writer{os.Stdout}
		if cfg.File != "" {
			fileWriter := &lumberjack.Logger{
				Filename:   cfg.File,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   true,
			}
			writers = append(writers, fileWriter)

			closerMu.Lock()
			closer = fileWriter
			closerMu.Unlock()
		}
		log.SetOutput(io.MultiWriter(writers...))
	}

	return &Logger{Entry: log.WithField("service", "face-attendance")}
}

// Sync closes the rotating log file, if any.
func Sync() error {
	closerMu.Lock()
	defer closerMu.Unlock()
	if closer != nil {
		return closer.Close()
	}
	return nil
}

// SetDefault replaces the logger used when a context carries none.
func SetDefault(l *Logger) {
	if l == nil {
		return
	}
	defaultLoggerMu.Lock()
	defaultLogger = l
	defaultLoggerMu.Unlock()
}

// Default returns the process-wide logger.
func Default() *Logger {
	defaultLoggerMu.RLock()
	defer defaultLoggerMu.RUnlock()
	return defaultLogger
}

// WithFields returns a derived logger with additional fields.
func (l *Logger) WithFields(fields Fields) *Logger {
	return &Logger{Entry: l.Entry.WithFields(logrus.Fields(fields))}
}

// WithField returns a derived logger with one additional field.
func (l *Logger) WithField(key string, value any) *Logger {
	return &Logger{Entry: l.Entry.WithField(key, value)}
}

// WithError returns a derived logger carrying err.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{Entry: l.Entry.WithError(err)}
}

// WithContext stores the logger in ctx.
func (l *Logger) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, contextKey{}, l)
}

// FromContext returns the logger stored in ctx or the default logger.
func FromContext(ctx context.Context) *Logger {
	if ctx != nil {
		if l, ok := ctx.Value(contextKey{}).(*Logger); ok {
			return l
		}
	}
	return Default()
}

// ContextWithFields returns a context whose logger carries the extra fields.
func ContextWithFields(ctx context.Context, fields Fields) context.Context {
	return FromContext(ctx).WithFields(fields).WithContext(ctx)
}

func CtxDebug(ctx context.Context, format string, args ...any) {
	FromContext(ctx).Debugf(format, args...)
}

func CtxInfo(ctx context.Context, format string, args ...any) {
	FromContext(ctx).Infof(format, args...)
}

func CtxWarn(ctx context.Context, format string, args ...any) {
	FromContext(ctx).Warnf(format, args...)
}

func CtxError(ctx context.Context, format string, args ...any) {
	FromContext(ctx).Errorf(format, args...)
}
