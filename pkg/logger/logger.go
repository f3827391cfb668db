package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"

	"klarnaparser/pkg/config"
)

// Logger is the logging surface handed to every component
type Logger interface {
	Debug(msg string)
	Info(msg string)
	Warn(msg string)
	Error(msg string)
	Fatal(msg string)

	// WithField and friends return a child logger; the receiver is unchanged
	WithField(key string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
	WithError(err error) Logger
	WithContext(ctx context.Context) Logger

	DebugWithFields(msg string, fields map[string]interface{})
	InfoWithFields(msg string, fields map[string]interface{})
	WarnWithFields(msg string, fields map[string]interface{})
	ErrorWithFields(msg string, fields map[string]interface{})
	FatalWithFields(msg string, fields map[string]interface{})

	GetZerolog() *zerolog.Logger
}

// zerologLogger carries its fields inside the zerolog context, so children
// are cheap copies.
type zerologLogger struct {
	zl zerolog.Logger
}

// New builds a logger that writes human readable lines to stderr and, when
// cfg.File is set, JSON lines to that file.
func New(cfg *config.LoggingConfig) (Logger, error) {
	return newWithConsole(cfg, os.Stderr)
}

func newWithConsole(cfg *config.LoggingConfig, console io.Writer) (Logger, error) {
	level, err := parseLogLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.DurationFieldUnit = time.Millisecond

	writers := []io.Writer{consoleWriter(console, useColor(console))}
	if cfg.File != "" {
		file, err := openLogFile(cfg.File)
		if err != nil {
			return nil, err
		}
		writers = append(writers, file)
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Str("app", "klarnaparser").
		Logger()

	return &zerologLogger{zl: zl}, nil
}

// useColor is true for terminals unless NO_COLOR is set
func useColor(w io.Writer) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

var levelLabels = map[string]struct {
	label string
	color int
}{
	"debug": {"DBG", 90},
	"info":  {"INF", 32},
	"warn":  {"WRN", 33},
	"error": {"ERR", 31},
	"fatal": {"FTL", 35},
}

func consoleWriter(out io.Writer, color bool) zerolog.ConsoleWriter {
	paint := func(code int, s string) string {
		if !color {
			return s
		}
		return fmt.Sprintf("\033[%dm%s\033[0m", code, s)
	}

	return zerolog.ConsoleWriter{
		Out:           out,
		NoColor:       !color,
		TimeFormat:    "15:04:05",
		FieldsExclude: []string{"app"},
		FormatLevel: func(i interface{}) string {
			name, _ := i.(string)
			if l, ok := levelLabels[name]; ok {
				return paint(l.color, l.label)
			}
			return strings.ToUpper(name)
		},
		FormatFieldName: func(i interface{}) string {
			return paint(36, fmt.Sprintf("%s=", i))
		},
	}
}

func openLogFile(path string) (io.Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return file, nil
}

// parseLogLevel accepts zerolog level names plus a few aliases. An empty
// string means info.
func parseLogLevel(level string) (zerolog.Level, error) {
	switch name := strings.ToLower(strings.TrimSpace(level)); name {
	case "":
		return zerolog.InfoLevel, nil
	case "warning":
		return zerolog.WarnLevel, nil
	case "critical":
		return zerolog.FatalLevel, nil
	default:
		parsed, err := zerolog.ParseLevel(name)
		if err != nil || parsed == zerolog.NoLevel {
			return zerolog.InfoLevel, fmt.Errorf("unknown log level: %s", level)
		}
		return parsed, nil
	}
}

func (l *zerologLogger) Debug(msg string) { l.zl.Debug().Msg(msg) }
func (l *zerologLogger) Info(msg string)  { l.zl.Info().Msg(msg) }
func (l *zerologLogger) Warn(msg string)  { l.zl.Warn().Msg(msg) }
func (l *zerologLogger) Error(msg string) { l.zl.Error().Msg(msg) }

// Fatal logs and exits the process
func (l *zerologLogger) Fatal(msg string) { l.zl.Fatal().Msg(msg) }

func (l *zerologLogger) WithField(key string, value interface{}) Logger {
	return &zerologLogger{zl: l.zl.With().Interface(key, value).Logger()}
}

func (l *zerologLogger) WithFields(fields map[string]interface{}) Logger {
	return &zerologLogger{zl: l.zl.With().Fields(fields).Logger()}
}

// WithError returns l itself for a nil error
func (l *zerologLogger) WithError(err error) Logger {
	if err == nil {
		return l
	}
	return &zerologLogger{zl: l.zl.With().Err(err).Logger()}
}

func (l *zerologLogger) WithContext(ctx context.Context) Logger {
	return &zerologLogger{zl: l.zl.With().Ctx(ctx).Logger()}
}

func (l *zerologLogger) DebugWithFields(msg string, fields map[string]interface{}) {
	l.zl.Debug().Fields(fields).Msg(msg)
}

func (l *zerologLogger) InfoWithFields(msg string, fields map[string]interface{}) {
	l.zl.Info().Fields(fields).Msg(msg)
}

func (l *zerologLogger) WarnWithFields(msg string, fields map[string]interface{}) {
	l.zl.Warn().Fields(fields).Msg(msg)
}

func (l *zerologLogger) ErrorWithFields(msg string, fields map[string]interface{}) {
	l.zl.Error().Fields(fields).Msg(msg)
}

func (l *zerologLogger) FatalWithFields(msg string, fields map[string]interface{}) {
	l.zl.Fatal().Fields(fields).Msg(msg)
}

func (l *zerologLogger) GetZerolog() *zerolog.Logger {
	return &l.zl
}

var (
	globalMu     sync.Mutex
	globalLogger Logger
)

// Initialize replaces the process-wide logger and points zerolog's global
// logger at it.
func Initialize(cfg *config.LoggingConfig) error {
	l, err := New(cfg)
	if err != nil {
		return err
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = l
	log.Logger = *l.GetZerolog()
	return nil
}

// GetLogger returns the process-wide logger, creating an info level console
// logger if Initialize was never called.
func GetLogger() Logger {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger, _ = New(&config.LoggingConfig{Level: "info"})
	}
	return globalLogger
}

func Debug(msg string) { GetLogger().Debug(msg) }
func Info(msg string)  { GetLogger().Info(msg) }
func Warn(msg string)  { GetLogger().Warn(msg) }
func Error(msg string) { GetLogger().Error(msg) }

func WithField(key string, value interface{}) Logger {
	return GetLogger().WithField(key, value)
}

func WithError(err error) Logger {
	return GetLogger().WithError(err)
}
