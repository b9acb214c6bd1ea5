package logging

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
)

var (
	logger *slog.Logger

	programLevel = new(slog.LevelVar) // Info by default

	loggingDebug = flag.Bool("logging.debug", false, "Enable debug logging")
)

// Logger is the leveled logger handed to components through their config.
type Logger interface {
	Debugf(format string, v ...any)
	Infof(format string, v ...any)
	Warnf(format string, v ...any)
	Errorf(format string, v ...any)
	Fatalf(format string, v ...any)

	With(args ...any) Logger
}

type slogLogger struct {
	l *slog.Logger
}

func init() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: programLevel}))
}

// NewDefaultLogger returns a Logger writing to stderr. It honours -logging.debug,
// so it should be called after flag.Parse.
func NewDefaultLogger() Logger {
	if *loggingDebug {
		programLevel.Set(slog.LevelDebug)
	}
	return &slogLogger{l: logger}
}

// NewLogger returns a Logger writing text records at or above level to w.
func NewLogger(w io.Writer, level slog.Level) Logger {
	return &slogLogger{l: slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))}
}

// NewNopLogger discards everything.
func NewNopLogger() Logger {
	return NewLogger(io.Discard, slog.LevelError+1)
}

func (s *slogLogger) Debugf(format string, v ...any) { s.l.Debug(fmt.Sprintf(format, v...)) }
func (s *slogLogger) Infof(format string, v ...any)  { s.l.Info(fmt.Sprintf(format, v...)) }
func (s *slogLogger) Warnf(format string, v ...any)  { s.l.Warn(fmt.Sprintf(format, v...)) }
func (s *slogLogger) Errorf(format string, v ...any) { s.l.Error(fmt.Sprintf(format, v...)) }

func (s *slogLogger) Fatalf(format string, v ...any) {
	s.l.Error(fmt.Sprintf(format, v...))
	os.Exit(1)
}

func (s *slogLogger) With(args ...any) Logger {
	return &slogLogger{l: s.l.With(args...)}
}
