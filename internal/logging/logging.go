// Package logging provides the kernel's structured-logging setup plus the
// per-step log Sink abstraction the Cab Runtime streams wrangled output
// through (spec §4.6 step 5: "create the step's log sink"). Grounded on the
// teacher's internal/logging.NewLogger (slog handler selection), widened
// with a Sink interface so a step's output can additionally be teed to a
// dedicated, strftime-templated log file.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ncruces/go-strftime"
)

// NewLogger creates a configured slog.Logger. level is a slog level name
// (DEBUG, INFO, WARN, ERROR); format is "text" or "json". Output goes to
// stderr by default, since stdout is reserved for a cab's own output.
func NewLogger(level slog.Level, format string) *slog.Logger {
	return NewLoggerWithWriter(level, format, os.Stderr)
}

// NewLoggerWithWriter creates a logger writing to w.
func NewLoggerWithWriter(level slog.Level, format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// ParseLevel converts a string log level to slog.Level, defaulting to Info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Sink receives one line of a running step's output at a time, tagged with
// its stream name ("stdout"/"stderr") and an optional wrangler severity
// override.
type Sink interface {
	Line(stream, severity, text string)
	Close() error
}

// SlogSink forwards each line to a slog.Logger at the level implied by its
// severity (defaulting to Info for stdout, Warn for stderr).
type SlogSink struct {
	logger *slog.Logger
	fqname string
}

// NewSlogSink creates a SlogSink tagging every line with the step's
// fully-qualified name.
func NewSlogSink(logger *slog.Logger, fqname string) *SlogSink {
	return &SlogSink{logger: logger, fqname: fqname}
}

func (s *SlogSink) Line(stream, severity, text string) {
	level := slog.LevelInfo
	switch strings.ToUpper(severity) {
	case "ERROR", "FATAL", "CRITICAL":
		level = slog.LevelError
	case "WARNING":
		level = slog.LevelWarn
	case "DEBUG":
		level = slog.LevelDebug
	default:
		if stream == "stderr" {
			level = slog.LevelWarn
		}
	}
	s.logger.Log(nil, level, text, "step", s.fqname, "stream", stream)
}

func (s *SlogSink) Close() error { return nil }

// LineSink writes every line verbatim to an underlying file, one line per
// call, with no severity-based filtering — the cab's full transcript.
type LineSink struct {
	f *os.File
}

// NewLineSink opens (creating parent directories as needed) a log file at a
// strftime-templated path, e.g. "logs/%Y%m%d_%H%M%S_{fqname}.log" with
// fqname substituted beforehand by the caller.
func NewLineSink(pathTemplate string, at time.Time) (*LineSink, error) {
	path := strftime.Format(pathTemplate, at)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return &LineSink{f: f}, nil
}

func (s *LineSink) Line(stream, severity, text string) {
	fmt.Fprintf(s.f, "[%s] %s\n", stream, text)
}

func (s *LineSink) Close() error { return s.f.Close() }

// ConsoleSink writes wrangled lines directly to an underlying writer,
// colorizing them by severity when Color is enabled (HIGHLIGHT's [style]
// markup is written as-is) — the
// CLI front end sets Color from an isatty check on stderr, never on its own.
type ConsoleSink struct {
	w     io.Writer
	Color bool
}

// NewConsoleSink creates a ConsoleSink writing to w.
func NewConsoleSink(w io.Writer, color bool) *ConsoleSink {
	return &ConsoleSink{w: w, Color: color}
}

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiYellow = "\x1b[33m"
)

func (s *ConsoleSink) Line(stream, severity, text string) {
	if !s.Color {
		fmt.Fprintln(s.w, text)
		return
	}
	switch strings.ToUpper(severity) {
	case "ERROR", "FATAL", "CRITICAL":
		fmt.Fprintln(s.w, ansiRed+text+ansiReset)
	case "WARNING":
		fmt.Fprintln(s.w, ansiYellow+text+ansiReset)
	default:
		fmt.Fprintln(s.w, text)
	}
}

func (s *ConsoleSink) Close() error { return nil }

// MultiSink fans a line out to several sinks.
type MultiSink []Sink

func (m MultiSink) Line(stream, severity, text string) {
	for _, s := range m {
		s.Line(stream, severity, text)
	}
}

func (m MultiSink) Close() error {
	var firstErr error
	for _, s := range m {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// SummarizeDuration renders a run duration the way end-of-recipe summaries
// are displayed, e.g. "3 minutes".
func SummarizeDuration(d time.Duration) string {
	return humanize.RelTime(time.Now().Add(-d), time.Now(), "", "")
}

// SummarizeBytes renders a byte count for human display, e.g. "4.2 MB".
func SummarizeBytes(n int64) string {
	return humanize.Bytes(uint64(n))
}
