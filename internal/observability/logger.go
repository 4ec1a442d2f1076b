package observability

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	slogmulti "github.com/samber/slog-multi"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogOptions configure NewLogger.
type LogOptions struct {
	Level  string // debug, info, warn, error
	Format string // json or text
	// File, when set, receives a copy of every record and is rotated.
	File         string
	RotationDays int
	Backups      int
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NewLogger builds the process logger. Records go to stderr and, with a log
// file, to a rotating file that is rolled over at startup.
func NewLogger(opts LogOptions) (*slog.Logger, io.Closer, error) {
	level, err := parseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}
	hopts := &slog.HandlerOptions{Level: level}

	stderr, err := newHandler(os.Stderr, opts.Format, hopts)
	if err != nil {
		return nil, nil, err
	}
	if opts.File == "" {
		return slog.New(stderr), nopCloser{}, nil
	}

	days := max(opts.RotationDays, 1)
	backups := max(opts.Backups, 0)
	rotator := &lumberjack.Logger{
		Filename:   opts.File,
		MaxAge:     days * max(backups, 1),
		MaxBackups: backups,
		LocalTime:  false,
	}
	if err := rotator.Rotate(); err != nil {
		return nil, nil, fmt.Errorf("rotate log file %s: %w", opts.File, err)
	}
	file, err := newHandler(rotator, opts.Format, hopts)
	if err != nil {
		return nil, nil, err
	}
	return slog.New(slogmulti.Fanout(stderr, file)), rotator, nil
}

func newHandler(w io.Writer, format string, opts *slog.HandlerOptions) (slog.Handler, error) {
	switch strings.ToLower(format) {
	case "", "json":
		return slog.NewJSONHandler(w, opts), nil
	case "text":
		return slog.NewTextHandler(w, opts), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return level, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}
