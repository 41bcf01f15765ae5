// Package logger installs the process-wide slog logger: colored levels on
// stdout plus a daily log file. Components that take a *log.Logger get one
// from Bridge so everything funnels through the same handler.
package logger

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fatih/color"
)

// Handler is a plain-text slog handler with per-level coloring and a daily
// rotated file alongside stdout.
type Handler struct {
	mu       sync.Mutex
	out      io.Writer
	basePath string
	file     *os.File
	day      int
	level    slog.Level
	attrs    []slog.Attr
}

// NewHandler writes to stdout and, when basePath is non-empty, to
// <basePath>/YYYY-MM-DD.log as well.
func NewHandler(basePath string, level slog.Level) *Handler {
	h := &Handler{basePath: basePath, level: level, out: os.Stdout}
	h.rotateIfNeeded()
	return h
}

func (h *Handler) rotateIfNeeded() {
	if h.basePath == "" {
		return
	}
	now := time.Now()
	if now.YearDay() == h.day && h.file != nil {
		return
	}
	if h.file != nil {
		_ = h.file.Close()
		h.file = nil
	}
	path := filepath.Join(h.basePath, now.Format("2006-01-02")+".log")
	if err := os.MkdirAll(h.basePath, 0o755); err != nil {
		h.out = os.Stdout
		return
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		h.out = os.Stdout
		return
	}
	h.file = f
	h.day = now.YearDay()
	h.out = io.MultiWriter(os.Stdout, f)
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	level := r.Level.String()
	switch r.Level {
	case slog.LevelDebug:
		level = color.MagentaString(level)
	case slog.LevelInfo:
		level = color.BlueString(level)
	case slog.LevelWarn:
		level = color.YellowString(level)
	case slog.LevelError:
		level = color.RedString(level)
	}

	line := fmt.Sprintf("%s | %-5s | %s",
		color.GreenString(r.Time.Format("2006-01-02T15:04:05")),
		level,
		r.Message,
	)
	for _, attr := range h.attrs {
		line += fmt.Sprintf(" %s=%v", attr.Key, attr.Value)
	}
	r.Attrs(func(attr slog.Attr) bool {
		line += fmt.Sprintf(" %s=%v", attr.Key, attr.Value)
		return true
	})
	line += "\n"

	h.mu.Lock()
	defer h.mu.Unlock()
	h.rotateIfNeeded()
	_, err := io.WriteString(h.out, line)
	return err
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &Handler{out: h.out, basePath: h.basePath, file: h.file, day: h.day, level: h.level, attrs: merged}
}

func (h *Handler) WithGroup(name string) slog.Handler { return h }

// Close flushes and closes the log file, if any.
func (h *Handler) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.file == nil {
		return nil
	}
	err := h.file.Close()
	h.file = nil
	return err
}

// Init installs the handler as the slog default and returns it for Close.
func Init(basePath string, debug bool) *Handler {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	h := NewHandler(basePath, level)
	slog.SetDefault(slog.New(h))
	return h
}

// Bridge returns a *log.Logger whose output lands in the default slog
// logger with the given prefix attribute.
func Bridge(component string) *log.Logger {
	return slog.NewLogLogger(
		slog.Default().With("component", component).Handler(),
		slog.LevelInfo,
	)
}
