package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"barrage/internal/config"
	"barrage/internal/domain"
)

const (
	ansiReset  = "\x1b[0m"
	ansiBlue   = "\x1b[34m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiRed    = "\x1b[31m"
	ansiPurple = "\x1b[35m"
	ansiGray   = "\x1b[90m"
)

var (
	// attrPattern matches key=value pairs as rendered by slog.TextHandler.
	attrPattern   = regexp.MustCompile(`(?:^|\s)([A-Za-z0-9_.]+)=("(?:[^"\\]|\\.)*"|\S*)`)
	numberPattern = regexp.MustCompile(`^-?\d+(?:\.\d+)?(?:ms|s|m|h)?$`)

	tierColors = map[string]string{
		string(domain.IntensityMild):    ansiGreen,
		string(domain.IntensityMedium):  ansiYellow,
		string(domain.IntensityExtreme): ansiRed,
	}
)

// consoleTimeLayout renders console timestamps without the date.
const consoleTimeLayout = "15:04:05.000"

// sinkBuilder opens one configured log destination.
type sinkBuilder struct {
	name  string
	cfg   config.LogSinkConfig
	build func(config.LogSinkConfig) (slog.Handler, io.Closer, error)
}

// New builds a logger for configured sinks and returns a cleanup function.
// Params: cfg contains console/file sink settings.
// Returns: slog logger, cleanup callback, and setup error.
func New(cfg config.LogConfig) (*slog.Logger, func(), error) {
	var (
		handlers []slog.Handler
		closers  []io.Closer
	)
	closeAll := func() {
		for _, closer := range closers {
			_ = closer.Close()
		}
	}

	for _, sink := range []sinkBuilder{
		{name: "console", cfg: cfg.Console, build: buildConsoleHandler},
		{name: "file", cfg: cfg.File, build: buildFileHandler},
	} {
		if !sink.cfg.Enabled {
			continue
		}
		handler, closer, err := sink.build(sink.cfg)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("build %s sink: %w", sink.name, err)
		}
		handlers = append(handlers, handler)
		if closer != nil {
			closers = append(closers, closer)
		}
	}

	switch len(handlers) {
	case 0:
		return nil, nil, errors.New("no log sinks enabled")
	case 1:
		return slog.New(handlers[0]), closeAll, nil
	default:
		return slog.New(teeHandler{handlers: handlers}), closeAll, nil
	}
}

// buildConsoleHandler writes to stdout; line format is colorized.
func buildConsoleHandler(sink config.LogSinkConfig) (slog.Handler, io.Closer, error) {
	level, err := parseLevel(sink.Level)
	if err != nil {
		return nil, nil, err
	}
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			if len(groups) == 0 && attr.Key == slog.TimeKey && attr.Value.Kind() == slog.KindTime {
				return slog.String(slog.TimeKey, attr.Value.Time().Format(consoleTimeLayout))
			}
			return attr
		},
	}
	var out io.Writer = os.Stdout
	if sink.Format == "line" {
		out = &colorLineWriter{dst: os.Stdout}
	}
	handler, err := formatHandler(out, sink.Format, opts)
	return handler, nil, err
}

// buildFileHandler appends to sink.Path, creating parent directories first.
// Params: sink contains path, level, and format.
// Returns: handler, file closer, and error.
func buildFileHandler(sink config.LogSinkConfig) (slog.Handler, io.Closer, error) {
	level, err := parseLevel(sink.Level)
	if err != nil {
		return nil, nil, err
	}
	if dir := filepath.Dir(sink.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log dir %q: %w", dir, err)
		}
	}
	file, err := os.OpenFile(sink.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open file %q: %w", sink.Path, err)
	}
	handler, err := formatHandler(file, sink.Format, &slog.HandlerOptions{Level: level})
	if err != nil {
		_ = file.Close()
		return nil, nil, err
	}
	return handler, file, nil
}

func formatHandler(out io.Writer, format string, opts *slog.HandlerOptions) (slog.Handler, error) {
	switch format {
	case "line":
		return slog.NewTextHandler(out, opts), nil
	case "json":
		return slog.NewJSONHandler(out, opts), nil
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
}

// levelPanic sits above error for the "panic" config name.
const levelPanic = slog.LevelError + 4

// parseLevel converts a configured level name into slog.Level.
// Params: value is a level name, case and surrounding space ignored; slog offsets like "warn+2" are accepted.
// Returns: slog level or error.
func parseLevel(value string) (slog.Level, error) {
	name := strings.TrimSpace(value)
	if strings.EqualFold(name, "panic") {
		return levelPanic, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo, fmt.Errorf("unsupported level %q", value)
	}
	return level, nil
}

// teeHandler fans one record out to every sink that accepts its level.
type teeHandler struct {
	handlers []slog.Handler
}

func (t teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range t.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle writes to every enabled sink even when an earlier one fails.
// Params: ctx context and record to write.
// Returns: joined sink errors.
func (t teeHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, handler := range t.handlers {
		if handler.Enabled(ctx, record.Level) {
			errs = append(errs, handler.Handle(ctx, record.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (t teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return t.derive(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (t teeHandler) WithGroup(name string) slog.Handler {
	return t.derive(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (t teeHandler) derive(apply func(slog.Handler) slog.Handler) teeHandler {
	next := make([]slog.Handler, len(t.handlers))
	for i, handler := range t.handlers {
		next[i] = apply(handler)
	}
	return teeHandler{handlers: next}
}

// colorLineWriter tints each text-handler line by its level.
type colorLineWriter struct {
	dst io.Writer
}

// Write colors one rendered line; lines without a level token pass through untouched.
// Params: payload is rendered slog line.
// Returns: payload length consumed or write error.
func (w *colorLineWriter) Write(payload []byte) (int, error) {
	line := string(payload)
	tone := levelColor(line)
	if tone == "" {
		return w.dst.Write(payload)
	}
	if _, err := io.WriteString(w.dst, tone+colorizeAttrs(line, tone)+ansiReset); err != nil {
		return 0, err
	}
	return len(payload), nil
}

// levelColor maps the rendered level token to a color. Offset levels such as
// "ERROR+4" take the color of their base level.
func levelColor(line string) string {
	_, rest, ok := strings.Cut(line, "level=")
	if !ok {
		return ""
	}
	token, _, _ := strings.Cut(rest, " ")
	if i := strings.IndexAny(token, "+-"); i > 0 {
		token = token[:i]
	}
	return levelColors[strings.TrimSpace(token)]
}

var levelColors = map[string]string{
	"DEBUG": ansiGray,
	"INFO":  ansiBlue,
	"WARN":  ansiYellow,
	"ERROR": ansiRed,
}

// colorizeAttrs colors attribute values of a text-handler line by key.
// Params: line rendered line text; baseColor line-level color restored after each value.
// Returns: line text with ANSI value highlights.
func colorizeAttrs(line, baseColor string) string {
	matches := attrPattern.FindAllStringSubmatchIndex(line, -1)
	if len(matches) == 0 {
		return line
	}

	var builder strings.Builder
	builder.Grow(len(line) + len(matches)*12)
	cursor := 0
	for _, m := range matches {
		key := line[m[2]:m[3]]
		valueStart, valueEnd := m[4], m[5]
		color := valueColor(key, line[valueStart:valueEnd])
		if color == "" {
			continue
		}
		builder.WriteString(line[cursor:valueStart])
		builder.WriteString(color)
		builder.WriteString(line[valueStart:valueEnd])
		builder.WriteString(ansiReset)
		builder.WriteString(baseColor)
		cursor = valueEnd
	}
	builder.WriteString(line[cursor:])
	return builder.String()
}

// valueColor picks the highlight for one attribute.
// Params: attribute key and raw rendered value.
// Returns: ANSI color or empty string to keep the base color.
func valueColor(key, value string) string {
	switch key {
	case "time", "level", "msg":
		return ""
	case "intensity":
		return tierColors[strings.Trim(value, `"`)]
	case "event_id", "grid":
		return ansiPurple
	case "error":
		return ansiRed
	}
	switch {
	case strings.HasPrefix(value, `"`):
		return ansiGreen
	case numberPattern.MatchString(value):
		return ansiYellow
	default:
		return ""
	}
}
