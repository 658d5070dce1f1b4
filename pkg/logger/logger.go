package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// callerSkip points zerolog's caller field at the code calling Info, Error
// and friends rather than at emit.
const callerSkip = 4

type Logger struct {
	zl        zerolog.Logger
	collector *LogCollector
}

type Config struct {
	Level      string // debug, info, warn or error
	Format     string // json or console
	Output     string // stdout, stderr or a file path
	TimeFormat string
	Service    string // added as "service" to every event when set
}

func (c Config) withDefaults() Config {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "json"
	}
	if c.Output == "" {
		c.Output = "stdout"
	}
	if c.TimeFormat == "" {
		c.TimeFormat = time.RFC3339Nano
	}
	return c
}

func New(cfg *Config) (*Logger, error) {
	c := cfg.withDefaults()

	level, err := zerolog.ParseLevel(strings.ToLower(c.Level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", c.Level, err)
	}
	out, err := openOutput(c.Output)
	if err != nil {
		return nil, err
	}
	switch c.Format {
	case "json":
	case "console":
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: c.TimeFormat}
	default:
		return nil, fmt.Errorf("invalid log format %q", c.Format)
	}
	zerolog.TimeFieldFormat = c.TimeFormat

	zctx := zerolog.New(out).Level(level).With().Timestamp().CallerWithSkipFrameCount(callerSkip)
	if c.Service != "" {
		zctx = zctx.Str("service", c.Service)
	}
	return &Logger{zl: zctx.Logger()}, nil
}

func openOutput(output string) (io.Writer, error) {
	switch output {
	case "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}
	f, err := os.OpenFile(output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", output, err)
	}
	return f, nil
}

// Nop discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// With returns a child logger that shares the parent's collector.
func (l *Logger) With(fields ...Field) *Logger {
	zctx := l.zl.With()
	for _, f := range fields {
		k, v := f.GetKeyValue()
		zctx = zctx.Interface(k, v)
	}
	return &Logger{zl: zctx.Logger(), collector: l.collector}
}

func (l *Logger) Debug(msg string, fields ...Field) {
	l.emit(l.zl.Debug(), zerolog.DebugLevel, msg, fields)
}

func (l *Logger) Info(msg string, fields ...Field) {
	l.emit(l.zl.Info(), zerolog.InfoLevel, msg, fields)
}

func (l *Logger) Warn(msg string, fields ...Field) {
	l.emit(l.zl.Warn(), zerolog.WarnLevel, msg, fields)
}

func (l *Logger) Error(msg string, fields ...Field) {
	l.emit(l.zl.Error(), zerolog.ErrorLevel, msg, fields)
}

func (l *Logger) emit(event *zerolog.Event, level zerolog.Level, msg string, fields []Field) {
	for _, f := range fields {
		f.AddTo(event)
	}
	event.Msg(msg)

	if l.collector != nil && l.collector.accepts(level) {
		l.collector.AddLog(level.String(), msg, fieldMap(fields), callerOf(3))
	}
}

func fieldMap(fields []Field) map[string]interface{} {
	m := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		k, v := f.GetKeyValue()
		m[k] = v
	}
	return m
}

// callerOf renders the caller as a path relative to the module root, e.g.
// internal/usecase/ytw_batch_job.go:88.
func callerOf(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "unknown"
	}
	file = filepath.ToSlash(file)
	for _, root := range []string{"/internal/", "/pkg/", "/cmd/"} {
		if i := strings.LastIndex(file, root); i >= 0 {
			file = file[i+1:]
			break
		}
	}
	return fmt.Sprintf("%s:%d", file, line)
}

// AddCollector replaces any attached collector, closing the old one.
func (l *Logger) AddCollector(config *CollectionConfig) {
	if l.collector != nil {
		l.collector.Close()
	}
	l.collector = NewLogCollector(config)
}

// RemoveCollector flushes and detaches the collector.
func (l *Logger) RemoveCollector() {
	if l.collector != nil {
		l.collector.Close()
		l.collector = nil
	}
}

// Field is a typed key/value. AddTo writes it to a zerolog event and
// GetKeyValue gives the form kept by the collector.
type Field interface {
	AddTo(event *zerolog.Event)
	GetKeyValue() (string, interface{})
}

type field struct {
	key   string
	value interface{}
	add   func(*zerolog.Event)
}

func (f field) AddTo(event *zerolog.Event)         { f.add(event) }
func (f field) GetKeyValue() (string, interface{}) { return f.key, f.value }

func String(key, value string) Field {
	return field{key, value, func(e *zerolog.Event) { e.Str(key, value) }}
}

func Int(key string, value int) Field {
	return field{key, value, func(e *zerolog.Event) { e.Int(key, value) }}
}

func Int64(key string, value int64) Field {
	return field{key, value, func(e *zerolog.Event) { e.Int64(key, value) }}
}

// Error is always keyed "error". A nil error adds nothing to the event.
func Error(err error) Field {
	var v interface{}
	if err != nil {
		v = err.Error()
	}
	return field{"error", v, func(e *zerolog.Event) { e.AnErr("error", err) }}
}

// Duration logs whole milliseconds.
func Duration(key string, value time.Duration) Field {
	ms := value.Milliseconds()
	return field{key, ms, func(e *zerolog.Event) { e.Int64(key, ms) }}
}

func Time(key string, value time.Time) Field {
	return field{key, value.Format(time.RFC3339), func(e *zerolog.Event) { e.Time(key, value) }}
}

// Date keeps only the calendar day, which is all settlement and fixing dates carry.
func Date(key string, value time.Time) Field {
	return String(key, value.Format("2006-01-02"))
}

func Strings(key string, values []string) Field {
	cp := append([]string(nil), values...)
	return field{key, strings.Join(cp, ","), func(e *zerolog.Event) { e.Strs(key, cp) }}
}

// Stringer covers decimal rates and enum types.
func Stringer(key string, value fmt.Stringer) Field {
	if value == nil {
		return String(key, "<nil>")
	}
	return String(key, value.String())
}
