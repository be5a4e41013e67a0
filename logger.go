package runner

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogLevel is one of the six framework log levels, ordered trace<...<critical.
type LogLevel int

const (
	LevelTrace LogLevel = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelCritical
)

func (l LogLevel) String() string {
	switch l {
	case LevelTrace:
		return "trace"
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	case LevelCritical:
		return "critical"
	default:
		return "info"
	}
}

func (l LogLevel) zerolog() zerolog.Level {
	switch l {
	case LevelTrace:
		return zerolog.TraceLevel
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	case LevelCritical:
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

func parseLogLevel(s string) (LogLevel, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace, true
	case "debug":
		return LevelDebug, true
	case "info":
		return LevelInfo, true
	case "warn", "warning":
		return LevelWarn, true
	case "error":
		return LevelError, true
	case "critical", "fatal":
		return LevelCritical, true
	}
	return LevelInfo, false
}

// LogRecord is delivered to onLog subscribers independent of whatever
// zerolog sink is configured for console printing.
type LogRecord struct {
	Level     LogLevel
	Source    string
	Message   string
	Timestamp time.Time
	Error     error
	Data      any
	Context   map[string]any
}

// PrintStrategy selects the console renderer, layered on top of zerolog.
type PrintStrategy string

const (
	PrintPretty     PrintStrategy = "pretty"
	PrintPlain      PrintStrategy = "plain"
	PrintJSON       PrintStrategy = "json"
	PrintJSONPretty PrintStrategy = "json-pretty"
)

// Logger wraps a zerolog.Logger and fans every record out to onLog
// subscribers, mirroring the teacher's logging extension (extensions/
// logging.go) but replacing its bare fmt.Printf sink with structured,
// leveled output plus an independent subscriber stream.
type Logger struct {
	mu         sync.RWMutex
	zl         zerolog.Logger
	threshold  *LogLevel
	source     string
	baseCtx    map[string]any
	subscribers []func(LogRecord)
}

// NewLogger builds a root logger. writer defaults to os.Stdout; strategy
// selects zerolog's console writer (pretty/plain) vs raw JSON output.
func NewLogger(writer io.Writer, strategy PrintStrategy) *Logger {
	if writer == nil {
		writer = os.Stdout
	}
	var out io.Writer = writer
	if strategy == PrintPretty || strategy == PrintPlain {
		out = zerolog.ConsoleWriter{Out: writer, TimeFormat: time.RFC3339, NoColor: strategy == PrintPlain}
	}
	zl := zerolog.New(out).With().Timestamp().Logger()

	threshold := LevelInfo
	if v := os.Getenv("BLUELIBS_LOG_LEVEL"); v != "" {
		if lvl, ok := parseLogLevel(v); ok {
			threshold = lvl
		}
	}
	l := &Logger{zl: zl, threshold: &threshold}
	if disabled := os.Getenv("BLUELIBS_DISABLE_LOGS"); disabled != "" && disabled != "0" && strings.ToLower(disabled) != "false" {
		l.threshold = nil
	}
	return l
}

// With returns a sub-logger that merges source and additionalContext into
// every record it produces. The sub-logger starts with this logger's
// subscribers and print threshold as they are when With is called;
// subscribers added or thresholds set afterwards on either logger are not
// seen by the other.
func (l *Logger) With(source string, additionalContext map[string]any) *Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	merged := make(map[string]any, len(l.baseCtx)+len(additionalContext))
	for k, v := range l.baseCtx {
		merged[k] = v
	}
	for k, v := range additionalContext {
		merged[k] = v
	}
	return &Logger{
		zl:          l.zl,
		threshold:   l.threshold,
		source:      source,
		baseCtx:     merged,
		subscribers: l.subscribers,
	}
}

// OnLog registers a subscriber receiving every record regardless of the
// print threshold.
func (l *Logger) OnLog(fn func(LogRecord)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subscribers = append(l.subscribers, fn)
}

// SetPrintThreshold changes the minimum level printed to the zerolog sink;
// nil disables console printing entirely.
func (l *Logger) SetPrintThreshold(level *LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.threshold = level
}

func (l *Logger) log(level LogLevel, message string, err error, data any) {
	l.mu.RLock()
	threshold := l.threshold
	subscribers := append([]func(LogRecord){}, l.subscribers...)
	source := l.source
	ctx := l.baseCtx
	l.mu.RUnlock()

	rec := LogRecord{Level: level, Source: source, Message: message, Timestamp: time.Now(), Error: err, Data: data, Context: ctx}

	if threshold != nil && level >= *threshold {
		evt := l.zl.WithLevel(level.zerolog())
		if source != "" {
			evt = evt.Str("source", source)
		}
		for k, v := range ctx {
			evt = evt.Interface(k, v)
		}
		if data != nil {
			evt = evt.Interface("data", data)
		}
		if err != nil {
			evt = evt.Err(err)
		}
		evt.Msg(message)
	}

	for _, s := range subscribers {
		s(rec)
	}
}

func (l *Logger) Trace(message string, err error, data any)    { l.log(LevelTrace, message, err, data) }
func (l *Logger) Debug(message string, err error, data any)    { l.log(LevelDebug, message, err, data) }
func (l *Logger) Info(message string, err error, data any)     { l.log(LevelInfo, message, err, data) }
func (l *Logger) Warn(message string, err error, data any)     { l.log(LevelWarn, message, err, data) }
func (l *Logger) Error(message string, err error, data any)    { l.log(LevelError, message, err, data) }
func (l *Logger) Critical(message string, err error, data any) { l.log(LevelCritical, message, err, data) }
