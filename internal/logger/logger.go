// Package logger wraps github.com/rs/zerolog behind the same exported
// surface the rest of the codebase calls against (Debug/Info/Warn/Error/
// Fatal, each with a WithPrefix variant, plus a package-level Log
// instance) — only the internals changed, from stdlib log.Logger to
// zerolog's structured writer, following LOG_LEVEL/LOG_FORMAT.
package logger

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

func (l LogLevel) zerolog() zerolog.Level {
	switch l {
	case DEBUG:
		return zerolog.DebugLevel
	case INFO:
		return zerolog.InfoLevel
	case WARN:
		return zerolog.WarnLevel
	case ERROR:
		return zerolog.ErrorLevel
	case FATAL:
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// Logger wraps a zerolog.Logger, preserving the printf-style call sites
// the rest of the codebase uses.
type Logger struct {
	zl zerolog.Logger
}

// Log is the exported, initialized logger instance.
var Log *Logger

func init() {
	Log = NewLogger(parseLogLevelFromEnv())
}

// parseLogLevelFromEnv reads the LOG_LEVEL environment variable and returns
// the corresponding LogLevel. Defaults to INFO if LOG_LEVEL is unset or
// invalid.
func parseLogLevelFromEnv() LogLevel {
	switch strings.ToUpper(os.Getenv("LOG_LEVEL")) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN":
		return WARN
	case "ERROR":
		return ERROR
	case "FATAL":
		return FATAL
	default:
		return INFO
	}
}

// NewLogger builds a Logger at the given level. LOG_FORMAT="console"
// selects zerolog's human-readable ConsoleWriter; anything else (including
// unset) stays newline-JSON, the form log collectors expect.
func NewLogger(level LogLevel) *Logger {
	var zl zerolog.Logger
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "console") {
		zl = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"})
	} else {
		zl = zerolog.New(os.Stdout)
	}
	zl = zl.With().Timestamp().Logger().Level(level.zerolog())
	return &Logger{zl: zl}
}

// Fields carries structured zerolog context — a staking module id and/or
// a block number — attached to a log line alongside its Printf-style
// message, so log collectors can filter/aggregate on module_id and
// block_number without parsing the message text.
type Fields struct {
	ModuleID    uint32
	HasModuleID bool
	Block       uint64
	HasBlock    bool
}

// WithModule returns Fields carrying the given staking module id.
func WithModule(moduleID uint32) Fields {
	return Fields{ModuleID: moduleID, HasModuleID: true}
}

// WithBlock returns Fields carrying the given block number.
func WithBlock(block uint64) Fields {
	return Fields{Block: block, HasBlock: true}
}

// AndBlock adds a block number to an existing Fields value.
func (f Fields) AndBlock(block uint64) Fields {
	f.Block, f.HasBlock = block, true
	return f
}

func (f Fields) apply(ev *zerolog.Event) *zerolog.Event {
	if f.HasModuleID {
		ev = ev.Uint32("module_id", f.ModuleID)
	}
	if f.HasBlock {
		ev = ev.Uint64("block_number", f.Block)
	}
	return ev
}

// formatMessage formats the message with an optional prefix.
func formatMessage(prefix, msg string) string {
	if prefix != "" {
		return "[" + prefix + "] " + msg
	}
	return msg
}

// Debug logs debug messages with an optional prefix if the level is set to DEBUG or lower.
func (l *Logger) Debug(msg string, v ...interface{}) {
	l.DebugWithPrefix("", msg, v...)
}

// DebugWithPrefix logs debug messages with a specific prefix.
func (l *Logger) DebugWithPrefix(prefix, msg string, v ...interface{}) {
	l.zl.Debug().Msgf(formatMessage(prefix, msg), v...)
}

// Info logs informational messages with an optional prefix if the level is set to INFO or lower.
func (l *Logger) Info(msg string, v ...interface{}) {
	l.InfoWithPrefix("", msg, v...)
}

// InfoWithPrefix logs informational messages with a specific prefix.
func (l *Logger) InfoWithPrefix(prefix, msg string, v ...interface{}) {
	l.zl.Info().Msgf(formatMessage(prefix, msg), v...)
}

// Warn logs warning messages with an optional prefix if the level is set to WARN or lower.
func (l *Logger) Warn(msg string, v ...interface{}) {
	l.WarnWithPrefix("", msg, v...)
}

// WarnWithPrefix logs warning messages with a specific prefix.
func (l *Logger) WarnWithPrefix(prefix, msg string, v ...interface{}) {
	l.zl.Warn().Msgf(formatMessage(prefix, msg), v...)
}

// Error logs error messages with an optional prefix if the level is set to ERROR or lower.
func (l *Logger) Error(msg string, v ...interface{}) {
	l.ErrorWithPrefix("", msg, v...)
}

// ErrorWithPrefix logs error messages with a specific prefix.
func (l *Logger) ErrorWithPrefix(prefix, msg string, v ...interface{}) {
	l.zl.Error().Msgf(formatMessage(prefix, msg), v...)
}

// DebugFields logs at debug level, attaching Fields as structured
// zerolog keys (module_id, block_number) alongside the Printf-style msg.
func (l *Logger) DebugFields(fields Fields, msg string, v ...interface{}) {
	fields.apply(l.zl.Debug()).Msgf(msg, v...)
}

// InfoFields logs at info level, attaching Fields as structured zerolog
// keys (module_id, block_number) alongside the Printf-style msg.
func (l *Logger) InfoFields(fields Fields, msg string, v ...interface{}) {
	fields.apply(l.zl.Info()).Msgf(msg, v...)
}

// WarnFields logs at warn level, attaching Fields as structured zerolog
// keys (module_id, block_number) alongside the Printf-style msg.
func (l *Logger) WarnFields(fields Fields, msg string, v ...interface{}) {
	fields.apply(l.zl.Warn()).Msgf(msg, v...)
}

// ErrorFields logs at error level, attaching Fields as structured zerolog
// keys (module_id, block_number) alongside the Printf-style msg.
func (l *Logger) ErrorFields(fields Fields, msg string, v ...interface{}) {
	fields.apply(l.zl.Error()).Msgf(msg, v...)
}

// Fatal logs fatal messages and exits the program.
func (l *Logger) Fatal(msg string, v ...interface{}) {
	l.FatalWithPrefix("", msg, v...)
}

// FatalWithPrefix logs fatal messages with a specific prefix and exits the program.
func (l *Logger) FatalWithPrefix(prefix, msg string, v ...interface{}) {
	l.zl.Fatal().Msgf(formatMessage(prefix, msg), v...) // zerolog exits the process on .Fatal()
}

// Wrapper functions to simplify logging with optional prefix.

func Debug(msg string, v ...interface{}) { Log.Debug(msg, v...) }

func DebugWithPrefix(prefix, msg string, v ...interface{}) { Log.DebugWithPrefix(prefix, msg, v...) }

func Info(msg string, v ...interface{}) { Log.Info(msg, v...) }

func InfoWithPrefix(prefix, msg string, v ...interface{}) { Log.InfoWithPrefix(prefix, msg, v...) }

func Warn(msg string, v ...interface{}) { Log.Warn(msg, v...) }

func WarnWithPrefix(prefix, msg string, v ...interface{}) { Log.WarnWithPrefix(prefix, msg, v...) }

func Error(msg string, v ...interface{}) { Log.Error(msg, v...) }

func ErrorWithPrefix(prefix, msg string, v ...interface{}) { Log.ErrorWithPrefix(prefix, msg, v...) }

func Fatal(msg string, v ...interface{}) { Log.Fatal(msg, v...) }

func FatalWithPrefix(prefix, msg string, v ...interface{}) { Log.FatalWithPrefix(prefix, msg, v...) }

func DebugFields(fields Fields, msg string, v ...interface{}) { Log.DebugFields(fields, msg, v...) }

func InfoFields(fields Fields, msg string, v ...interface{}) { Log.InfoFields(fields, msg, v...) }

func WarnFields(fields Fields, msg string, v ...interface{}) { Log.WarnFields(fields, msg, v...) }

func ErrorFields(fields Fields, msg string, v ...interface{}) { Log.ErrorFields(fields, msg, v...) }
