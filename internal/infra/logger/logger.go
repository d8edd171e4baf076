package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

func (l Level) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	case LevelFatal:
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

type Logger struct {
	zl   zerolog.Logger
	file *os.File
}

// New writes JSON lines to filePath. With includeStdout, Info and above are
// also printed to the console so Debug spam stays out of the terminal.
func New(filePath string, level Level, includeStdout bool) (*Logger, error) {
	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	writers := []io.Writer{f}
	if includeStdout {
		console := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "2006-01-02 15:04:05"}
		writers = append(writers, minLevelWriter{w: console, min: zerolog.InfoLevel})
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level.zerolog()).
		With().Timestamp().Logger()

	return &Logger{zl: zl, file: f}, nil
}

// NewWriter logs to w only. Used by one-shot CLI commands and tests.
func NewWriter(w io.Writer, level Level) *Logger {
	return &Logger{zl: zerolog.New(w).Level(level.zerolog()).With().Timestamp().Logger()}
}

// Nop discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

func ParseLevel(lvl string) Level {
	switch strings.ToLower(lvl) {
	case "debug":
		return LevelDebug
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// With returns a child logger that stamps key=value on every line.
func (l *Logger) With(key string, value any) *Logger {
	return &Logger{zl: l.zl.With().Interface(key, value).Logger(), file: l.file}
}

func (l *Logger) Debug(f string, v ...any) { l.zl.Debug().Msg(fmt.Sprintf(f, v...)) }
func (l *Logger) Info(f string, v ...any)  { l.zl.Info().Msg(fmt.Sprintf(f, v...)) }
func (l *Logger) Warn(f string, v ...any)  { l.zl.Warn().Msg(fmt.Sprintf(f, v...)) }
func (l *Logger) Error(f string, v ...any) { l.zl.Error().Msg(fmt.Sprintf(f, v...)) }
func (l *Logger) Fatal(f string, v ...any) { l.zl.Fatal().Msg(fmt.Sprintf(f, v...)) }

func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

func (l *Logger) Write(p []byte) (n int, err error) {
	// Echo and other libraries often include a newline at the end
	msg := strings.TrimSpace(string(p))
	if msg != "" {
		l.Info("%s", msg)
	}
	return len(p), nil
}

type minLevelWriter struct {
	w   io.Writer
	min zerolog.Level
}

func (m minLevelWriter) Write(p []byte) (int, error) { return m.w.Write(p) }

func (m minLevelWriter) WriteLevel(lvl zerolog.Level, p []byte) (int, error) {
	if lvl < m.min {
		return len(p), nil
	}
	return m.w.Write(p)
}
