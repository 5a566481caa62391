package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds the process logger: human-readable console output for the local
// environment, JSON lines everywhere else.
func New(environment, level string) (zerolog.Logger, error) {
	return NewTo(os.Stdout, environment, level)
}

// NewStderr is New for commands that print their result on stdout.
func NewStderr(environment, level string) (zerolog.Logger, error) {
	return NewTo(os.Stderr, environment, level)
}

func NewTo(out io.Writer, environment, level string) (zerolog.Logger, error) {
	parsedLevel, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("parse LOG_LEVEL=%q: %w", level, err)
	}
	return newLogger(out, environment, parsedLevel), nil
}

func newLogger(out io.Writer, environment string, level zerolog.Level) zerolog.Logger {
	writer := out
	if strings.EqualFold(strings.TrimSpace(environment), "local") {
		writer = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
	}

	return zerolog.New(writer).
		Level(level).
		With().
		Timestamp().
		Str("service", "curator").
		Logger()
}
