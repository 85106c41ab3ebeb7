package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds the process logger on stdout: console output in development, JSON otherwise.
func New(development bool, service string) zerolog.Logger {
	return NewTo(os.Stdout, development, service)
}

func NewTo(w io.Writer, development bool, service string) zerolog.Logger {
	out := w
	if development {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).
		With().
		Timestamp().
		Str("service", service).
		Logger()
}
