// Package logging configures the global zerolog logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

// NewGlobal sets the global level and output. Output is human readable when pretty is
// set or stderr is a terminal.
func NewGlobal(level string, pretty bool) error {
	l, err := zerolog.ParseLevel(level)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(l)
	zerolog.DurationFieldUnit = time.Millisecond

	log.Logger = zerolog.New(Writer(os.Stderr, pretty)).With().Timestamp().Logger()
	return nil
}

// Writer wraps out in a console writer when pretty output is wanted.
func Writer(out *os.File, pretty bool) io.Writer {
	if pretty || term.IsTerminal(int(out.Fd())) {
		return zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}
	return out
}
