// Package log configures the process-wide zerolog logger.
package log

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/term"
)

// Setup initializes the global logger. Interactive terminals get the
// human console writer; everything else gets JSON lines.
func Setup(level string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339

	if term.IsTerminal(int(os.Stderr.Fd())) {
		zlog.Logger = zlog.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		zlog.Logger = zlog.Output(os.Stderr)
	}
	return nil
}
