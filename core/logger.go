// Package core holds shared runtime plumbing: logging setup and small
// formatting helpers.
package core

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// SetupLogger builds the process logger. Verbosity 0 logs warnings and
// findings-level info, 1 adds verbose traces (debug), 2 adds wire-level
// noise (trace). When logPath is set, messages are mirrored to the file
// without console formatting.
func SetupLogger(verbosity int, logPath string) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	switch {
	case verbosity == 1:
		level = zerolog.DebugLevel
	case verbosity >= 2:
		level = zerolog.TraceLevel
	}

	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}

	var sink io.Writer = console
	if logPath != "" {
		file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return zerolog.Nop(), err
		}
		sink = zerolog.MultiLevelWriter(console, file)
	}

	return zerolog.New(sink).Level(level).With().Timestamp().Logger(), nil
}

// FormatDuration renders a duration the way humans read elapsed audit time.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}
