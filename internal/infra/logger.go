// README: Structured logger construction shared by binaries.
package infra

import (
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
)

// NewLogger builds a leveled key/value logger writing to stderr. Unknown
// levels fall back to info.
func NewLogger(level string) *log.Logger {
	return newLogger(os.Stderr, level)
}

func newLogger(w io.Writer, level string) *log.Logger {
	logger := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
	})
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger
}
