package cmd

import (
	"io"
	"log/slog"
	"os"

	"github.com/AdguardTeam/LinkCheck/internal/configmgr"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"gopkg.in/natefinch/lumberjack.v2"
)

// newLogger returns a new logger configured by c.  If c.File is set, the
// output is rotated by size, and out must be closed after use.  verbose
// overrides c.Verbose.
func newLogger(c *configmgr.LogConfig, verbose bool) (l *slog.Logger, out io.Closer) {
	lvl := slog.LevelInfo
	if c.Verbose || verbose {
		lvl = slogutil.LevelDebug
	}

	var w io.Writer = os.Stderr
	if c.File != "" {
		lj := &lumberjack.Logger{
			Filename:   c.File,
			Compress:   c.Compress,
			LocalTime:  c.LocalTime,
			MaxBackups: c.MaxBackups,
			MaxSize:    c.MaxSize,
			MaxAge:     c.MaxAge,
		}

		w, out = lj, lj
	}

	l = slogutil.New(&slogutil.Config{
		Output:       w,
		Format:       slogutil.Format(c.Format),
		Level:        lvl,
		AddTimestamp: c.Timestamp,
	})

	return l, out
}
