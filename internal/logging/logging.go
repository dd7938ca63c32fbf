// Package logging wires a charmbracelet/log logger through context.Context
// and tracks elapsed time for the installer's pipeline stages.
package logging

import (
	"context"
	"io"
	"time"

	"github.com/charmbracelet/log"
)

// New creates a logger writing to w at the given level, with timestamps
// formatted to the millisecond so concurrent pipeline stages can be told
// apart in the output.
func New(w io.Writer, level log.Level) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.000",
		Level:           level,
	})
}

// LevelFor returns DebugLevel when verbose is set, InfoLevel otherwise —
// the mapping between the CLI's --verbose flag and a log.Level.
func LevelFor(verbose bool) log.Level {
	if verbose {
		return log.DebugLevel
	}
	return log.InfoLevel
}

// Progress tracks the start time of a pipeline stage (resolve, download,
// link, manifest update) and logs its completion with elapsed duration. It
// is safe for sequential use by a single goroutine; concurrent calls to
// Done will race on the underlying logger call, not on Progress's own state.
type Progress struct {
	logger *log.Logger
	start  time.Time
}

// NewProgress starts a progress tracker against l, capturing the current
// time as the stage's start.
func NewProgress(l *log.Logger) *Progress {
	return &Progress{logger: l, start: time.Now()}
}

// Done logs msg along with the elapsed time since the tracker was created,
// rounded to the nearest millisecond.
func (p *Progress) Done(msg string) {
	p.logger.Infof("%s (%s)", msg, time.Since(p.start).Round(time.Millisecond))
}

// ctxKey is a distinct type for this package's context keys, so they can't
// collide with keys set by other packages.
type ctxKey int

const loggerKey ctxKey = 0

// WithLogger returns a copy of ctx carrying l, retrievable with FromContext.
func WithLogger(ctx context.Context, l *log.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext returns the logger attached to ctx, or log.Default() if none
// was attached — every pipeline stage can log unconditionally this way.
func FromContext(ctx context.Context) *log.Logger {
	if l, ok := ctx.Value(loggerKey).(*log.Logger); ok {
		return l
	}
	return log.Default()
}
