package observe

import (
	"context"
	"io"

	"github.com/felixgeelhaar/bolt/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("mnemo")

// Observer handles logging and tracing for every component.
type Observer struct {
	log *bolt.Logger
}

// New creates a new Observer with console output.
// If verbose is false, only warnings and errors are shown.
func New(out io.Writer, verbose bool) *Observer {
	return newObserver(bolt.NewConsoleHandler(out), verbose)
}

// NewJSON creates a new Observer with JSON output.
// If verbose is false, only warnings and errors are shown.
func NewJSON(out io.Writer, verbose bool) *Observer {
	return newObserver(bolt.NewJSONHandler(out), verbose)
}

// Discard returns an Observer that drops everything. Components fall back to
// it when constructed without one.
func Discard() *Observer {
	return newObserver(bolt.NewJSONHandler(io.Discard), false)
}

func newObserver(h bolt.Handler, verbose bool) *Observer {
	l := bolt.New(h)
	if !verbose {
		l.SetLevel(bolt.WARN)
	}
	return &Observer{log: l}
}

// OrDiscard returns o, or a discarding Observer when o is nil.
func OrDiscard(o *Observer) *Observer {
	if o == nil {
		return Discard()
	}
	return o
}

// Log returns the underlying logger
func (o *Observer) Log() *bolt.Logger {
	return o.log
}

// Component returns a child logger tagged with the component name.
func (o *Observer) Component(name string) *bolt.Logger {
	return o.log.With().Str("component", name).Logger()
}

// StartSpan starts a new OTel span
func (o *Observer) StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name)
}

// Close ensures any buffered logs or traces are flushed (placeholder)
func (o *Observer) Close() error {
	return nil
}
