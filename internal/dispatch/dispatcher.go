package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nugget/switchboard/internal/events"
)

// Func performs the work of one binding.
type Func func(ctx context.Context, e Event) error

// Binding is a named unit of work triggered by an event kind.
type Binding struct {
	Name string
	Fn   Func
}

// Table maps event kinds to their bindings, run in order. A Table is
// built once at startup and never modified.
type Table map[EventKind][]Binding

// Kinds returns the kinds with at least one binding.
func (t Table) Kinds() []EventKind {
	out := make([]EventKind, 0, len(t))
	for k := range t {
		out = append(out, k)
	}
	return out
}

// Dispatcher runs the bindings for incoming events. Dispatch calls for
// different events may run concurrently; the bindings of one event run
// sequentially so each observes the side effects of the ones before it.
type Dispatcher struct {
	table    Table
	fallback Binding
	logger   *slog.Logger
	bus      *events.Bus
}

// New creates a dispatcher over table. bus may be nil.
func New(table Table, logger *slog.Logger, bus *events.Bus) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{table: table, logger: logger, bus: bus}
	d.fallback = Binding{Name: "default", Fn: d.unknown}
	return d
}

// Dispatch runs every binding for e.Kind in declared order. A failing
// binding is logged and the rest still run; the joined binding errors
// are returned. Unknown kinds run only the fallback, which logs and
// returns ErrUnknownKind.
func (d *Dispatcher) Dispatch(ctx context.Context, e Event) error {
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now()
	}

	bindings, ok := d.table[e.Kind]
	if !ok {
		return d.run(ctx, d.fallback, e)
	}

	d.logger.Info("dispatching event",
		"event_kind", e.Kind,
		"bindings", len(bindings),
	)

	var errs []error
	for _, b := range bindings {
		if err := d.run(ctx, b, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Ingest decodes a raw payload and dispatches it. Decode failures are
// logged and returned without running any binding.
func (d *Dispatcher) Ingest(ctx context.Context, kind string, payload []byte) error {
	e, err := Decode(kind, payload)
	if err != nil {
		d.logger.Warn("dropping undecodable event",
			"event_kind", kind,
			"error", err,
		)
		return err
	}
	return d.Dispatch(ctx, e)
}

func (d *Dispatcher) run(ctx context.Context, b Binding, e Event) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("binding %s panicked: %v", b.Name, r)
		}
		elapsed := time.Since(start)
		if err != nil && !errors.Is(err, ErrUnknownKind) {
			d.logger.Error("event binding failed",
				"event_kind", e.Kind,
				"binding", b.Name,
				"error", err,
			)
		}
		data := map[string]any{
			"event_kind": string(e.Kind),
			"binding":    b.Name,
			"elapsed_ms": elapsed.Milliseconds(),
		}
		if err != nil {
			data["error"] = err.Error()
		}
		d.bus.Emit(events.SourceDispatch, events.KindDispatchHandler, data)
	}()
	return b.Fn(ctx, e)
}

func (d *Dispatcher) unknown(_ context.Context, e Event) error {
	d.logger.Warn("unknown event kind", "event_kind", e.Kind)
	d.bus.Emit(events.SourceDispatch, events.KindDispatchUnknown, map[string]any{
		"event_kind": string(e.Kind),
	})
	return fmt.Errorf("%w: %q", ErrUnknownKind, e.Kind)
}
