// Package telemetry wraps tick/merge spans in OpenTelemetry tracing, so an
// operator can observe timing without any change to the control flow the
// invariants in spec.md §8 depend on (SPEC_FULL.md §9.1). There is no
// direct teacher analogue; this is modeled on the fuller OTel stack used
// elsewhere in the example pack.
package telemetry

import (
	"context"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Provider owns the process-wide tracer provider. Callers obtain spans
// through its StartTick, StartMerge and StartProvision methods.
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
}

// NewStdout builds a Provider that writes spans as JSON to w. Passing
// io.Discard disables visible output while still exercising the
// instrumentation path — useful in tests.
func NewStdout(w io.Writer) (*Provider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	return &Provider{tp: tp, tracer: tp.Tracer("conveyor")}, nil
}

// Discard builds a Provider with no exporter; it is the same as NewNoop.
func Discard() *Provider {
	return NewNoop()
}

// NewNoop returns a Provider backed by the global no-op tracer, avoiding
// the batching exporter's background goroutine entirely.
func NewNoop() *Provider {
	return &Provider{tracer: otel.Tracer("conveyor")}
}

// StartTick opens a span around one admission tick.
func (p *Provider) StartTick(ctx context.Context) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "dispatcher.tick")
}

// StartMerge opens a span around one merge-queue processing pass.
func (p *Provider) StartMerge(ctx context.Context) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "mergequeue.process")
}

// StartProvision opens a span around base-repo provisioning.
func (p *Provider) StartProvision(ctx context.Context) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "provisioner.ensure")
}

// Shutdown flushes and stops the underlying tracer provider, if any.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}
