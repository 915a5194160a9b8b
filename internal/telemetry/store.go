package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/rendis/stepflow/internal/store"
)

const storeScopeName = "github.com/rendis/stepflow/store"

// InstrumentedStore wraps store.Store with a span per call and the
// stepflow.registry.* metrics.
type InstrumentedStore struct {
	inner  store.Store
	tracer trace.Tracer
	ops    metric.Int64Counter
	dur    metric.Float64Histogram
	errs   metric.Int64Counter
}

// WrapStore returns s decorated with instrumentation, or s itself when
// telemetry is disabled.
func WrapStore(s store.Store) store.Store {
	if !Enabled() {
		return s
	}
	return newInstrumentedStore(s)
}

func newInstrumentedStore(s store.Store) *InstrumentedStore {
	m := Meter(storeScopeName)
	ops, _ := m.Int64Counter("stepflow.registry.operations",
		metric.WithDescription("Total registry operations executed"),
	)
	dur, _ := m.Float64Histogram("stepflow.registry.operation.duration",
		metric.WithDescription("Registry operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("stepflow.registry.errors",
		metric.WithDescription("Total registry operation errors"),
	)
	return &InstrumentedStore{
		inner:  s,
		tracer: Tracer(storeScopeName),
		ops:    ops,
		dur:    dur,
		errs:   errs,
	}
}

func (s *InstrumentedStore) op(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	all := append([]attribute.KeyValue{attribute.String("db.operation", name)}, attrs...)
	ctx, span := s.tracer.Start(ctx, "registry."+name,
		trace.WithAttributes(all...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	s.ops.Add(ctx, 1, metric.WithAttributes(all...))
	return ctx, span, time.Now()
}

func (s *InstrumentedStore) done(ctx context.Context, span trace.Span, start time.Time, err error, attrs ...attribute.KeyValue) {
	s.dur.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(attrs...))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.errs.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	span.End()
}

func (s *InstrumentedStore) SaveDefinition(ctx context.Context, rec *store.DefinitionRecord) error {
	attrs := []attribute.KeyValue{attribute.String("stepflow.definition.name", rec.Name)}
	ctx, span, t := s.op(ctx, "SaveDefinition", attrs...)
	err := s.inner.SaveDefinition(ctx, rec)
	if err == nil {
		span.SetAttributes(attribute.String("stepflow.definition.version", rec.Version))
	}
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStore) GetDefinition(ctx context.Context, name, version string) (*store.DefinitionRecord, error) {
	attrs := []attribute.KeyValue{
		attribute.String("stepflow.definition.name", name),
		attribute.String("stepflow.definition.version", version),
	}
	ctx, span, t := s.op(ctx, "GetDefinition", attrs...)
	rec, err := s.inner.GetDefinition(ctx, name, version)
	s.done(ctx, span, t, err, attrs...)
	return rec, err
}

func (s *InstrumentedStore) ListDefinitions(ctx context.Context, filter store.DefinitionFilter) ([]*store.DefinitionRecord, error) {
	ctx, span, t := s.op(ctx, "ListDefinitions", attribute.Bool("stepflow.filter.latest_only", filter.LatestOnly))
	recs, err := s.inner.ListDefinitions(ctx, filter)
	span.SetAttributes(attribute.Int("stepflow.result.count", len(recs)))
	s.done(ctx, span, t, err)
	return recs, err
}

func (s *InstrumentedStore) DeleteDefinition(ctx context.Context, name, version string) error {
	attrs := []attribute.KeyValue{attribute.String("stepflow.definition.name", name)}
	ctx, span, t := s.op(ctx, "DeleteDefinition", attrs...)
	err := s.inner.DeleteDefinition(ctx, name, version)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStore) History(ctx context.Context, name string, since int64) ([]*store.Event, error) {
	attrs := []attribute.KeyValue{attribute.String("stepflow.definition.name", name)}
	ctx, span, t := s.op(ctx, "History", attrs...)
	events, err := s.inner.History(ctx, name, since)
	s.done(ctx, span, t, err, attrs...)
	return events, err
}

func (s *InstrumentedStore) Migrate(ctx context.Context) error {
	ctx, span, t := s.op(ctx, "Migrate")
	err := s.inner.Migrate(ctx)
	s.done(ctx, span, t, err)
	return err
}

func (s *InstrumentedStore) Vacuum(ctx context.Context) error {
	ctx, span, t := s.op(ctx, "Vacuum")
	err := s.inner.Vacuum(ctx)
	s.done(ctx, span, t, err)
	return err
}

func (s *InstrumentedStore) Close() error {
	return s.inner.Close()
}

var _ store.Store = (*InstrumentedStore)(nil)
