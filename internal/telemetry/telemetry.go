// Package telemetry provides OpenTelemetry integration for stepflow.
//
// Telemetry is disabled by default. With the "stdout" exporter, spans and
// metrics are pretty-printed to the configured writer.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/resource"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationScope = "github.com/rendis/stepflow"

// Exporter names accepted by Init.
const (
	ExporterNone   = ""
	ExporterStdout = "stdout"
)

var enabled bool

// Enabled reports whether Init installed a real exporter.
func Enabled() bool { return enabled }

// Providers holds the installed providers until Shutdown.
type Providers struct {
	shutdownFns []func(context.Context) error
}

// Init installs global providers for exporter. ExporterNone installs no-op
// providers.
func Init(ctx context.Context, exporter, serviceName, version string, w io.Writer) (*Providers, error) {
	p := &Providers{}
	switch exporter {
	case ExporterNone:
		enabled = false
		otel.SetTracerProvider(tracenoop.NewTracerProvider())
		otel.SetMeterProvider(metricnoop.NewMeterProvider())
		return p, nil
	case ExporterStdout:
	default:
		return nil, fmt.Errorf("telemetry: unknown exporter %q", exporter)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: resource: %w", err)
	}

	traceExp, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("telemetry: trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithBatcher(traceExp),
	)
	otel.SetTracerProvider(tp)
	p.shutdownFns = append(p.shutdownFns, tp.Shutdown)

	metricExp, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("telemetry: metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(15*time.Second))),
	)
	otel.SetMeterProvider(mp)
	p.shutdownFns = append(p.shutdownFns, mp.Shutdown)

	enabled = true
	return p, nil
}

// Shutdown flushes all spans and metrics and shuts the providers down.
func (p *Providers) Shutdown(ctx context.Context) error {
	var first error
	for _, fn := range p.shutdownFns {
		if err := fn(ctx); err != nil && first == nil {
			first = err
		}
	}
	p.shutdownFns = nil
	enabled = false
	return first
}

// Tracer returns a tracer with the given instrumentation name (or the global scope).
func Tracer(name string) trace.Tracer {
	if name == "" {
		name = instrumentationScope
	}
	return otel.Tracer(name)
}

// Meter returns a meter with the given instrumentation name (or the global scope).
func Meter(name string) metric.Meter {
	if name == "" {
		name = instrumentationScope
	}
	return otel.Meter(name)
}
