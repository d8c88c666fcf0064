package tracing

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

var (
	otelOnce sync.Once
	otelMu   sync.RWMutex
	otelTP   *sdktrace.TracerProvider
	otelErr  error
)

// InitOpenTelemetry installs the global tracer provider for the process.
// Only the first call has any effect; later calls return the first result.
func InitOpenTelemetry(serviceName string) error {
	otelOnce.Do(func() {
		res, err := resource.New(
			context.Background(),
			resource.WithAttributes(semconv.ServiceName(serviceName)),
		)
		if err != nil {
			otelErr = err
			return
		}

		tp := sdktrace.NewTracerProvider(
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
		)

		otelMu.Lock()
		otelTP = tp
		otelMu.Unlock()

		otel.SetTracerProvider(tp)
	})

	return otelErr
}

// ShutdownOpenTelemetry flushes pending spans. A no-op when tracing was
// never initialized.
func ShutdownOpenTelemetry(ctx context.Context) error {
	otelMu.RLock()
	tp := otelTP
	otelMu.RUnlock()
	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}

// StartSpan opens a span and stamps it with the plan and item IDs carried
// in ctx. The returned context always carries a trace ID so log lines and
// spans from the same run correlate.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	if planID := GetPlanID(ctx); planID != "" {
		attrs = append(attrs, attribute.String("plan.id", planID))
	}
	if itemID := GetItemID(ctx); itemID != "" {
		attrs = append(attrs, attribute.String("item.id", itemID))
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))

	if GetTraceID(ctx) == "" {
		if sc := span.SpanContext(); sc.IsValid() {
			ctx = WithTraceID(ctx, sc.TraceID().String())
		}
	}

	return ctx, span
}
