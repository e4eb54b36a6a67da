package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	metricsOnce          sync.Once
	metricsInitErr       error
	engineCallCounter    metric.Int64Counter
	engineErrorCounter   metric.Int64Counter
	engineLatencyHist    metric.Float64Histogram
	engineFindingCounter metric.Int64Counter
)

// EngineCall captures the fields recorded for one dispatched engine call.
type EngineCall struct {
	Operation string
	Binding   string
	Findings  int
	Duration  time.Duration
	Err       error
}

// RecordEngineCall emits the counters and histogram describing a single
// engine invocation. Failures to initialise the meters are swallowed;
// telemetry must never break the call path.
func RecordEngineCall(ctx context.Context, call EngineCall) {
	if err := ensureMetrics(); err != nil {
		return
	}

	outcome := "ok"
	if call.Err != nil {
		outcome = "error"
	}
	attrs := []attribute.KeyValue{
		attribute.String("engine.operation", call.Operation),
		attribute.String("engine.binding", call.Binding),
		attribute.String("engine.outcome", outcome),
	}

	engineCallCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	if call.Duration > 0 {
		engineLatencyHist.Record(ctx, float64(call.Duration)/float64(time.Millisecond), metric.WithAttributes(attrs...))
	}
	if call.Findings > 0 {
		engineFindingCounter.Add(ctx, int64(call.Findings), metric.WithAttributes(attrs...))
	}
	if call.Err != nil {
		engineErrorCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}

	RecordDetectionEvent(trace.SpanFromContext(ctx), call.Operation, call.Findings)
}

// RecordDetectionEvent attaches a coarse-grained detection event to the
// provided span. Extra attributes pass through RedactAttributes first, so
// callers cannot accidentally leak raw text onto the span.
func RecordDetectionEvent(span trace.Span, operation string, findings int, extra ...attribute.KeyValue) {
	if span == nil || !span.IsRecording() {
		return
	}

	attrs := make([]attribute.KeyValue, 0, len(extra)+2)
	attrs = append(attrs,
		attribute.String("engine.operation", operation),
		attribute.Int("pii.findings.count", findings),
	)
	attrs = append(attrs, extra...)

	span.AddEvent("pii.detection", trace.WithAttributes(RedactAttributes(attrs)...))
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("workbench.engine")

		engineCallCounter, metricsInitErr = meter.Int64Counter(
			"workbench.engine.calls_total",
			metric.WithDescription("Engine invocations partitioned by operation and outcome"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		engineErrorCounter, metricsInitErr = meter.Int64Counter(
			"workbench.engine.errors_total",
			metric.WithDescription("Engine invocations that returned an error"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		engineFindingCounter, metricsInitErr = meter.Int64Counter(
			"workbench.engine.findings_total",
			metric.WithDescription("PII items detected across engine invocations"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		engineLatencyHist, metricsInitErr = meter.Float64Histogram(
			"workbench.engine.duration_ms",
			metric.WithDescription("Observed engine invocation latency"),
			metric.WithUnit("ms"),
		)
	})

	return metricsInitErr
}
