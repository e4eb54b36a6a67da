package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestRecordEngineCall(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)
	t.Cleanup(func() {
		otel.SetMeterProvider(prev)
	})

	ResetMetricsForTest()

	RecordEngineCall(ctx, EngineCall{
		Operation: "detect_pii",
		Binding:   "native",
		Findings:  3,
		Duration:  150 * time.Millisecond,
	})
	RecordEngineCall(ctx, EngineCall{
		Operation: "mask_text",
		Binding:   "native",
		Duration:  20 * time.Millisecond,
		Err:       errors.New("boom"),
	})

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}

	metrics := map[string]metricdata.Metrics{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			metrics[m.Name] = m
		}
	}

	sumCalls, ok := metrics["workbench.engine.calls_total"]
	if !ok {
		t.Fatalf("missing workbench.engine.calls_total metric")
	}
	callData, ok := sumCalls.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type for calls metric")
	}
	if len(callData.DataPoints) != 2 {
		t.Fatalf("expected 2 datapoints, got %d", len(callData.DataPoints))
	}

	sumFindings, ok := metrics["workbench.engine.findings_total"]
	if !ok {
		t.Fatalf("missing workbench.engine.findings_total metric")
	}
	findingData := sumFindings.Data.(metricdata.Sum[int64])
	if len(findingData.DataPoints) != 1 {
		t.Fatalf("expected 1 findings datapoint, got %d", len(findingData.DataPoints))
	}
	if findingData.DataPoints[0].Value != 3 {
		t.Fatalf("expected findings count 3, got %d", findingData.DataPoints[0].Value)
	}
	if value, ok := findingData.DataPoints[0].Attributes.Value(attribute.Key("engine.operation")); !ok || value.AsString() != "detect_pii" {
		t.Fatalf("expected engine.operation attribute to be detect_pii, got %v", value)
	}

	sumErrors, ok := metrics["workbench.engine.errors_total"]
	if !ok {
		t.Fatalf("missing workbench.engine.errors_total metric")
	}
	errorData := sumErrors.Data.(metricdata.Sum[int64])
	if errorData.DataPoints[0].Value != 1 {
		t.Fatalf("expected error count 1, got %d", errorData.DataPoints[0].Value)
	}

	hist, ok := metrics["workbench.engine.duration_ms"]
	if !ok {
		t.Fatalf("missing workbench.engine.duration_ms metric")
	}
	histData := hist.Data.(metricdata.Histogram[float64])
	if len(histData.DataPoints) != 2 {
		t.Fatalf("expected 2 histogram datapoints, got %d", len(histData.DataPoints))
	}
}

func TestRecordDetectionEvent(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider()
	tp.RegisterSpanProcessor(recorder)
	tracer := tp.Tracer("test")

	_, span := tracer.Start(context.Background(), "detect")
	RecordDetectionEvent(span, "detect_pii", 2)
	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	events := spans[0].Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 detection event, got %d", len(events))
	}
	event := events[0]
	if event.Name != "pii.detection" {
		t.Fatalf("unexpected event name %q", event.Name)
	}

	attrs := attribute.NewSet(event.Attributes...)
	if value, ok := attrs.Value(attribute.Key("engine.operation")); !ok || value.AsString() != "detect_pii" {
		t.Fatalf("expected engine.operation detect_pii, got %v", value)
	}
	if value, ok := attrs.Value(attribute.Key("pii.findings.count")); !ok || value.AsInt64() != 2 {
		t.Fatalf("expected findings count 2, got %v", value)
	}

	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown tracer provider: %v", err)
	}
}

func TestRecordDetectionEventRedactsDeniedAttributes(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider()
	tp.RegisterSpanProcessor(recorder)
	tracer := tp.Tracer("test")

	_, span := tracer.Start(context.Background(), "mask")
	RecordDetectionEvent(span, "mask_text", 1,
		attribute.String("mask.original", "4532 0151 1283 0366"),
		attribute.String("engine.binding", "native"),
	)
	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	events := spans[0].Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 detection event, got %d", len(events))
	}

	attrs := attribute.NewSet(events[0].Attributes...)
	if _, ok := attrs.Value(attribute.Key("mask.original")); ok {
		t.Fatalf("mask.original must not reach the span event")
	}
	if value, ok := attrs.Value(attribute.Key("engine.binding")); !ok || value.AsString() != "native" {
		t.Fatalf("expected engine.binding native, got %v", value)
	}

	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown tracer provider: %v", err)
	}
}
