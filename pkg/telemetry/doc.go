// Package telemetry wires OpenTelemetry exporters and meters, and the
// Prometheus collectors for the connection pool and dispatch queue.
//
// It centralises trace provider setup and offers redaction helpers so that
// attributes derived from scanned text never carry raw PII into the
// telemetry backend.
package telemetry
