package telemetry

import (
	"fmt"

	"go.opentelemetry.io/otel/attribute"
)

// denyKeys are attribute keys that must never reach the telemetry backend:
// they carry the text being scanned, which by definition may contain PII.
var denyKeys = map[string]struct{}{
	"request.text":  {},
	"response.text": {},
	"mask.original": {},
	"mask.masked":   {},
}

// RedactAttributes filters span attributes before export. Denied keys are
// dropped; everything else passes through unchanged. Use MaskValue or
// HashValue when a redacted-but-correlatable form is needed instead.
func RedactAttributes(attrs []attribute.KeyValue) []attribute.KeyValue {
	if len(attrs) == 0 {
		return attrs
	}

	redacted := make([]attribute.KeyValue, 0, len(attrs))
	for _, kv := range attrs {
		if _, drop := denyKeys[string(kv.Key)]; drop {
			continue
		}
		redacted = append(redacted, kv)
	}
	return redacted
}

// MaskValue shows the first and last four characters with the middle
// removed, for debugging without exposing the full value.
func MaskValue(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "***" + s[len(s)-4:]
}

// HashValue produces a deterministic tag for correlation without exposing
// the value itself.
func HashValue(s string) string {
	if s == "" {
		return "[REDACTED:empty]"
	}
	hash := 0
	for _, ch := range s {
		hash = hash*31 + int(ch)
	}
	return fmt.Sprintf("[REDACTED:hash:%08x]", hash&0xFFFFFFFF)
}
