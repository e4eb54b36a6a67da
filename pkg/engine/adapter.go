// Package engine defines the boundary to the PII detection and masking
// engine, and the rate-limited service that fronts it.
//
// The engine is non-reentrant: a single Adapter instance must never be
// invoked concurrently. All steady-state access goes through Service, which
// serializes calls behind a rate-limited dispatch queue. Only Initialize and
// Destroy bypass the queue; they are lifecycle calls made once at startup and
// shutdown.
package engine

import "context"

// Adapter is the call surface of the PII engine, independent of how the
// engine is bound: an in-process implementation (native) or a sidecar child
// process reached over stdio (sidecar).
type Adapter interface {
	// Initialize prepares the engine for use. Called once, before any
	// detection call.
	Initialize(ctx context.Context) error

	// DetectPII scans text and returns every detected PII item.
	DetectPII(ctx context.Context, text string) ([]Detection, error)

	// MaskText scans text and returns it with all detected PII masked.
	MaskText(ctx context.Context, text string) (*MaskResult, error)

	// AuditSecurity scans the files under path and aggregates findings.
	AuditSecurity(ctx context.Context, path string) (*AuditResult, error)

	// Available reports whether the engine is initialized and usable.
	Available() bool

	// Version returns the engine version string.
	Version() string

	// Destroy releases the engine. Called once, during shutdown.
	Destroy() error
}
