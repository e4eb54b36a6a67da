package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/datacloak/workbench/pkg/dispatch"
	"github.com/datacloak/workbench/pkg/storage"
	"github.com/datacloak/workbench/pkg/telemetry"
)

// Operation names as recorded in audit events and metrics.
const (
	OpDetectPII     = "detect_pii"
	OpMaskText      = "mask_text"
	OpAuditSecurity = "audit_security"
)

// ServiceOptions configures optional service collaborators.
type ServiceOptions struct {
	// Binding names the adapter binding for telemetry ("native", "sidecar").
	Binding string
	// Vault, when set, receives every detected sample during MaskText so the
	// original stays recoverable.
	Vault storage.TokenVault
	// Audit, when set, records one event per engine call.
	Audit *storage.AuditStore
	// Logger may be nil, in which case slog.Default() is used.
	Logger *slog.Logger
}

// Service is the only steady-state path to the engine. Every public call is
// funnelled through the rate-limited dispatcher, so the wrapped Adapter sees
// at most one invocation at a time.
type Service struct {
	adapter Adapter
	disp    *dispatch.Dispatcher
	binding string
	vault   storage.TokenVault
	audit   *storage.AuditStore
	logger  *slog.Logger
}

// NewService wires the adapter behind the dispatcher.
func NewService(adapter Adapter, disp *dispatch.Dispatcher, opts ServiceOptions) (*Service, error) {
	if adapter == nil {
		return nil, errors.New("engine: adapter is required")
	}
	if disp == nil {
		return nil, errors.New("engine: dispatcher is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	binding := opts.Binding
	if binding == "" {
		binding = "native"
	}

	return &Service{
		adapter: adapter,
		disp:    disp,
		binding: binding,
		vault:   opts.Vault,
		audit:   opts.Audit,
		logger:  logger,
	}, nil
}

// Initialize brings up the adapter and the audit schema. Not rate-limited:
// lifecycle calls happen once, outside the steady-state request flow.
func (s *Service) Initialize(ctx context.Context) error {
	if err := s.adapter.Initialize(ctx); err != nil {
		return fmt.Errorf("engine: initialize adapter: %w", err)
	}
	if s.audit != nil {
		if err := s.audit.EnsureSchema(ctx); err != nil {
			return err
		}
	}
	s.logger.Info("Engine initialized", "binding", s.binding, "version", s.adapter.Version())
	return nil
}

// DetectPII scans text through the dispatch queue.
func (s *Service) DetectPII(ctx context.Context, text string) ([]Detection, error) {
	start := time.Now()
	results, err := dispatch.Do(ctx, s.disp, func(ctx context.Context) ([]Detection, error) {
		return s.adapter.DetectPII(ctx, text)
	})
	s.record(ctx, OpDetectPII, "text", len(results), time.Since(start), err)
	return results, err
}

// MaskText masks text through the dispatch queue. When a vault is
// configured, every detected sample is tokenized so the original remains
// recoverable through the vault alone.
func (s *Service) MaskText(ctx context.Context, text string) (*MaskResult, error) {
	start := time.Now()
	result, err := dispatch.Do(ctx, s.disp, func(ctx context.Context) (*MaskResult, error) {
		return s.adapter.MaskText(ctx, text)
	})

	findings := 0
	if result != nil {
		findings = len(result.DetectedPII)
		if s.vault != nil {
			for _, d := range result.DetectedPII {
				if _, verr := s.vault.Tokenize(ctx, d.Sample, d.PIIType); verr != nil {
					s.logger.Error("Failed to tokenize detected sample", "pii_type", d.PIIType, "error", verr)
				}
			}
		}
	}

	s.record(ctx, OpMaskText, "text", findings, time.Since(start), err)
	return result, err
}

// AuditSecurity audits the files under path through the dispatch queue.
func (s *Service) AuditSecurity(ctx context.Context, path string) (*AuditResult, error) {
	start := time.Now()
	result, err := dispatch.Do(ctx, s.disp, func(ctx context.Context) (*AuditResult, error) {
		return s.adapter.AuditSecurity(ctx, path)
	})

	findings := 0
	if result != nil {
		findings = result.Violations
	}
	s.record(ctx, OpAuditSecurity, path, findings, time.Since(start), err)
	return result, err
}

// Available reports whether the underlying adapter is usable.
func (s *Service) Available() bool { return s.adapter.Available() }

// Version reports the underlying engine version.
func (s *Service) Version() string { return s.adapter.Version() }

// Stats reports dispatcher state.
func (s *Service) Stats() dispatch.Stats { return s.disp.Stats() }

// Destroy tears the adapter down. Not rate-limited.
func (s *Service) Destroy() error {
	return s.adapter.Destroy()
}

// record emits telemetry and the audit event for one call. Audit failures
// are logged, never surfaced: persistence problems must not fail a scan that
// already succeeded.
func (s *Service) record(ctx context.Context, op, target string, findings int, duration time.Duration, callErr error) {
	telemetry.RecordEngineCall(ctx, telemetry.EngineCall{
		Operation: op,
		Binding:   s.binding,
		Findings:  findings,
		Duration:  duration,
		Err:       callErr,
	})

	if s.audit == nil || callErr != nil {
		return
	}
	if err := s.audit.Record(ctx, storage.AuditEvent{
		Operation:  op,
		Target:     target,
		Findings:   findings,
		DurationMs: duration.Milliseconds(),
	}); err != nil {
		s.logger.Error("Failed to record audit event", "operation", op, "error", err)
	}
}
