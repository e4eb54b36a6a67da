// Package native provides the in-process binding of the PII engine. It
// implements the same detection and masking behaviour as the original
// datacloak-core library: regex detection for emails, phone numbers, SSNs,
// and credit cards, with Luhn and address validation feeding the confidence
// score, plus format-preserving masking.
package native

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/datacloak/workbench/pkg/engine"
)

const version = "1.0.0"

// Built-in PII classes, scanned in this order.
const (
	TypeEmail      = "email"
	TypePhone      = "phone"
	TypeSSN        = "ssn"
	TypeCreditCard = "credit_card"
)

// EmailValidation selects how email matches are validated beyond the regex.
type EmailValidation string

const (
	EmailRegex     EmailValidation = "regex"
	EmailValidator EmailValidation = "validator"
	EmailHybrid    EmailValidation = "hybrid"
)

// CardValidation selects how credit card matches are validated.
type CardValidation string

const (
	CardBasic CardValidation = "basic"
	CardLuhn  CardValidation = "luhn"
	CardFull  CardValidation = "full"
)

// Config holds engine tuning parameters.
type Config struct {
	EmailValidation EmailValidation
	CardValidation  CardValidation
	MaxTextLength   int
	// Registry supplies additional, caller-defined detection rules. Optional.
	Registry *Registry
}

// DefaultConfig mirrors the engine's stock configuration.
func DefaultConfig() Config {
	return Config{
		EmailValidation: EmailValidator,
		CardValidation:  CardLuhn,
		MaxTextLength:   100_000,
	}
}

type pattern struct {
	piiType string
	expr    *regexp.Regexp
}

// Engine is the in-process PII engine. It satisfies engine.Adapter.
type Engine struct {
	cfg      Config
	patterns []pattern

	mu          sync.RWMutex
	initialized bool
}

var _ engine.Adapter = (*Engine)(nil)

// New compiles the built-in detection patterns and returns an engine.
func New(cfg Config) (*Engine, error) {
	if cfg.MaxTextLength <= 0 {
		cfg.MaxTextLength = DefaultConfig().MaxTextLength
	}
	if cfg.EmailValidation == "" {
		cfg.EmailValidation = EmailValidator
	}
	if cfg.CardValidation == "" {
		cfg.CardValidation = CardLuhn
	}

	specs := []struct {
		piiType string
		expr    string
	}{
		{TypeEmail, `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`},
		{TypePhone, `(?:\(\d{3}\)[-.\s]?\d{3}[-.\s]?\d{4}|\b\d{3}[-.\s]?\d{3}[-.\s]?\d{4})\b`},
		{TypeSSN, `\b\d{3}-\d{2}-\d{4}\b`},
		{TypeCreditCard, `\b\d(?:[ -]?\d){12,18}\b`},
	}

	patterns := make([]pattern, 0, len(specs))
	for _, spec := range specs {
		expr, err := regexp.Compile(spec.expr)
		if err != nil {
			return nil, fmt.Errorf("native: compile %s pattern: %w", spec.piiType, err)
		}
		patterns = append(patterns, pattern{piiType: spec.piiType, expr: expr})
	}

	return &Engine{cfg: cfg, patterns: patterns}, nil
}

// Initialize marks the engine ready. Compilation already happened in New; the
// split exists so all bindings share the same lifecycle shape.
func (e *Engine) Initialize(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.initialized = true
	return nil
}

// Available reports whether Initialize has run and Destroy has not.
func (e *Engine) Available() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.initialized
}

// Version returns the engine version string.
func (e *Engine) Version() string { return version }

// Destroy releases the engine.
func (e *Engine) Destroy() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.initialized = false
	return nil
}

// DetectPII scans text against the built-in patterns and any registry rules.
// Matches that fail validation keep a reduced confidence rather than being
// dropped outright; only matches at or below the confidence floor are
// discarded.
func (e *Engine) DetectPII(_ context.Context, text string) ([]engine.Detection, error) {
	if len(text) > e.cfg.MaxTextLength {
		return nil, fmt.Errorf("native: text length (%d) exceeds maximum (%d)", len(text), e.cfg.MaxTextLength)
	}

	const (
		baseConfidence  = 0.95
		invalidPenalty  = 0.7
		confidenceFloor = 0.6
	)

	var results []engine.Detection
	for _, p := range e.patterns {
		for _, loc := range p.expr.FindAllStringIndex(text, -1) {
			sample := text[loc[0]:loc[1]]
			confidence := baseConfidence

			valid := true
			switch p.piiType {
			case TypeEmail:
				if e.cfg.EmailValidation != EmailRegex {
					valid = validateEmail(sample)
				}
			case TypeCreditCard:
				if e.cfg.CardValidation != CardBasic {
					valid = validateLuhn(sample)
				}
			}
			if !valid {
				confidence *= invalidPenalty
			}

			if confidence > confidenceFloor {
				results = append(results, engine.Detection{
					FieldName:  "text",
					PIIType:    p.piiType,
					Confidence: confidence,
					Sample:     sample,
					Masked:     maskValue(sample, p.piiType),
				})
			}
		}
	}

	if e.cfg.Registry != nil {
		results = append(results, e.cfg.Registry.scan(text)...)
	}

	return results, nil
}

// MaskText detects PII in text and replaces every occurrence with its masked
// form. Longer samples are replaced first so a shorter sample embedded in a
// longer one cannot clobber it.
func (e *Engine) MaskText(ctx context.Context, text string) (*engine.MaskResult, error) {
	start := time.Now()

	detected, err := e.DetectPII(ctx, text)
	if err != nil {
		return nil, err
	}

	sorted := make([]engine.Detection, len(detected))
	copy(sorted, detected)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Sample) > len(sorted[j].Sample)
	})

	masked := text
	for _, d := range sorted {
		masked = strings.ReplaceAll(masked, d.Sample, d.Masked)
	}

	return &engine.MaskResult{
		OriginalText: text,
		MaskedText:   masked,
		DetectedPII:  detected,
		Metadata: engine.MaskMetadata{
			ProcessingTimeMs: uint64(time.Since(start).Milliseconds()),
			FieldsProcessed:  1,
			PIIItemsFound:    uint32(len(sorted)),
		},
	}, nil
}
