package native

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/datacloak/workbench/pkg/engine"
)

// Rule declares a caller-defined detection rule layered on top of the
// built-in PII classes.
type Rule struct {
	// Name identifies the rule and becomes the PIIType of its detections.
	Name string `yaml:"name"`
	// Pattern is the detection regex.
	Pattern string `yaml:"pattern"`
	// Replacement is the mask emitted for matches. Defaults to "***".
	Replacement string `yaml:"replacement"`
	// Confidence assigned to matches. Defaults to 0.85.
	Confidence float64 `yaml:"confidence"`
}

type compiledRule struct {
	name        string
	expr        *regexp.Regexp
	replacement string
	confidence  float64
}

// Registry is a threadsafe catalog of custom detection rules. Rules can be
// replaced at runtime, which is how config hot-reload reaches the engine.
type Registry struct {
	mu    sync.RWMutex
	rules []compiledRule
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register inserts or replaces a rule, keyed by name.
func (r *Registry) Register(rule Rule) error {
	name := strings.TrimSpace(rule.Name)
	if name == "" {
		return fmt.Errorf("native: rule name is required")
	}
	if strings.TrimSpace(rule.Pattern) == "" {
		return fmt.Errorf("native: rule %s missing pattern", name)
	}

	expr, err := regexp.Compile(rule.Pattern)
	if err != nil {
		return fmt.Errorf("native: invalid pattern for rule %s: %w", name, err)
	}

	replacement := rule.Replacement
	if replacement == "" {
		replacement = "***"
	}
	confidence := rule.Confidence
	if confidence <= 0 || confidence > 1 {
		confidence = 0.85
	}

	compiled := compiledRule{
		name:        name,
		expr:        expr,
		replacement: replacement,
		confidence:  confidence,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.rules {
		if existing.name == compiled.name {
			r.rules[i] = compiled
			return nil
		}
	}
	r.rules = append(r.rules, compiled)
	return nil
}

// ReplaceAll atomically swaps the full rule set.
func (r *Registry) ReplaceAll(rules []Rule) error {
	fresh := &Registry{}
	for _, rule := range rules {
		if err := fresh.Register(rule); err != nil {
			return err
		}
	}

	r.mu.Lock()
	r.rules = fresh.rules
	r.mu.Unlock()
	return nil
}

// Names lists the registered rule names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.rules))
	for _, rule := range r.rules {
		names = append(names, rule.name)
	}
	return names
}

// scan runs every registered rule against text.
func (r *Registry) scan(text string) []engine.Detection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []engine.Detection
	for _, rule := range r.rules {
		for _, loc := range rule.expr.FindAllStringIndex(text, -1) {
			results = append(results, engine.Detection{
				FieldName:  "text",
				PIIType:    rule.name,
				Confidence: rule.confidence,
				Sample:     text[loc[0]:loc[1]],
				Masked:     rule.replacement,
			})
		}
	}
	return results
}
