package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// TokenVault keeps originals of masked values recoverable. The masking
// pipeline tokenizes each detected sample before the mask leaves the engine
// boundary, so an operator with vault access can trace a finding back to the
// raw value without it ever appearing in logs or results.
type TokenVault interface {
	// Tokenize stores value and returns an opaque token for it.
	Tokenize(ctx context.Context, value, piiType string) (string, error)

	// Detokenize returns the original value for a token.
	Detokenize(ctx context.Context, token string) (string, error)
}

type vaultEntry struct {
	value   string
	piiType string
}

// MemoryTokenVault is the in-process TokenVault. Contents are lost on
// restart, which is acceptable for the default deployment; a durable vault
// can replace it behind the same interface.
type MemoryTokenVault struct {
	mu      sync.RWMutex
	entries map[string]vaultEntry
}

// NewMemoryTokenVault creates an empty in-memory vault.
func NewMemoryTokenVault() *MemoryTokenVault {
	return &MemoryTokenVault{entries: make(map[string]vaultEntry)}
}

// Tokenize stores the value and returns its token.
func (v *MemoryTokenVault) Tokenize(_ context.Context, value, piiType string) (string, error) {
	token := fmt.Sprintf("[TOKEN::%s]", uuid.New().String())

	v.mu.Lock()
	v.entries[token] = vaultEntry{value: value, piiType: piiType}
	v.mu.Unlock()
	return token, nil
}

// Detokenize returns the original value for token.
func (v *MemoryTokenVault) Detokenize(_ context.Context, token string) (string, error) {
	v.mu.RLock()
	entry, ok := v.entries[token]
	v.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("storage: token not found: %s", token)
	}
	return entry.value, nil
}

// Len reports how many tokens the vault holds.
func (v *MemoryTokenVault) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.entries)
}
