package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/datacloak/workbench/pkg/engine/native"
)

// rulesFile is the on-disk shape of a custom detection rules file.
type rulesFile struct {
	Rules []native.Rule `yaml:"rules"`
}

// RulesProvider watches a YAML rules file and notifies subscribers when the
// rule set changes. Subscribers typically pipe updates into a detection
// registry so new rules take effect without a restart.
type RulesProvider struct {
	path        string
	logger      *slog.Logger
	mu          sync.RWMutex
	rules       []native.Rule
	subscribers []chan []native.Rule
	closed      bool
	watcher     *fsnotify.Watcher
	cancel      context.CancelFunc
}

// NewRulesProvider creates a provider watching the specified file.
func NewRulesProvider(path string, logger *slog.Logger) (*RulesProvider, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	p := &RulesProvider{
		path:    absPath,
		logger:  logger,
		watcher: watcher,
		cancel:  cancel,
	}

	// If the file doesn't exist yet, start with no rules but still watch.
	if err := p.load(); err != nil {
		logger.Warn("Initial rules load failed", "path", absPath, "error", err)
	}

	// Watch the directory rather than the file so editors that replace the
	// file (rename-over-write) don't detach the watch.
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch directory: %w", err)
	}

	go p.watchLoop(ctx)

	return p, nil
}

// Current returns the current rule set.
func (p *RulesProvider) Current() []native.Rule {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.rules
}

// Subscribe returns a channel that receives rule set updates. The current
// state is delivered immediately. The channel is closed when the provider
// closes, so range loops over it terminate on shutdown.
func (p *RulesProvider) Subscribe() <-chan []native.Rule {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan []native.Rule, 1)
	if p.closed {
		close(ch)
		return ch
	}
	p.subscribers = append(p.subscribers, ch)
	ch <- p.rules
	return ch
}

// Close stops the watcher and closes all subscriber channels. It is safe to
// call more than once.
func (p *RulesProvider) Close() error {
	p.cancel()

	p.mu.Lock()
	if !p.closed {
		p.closed = true
		for _, ch := range p.subscribers {
			close(ch)
		}
		p.subscribers = nil
	}
	p.mu.Unlock()

	return p.watcher.Close()
}

func (p *RulesProvider) watchLoop(ctx context.Context) {
	var debounceTimer *time.Timer
	debounceDuration := 100 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}

			if filepath.Clean(event.Name) != p.path {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Chmod) {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDuration, func() {
					if err := p.load(); err != nil {
						p.logger.Error("Failed to reload rules", "path", p.path, "error", err)
					} else {
						p.logger.Info("Detection rules reloaded", "path", p.path, "rules", len(p.Current()))
					}
				})
			}
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.Error("Rules watcher error", "error", err)
		}
	}
}

func (p *RulesProvider) load() error {
	// #nosec G304 -- File path is configured at startup
	data, err := os.ReadFile(p.path)
	if err != nil {
		return err
	}

	var parsed rulesFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse rules file: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.rules = parsed.Rules

	// Non-blocking sends, so holding the lock here is fine and keeps Close
	// from closing a channel mid-notify.
	for _, ch := range p.subscribers {
		select {
		case ch <- parsed.Rules:
		default:
			// Skip if channel is full (slow consumer)
		}
	}

	return nil
}
