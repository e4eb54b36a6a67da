// Package sidecar binds the PII engine as a child process spoken to over
// stdio. Requests and responses are line-delimited JSON matched by id, so the
// binding survives out-of-order replies even though the dispatcher only ever
// has one call in flight.
package sidecar

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/datacloak/workbench/pkg/engine"
)

// ErrNotRunning is returned for calls made before Initialize or after the
// child process has exited.
var ErrNotRunning = errors.New("sidecar: engine process is not running")

// Config holds sidecar construction parameters.
type Config struct {
	// Command is the engine binary and its arguments.
	Command []string
	// WorkDir is the child's working directory. Optional.
	WorkDir string
	// Env entries are appended to the inherited environment. Optional.
	Env []string
	// CallTimeout bounds a single engine call. Defaults to 30s.
	CallTimeout time.Duration
	// StopTimeout bounds graceful shutdown before the process is killed.
	// Defaults to 5s.
	StopTimeout time.Duration
}

// Adapter runs the engine as a managed child process. It satisfies
// engine.Adapter.
type Adapter struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	pending map[string]chan response
	running bool
	version string
	done    chan struct{}
}

var _ engine.Adapter = (*Adapter)(nil)

// New constructs the sidecar adapter. The logger may be nil, in which case
// slog.Default() is used.
func New(cfg Config, logger *slog.Logger) (*Adapter, error) {
	if len(cfg.Command) == 0 {
		return nil, errors.New("sidecar: command cannot be empty")
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Adapter{
		cfg:     cfg,
		logger:  logger,
		pending: make(map[string]chan response),
	}, nil
}

// Initialize spawns the engine process and performs a version handshake.
func (a *Adapter) Initialize(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return errors.New("sidecar: engine process is already running")
	}

	cmd := exec.Command(a.cfg.Command[0], a.cfg.Command[1:]...)
	if a.cfg.WorkDir != "" {
		cmd.Dir = a.cfg.WorkDir
	}
	cmd.Env = append(os.Environ(), a.cfg.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		a.mu.Unlock()
		return fmt.Errorf("sidecar: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		a.mu.Unlock()
		return fmt.Errorf("sidecar: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		a.mu.Unlock()
		return fmt.Errorf("sidecar: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		a.mu.Unlock()
		return fmt.Errorf("sidecar: start engine process: %w", err)
	}

	a.cmd = cmd
	a.stdin = stdin
	a.running = true
	a.done = make(chan struct{})
	a.mu.Unlock()

	a.logger.Info("Engine process started", "pid", cmd.Process.Pid, "command", a.cfg.Command[0])

	go a.readLoop(stdout)
	go a.logStderr(stderr)
	go a.monitor()

	version, err := a.call(ctx, request{Op: opVersion})
	if err != nil {
		a.Destroy()
		return fmt.Errorf("sidecar: version handshake: %w", err)
	}

	var v string
	if err := json.Unmarshal(version, &v); err != nil {
		a.Destroy()
		return fmt.Errorf("sidecar: version handshake: %w", err)
	}

	a.mu.Lock()
	a.version = v
	a.mu.Unlock()
	return nil
}

// DetectPII forwards a detection call to the engine process.
func (a *Adapter) DetectPII(ctx context.Context, text string) ([]engine.Detection, error) {
	raw, err := a.call(ctx, request{Op: opDetectPII, Text: text})
	if err != nil {
		return nil, err
	}
	var results []engine.Detection
	if err := json.Unmarshal(raw, &results); err != nil {
		return nil, fmt.Errorf("sidecar: decode detect_pii result: %w", err)
	}
	return results, nil
}

// MaskText forwards a masking call to the engine process.
func (a *Adapter) MaskText(ctx context.Context, text string) (*engine.MaskResult, error) {
	raw, err := a.call(ctx, request{Op: opMaskText, Text: text})
	if err != nil {
		return nil, err
	}
	var result engine.MaskResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("sidecar: decode mask_text result: %w", err)
	}
	return &result, nil
}

// AuditSecurity forwards an audit call to the engine process.
func (a *Adapter) AuditSecurity(ctx context.Context, path string) (*engine.AuditResult, error) {
	raw, err := a.call(ctx, request{Op: opAuditSecurity, Path: path})
	if err != nil {
		return nil, err
	}
	var result engine.AuditResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("sidecar: decode audit_security result: %w", err)
	}
	return &result, nil
}

// Available reports whether the engine process is running.
func (a *Adapter) Available() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// Version returns the version reported during the handshake.
func (a *Adapter) Version() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.version
}

// Destroy closes the engine's stdin and waits for it to exit, killing it
// after StopTimeout. Safe to call when the process never started.
func (a *Adapter) Destroy() error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	stdin := a.stdin
	cmd := a.cmd
	done := a.done
	a.mu.Unlock()

	// Closing stdin is the shutdown signal; a well-behaved engine exits on EOF.
	if stdin != nil {
		stdin.Close()
	}

	select {
	case <-done:
		return nil
	case <-time.After(a.cfg.StopTimeout):
		a.logger.Warn("Engine process did not exit, killing", "pid", cmd.Process.Pid)
		if err := cmd.Process.Kill(); err != nil {
			return fmt.Errorf("sidecar: kill engine process: %w", err)
		}
		<-done
		return nil
	}
}

// call sends one request and waits for its matching response.
func (a *Adapter) call(ctx context.Context, req request) (json.RawMessage, error) {
	req.ID = uuid.New().String()

	line, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("sidecar: encode request: %w", err)
	}
	line = append(line, '\n')

	ch := make(chan response, 1)

	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil, ErrNotRunning
	}
	a.pending[req.ID] = ch
	stdin := a.stdin
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		delete(a.pending, req.ID)
		a.mu.Unlock()
	}()

	if _, err := stdin.Write(line); err != nil {
		return nil, fmt.Errorf("sidecar: write request: %w", err)
	}

	timer := time.NewTimer(a.cfg.CallTimeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		if !resp.OK {
			return nil, fmt.Errorf("sidecar: engine error: %s", resp.Error)
		}
		return resp.Result, nil
	case <-timer.C:
		return nil, fmt.Errorf("sidecar: engine call timed out after %s", a.cfg.CallTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// readLoop routes responses from the engine's stdout to their pending calls.
func (a *Adapter) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var resp response
		if err := json.Unmarshal(line, &resp); err != nil {
			a.logger.Warn("Discarding unparseable engine output", "error", err)
			continue
		}

		a.mu.Lock()
		ch, ok := a.pending[resp.ID]
		a.mu.Unlock()
		if !ok {
			a.logger.Warn("Engine response for unknown request", "id", resp.ID)
			continue
		}
		// Buffered; a second delivery for the same id is dropped.
		select {
		case ch <- resp:
		default:
		}
	}
}

func (a *Adapter) logStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		a.logger.Debug("engine stderr", "line", scanner.Text())
	}
}

// monitor reaps the process and fails any calls still pending when it exits.
func (a *Adapter) monitor() {
	err := a.cmd.Wait()

	a.mu.Lock()
	a.running = false
	pending := a.pending
	a.pending = make(map[string]chan response)
	close(a.done)
	a.mu.Unlock()

	for id, ch := range pending {
		select {
		case ch <- response{ID: id, OK: false, Error: "engine process exited"}:
		default:
		}
	}

	if err != nil {
		a.logger.Warn("Engine process exited with error", "error", err)
	} else {
		a.logger.Info("Engine process exited")
	}
}
