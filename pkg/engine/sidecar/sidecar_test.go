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
	"strings"
	"testing"
	"time"

	"github.com/datacloak/workbench/pkg/engine"
)

// TestHelperProcess is not a real test: when re-executed with the marker env
// var set, it plays the role of the engine sidecar, reading line-delimited
// JSON requests from stdin and answering on stdout.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("SIDECAR_HELPER_PROCESS") != "1" {
		return
	}
	defer os.Exit(0)

	out := bufio.NewWriter(os.Stdout)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		var req request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			continue
		}

		resp := response{ID: req.ID, OK: true}
		switch req.Op {
		case opVersion:
			resp.Result = mustMarshal(`"2.3.0"`)
		case opDetectPII:
			if strings.Contains(req.Text, "explode") {
				resp.OK = false
				resp.Error = "synthetic engine failure"
				break
			}
			detections := []engine.Detection{{
				FieldName:  "text",
				PIIType:    "email",
				Confidence: 0.95,
				Sample:     "a@b.co",
				Masked:     "a***@b.co",
			}}
			raw, _ := json.Marshal(detections)
			resp.Result = raw
		case opMaskText:
			result := engine.MaskResult{
				OriginalText: req.Text,
				MaskedText:   "[MASKED]",
				Metadata:     engine.MaskMetadata{FieldsProcessed: 1},
			}
			raw, _ := json.Marshal(result)
			resp.Result = raw
		case opAuditSecurity:
			result := engine.AuditResult{Path: req.Path, FilesScanned: 3}
			raw, _ := json.Marshal(result)
			resp.Result = raw
		default:
			resp.OK = false
			resp.Error = fmt.Sprintf("unknown op %q", req.Op)
		}

		line, _ := json.Marshal(resp)
		out.Write(line)
		out.WriteByte('\n')
		out.Flush()
	}
}

func mustMarshal(raw string) json.RawMessage {
	return json.RawMessage(raw)
}

func helperAdapter(t *testing.T) *Adapter {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := New(Config{
		Command:     []string{os.Args[0], "-test.run=TestHelperProcess", "--"},
		Env:         []string{"SIDECAR_HELPER_PROCESS=1"},
		CallTimeout: 5 * time.Second,
		StopTimeout: 2 * time.Second,
	}, logger)
	if err != nil {
		t.Fatalf("failed to create adapter: %v", err)
	}
	return a
}

func TestSidecarRoundTrip(t *testing.T) {
	a := helperAdapter(t)

	if err := a.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	defer a.Destroy()

	if !a.Available() {
		t.Fatalf("adapter should be available after initialize")
	}
	if got := a.Version(); got != "2.3.0" {
		t.Fatalf("version handshake mismatch: %q", got)
	}

	detections, err := a.DetectPII(context.Background(), "mail a@b.co")
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}
	if len(detections) != 1 || detections[0].PIIType != "email" {
		t.Fatalf("unexpected detections: %+v", detections)
	}

	masked, err := a.MaskText(context.Background(), "secret text")
	if err != nil {
		t.Fatalf("mask failed: %v", err)
	}
	if masked.MaskedText != "[MASKED]" || masked.OriginalText != "secret text" {
		t.Fatalf("unexpected mask result: %+v", masked)
	}

	audit, err := a.AuditSecurity(context.Background(), "/tmp/data")
	if err != nil {
		t.Fatalf("audit failed: %v", err)
	}
	if audit.Path != "/tmp/data" || audit.FilesScanned != 3 {
		t.Fatalf("unexpected audit result: %+v", audit)
	}
}

func TestSidecarEngineErrorIsForwarded(t *testing.T) {
	a := helperAdapter(t)

	if err := a.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	defer a.Destroy()

	_, err := a.DetectPII(context.Background(), "please explode")
	if err == nil || !strings.Contains(err.Error(), "synthetic engine failure") {
		t.Fatalf("expected forwarded engine error, got %v", err)
	}

	// The process is still healthy for the next call.
	if _, err := a.DetectPII(context.Background(), "mail a@b.co"); err != nil {
		t.Fatalf("adapter unusable after engine error: %v", err)
	}
}

func TestSidecarCallBeforeInitialize(t *testing.T) {
	a := helperAdapter(t)

	if _, err := a.DetectPII(context.Background(), "x"); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
	if a.Available() {
		t.Fatalf("adapter should not be available before initialize")
	}
}

func TestSidecarDestroyIsIdempotent(t *testing.T) {
	a := helperAdapter(t)

	if err := a.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	if err := a.Destroy(); err != nil {
		t.Fatalf("destroy failed: %v", err)
	}
	if err := a.Destroy(); err != nil {
		t.Fatalf("second destroy should be a no-op, got %v", err)
	}
	if a.Available() {
		t.Fatalf("adapter still available after destroy")
	}

	if _, err := a.DetectPII(context.Background(), "x"); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning after destroy, got %v", err)
	}
}

func TestSidecarRejectsEmptyCommand(t *testing.T) {
	if _, err := New(Config{}, nil); err == nil {
		t.Fatalf("expected error for empty command")
	}
}
