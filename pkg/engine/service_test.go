package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datacloak/workbench/pkg/dispatch"
	"github.com/datacloak/workbench/pkg/engine"
	"github.com/datacloak/workbench/pkg/storage"
)

type fakeAdapter struct {
	initialized bool
	destroyed   bool
	detections  []engine.Detection
	failDetect  error
}

func (f *fakeAdapter) Initialize(context.Context) error {
	f.initialized = true
	return nil
}

func (f *fakeAdapter) DetectPII(context.Context, string) ([]engine.Detection, error) {
	if f.failDetect != nil {
		return nil, f.failDetect
	}
	return f.detections, nil
}

func (f *fakeAdapter) MaskText(_ context.Context, text string) (*engine.MaskResult, error) {
	return &engine.MaskResult{
		OriginalText: text,
		MaskedText:   "***",
		DetectedPII:  f.detections,
		Metadata: engine.MaskMetadata{
			FieldsProcessed: 1,
			PIIItemsFound:   uint32(len(f.detections)),
		},
	}, nil
}

func (f *fakeAdapter) AuditSecurity(_ context.Context, path string) (*engine.AuditResult, error) {
	return &engine.AuditResult{Path: path, FilesScanned: 1, Violations: 3}, nil
}

func (f *fakeAdapter) Available() bool { return f.initialized && !f.destroyed }
func (f *fakeAdapter) Version() string { return "1.0.0" }

func (f *fakeAdapter) Destroy() error {
	f.destroyed = true
	return nil
}

func newTestService(t *testing.T, adapter engine.Adapter, vault storage.TokenVault) (*engine.Service, *storage.AuditStore) {
	t.Helper()

	lazy := storage.NewLazyPool(nil)
	require.NoError(t, lazy.Init(storage.Config{
		Path:           ":memory:",
		MaxConnections: 1,
		AcquireTimeout: time.Second,
	}))
	t.Cleanup(func() { _ = lazy.Close() })

	audit := storage.NewAuditStore(lazy)
	disp := dispatch.New(dispatch.Config{MinInterval: time.Millisecond}, nil)

	svc, err := engine.NewService(adapter, disp, engine.ServiceOptions{
		Binding: "native",
		Vault:   vault,
		Audit:   audit,
	})
	require.NoError(t, err)
	require.NoError(t, svc.Initialize(context.Background()))
	return svc, audit
}

func TestServiceDetectRecordsAuditEvent(t *testing.T) {
	adapter := &fakeAdapter{detections: []engine.Detection{
		{FieldName: "text", PIIType: "email", Sample: "j@test.com", Masked: "j***@test.com", Confidence: 0.95},
	}}
	svc, audit := newTestService(t, adapter, nil)

	ctx := context.Background()
	results, err := svc.DetectPII(ctx, "contact j@test.com")
	require.NoError(t, err)
	require.Len(t, results, 1)

	events, err := audit.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, engine.OpDetectPII, events[0].Operation)
	assert.Equal(t, 1, events[0].Findings)
}

func TestServiceMaskTokenizesIntoVault(t *testing.T) {
	adapter := &fakeAdapter{detections: []engine.Detection{
		{FieldName: "text", PIIType: "email", Sample: "j@test.com"},
		{FieldName: "text", PIIType: "ssn", Sample: "123-45-6789"},
	}}
	vault := storage.NewMemoryTokenVault()
	svc, _ := newTestService(t, adapter, vault)

	result, err := svc.MaskText(context.Background(), "some text")
	require.NoError(t, err)
	assert.Equal(t, uint32(2), result.Metadata.PIIItemsFound)
	assert.Equal(t, 2, vault.Len())
}

func TestServiceAuditSecurity(t *testing.T) {
	adapter := &fakeAdapter{}
	svc, audit := newTestService(t, adapter, nil)

	ctx := context.Background()
	result, err := svc.AuditSecurity(ctx, "/tmp/project")
	require.NoError(t, err)
	assert.Equal(t, 3, result.Violations)

	events, err := audit.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, engine.OpAuditSecurity, events[0].Operation)
	assert.Equal(t, "/tmp/project", events[0].Target)
	assert.Equal(t, 3, events[0].Findings)
}

func TestServiceErrorNotRecorded(t *testing.T) {
	sentinel := errors.New("engine exploded")
	adapter := &fakeAdapter{failDetect: sentinel}
	svc, audit := newTestService(t, adapter, nil)

	ctx := context.Background()
	_, err := svc.DetectPII(ctx, "text")
	require.ErrorIs(t, err, sentinel)

	events, err := audit.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestServiceLifecyclePassthrough(t *testing.T) {
	adapter := &fakeAdapter{}
	svc, _ := newTestService(t, adapter, nil)

	assert.True(t, svc.Available())
	assert.Equal(t, "1.0.0", svc.Version())
	require.NoError(t, svc.Destroy())
	assert.False(t, svc.Available())
}
