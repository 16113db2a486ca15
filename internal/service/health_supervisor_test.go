package service

import (
	"context"
	"errors"
	"log/slog"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mcpgw/gateway/internal/adapter/outbound/mcp"
	"github.com/mcpgw/gateway/internal/domain/health"
	"github.com/mcpgw/gateway/internal/domain/registry"
)

type fakeRegistry struct {
	records []registry.ServiceRecord
}

func (f *fakeRegistry) List(ctx context.Context) ([]registry.ServiceRecord, error) {
	return f.records, nil
}
func (f *fakeRegistry) Get(ctx context.Context, path string) (*registry.ServiceRecord, error) {
	for _, r := range f.records {
		if r.Path == path {
			return &r, nil
		}
	}
	return nil, registry.ErrServiceNotFound
}
func (f *fakeRegistry) Add(ctx context.Context, r *registry.ServiceRecord) error    { return nil }
func (f *fakeRegistry) Update(ctx context.Context, r *registry.ServiceRecord) error { return nil }
func (f *fakeRegistry) Delete(ctx context.Context, path string) error              { return nil }

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHealthSupervisor_ProbeOne_Success(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistry{records: []registry.ServiceRecord{{Path: "/svc", Enabled: true}}}
	var invCalled int32
	hs := NewHealthSupervisor(reg, time.Minute, time.Second, silentLogger(),
		WithHandshakeFunc(func(ctx context.Context, svc registry.ServiceRecord) (*mcp.HandshakeResult, error) {
			return &mcp.HandshakeResult{Tools: []mcp.HandshakeTool{{Name: "t1"}}}, nil
		}),
		WithInventoryHook(func(path, serverName string, tools []health.ToolSnapshot) {
			atomic.AddInt32(&invCalled, 1)
		}),
	)

	hs.ProbeOne(context.Background(), reg.records[0])

	rec, ok := hs.Get("/svc")
	if !ok {
		t.Fatal("expected a health record")
	}
	if rec.Status != health.StatusHealthy {
		t.Errorf("Status = %v, want healthy", rec.Status)
	}
	if rec.ConsecutiveOK != 1 {
		t.Errorf("ConsecutiveOK = %d, want 1", rec.ConsecutiveOK)
	}
	if atomic.LoadInt32(&invCalled) != 1 {
		t.Error("expected inventory hook to fire once")
	}
}

func TestHealthSupervisor_ProbeOne_AuthExpired(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistry{records: []registry.ServiceRecord{{Path: "/svc", Enabled: true}}}
	hs := NewHealthSupervisor(reg, time.Minute, time.Second, silentLogger(),
		WithHandshakeFunc(func(ctx context.Context, svc registry.ServiceRecord) (*mcp.HandshakeResult, error) {
			return nil, &mcp.AuthError{StatusCode: 401}
		}),
	)

	hs.ProbeOne(context.Background(), reg.records[0])

	rec, _ := hs.Get("/svc")
	if rec.Status != health.StatusAuthExpired {
		t.Errorf("Status = %v, want healthy-auth-expired", rec.Status)
	}
}

func TestHealthSupervisor_ProbeOne_TransientFailure(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistry{records: []registry.ServiceRecord{{Path: "/svc", Enabled: true}}}
	hs := NewHealthSupervisor(reg, time.Minute, time.Second, silentLogger(),
		WithHandshakeFunc(func(ctx context.Context, svc registry.ServiceRecord) (*mcp.HandshakeResult, error) {
			return nil, errors.New("connection refused")
		}),
	)

	hs.ProbeOne(context.Background(), reg.records[0])

	rec, _ := hs.Get("/svc")
	if rec.Status != health.StatusUnhealthy {
		t.Errorf("Status = %v, want unhealthy", rec.Status)
	}
	if rec.ConsecutiveKO != 1 {
		t.Errorf("ConsecutiveKO = %d, want 1", rec.ConsecutiveKO)
	}
}

func TestHealthSupervisor_BackoffGrowsThenResets(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistry{records: []registry.ServiceRecord{{Path: "/svc", Enabled: true}}}
	fail := true
	hs := NewHealthSupervisor(reg, time.Second, time.Second, silentLogger(),
		WithHandshakeFunc(func(ctx context.Context, svc registry.ServiceRecord) (*mcp.HandshakeResult, error) {
			if fail {
				return nil, errors.New("down")
			}
			return &mcp.HandshakeResult{}, nil
		}),
	)

	hs.ProbeOne(context.Background(), reg.records[0])
	rec, _ := hs.Get("/svc")
	first := hs.backoffDelay(&rec)

	hs.ProbeOne(context.Background(), reg.records[0])
	rec2, _ := hs.Get("/svc")
	second := hs.backoffDelay(&rec2)

	if second <= first {
		t.Errorf("expected backoff to grow: first=%v second=%v", first, second)
	}

	fail = false
	for i := 0; i < hs.stabilityStreak; i++ {
		hs.ProbeOne(context.Background(), reg.records[0])
	}
	rec3, _ := hs.Get("/svc")
	if rec3.Status != health.StatusHealthy {
		t.Fatalf("expected healthy after recovery, got %v", rec3.Status)
	}
	if hs.backoffDelay(&rec3) != hs.period {
		t.Error("expected backoff reset to base period after stability streak")
	}
}
