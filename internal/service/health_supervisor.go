package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mcpgw/gateway/internal/adapter/outbound/mcp"
	"github.com/mcpgw/gateway/internal/domain/health"
	"github.com/mcpgw/gateway/internal/domain/registry"
)

// HandshakeFunc performs an MCP handshake against one service, returning
// its current tool inventory. Implemented by mcp.HandshakeClient;
// abstracted here so tests can substitute a fake.
type HandshakeFunc func(ctx context.Context, svc registry.ServiceRecord) (*mcp.HandshakeResult, error)

// InventoryFunc is invoked whenever a handshake returns a fresh tool
// inventory, feeding the Tool Index's coalesced rebuild.
// serverName is carried alongside path since the Tool Index keys its
// rebuild tracking by path but reports results by display name.
type InventoryFunc func(path, serverName string, tools []health.ToolSnapshot)

// HealthSupervisor periodically re-probes every registered service with a
// full MCP handshake and maintains its health.Record, using the same
// exponential-backoff/stability-reset idiom as the upstream connection
// manager it is grounded on, adapted from "retry a broken connection" to
// "space out probes of a service that keeps failing".
type HealthSupervisor struct {
	registry registry.Store
	logger   *slog.Logger

	period  time.Duration
	timeout time.Duration

	backoffBase       time.Duration
	backoffCap        time.Duration
	stabilityStreak   int
	onInventory       InventoryFunc
	handshake         HandshakeFunc

	mu      sync.RWMutex
	records map[string]*health.Record
	nextRun map[string]time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// HealthSupervisorOption configures a HealthSupervisor.
type HealthSupervisorOption func(*HealthSupervisor)

// WithInventoryHook registers a callback fired with each fresh handshake
// result, used to drive the Tool Index's coalesced rebuild.
func WithInventoryHook(fn InventoryFunc) HealthSupervisorOption {
	return func(hs *HealthSupervisor) { hs.onInventory = fn }
}

// WithHandshakeFunc overrides the default HTTP-handshake client, for tests.
func WithHandshakeFunc(fn HandshakeFunc) HealthSupervisorOption {
	return func(hs *HealthSupervisor) { hs.handshake = fn }
}

// NewHealthSupervisor creates a HealthSupervisor probing every service in
// reg every period, bounding each handshake attempt by timeout.
func NewHealthSupervisor(reg registry.Store, period, timeout time.Duration, logger *slog.Logger, opts ...HealthSupervisorOption) *HealthSupervisor {
	ctx, cancel := context.WithCancel(context.Background())
	hs := &HealthSupervisor{
		registry:        reg,
		logger:          logger,
		period:          period,
		timeout:         timeout,
		backoffBase:     period,
		backoffCap:      10 * period,
		stabilityStreak: 3,
		records:         make(map[string]*health.Record),
		nextRun:         make(map[string]time.Time),
		ctx:             ctx,
		cancel:          cancel,
	}
	hs.handshake = hs.defaultHandshake
	for _, opt := range opts {
		opt(hs)
	}
	return hs
}

func (hs *HealthSupervisor) defaultHandshake(ctx context.Context, svc registry.ServiceRecord) (*mcp.HandshakeResult, error) {
	headers := make(map[string]string, len(svc.Headers))
	for _, h := range svc.Headers {
		headers[h.Name] = h.Value
	}
	client := mcp.NewHandshakeClient(svc.ProxyPassURL, headers, hs.timeout)
	return client.Handshake(ctx)
}

// Start runs the probe loop until ctx is cancelled or Stop is called.
func (hs *HealthSupervisor) Start(ctx context.Context) {
	go hs.loop(ctx)
}

// Stop halts the probe loop.
func (hs *HealthSupervisor) Stop() {
	hs.cancel()
}

func (hs *HealthSupervisor) loop(ctx context.Context) {
	ticker := time.NewTicker(hs.period)
	defer ticker.Stop()

	hs.probeAll(ctx)
	for {
		select {
		case <-ticker.C:
			hs.probeAll(ctx)
		case <-ctx.Done():
			return
		case <-hs.ctx.Done():
			return
		}
	}
}

// probeAll runs a handshake against every enabled service whose
// next-run time has arrived, one goroutine per due service, and waits
// for all of them with a wait group; the number in flight is not capped.
func (hs *HealthSupervisor) probeAll(ctx context.Context) {
	services, err := hs.registry.List(ctx)
	if err != nil {
		hs.logger.Error("health supervisor: list services failed", "error", err)
		return
	}

	now := time.Now()
	var wg sync.WaitGroup
	for _, svc := range services {
		if !svc.Enabled {
			continue
		}
		hs.mu.RLock()
		due := hs.nextRun[svc.Path]
		hs.mu.RUnlock()
		if !due.IsZero() && now.Before(due) {
			continue
		}

		wg.Add(1)
		go func(svc registry.ServiceRecord) {
			defer wg.Done()
			hs.ProbeOne(ctx, svc)
		}(svc)
	}
	wg.Wait()
}

// ProbeOne runs a single handshake against svc and updates its record,
// usable both from the periodic loop and for an admin-triggered
// immediate recheck.
func (hs *HealthSupervisor) ProbeOne(ctx context.Context, svc registry.ServiceRecord) {
	probeCtx, cancel := context.WithTimeout(ctx, hs.timeout)
	defer cancel()

	result, err := hs.handshake(probeCtx, svc)

	hs.mu.Lock()
	rec, ok := hs.records[svc.Path]
	if !ok {
		rec = &health.Record{Path: svc.Path, Status: health.StatusUnknown}
		hs.records[svc.Path] = rec
	}

	switch {
	case err == nil:
		rec.Status = health.StatusHealthy
		rec.LastError = ""
		rec.ConsecutiveOK++
		rec.ConsecutiveKO = 0
		rec.RetryCount = 0
		rec.Tools = toolSnapshots(result)
	case isAuthError(err):
		rec.Status = health.StatusAuthExpired
		rec.LastError = err.Error()
		rec.ConsecutiveOK = 0
		rec.ConsecutiveKO++
		rec.RetryCount++
	default:
		rec.Status = health.StatusUnhealthy
		rec.LastError = err.Error()
		rec.ConsecutiveOK = 0
		rec.ConsecutiveKO++
		rec.RetryCount++
	}
	rec.LastChecked = time.Now()

	hs.nextRun[svc.Path] = time.Now().Add(hs.backoffDelay(rec))
	tools := append([]health.ToolSnapshot(nil), rec.Tools...)
	inventoryReady := err == nil
	hs.mu.Unlock()

	if inventoryReady && hs.onInventory != nil {
		hs.onInventory(svc.Path, svc.ServerName, tools)
	}
	if err != nil {
		hs.logger.Warn("health probe failed", "path", svc.Path, "error", err)
	}
}

// backoffDelay spaces out probes of a failing service (min(base*2^k,
// cap)) and collapses back to the base period as soon as a probe
// succeeds, since a success resets ConsecutiveKO to zero.
func (hs *HealthSupervisor) backoffDelay(rec *health.Record) time.Duration {
	if rec.ConsecutiveKO == 0 {
		return hs.period
	}
	if rec.ConsecutiveOK >= hs.stabilityStreak {
		return hs.period
	}
	delay := hs.backoffBase
	for i := 0; i < rec.ConsecutiveKO; i++ {
		delay *= 2
		if delay > hs.backoffCap {
			return hs.backoffCap
		}
	}
	return delay
}

// Get returns the current health record for a service path.
func (hs *HealthSupervisor) Get(path string) (health.Record, bool) {
	hs.mu.RLock()
	defer hs.mu.RUnlock()
	rec, ok := hs.records[path]
	if !ok {
		return health.Record{}, false
	}
	return *rec, true
}

// All returns a snapshot of every tracked health record.
func (hs *HealthSupervisor) All() map[string]health.Record {
	hs.mu.RLock()
	defer hs.mu.RUnlock()
	out := make(map[string]health.Record, len(hs.records))
	for k, v := range hs.records {
		out[k] = *v
	}
	return out
}

func toolSnapshots(r *mcp.HandshakeResult) []health.ToolSnapshot {
	if r == nil {
		return nil
	}
	out := make([]health.ToolSnapshot, len(r.Tools))
	for i, t := range r.Tools {
		out[i] = health.ToolSnapshot{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema}
	}
	return out
}

func isAuthError(err error) bool {
	_, ok := err.(*mcp.AuthError)
	return ok
}
