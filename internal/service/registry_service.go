package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mcpgw/gateway/internal/domain/events"
	"github.com/mcpgw/gateway/internal/domain/registry"
)

// RegistryService provides CRUD operations on ServiceRecords, keeping
// the on-disk registry.Store, the derived ProxyConfigFragment, and the
// event bus in sync: validate, persist, regenerate the routing
// fragment the front reverse proxy reloads from, then publish.
type RegistryService struct {
	store        registry.Store
	bus          *events.Bus
	logger       *slog.Logger
	fragmentPath string
	reloadCmd    string

	mu sync.Mutex // serializes fragment regeneration
}

// NewRegistryService creates a RegistryService. fragmentPath and
// reloadCmd come from ReverseProxyConfig; reloadCmd may be empty to
// disable the reload signal.
func NewRegistryService(store registry.Store, bus *events.Bus, fragmentPath, reloadCmd string, logger *slog.Logger) *RegistryService {
	return &RegistryService{
		store:        store,
		bus:          bus,
		logger:       logger,
		fragmentPath: fragmentPath,
		reloadCmd:    reloadCmd,
	}
}

// List returns all registered services.
func (s *RegistryService) List(ctx context.Context) ([]registry.ServiceRecord, error) {
	return s.store.List(ctx)
}

// Get returns a single service by path.
func (s *RegistryService) Get(ctx context.Context, path string) (*registry.ServiceRecord, error) {
	return s.store.Get(ctx, path)
}

// Register validates and adds a new ServiceRecord, regenerates the
// routing fragment, and publishes service-registered.
func (s *RegistryService) Register(ctx context.Context, record *registry.ServiceRecord) (*registry.ServiceRecord, error) {
	record.NormalizeBedrockAgentcore()
	if err := record.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	now := time.Now().UTC()
	record.CreatedAt = now
	record.UpdatedAt = now

	if err := s.store.Add(ctx, record); err != nil {
		return nil, fmt.Errorf("add service record: %w", err)
	}

	if err := s.regenerateFragment(ctx); err != nil {
		s.logger.Error("fragment regeneration failed after register", "path", record.Path, "error", err)
	}

	s.logger.Info("service registered", "path", record.Path, "server_name", record.ServerName)
	s.bus.Publish(events.Event{Kind: events.KindServiceRegistered, Path: record.Path})

	return s.store.Get(ctx, record.Path)
}

// Update replaces an existing ServiceRecord's editable fields.
func (s *RegistryService) Update(ctx context.Context, path string, record *registry.ServiceRecord) (*registry.ServiceRecord, error) {
	existing, err := s.store.Get(ctx, path)
	if err != nil {
		return nil, err
	}

	record.Path = path
	record.CreatedAt = existing.CreatedAt
	record.UpdatedAt = time.Now().UTC()
	record.NormalizeBedrockAgentcore()

	if err := record.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	if err := s.store.Update(ctx, record); err != nil {
		return nil, fmt.Errorf("update service record: %w", err)
	}

	if err := s.regenerateFragment(ctx); err != nil {
		s.logger.Error("fragment regeneration failed after update", "path", path, "error", err)
	}

	s.logger.Info("service edited", "path", path)
	s.bus.Publish(events.Event{Kind: events.KindServiceEdited, Path: path})

	return s.store.Get(ctx, path)
}

// SetEnabled toggles a service's Enabled flag.
func (s *RegistryService) SetEnabled(ctx context.Context, path string, enabled bool) (*registry.ServiceRecord, error) {
	record, err := s.store.Get(ctx, path)
	if err != nil {
		return nil, err
	}

	record.Enabled = enabled
	record.UpdatedAt = time.Now().UTC()

	if err := s.store.Update(ctx, record); err != nil {
		return nil, fmt.Errorf("update service record: %w", err)
	}

	if err := s.regenerateFragment(ctx); err != nil {
		s.logger.Error("fragment regeneration failed after toggle", "path", path, "error", err)
	}

	s.logger.Info("service toggled", "path", path, "enabled", enabled)
	s.bus.Publish(events.Event{Kind: events.KindServiceToggled, Path: path, Detail: fmt.Sprintf("enabled=%v", enabled)})

	return s.store.Get(ctx, path)
}

// Deregister removes a service from the registry.
func (s *RegistryService) Deregister(ctx context.Context, path string) error {
	if err := s.store.Delete(ctx, path); err != nil {
		return err
	}

	if err := s.regenerateFragment(ctx); err != nil {
		s.logger.Error("fragment regeneration failed after deregister", "path", path, "error", err)
	}

	s.logger.Info("service removed", "path", path)
	s.bus.Publish(events.Event{Kind: events.KindServiceRemoved, Path: path})
	return nil
}

// regenerateFragment rebuilds the ProxyConfigFragment from the current
// registry contents, writes it to fragmentPath, and, if configured,
// runs the reload command so the front reverse proxy picks it up.
func (s *RegistryService) regenerateFragment(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.store.List(ctx)
	if err != nil {
		return fmt.Errorf("list records for fragment: %w", err)
	}

	fragment := registry.BuildProxyConfigFragment(records, time.Now().UTC())

	data, err := json.MarshalIndent(fragment, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fragment: %w", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(s.fragmentPath), 0755); err != nil {
		return fmt.Errorf("create fragment dir: %w", err)
	}

	tmp := s.fragmentPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write fragment temp file: %w", err)
	}
	if err := os.Rename(tmp, s.fragmentPath); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename fragment file: %w", err)
	}

	if strings.TrimSpace(s.reloadCmd) == "" {
		return nil
	}

	parts := strings.Fields(s.reloadCmd)
	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...) // #nosec G204 -- operator-configured reload command
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("run reload command: %w (output: %s)", err, out)
	}
	return nil
}
