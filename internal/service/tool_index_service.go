package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mcpgw/gateway/internal/domain/health"
	"github.com/mcpgw/gateway/internal/domain/toolindex"
)

// ToolIndexService keeps the Semantic Tool Finder's embedding index in
// sync with the Registry and Health Supervisor, coalescing bursts of
// inventory updates into a single rebuild per service within a short
// window.
type ToolIndexService struct {
	index   *toolindex.Index
	encoder toolindex.Encoder
	logger  *slog.Logger
	window  time.Duration

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// NewToolIndexService creates a ToolIndexService. coalesceWindow is the
// ToolIndexConfig.CoalesceWindow duration.
func NewToolIndexService(encoder toolindex.Encoder, coalesceWindow time.Duration, logger *slog.Logger) *ToolIndexService {
	return &ToolIndexService{
		index:   toolindex.NewIndex(encoder.Dimensions()),
		encoder: encoder,
		logger:  logger,
		window:  coalesceWindow,
		pending: make(map[string]*time.Timer),
	}
}

// Index exposes the underlying search index for the Gateway Front's
// search endpoint.
func (s *ToolIndexService) Index() *toolindex.Index { return s.index }

// OnInventory is an InventoryFunc: it schedules (or reschedules) a
// coalesced rebuild for the service rather than rebuilding
// synchronously on every probe. Pass the method value directly to
// WithInventoryHook.
func (s *ToolIndexService) OnInventory(path, serverName string, tools []health.ToolSnapshot) {
	s.scheduleRebuild(path, serverName, tools)
}

func (s *ToolIndexService) scheduleRebuild(path, serverName string, tools []health.ToolSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.pending[path]; ok {
		t.Stop()
	}
	s.pending[path] = time.AfterFunc(s.window, func() {
		if err := s.rebuild(path, serverName, tools); err != nil {
			s.logger.Error("tool index rebuild failed", "path", path, "error", err)
		}
		s.mu.Lock()
		delete(s.pending, path)
		s.mu.Unlock()
	})
}

func (s *ToolIndexService) rebuild(path, serverName string, tools []health.ToolSnapshot) error {
	if len(tools) == 0 {
		s.index.Remove(path)
		return nil
	}

	var serverText strings.Builder
	serverText.WriteString(serverName)
	entries := make([]toolindex.ToolEntry, 0, len(tools))
	for _, t := range tools {
		serverText.WriteString(" ")
		serverText.WriteString(t.Description)

		vec, err := s.encoder.Encode(t.Name + " " + t.Description)
		if err != nil {
			return fmt.Errorf("encode tool %s: %w", t.Name, err)
		}
		entries = append(entries, toolindex.ToolEntry{
			ServerPath:  path,
			ServerName:  serverName,
			ToolName:    t.Name,
			Description: t.Description,
			Vector:      vec,
		})
	}

	serverVec, err := s.encoder.Encode(serverText.String())
	if err != nil {
		return fmt.Errorf("encode server %s: %w", path, err)
	}

	return s.index.Upsert(toolindex.ServerEntry{ServerPath: path, ServerName: serverName, Vector: serverVec}, entries)
}

// Remove removes a service from the index immediately, cancelling
// any pending coalesced rebuild for it.
func (s *ToolIndexService) Remove(path string) {
	s.mu.Lock()
	if t, ok := s.pending[path]; ok {
		t.Stop()
		delete(s.pending, path)
	}
	s.mu.Unlock()
	s.index.Remove(path)
}

// Search runs a semantic query through the index, encoding the free
// text query first.
func (s *ToolIndexService) Search(ctx context.Context, query string, topServers, topTools int) ([]toolindex.Match, error) {
	vec, err := s.encoder.Encode(query)
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}
	return s.index.Search(vec, topServers, topTools)
}
