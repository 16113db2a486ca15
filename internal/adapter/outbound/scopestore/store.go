// Package scopestore implements the Scope Policy Store's outbound port
// (port/outbound.ScopePolicyStore) as a YAML document replicated to N
// configured paths, using the same write-temp, fsync, rename, chmod
// 0600 atomic-write sequence as internal/adapter/outbound/state, applied
// once per configured path.
package scopestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/mcpgw/gateway/internal/domain/scope"
	"github.com/mcpgw/gateway/internal/port/outbound"
)

var _ outbound.ScopePolicyStore = (*Store)(nil)

// document is the on-disk shape of the ScopePolicy YAML file.
type document struct {
	UIScopes      map[string][]string `yaml:"ui_scopes"`
	DefaultScopes map[string]string   `yaml:"default_scopes"`
	Groups        []groupDoc          `yaml:"groups"`
}

type groupDoc struct {
	Name        string               `yaml:"name"`
	Description string               `yaml:"description,omitempty"`
	Permissions []permissionDoc      `yaml:"permissions,omitempty"`
}

type permissionDoc struct {
	Server    string   `yaml:"server"`
	Methods   []string `yaml:"methods,omitempty"`
	Tools     []string `yaml:"tools,omitempty"`
	Condition string   `yaml:"condition,omitempty"`
}

// Store persists a single scope.Policy document to every path in
// Paths, keeping an in-memory snapshot so concurrent Load calls never
// block on a writer.
type Store struct {
	paths  []string
	writeMu sync.Mutex
	snap   atomic.Pointer[scope.Policy]
}

// NewStore creates a Store targeting paths, loading the first readable
// one (or DefaultPolicy if none exist yet) into the initial snapshot.
func NewStore(paths []string) (*Store, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("scopestore: at least one path is required")
	}
	s := &Store{paths: append([]string(nil), paths...)}

	p, err := s.readFirst()
	if err != nil {
		return nil, err
	}
	s.snap.Store(&p)
	return s, nil
}

// readFirst loads the first existing, parseable path; falls back to
// scope.DefaultPolicy() when none of the configured paths exist yet
// (first boot).
func (s *Store) readFirst() (scope.Policy, error) {
	for _, path := range s.paths {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return scope.Policy{}, fmt.Errorf("read scope policy %s: %w", path, err)
		}
		return decode(data)
	}
	return scope.DefaultPolicy(), nil
}

// Load returns the current in-memory snapshot (port/outbound.ScopePolicyStore).
func (s *Store) Load(ctx context.Context) (scope.Policy, error) {
	p := s.snap.Load()
	if p == nil {
		return scope.Policy{}, fmt.Errorf("scopestore: not initialized")
	}
	return p.Clone(), nil
}

// Save writes p to every configured path in order, stopping at the
// first failure, then swaps the in-memory snapshot.
func (s *Store) Save(ctx context.Context, p scope.Policy) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	data, err := encode(p)
	if err != nil {
		return fmt.Errorf("encode scope policy: %w", err)
	}

	for _, path := range s.paths {
		if err := writeAtomic(path, data); err != nil {
			return fmt.Errorf("write scope policy %s: %w", path, err)
		}
	}

	clone := p.Clone()
	s.snap.Store(&clone)
	return nil
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(tmp)
	}

	if _, err := f.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return os.Chmod(path, 0600)
}

func decode(data []byte) (scope.Policy, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return scope.Policy{}, fmt.Errorf("parse scope policy yaml: %w", err)
	}

	p := scope.Policy{
		UIScopes:      make(scope.UIScopes, len(doc.UIScopes)),
		DefaultScopes: make(scope.DefaultScopes, len(doc.DefaultScopes)),
		Groups:        make(map[string]scope.Group, len(doc.Groups)),
	}
	for role, caps := range doc.UIScopes {
		out := make([]scope.UICapability, len(caps))
		for i, c := range caps {
			out[i] = scope.UICapability(c)
		}
		p.UIScopes[role] = out
	}
	for kind, group := range doc.DefaultScopes {
		p.DefaultScopes[scope.AuthKind(kind)] = group
	}
	for _, g := range doc.Groups {
		perms := make([]scope.ServerPermission, len(g.Permissions))
		for i, pd := range g.Permissions {
			perms[i] = scope.ServerPermission{
				Server:    pd.Server,
				Methods:   pd.Methods,
				Tools:     pd.Tools,
				Condition: pd.Condition,
			}
		}
		p.Groups[g.Name] = scope.Group{Name: g.Name, Description: g.Description, Permissions: perms}
	}
	return p, nil
}

func encode(p scope.Policy) ([]byte, error) {
	doc := document{
		UIScopes:      make(map[string][]string, len(p.UIScopes)),
		DefaultScopes: make(map[string]string, len(p.DefaultScopes)),
		Groups:        make([]groupDoc, 0, len(p.Groups)),
	}
	for role, caps := range p.UIScopes {
		out := make([]string, len(caps))
		for i, c := range caps {
			out[i] = string(c)
		}
		doc.UIScopes[role] = out
	}
	for kind, group := range p.DefaultScopes {
		doc.DefaultScopes[string(kind)] = group
	}
	for _, g := range p.Groups {
		perms := make([]permissionDoc, len(g.Permissions))
		for i, perm := range g.Permissions {
			perms[i] = permissionDoc{
				Server:    perm.Server,
				Methods:   perm.Methods,
				Tools:     perm.Tools,
				Condition: perm.Condition,
			}
		}
		doc.Groups = append(doc.Groups, groupDoc{Name: g.Name, Description: g.Description, Permissions: perms})
	}
	return yaml.Marshal(doc)
}
