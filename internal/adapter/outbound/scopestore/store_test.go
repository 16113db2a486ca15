package scopestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/mcpgw/gateway/internal/domain/scope"
)

func TestNewStore_FirstBootDefaultPolicy(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore([]string{filepath.Join(dir, "scope-policy.yaml")})
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	p, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !scope.IsProtected(scope.UnrestrictedReadGroup) {
		t.Fatal("sanity: UnrestrictedReadGroup should be protected")
	}
	if _, ok := p.Groups[scope.UnrestrictedReadGroup]; !ok {
		t.Error("first-boot policy missing UnrestrictedReadGroup")
	}
	if _, ok := p.Groups[scope.UnrestrictedExecuteGroup]; !ok {
		t.Error("first-boot policy missing UnrestrictedExecuteGroup")
	}
	if !p.UIScopes.Has(scope.UIAdminRole, scope.CapRegisterService) {
		t.Error("first-boot policy missing admin role capability")
	}
}

func TestStore_SaveWritesAllPaths(t *testing.T) {
	dir := t.TempDir()
	pathA := filepath.Join(dir, "a", "scope-policy.yaml")
	pathB := filepath.Join(dir, "b", "scope-policy.yaml")

	s, err := NewStore([]string{pathA, pathB})
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	p := scope.DefaultPolicy()
	p.Groups["finance-readers"] = scope.Group{
		Name: "finance-readers",
		Permissions: []scope.ServerPermission{
			{Server: "/finance", Methods: []string{"tools/call"}, Tools: []string{"get_quote"}},
		},
	}

	if err := s.Save(context.Background(), p); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	for _, path := range []string{pathA, pathB} {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("expected %s to exist: %v", path, err)
		}
	}

	reloaded, err := NewStore([]string{pathA, pathB})
	if err != nil {
		t.Fatalf("reload NewStore() error = %v", err)
	}
	got, err := reloaded.Load(context.Background())
	if err != nil {
		t.Fatalf("reload Load() error = %v", err)
	}
	g, ok := got.Groups["finance-readers"]
	if !ok {
		t.Fatal("reloaded policy missing finance-readers group")
	}
	if len(g.Permissions) != 1 || g.Permissions[0].Server != "/finance" {
		t.Errorf("reloaded permission = %+v, want server /finance", g.Permissions)
	}
}

func TestStore_SaveFailsAtomicallyOnBadPath(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "scope-policy.yaml")
	// A path nested under a file (not a directory) cannot be created.
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0600); err != nil {
		t.Fatalf("setup: %v", err)
	}
	bad := filepath.Join(blocker, "nested", "scope-policy.yaml")

	s, err := NewStore([]string{good, bad})
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	if err := s.Save(context.Background(), scope.DefaultPolicy()); err == nil {
		t.Fatal("expected Save() to fail when the second path cannot be written")
	}

	// Snapshot must remain the pre-Save default, since the write failed.
	got, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(got.Groups) != 2 {
		t.Errorf("snapshot should be unchanged on Save failure, got %d groups", len(got.Groups))
	}
}

func TestStore_LoadReturnsIndependentClone(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore([]string{filepath.Join(dir, "scope-policy.yaml")})
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	a, _ := s.Load(context.Background())
	a.Groups["mutated"] = scope.Group{Name: "mutated"}

	b, _ := s.Load(context.Background())
	if _, ok := b.Groups["mutated"]; ok {
		t.Error("Load() must return a deep copy; mutating one result leaked into another")
	}
}
