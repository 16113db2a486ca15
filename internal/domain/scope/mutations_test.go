package scope

import "testing"

type stubResolver struct {
	path  string
	tools []string
	ok    bool
}

func (s stubResolver) Resolve(string) (string, []string, bool) { return s.path, s.tools, s.ok }

func TestCreateGroup(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	next, err := CreateGroup(p, "mcp-servers-finance/read", "finance team")
	if err != nil {
		t.Fatalf("CreateGroup() error = %v", err)
	}
	if _, ok := next.Groups["mcp-servers-finance/read"]; !ok {
		t.Fatal("expected group to be created")
	}
	if _, ok := p.Groups["mcp-servers-finance/read"]; ok {
		t.Fatal("original policy must not be mutated")
	}
}

func TestCreateGroup_DuplicateFails(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	if _, err := CreateGroup(p, UnrestrictedReadGroup, ""); err == nil {
		t.Fatal("expected error creating a duplicate group")
	}
}

func TestDeleteGroup_ProtectedRefused(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	if _, err := DeleteGroup(p, UnrestrictedExecuteGroup); err == nil {
		t.Fatal("expected error deleting a protected group")
	}
}

func TestDeleteGroup_RemovesCustomGroup(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	p, _ = CreateGroup(p, "mcp-servers-x/read", "")
	next, err := DeleteGroup(p, "mcp-servers-x/read")
	if err != nil {
		t.Fatalf("DeleteGroup() error = %v", err)
	}
	if _, ok := next.Groups["mcp-servers-x/read"]; ok {
		t.Fatal("group should have been removed")
	}
}

func TestAddServerToGroups_Idempotent(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	p, _ = CreateGroup(p, "mcp-servers-time/read", "")
	resolver := stubResolver{path: "/currenttime", tools: []string{"current_time_by_timezone"}, ok: true}

	once, err := AddServerToGroups(p, resolver, "/currenttime", []string{"mcp-servers-time/read"})
	if err != nil {
		t.Fatalf("AddServerToGroups() error = %v", err)
	}
	twice, err := AddServerToGroups(once.Policy, resolver, "/currenttime", []string{"mcp-servers-time/read"})
	if err != nil {
		t.Fatalf("AddServerToGroups() (second) error = %v", err)
	}

	permsOnce := once.Policy.Groups["mcp-servers-time/read"].Permissions
	permsTwice := twice.Policy.Groups["mcp-servers-time/read"].Permissions
	if len(permsOnce) != 1 || len(permsTwice) != 1 {
		t.Fatalf("expected exactly one permission entry after 1x and 2x application, got %d and %d", len(permsOnce), len(permsTwice))
	}
}

func TestAddServerToGroups_DanglingServerReported(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	p, _ = CreateGroup(p, "mcp-servers-x/read", "")
	resolver := stubResolver{ok: false}

	result, err := AddServerToGroups(p, resolver, "/ghost", []string{"mcp-servers-x/read"})
	if err != nil {
		t.Fatalf("AddServerToGroups() error = %v", err)
	}
	if len(result.DanglingServers) != 1 || result.DanglingServers[0] != "/ghost" {
		t.Errorf("expected dangling server reported, got %v", result.DanglingServers)
	}
}

func TestRemoveServerFromGroups_Idempotent(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	p, _ = CreateGroup(p, "mcp-servers-time/read", "")
	resolver := stubResolver{path: "/currenttime", tools: []string{"t1"}, ok: true}
	added, _ := AddServerToGroups(p, resolver, "/currenttime", []string{"mcp-servers-time/read"})

	once, err := RemoveServerFromGroups(added.Policy, "/currenttime", []string{"mcp-servers-time/read"})
	if err != nil {
		t.Fatalf("RemoveServerFromGroups() error = %v", err)
	}
	twice, err := RemoveServerFromGroups(once, "/currenttime", []string{"mcp-servers-time/read"})
	if err != nil {
		t.Fatalf("RemoveServerFromGroups() (second) error = %v", err)
	}
	if len(twice.Groups["mcp-servers-time/read"].Permissions) != 0 {
		t.Error("expected no permissions after removal")
	}
}
