package scope

import (
	"testing"

	"github.com/mcpgw/gateway/internal/domain/identity"
)

// Cognito token with the wildcard unrestricted/execute group, default
// policy, tools/call allowed.
func TestAuthorize_WildcardGroup(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	g := p.Groups[UnrestrictedExecuteGroup]
	g.Permissions = []ServerPermission{{
		Server:  "/currenttime",
		Methods: []string{"tools/call", "tools/list", "initialize", "ping"},
		Tools:   []string{"*"},
	}}
	p.Groups[UnrestrictedExecuteGroup] = g

	principal := identity.Principal{
		ID:     "user-1",
		Groups: []string{UnrestrictedExecuteGroup},
		Source: identity.SourceIngressHeader,
		Idp:    identity.IdPCognito,
	}

	d := Authorize(p, principal, "/currenttime", "Current Time", "tools/call", "current_time_by_timezone", true)
	if !d.Allowed {
		t.Fatalf("expected allow, got deny (%s)", d.Reason)
	}
}

// Scoped group: correct tool allows, wrong tool denies with
// tool_not_permitted.
func TestAuthorize_ScopedGroup(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	p, _ = CreateGroup(p, "mcp-servers-time/read", "")
	g := p.Groups["mcp-servers-time/read"]
	g.Permissions = []ServerPermission{{
		Server:  "/currenttime",
		Methods: []string{"tools/call"},
		Tools:   []string{"current_time_by_timezone"},
	}}
	p.Groups["mcp-servers-time/read"] = g

	principal := identity.Principal{ID: "u", Groups: []string{"mcp-servers-time/read"}, Source: identity.SourceIngressHeader}

	allowed := Authorize(p, principal, "/currenttime", "Current Time", "tools/call", "current_time_by_timezone", true)
	if !allowed.Allowed {
		t.Fatalf("expected allow, got deny (%s)", allowed.Reason)
	}

	denied := Authorize(p, principal, "/currenttime", "Current Time", "tools/call", "other_tool", true)
	if denied.Allowed || denied.Reason != "tool_not_permitted" {
		t.Fatalf("expected deny(tool_not_permitted), got %+v", denied)
	}
}

func TestAuthorize_UnknownGroupIgnored(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	principal := identity.Principal{ID: "u", Groups: []string{"not-in-policy"}, Source: identity.SourceIngressHeader}

	d := Authorize(p, principal, "/currenttime", "Current Time", "tools/list", "", false)
	if d.Allowed {
		t.Fatal("expected deny: unknown group must be ignored, not treated as a match")
	}
}

func TestAuthorize_MissingToolsFieldDeniesToolCall(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	p, _ = CreateGroup(p, "g", "")
	g := p.Groups["g"]
	g.Permissions = []ServerPermission{{Server: "/svc", Methods: []string{"tools/call"}}} // no Tools field
	p.Groups["g"] = g

	principal := identity.Principal{ID: "u", Groups: []string{"g"}, Source: identity.SourceIngressHeader}
	d := Authorize(p, principal, "/svc", "Svc", "tools/call", "anything", true)
	if d.Allowed {
		t.Fatal("a permission with no Tools field must deny tools/call")
	}
}

// Scope monotonicity under union: allow(G) must imply
// allow(G ∪ G') for any additional group G'.
func TestAuthorize_ScopeMonotonicityUnderUnion(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	p, _ = CreateGroup(p, "g1", "")
	g1 := p.Groups["g1"]
	g1.Permissions = []ServerPermission{{Server: "/svc", Methods: []string{"tools/call"}, Tools: []string{"t1"}}}
	p.Groups["g1"] = g1
	p, _ = CreateGroup(p, "g2", "")

	base := identity.Principal{ID: "u", Groups: []string{"g1"}, Source: identity.SourceIngressHeader}
	union := identity.Principal{ID: "u", Groups: []string{"g1", "g2"}, Source: identity.SourceIngressHeader}

	baseDecision := Authorize(p, base, "/svc", "Svc", "tools/call", "t1", true)
	unionDecision := Authorize(p, union, "/svc", "Svc", "tools/call", "t1", true)

	if baseDecision.Allowed && !unionDecision.Allowed {
		t.Fatal("adding a group must never revoke an allow")
	}
}

func TestAllowsNonToolMethod(t *testing.T) {
	t.Parallel()

	for _, m := range []string{"initialize", "ping", "tools/list"} {
		if !AllowsNonToolMethod(m) {
			t.Errorf("%q should be allowed as a non-tool method", m)
		}
	}
	if AllowsNonToolMethod("tools/call") {
		t.Error("tools/call must not be treated as a non-tool method")
	}
}
