package scope

import "github.com/mcpgw/gateway/internal/domain/identity"

// Decision is the outcome of the authorization algorithm.
type Decision struct {
	Allowed bool
	// Reason is a short code suitable for HTTP status mapping when denied
	// (e.g. "tool_not_permitted", "no_matching_permission").
	Reason string
}

func allow() Decision { return Decision{Allowed: true} }
func deny(reason string) Decision { return Decision{Allowed: false, Reason: reason} }

// Authorize is the authorization algorithm: given a Principal, a
// target service (identified by both its routing path and display
// name, since a ServerPermission may reference either), an MCP
// method, and — for tools/call — the tool name, decide allow/deny.
func Authorize(p Policy, principal identity.Principal, servicePath, serviceName, method, tool string, isToolCall bool) Decision {
	for _, groupName := range principal.Groups {
		g, ok := p.Groups[groupName]
		if !ok {
			// "if P carries a group not in the policy, ignore it".
			continue
		}
		for _, perm := range g.Permissions {
			if !perm.MatchesServer(servicePath, serviceName) {
				continue
			}
			if !perm.HasMethod(method) {
				continue
			}
			if isToolCall {
				if !perm.HasTool(tool) {
					// A matching entry exists for this method but the tool is
					// not permitted — keep searching other groups/entries
					// before concluding tool_not_permitted, since a different
					// group might still grant it.
					continue
				}
			}
			return allow()
		}
	}

	// No group matched; apply the Default-Scopes fallback for the
	// principal's auth kind.
	kind := authKindOf(principal)
	if defaultGroup, ok := p.DefaultScopes[kind]; ok {
		if g, ok := p.Groups[defaultGroup]; ok {
			for _, perm := range g.Permissions {
				if perm.MatchesServer(servicePath, serviceName) && perm.HasMethod(method) {
					if isToolCall && !perm.HasTool(tool) {
						continue
					}
					return allow()
				}
			}
		}
	}

	if isToolCall {
		return deny("tool_not_permitted")
	}
	return deny("no_matching_permission")
}

func authKindOf(p identity.Principal) AuthKind {
	switch p.Source {
	case identity.SourceSession:
		return AuthKindSession
	case identity.SourceIngressHeader, identity.SourceAuthorizationBearer:
		if p.Type == identity.PrincipalServiceAccount {
			return AuthKindServiceAccount
		}
		return AuthKindIngress
	default:
		return AuthKindIngress
	}
}

// AllowsNonToolMethod reports whether method is one of the methods
// permitted without a well-formed JSON-RPC body.
func AllowsNonToolMethod(method string) bool {
	switch method {
	case "initialize", "ping", "tools/list":
		return true
	default:
		return false
	}
}
