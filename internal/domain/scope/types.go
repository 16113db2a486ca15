// Package scope contains the domain types and pure mutation logic for the
// Scope Policy Store (SPS): the single document mapping group names to
// per-server, per-method, per-tool permissions.
package scope

// UICapability is one of the UI-role permission flags.
type UICapability string

const (
	CapListService        UICapability = "list_service"
	CapRegisterService    UICapability = "register_service"
	CapHealthCheckService  UICapability = "health_check_service"
	CapToggleService       UICapability = "toggle_service"
	CapModifyService       UICapability = "modify_service"
	CapObservability       UICapability = "observability"
)

// UIScopes maps a UI role (e.g. "admin", "viewer") to the capabilities it
// holds. Left open-ended: deployers may extend it with additional roles.
type UIScopes map[string][]UICapability

// Has reports whether role carries capability cap.
func (s UIScopes) Has(role string, cap UICapability) bool {
	for _, c := range s[role] {
		if c == cap {
			return true
		}
	}
	return false
}

// AuthKind identifies the channel a Principal authenticated through,
// used to look up the Default-Scopes fallback group.
type AuthKind string

const (
	AuthKindIngress       AuthKind = "ingress"
	AuthKindSession       AuthKind = "session"
	AuthKindServiceAccount AuthKind = "service-account"
)

// DefaultScopes maps an auth kind to its fallback group name.
type DefaultScopes map[AuthKind]string

// ServerPermission grants a group access to a server's methods/tools.
type ServerPermission struct {
	// Server is a path or server_name identifying the target ServiceRecord.
	Server string
	// Methods is the set of MCP methods this permission allows.
	Methods []string
	// Tools is the set of tool names allowed for tools/call; "*" is a
	// wildcard meaning "any tool". An absent/nil Tools for a tools/call
	// check is a deny.
	Tools []string
	// Condition is an optional CEL expression stored and persisted with
	// this permission; Authorize does not evaluate it.
	Condition string
}

// HasMethod reports whether m is in the permission's method set.
func (p ServerPermission) HasMethod(m string) bool {
	for _, x := range p.Methods {
		if x == m {
			return true
		}
	}
	return false
}

// HasTool reports whether t is permitted, honoring the "*" wildcard.
// A nil Tools slice (field absent) never matches, even for "*" queries.
func (p ServerPermission) HasTool(t string) bool {
	if p.Tools == nil {
		return false
	}
	for _, x := range p.Tools {
		if x == "*" || x == t {
			return true
		}
	}
	return false
}

// MatchesServer reports whether this permission targets the given
// service by path or display name.
func (p ServerPermission) MatchesServer(servicePath, serverName string) bool {
	return p.Server == servicePath || (serverName != "" && p.Server == serverName)
}

// Group is a named list of ServerPermission entries. Mirrored in the IdP
// by name; a principal is "in group G" iff its token carries
// G in its groups claim.
type Group struct {
	Name        string
	Description string
	Permissions []ServerPermission
}

// UnrestrictedReadGroup and UnrestrictedExecuteGroup are the two groups
// required to exist at boot, alongside the UI admin role.
const (
	UnrestrictedReadGroup    = "mcp-servers-unrestricted/read"
	UnrestrictedExecuteGroup = "mcp-servers-unrestricted/execute"
	UIAdminRole              = "admin"
)

// protectedGroups cannot be deleted.
var protectedGroups = map[string]bool{
	UnrestrictedReadGroup:    true,
	UnrestrictedExecuteGroup: true,
}

// IsProtected reports whether name is one of the unrestricted defaults
// that delete_group must refuse to remove.
func IsProtected(name string) bool { return protectedGroups[name] }

// Policy is the single ScopePolicy document.
type Policy struct {
	UIScopes      UIScopes
	DefaultScopes DefaultScopes
	Groups        map[string]Group
}

// Clone returns a deep copy so mutation functions never alias the
// caller's maps/slices: snapshots handed out to readers must be
// immutable.
func (p Policy) Clone() Policy {
	out := Policy{
		UIScopes:      make(UIScopes, len(p.UIScopes)),
		DefaultScopes: make(DefaultScopes, len(p.DefaultScopes)),
		Groups:        make(map[string]Group, len(p.Groups)),
	}
	for role, caps := range p.UIScopes {
		c := make([]UICapability, len(caps))
		copy(c, caps)
		out.UIScopes[role] = c
	}
	for k, v := range p.DefaultScopes {
		out.DefaultScopes[k] = v
	}
	for name, g := range p.Groups {
		perms := make([]ServerPermission, len(g.Permissions))
		copy(perms, g.Permissions)
		out.Groups[name] = Group{Name: g.Name, Description: g.Description, Permissions: perms}
	}
	return out
}

// DefaultPolicy builds the minimal document satisfying the boot
// invariant: both unrestricted groups and the UI admin role exist.
func DefaultPolicy() Policy {
	return Policy{
		UIScopes: UIScopes{
			UIAdminRole: {CapListService, CapRegisterService, CapHealthCheckService, CapToggleService, CapModifyService, CapObservability},
		},
		DefaultScopes: DefaultScopes{
			AuthKindIngress: UnrestrictedReadGroup,
		},
		Groups: map[string]Group{
			UnrestrictedReadGroup:    {Name: UnrestrictedReadGroup, Permissions: nil},
			UnrestrictedExecuteGroup: {Name: UnrestrictedExecuteGroup, Permissions: nil},
		},
	}
}

// StandardMethods is the fixed method set add_server_to_groups grants:
// initialize, ping, tools/list, tools/call.
var StandardMethods = []string{"initialize", "ping", "tools/list", "tools/call"}
