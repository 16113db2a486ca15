package scope

import (
	"fmt"
	"sort"

	"github.com/mcpgw/gateway/internal/domain/apperr"
)

// CreateGroup appends an empty group, failing if the name already exists.
func CreateGroup(p Policy, name, description string) (Policy, error) {
	if name == "" {
		return p, apperr.New(apperr.KindValidation, "group_name_required", nil)
	}
	if _, exists := p.Groups[name]; exists {
		return p, apperr.New(apperr.KindConflict, "group_exists", fmt.Errorf("group %q already exists", name))
	}
	next := p.Clone()
	next.Groups[name] = Group{Name: name, Description: description}
	return next, nil
}

// DeleteGroup removes a group, refusing to remove a protected default.
func DeleteGroup(p Policy, name string) (Policy, error) {
	if IsProtected(name) {
		return p, apperr.New(apperr.KindValidation, "protected_group", fmt.Errorf("group %q cannot be deleted", name))
	}
	if _, exists := p.Groups[name]; !exists {
		return p, apperr.New(apperr.KindNotFound, "group_not_found", fmt.Errorf("group %q does not exist", name))
	}
	next := p.Clone()
	delete(next.Groups, name)
	return next, nil
}

// KnownServerResolver resolves a server path/name to whether it exists in
// the Registry and its full current tool list, used by
// AddServerToGroups to populate a ServerPermission's Tools field.
type KnownServerResolver interface {
	// Resolve returns (knownPath, toolNames, ok). ok is false if the
	// server does not exist in the Registry; the mutation still
	// succeeds.
	Resolve(serverName string) (path string, toolNames []string, ok bool)
}

// MutationResult reports dangling references produced by a mutation,
// surfaced to the caller without failing it.
type MutationResult struct {
	Policy          Policy
	DanglingServers []string
}

// AddServerToGroups adds a ServerPermission for server to each named
// group, with the server's full current tool list and the standard
// method set. Idempotent per (group, server) — applying it twice has
// the same effect as applying it once.
func AddServerToGroups(p Policy, resolver KnownServerResolver, serverName string, groups []string) (MutationResult, error) {
	next := p.Clone()
	var dangling []string

	resolvedPath, tools, ok := resolver.Resolve(serverName)
	if !ok {
		dangling = append(dangling, serverName)
		resolvedPath = serverName
	}

	for _, groupName := range groups {
		g, exists := next.Groups[groupName]
		if !exists {
			return MutationResult{}, apperr.New(apperr.KindNotFound, "group_not_found", fmt.Errorf("group %q does not exist", groupName))
		}
		g.Permissions = upsertPermission(g.Permissions, resolvedPath, tools)
		next.Groups[groupName] = g
	}

	return MutationResult{Policy: next, DanglingServers: dangling}, nil
}

// upsertPermission replaces any existing permission for server
// (collapsing duplicates) or appends a new one with the standard methods.
func upsertPermission(perms []ServerPermission, server string, tools []string) []ServerPermission {
	toolsCopy := append([]string(nil), tools...)
	sort.Strings(toolsCopy)

	for i, perm := range perms {
		if perm.Server == server {
			perms[i] = ServerPermission{Server: server, Methods: append([]string(nil), StandardMethods...), Tools: toolsCopy}
			return perms
		}
	}
	return append(perms, ServerPermission{Server: server, Methods: append([]string(nil), StandardMethods...), Tools: toolsCopy})
}

// RemoveServerFromGroups is the inverse of AddServerToGroups: removes the
// server's permission entry from each named group. Idempotent.
func RemoveServerFromGroups(p Policy, serverName string, groups []string) (Policy, error) {
	next := p.Clone()
	for _, groupName := range groups {
		g, exists := next.Groups[groupName]
		if !exists {
			return Policy{}, apperr.New(apperr.KindNotFound, "group_not_found", fmt.Errorf("group %q does not exist", groupName))
		}
		filtered := g.Permissions[:0:0]
		for _, perm := range g.Permissions {
			if perm.Server != serverName {
				filtered = append(filtered, perm)
			}
		}
		g.Permissions = filtered
		next.Groups[groupName] = g
	}
	return next, nil
}
