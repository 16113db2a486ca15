// Package registry contains the domain types for the Registry (R): the
// CRUD surface and routing table over MCP ServiceRecords.
package registry

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// Transport identifies a supported MCP wire transport.
type Transport string

const (
	TransportSSE            Transport = "sse"
	TransportStreamableHTTP Transport = "streamable-http"
)

// AuthProvider identifies how a backend service authenticates traffic
// forwarded to it by the reverse proxy.
type AuthProvider string

const (
	AuthProviderNone             AuthProvider = "none"
	AuthProviderCognito          AuthProvider = "cognito"
	AuthProviderKeycloak         AuthProvider = "keycloak"
	AuthProviderBedrockAgentcore AuthProvider = "bedrock-agentcore"
)

// nameMaxLength bounds ServerName's length.
const nameMaxLength = 100

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9 _./-]+$`)

// ToolDescriptor is embedded in a ServiceRecord's inventory, authoritative
// source is the Health Supervisor's most recent successful tools/list.
type ToolDescriptor struct {
	Name        string
	Description string
	InputSchema map[string]any
	Tags        []string
}

// Header is a static header injection applied by the reverse proxy when
// forwarding to this service.
type Header struct {
	Name  string
	Value string
}

// ServiceRecord is one registered MCP server.
type ServiceRecord struct {
	// Path is the URL path prefix, globally unique, begins with "/", length >= 2.
	Path string

	ServerName  string
	ProxyPassURL string

	Description string
	Tags        []string
	License     string
	IsPython    bool
	NumStars    int
	NumTools    int

	AuthProvider        AuthProvider
	SupportedTransports []Transport
	Headers             []Header

	ToolList []ToolDescriptor

	Enabled bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks the record's field invariants. It does not check path
// uniqueness; that is a Registry-level (not a record-level) invariant.
func (r *ServiceRecord) Validate() error {
	if len(r.Path) < 2 || !strings.HasPrefix(r.Path, "/") {
		return fmt.Errorf("path must begin with '/' and be at least 2 characters")
	}
	if r.ServerName == "" {
		return fmt.Errorf("server_name is required")
	}
	if len(r.ServerName) > nameMaxLength {
		return fmt.Errorf("server_name must be %d characters or less", nameMaxLength)
	}
	if !namePattern.MatchString(r.ServerName) {
		return fmt.Errorf("server_name contains invalid characters")
	}
	if r.ProxyPassURL == "" {
		return fmt.Errorf("proxy_pass_url is required")
	}
	parsed, err := url.Parse(r.ProxyPassURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("proxy_pass_url must be an absolute http(s) URL")
	}
	if !strings.HasSuffix(r.ProxyPassURL, "/") {
		return fmt.Errorf("proxy_pass_url must end with a trailing '/'")
	}
	switch r.AuthProvider {
	case "", AuthProviderNone, AuthProviderCognito, AuthProviderKeycloak, AuthProviderBedrockAgentcore:
	default:
		// Generic OAuth provider names are accepted as-is.
	}
	for _, t := range r.SupportedTransports {
		if t != TransportSSE && t != TransportStreamableHTTP {
			return fmt.Errorf("unsupported transport %q", t)
		}
	}
	return nil
}

// NormalizeBedrockAgentcore applies the bedrock-agentcore-specific path
// and URL normalization: the path must end "/" and any trailing "/mcp"
// or "/mcp/" is stripped from proxy_pass_url.
func (r *ServiceRecord) NormalizeBedrockAgentcore() {
	if r.AuthProvider != AuthProviderBedrockAgentcore {
		return
	}
	if !strings.HasSuffix(r.Path, "/") {
		r.Path += "/"
	}
	trimmed := strings.TrimSuffix(r.ProxyPassURL, "/")
	trimmed = strings.TrimSuffix(trimmed, "/mcp")
	if !strings.HasSuffix(trimmed, "/") {
		trimmed += "/"
	}
	r.ProxyPassURL = trimmed
}

// RouteEntry is one materialized line of a ProxyConfigFragment.
type RouteEntry struct {
	PathPrefix    string
	UpstreamURL   string
	InjectHeaders []Header
	AuthMode      AuthProvider
}

// ProxyConfigFragment is the derived routing artifact consumed by the
// front reverse proxy: an ordered list of route
// entries, longest path prefix first so more specific routes win.
type ProxyConfigFragment struct {
	Routes      []RouteEntry
	GeneratedAt time.Time
}

// BuildProxyConfigFragment deterministically derives a ProxyConfigFragment
// from the given records: one RouteEntry per enabled record, ordered by
// path length descending.
func BuildProxyConfigFragment(records []ServiceRecord, now time.Time) ProxyConfigFragment {
	routes := make([]RouteEntry, 0, len(records))
	for _, r := range records {
		if !r.Enabled {
			continue
		}
		routes = append(routes, RouteEntry{
			PathPrefix:    r.Path,
			UpstreamURL:   r.ProxyPassURL,
			InjectHeaders: r.Headers,
			AuthMode:      r.AuthProvider,
		})
	}
	sortRoutesByPathLengthDesc(routes)
	return ProxyConfigFragment{Routes: routes, GeneratedAt: now}
}

func sortRoutesByPathLengthDesc(routes []RouteEntry) {
	for i := 1; i < len(routes); i++ {
		for j := i; j > 0 && routeLess(routes[j], routes[j-1]); j-- {
			routes[j], routes[j-1] = routes[j-1], routes[j]
		}
	}
}

// routeLess reports whether a should sort before b: longer path prefixes
// first, then lexicographic order for a stable, deterministic fragment.
func routeLess(a, b RouteEntry) bool {
	if len(a.PathPrefix) != len(b.PathPrefix) {
		return len(a.PathPrefix) > len(b.PathPrefix)
	}
	return a.PathPrefix < b.PathPrefix
}
