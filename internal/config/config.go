// Package config provides configuration types for mcp-gatewayd.
//
// Configuration is read once at startup from environment variables
// (via Viper's env binding) with an optional YAML overlay for local
// development. It intentionally excludes concerns that belong to the
// reverse proxy data plane itself (TLS termination, connection
// pooling) since that is an off-the-shelf collaborator, not this
// process.
package config

import (
	"os"
)

// GatewayConfig is the top-level configuration for mcp-gatewayd.
type GatewayConfig struct {
	// Server configures the HTTP server listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Secret is the process-wide signing key material.
	Secret SecretConfig `yaml:"secret" mapstructure:"secret"`

	// Identity configures the IdP-backed credential validators.
	Identity IdentityProvidersConfig `yaml:"identity" mapstructure:"identity"`

	// Registry configures where service records are persisted.
	Registry RegistryConfig `yaml:"registry" mapstructure:"registry"`

	// ScopePolicy configures where the scope policy document is persisted.
	ScopePolicy ScopePolicyConfig `yaml:"scope_policy" mapstructure:"scope_policy"`

	// Health configures the Health Supervisor's probe cadence.
	Health HealthConfig `yaml:"health" mapstructure:"health"`

	// ToolIndex configures the Semantic Tool Finder.
	ToolIndex ToolIndexConfig `yaml:"tool_index" mapstructure:"tool_index"`

	// Audit configures where the audit trail is written.
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`

	// ReverseProxy configures the signal sent to the front reverse
	// proxy after a ProxyConfigFragment regeneration.
	ReverseProxy ReverseProxyConfig `yaml:"reverse_proxy" mapstructure:"reverse_proxy"`

	// GroupSync configures the IdP/ScopePolicy synchronization engine.
	GroupSync GroupSyncConfig `yaml:"group_sync" mapstructure:"group_sync"`

	// DevMode enables development features (verbose logging, relaxed
	// cookie flags for http:// local testing).
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// HTTPAddr is the address to listen on (e.g., "127.0.0.1:8080").
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level.
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// SessionTimeout is the duration before session cookies expire.
	SessionTimeout string `yaml:"session_timeout" mapstructure:"session_timeout" validate:"omitempty"`

	// ValidateBudget bounds how long POST /validate may take before it
	// must fall back to cached state (spec default 250ms).
	ValidateBudget string `yaml:"validate_budget" mapstructure:"validate_budget" validate:"omitempty"`

	// ShutdownGrace bounds the graceful-drain window on SIGTERM/SIGINT.
	ShutdownGrace string `yaml:"shutdown_grace" mapstructure:"shutdown_grace" validate:"omitempty"`
}

// SecretConfig carries the process-wide HMAC signing key.
type SecretConfig struct {
	// Key signs session cookies and vended tokens. Required, >= 32 bytes.
	Key string `yaml:"key" mapstructure:"key" validate:"required,min=32"`
}

// IdentityProvidersConfig configures the Credential Validators.
type IdentityProvidersConfig struct {
	// Provider selects the primary ingress IdP for the UI login flow.
	Provider string `yaml:"provider" mapstructure:"provider" validate:"required,oneof=cognito keycloak"`

	Cognito  CognitoConfig  `yaml:"cognito" mapstructure:"cognito"`
	Keycloak KeycloakConfig `yaml:"keycloak" mapstructure:"keycloak"`
}

// CognitoConfig configures the Cognito JWT validator.
type CognitoConfig struct {
	Region     string `yaml:"region" mapstructure:"region"`
	UserPoolID string `yaml:"user_pool_id" mapstructure:"user_pool_id"`
	ClientID   string `yaml:"client_id" mapstructure:"client_id"`
	ClientSecret string `yaml:"client_secret" mapstructure:"client_secret"`
	RedirectURL string `yaml:"redirect_url" mapstructure:"redirect_url"`
	// Domain is the Cognito hosted-UI domain (e.g.
	// "myapp.auth.us-east-1.amazoncognito.com"), used to build the
	// /oauth2/authorize and /oauth2/token endpoints for 3LO login.
	Domain string `yaml:"domain" mapstructure:"domain"`
}

// KeycloakConfig configures the Keycloak JWT validator.
type KeycloakConfig struct {
	BaseURL      string `yaml:"base_url" mapstructure:"base_url"`
	Realm        string `yaml:"realm" mapstructure:"realm"`
	ClientID     string `yaml:"client_id" mapstructure:"client_id"`
	ClientSecret string `yaml:"client_secret" mapstructure:"client_secret"`
	RedirectURL  string `yaml:"redirect_url" mapstructure:"redirect_url"`
}

// RegistryConfig configures Registry persistence.
type RegistryConfig struct {
	// RecordsDir is the directory holding one JSON file per ServiceRecord.
	RecordsDir string `yaml:"records_dir" mapstructure:"records_dir" validate:"required"`
}

// ScopePolicyConfig configures Scope Policy Store persistence.
type ScopePolicyConfig struct {
	// Paths is the ordered list of write targets (spec: container-visible
	// path first, then host-visible path; both required for success).
	Paths []string `yaml:"paths" mapstructure:"paths" validate:"required,min=1"`
}

// HealthConfig configures the Health Supervisor.
type HealthConfig struct {
	// Period is T_health, the interval between probes (default 30s).
	Period string `yaml:"period" mapstructure:"period" validate:"omitempty"`
	// Timeout is T_probe, the hard per-probe timeout (default 10s).
	Timeout string `yaml:"timeout" mapstructure:"timeout" validate:"omitempty"`
}

// ToolIndexConfig configures the Semantic Tool Finder.
type ToolIndexConfig struct {
	// EmbeddingModel identifies the black-box sentence encoder.
	EmbeddingModel string `yaml:"embedding_model" mapstructure:"embedding_model" validate:"required"`
	// Dimensions is the embedding vector width (default 384).
	Dimensions int `yaml:"dimensions" mapstructure:"dimensions" validate:"omitempty,min=1"`
	// CacheDir holds the two binary blobs (matrix + metadata) across restarts.
	CacheDir string `yaml:"cache_dir" mapstructure:"cache_dir"`
	// CoalesceWindow bounds how long rebuilds wait to coalesce bursts of
	// inventory-updated events (spec default 2s).
	CoalesceWindow string `yaml:"coalesce_window" mapstructure:"coalesce_window" validate:"omitempty"`
}

// AuditConfig configures audit log output.
type AuditConfig struct {
	// Output is "stdout" or "file:///absolute/path/to/audit.log".
	Output string `yaml:"output" mapstructure:"output" validate:"required,audit_output"`

	ChannelSize      int    `yaml:"channel_size" mapstructure:"channel_size" validate:"omitempty,min=1"`
	BatchSize        int    `yaml:"batch_size" mapstructure:"batch_size" validate:"omitempty,min=1"`
	FlushInterval    string `yaml:"flush_interval" mapstructure:"flush_interval" validate:"omitempty"`
	SendTimeout      string `yaml:"send_timeout" mapstructure:"send_timeout" validate:"omitempty"`
	WarningThreshold int    `yaml:"warning_threshold" mapstructure:"warning_threshold" validate:"omitempty,min=0,max=100"`
	BufferSize       int    `yaml:"buffer_size" mapstructure:"buffer_size" validate:"omitempty,min=1"`

	// DriftLedgerPath is the sqlite database recording Group Sync drift.
	DriftLedgerPath string `yaml:"drift_ledger_path" mapstructure:"drift_ledger_path"`
}

// GroupSyncConfig configures the Group Sync engine's IdP retry policy and
// where M2M service-account credentials are written.
type GroupSyncConfig struct {
	// CredentialsDir receives one JSON file per create_m2m_user call,
	// holding the hashed secret; the cleartext secret is returned to the
	// caller exactly once and never persisted.
	CredentialsDir string `yaml:"credentials_dir" mapstructure:"credentials_dir"`

	// MaxAttempts bounds the IdP-call retry loop (spec default 5).
	MaxAttempts int `yaml:"max_attempts" mapstructure:"max_attempts" validate:"omitempty,min=1"`
	// BackoffBase is the initial retry delay (default 200ms).
	BackoffBase string `yaml:"backoff_base" mapstructure:"backoff_base" validate:"omitempty"`
	// BackoffCap bounds the retry delay (default 5s).
	BackoffCap string `yaml:"backoff_cap" mapstructure:"backoff_cap" validate:"omitempty"`
}

// ReverseProxyConfig configures how the Registry signals the front proxy.
type ReverseProxyConfig struct {
	// FragmentPath is where the ProxyConfigFragment is materialized.
	FragmentPath string `yaml:"fragment_path" mapstructure:"fragment_path" validate:"required"`
	// ReloadCommand is executed after a successful fragment write
	// (e.g., "nginx -s reload"). Empty disables the reload signal.
	ReloadCommand string `yaml:"reload_command" mapstructure:"reload_command"`
}

// SetDevDefaults applies permissive defaults for development mode.
// Applied BEFORE validation so required fields are satisfied.
func (c *GatewayConfig) SetDevDefaults() {
	if !c.DevMode {
		return
	}
	if c.Secret.Key == "" {
		c.Secret.Key = "dev-only-secret-key-not-for-production-use!!"
	}
	if c.Identity.Provider == "" {
		c.Identity.Provider = "keycloak"
	}
	if len(c.ScopePolicy.Paths) == 0 {
		c.ScopePolicy.Paths = []string{"./data/scope-policy.yaml"}
	}
	if c.ToolIndex.EmbeddingModel == "" {
		c.ToolIndex.EmbeddingModel = "dev-stub-encoder"
	}
	if c.Audit.Output == "" {
		c.Audit.Output = "stdout"
	}
}

// SetDefaults applies sensible default values to the configuration.
func (c *GatewayConfig) SetDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.SessionTimeout == "" {
		c.Server.SessionTimeout = "30m"
	}
	if c.Server.ValidateBudget == "" {
		c.Server.ValidateBudget = "250ms"
	}
	if c.Server.ShutdownGrace == "" {
		c.Server.ShutdownGrace = "30s"
	}

	if c.Registry.RecordsDir == "" {
		c.Registry.RecordsDir = "./data/services"
	}

	if c.Health.Period == "" {
		c.Health.Period = "30s"
	}
	if c.Health.Timeout == "" {
		c.Health.Timeout = "10s"
	}

	if c.ToolIndex.Dimensions == 0 {
		c.ToolIndex.Dimensions = 384
	}
	if c.ToolIndex.CacheDir == "" {
		c.ToolIndex.CacheDir = "./data/tool-index"
	}
	if c.ToolIndex.CoalesceWindow == "" {
		c.ToolIndex.CoalesceWindow = "2s"
	}

	if c.Audit.Output == "" {
		c.Audit.Output = "stdout"
	}
	if c.Audit.ChannelSize == 0 {
		c.Audit.ChannelSize = 1000
	}
	if c.Audit.BatchSize == 0 {
		c.Audit.BatchSize = 100
	}
	if c.Audit.FlushInterval == "" {
		c.Audit.FlushInterval = "1s"
	}
	if c.Audit.SendTimeout == "" {
		c.Audit.SendTimeout = "100ms"
	}
	if c.Audit.WarningThreshold == 0 {
		c.Audit.WarningThreshold = 80
	}
	if c.Audit.BufferSize == 0 {
		c.Audit.BufferSize = 1000
	}
	if c.Audit.DriftLedgerPath == "" {
		c.Audit.DriftLedgerPath = "./data/drift.db"
	}

	if c.ReverseProxy.FragmentPath == "" {
		c.ReverseProxy.FragmentPath = "./data/proxy-fragment.json"
	}

	if c.GroupSync.CredentialsDir == "" {
		c.GroupSync.CredentialsDir = "./data/m2m-credentials"
	}
	if c.GroupSync.MaxAttempts == 0 {
		c.GroupSync.MaxAttempts = 5
	}
	if c.GroupSync.BackoffBase == "" {
		c.GroupSync.BackoffBase = "200ms"
	}
	if c.GroupSync.BackoffCap == "" {
		c.GroupSync.BackoffCap = "5s"
	}

	if home, err := os.UserHomeDir(); err == nil && c.ToolIndex.CacheDir == "" {
		c.ToolIndex.CacheDir = home + "/.mcp-gatewayd/tool-index"
	}
}
