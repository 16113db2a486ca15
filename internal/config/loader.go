// Package config provides configuration loading for mcp-gatewayd.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment variables.
// If configFile is empty, it searches for mcp-gatewayd.yaml/.yml in standard locations.
// The search requires an explicit YAML extension to avoid matching the binary itself,
// which Viper's built-in SetConfigName would match (same base name, no extension).
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		viper.SetConfigName("mcp-gatewayd")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: MCP_GATEWAYD_SERVER_HTTP_ADDR
	viper.SetEnvPrefix("MCP_GATEWAYD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for an mcp-gatewayd config
// file with an explicit YAML extension (.yaml or .yml).
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".mcp-gatewayd"),
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "mcp-gatewayd"))
		}
	} else {
		paths = append(paths, "/etc/mcp-gatewayd")
	}
	return findConfigFileInPaths(paths)
}

func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "mcp-gatewayd"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds the config keys listed below for environment
// variable support; keys not listed are read from the config file only.
func bindNestedEnvKeys() {
	_ = viper.BindEnv("server.http_addr")
	_ = viper.BindEnv("server.session_timeout")
	_ = viper.BindEnv("server.log_level")
	_ = viper.BindEnv("server.validate_budget")
	_ = viper.BindEnv("server.shutdown_grace")

	_ = viper.BindEnv("secret.key", "SECRET_KEY")

	_ = viper.BindEnv("identity.provider", "AUTH_PROVIDER")
	_ = viper.BindEnv("identity.cognito.region")
	_ = viper.BindEnv("identity.cognito.user_pool_id")
	_ = viper.BindEnv("identity.cognito.client_id")
	_ = viper.BindEnv("identity.cognito.client_secret")
	_ = viper.BindEnv("identity.cognito.redirect_url")
	_ = viper.BindEnv("identity.keycloak.base_url")
	_ = viper.BindEnv("identity.keycloak.realm")
	_ = viper.BindEnv("identity.keycloak.client_id")
	_ = viper.BindEnv("identity.keycloak.client_secret")
	_ = viper.BindEnv("identity.keycloak.redirect_url")

	_ = viper.BindEnv("registry.records_dir")
	// scope_policy.paths is an array; set via YAML or repeated env parsing.

	_ = viper.BindEnv("health.period")
	_ = viper.BindEnv("health.timeout")

	_ = viper.BindEnv("tool_index.embedding_model")
	_ = viper.BindEnv("tool_index.dimensions")
	_ = viper.BindEnv("tool_index.cache_dir")
	_ = viper.BindEnv("tool_index.coalesce_window")

	_ = viper.BindEnv("audit.output")
	_ = viper.BindEnv("audit.drift_ledger_path")

	_ = viper.BindEnv("reverse_proxy.fragment_path")
	_ = viper.BindEnv("reverse_proxy.reload_command")

	_ = viper.BindEnv("dev_mode")
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, and returns the GatewayConfig.
func LoadConfig() (*GatewayConfig, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg GatewayConfig
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults, but does
// NOT apply dev defaults or validate. Use this when CLI flags may override
// DevMode before validation.
func LoadConfigRaw() (*GatewayConfig, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg GatewayConfig
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was loaded.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
