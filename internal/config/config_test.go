package config

import "testing"

func TestGatewayConfig_SetDefaults(t *testing.T) {
	t.Parallel()

	var cfg GatewayConfig
	cfg.SetDefaults()

	if cfg.Server.HTTPAddr != "127.0.0.1:8080" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "127.0.0.1:8080")
	}
	if cfg.Audit.Output != "stdout" {
		t.Errorf("Audit.Output = %q, want %q", cfg.Audit.Output, "stdout")
	}
	if cfg.Health.Period != "30s" {
		t.Errorf("Health.Period = %q, want 30s", cfg.Health.Period)
	}
	if cfg.Health.Timeout != "10s" {
		t.Errorf("Health.Timeout = %q, want 10s", cfg.Health.Timeout)
	}
	if cfg.ToolIndex.Dimensions != 384 {
		t.Errorf("ToolIndex.Dimensions = %d, want 384", cfg.ToolIndex.Dimensions)
	}
	if cfg.ToolIndex.CoalesceWindow != "2s" {
		t.Errorf("ToolIndex.CoalesceWindow = %q, want 2s", cfg.ToolIndex.CoalesceWindow)
	}
	if cfg.Server.ValidateBudget != "250ms" {
		t.Errorf("Server.ValidateBudget = %q, want 250ms", cfg.Server.ValidateBudget)
	}
}

func TestGatewayConfig_SetDevDefaults(t *testing.T) {
	t.Parallel()

	cfg := GatewayConfig{DevMode: true}
	cfg.SetDevDefaults()

	if cfg.Secret.Key == "" {
		t.Error("dev mode should populate a default secret key")
	}
	if cfg.Identity.Provider != "keycloak" {
		t.Errorf("Identity.Provider = %q, want keycloak", cfg.Identity.Provider)
	}
	if len(cfg.ScopePolicy.Paths) == 0 {
		t.Error("dev mode should populate a default scope policy path")
	}
}

func TestGatewayConfig_SetDevDefaults_NoOpWithoutDevMode(t *testing.T) {
	t.Parallel()

	var cfg GatewayConfig
	cfg.SetDevDefaults()

	if cfg.Secret.Key != "" {
		t.Error("SetDevDefaults must be a no-op when DevMode is false")
	}
}

func TestGatewayConfig_Validate_RequiresSecret(t *testing.T) {
	t.Parallel()

	cfg := GatewayConfig{
		Identity:    IdentityProvidersConfig{Provider: "keycloak", Keycloak: KeycloakConfig{BaseURL: "https://kc", Realm: "r"}},
		ScopePolicy: ScopePolicyConfig{Paths: []string{"/tmp/a.yaml"}},
	}
	cfg.SetDefaults()

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for missing secret key")
	}
}

func TestGatewayConfig_Validate_ProviderRequiresFields(t *testing.T) {
	t.Parallel()

	cfg := GatewayConfig{
		Secret:      SecretConfig{Key: "01234567890123456789012345678901"},
		Identity:    IdentityProvidersConfig{Provider: "cognito"},
		ScopePolicy: ScopePolicyConfig{Paths: []string{"/tmp/a.yaml"}},
	}
	cfg.SetDefaults()

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error: cognito provider missing user_pool_id/client_id")
	}
}

func TestGatewayConfig_Validate_OK(t *testing.T) {
	t.Parallel()

	cfg := GatewayConfig{
		Secret: SecretConfig{Key: "01234567890123456789012345678901"},
		Identity: IdentityProvidersConfig{
			Provider: "keycloak",
			Keycloak: KeycloakConfig{BaseURL: "https://kc.example.com", Realm: "gateway"},
		},
		ScopePolicy: ScopePolicyConfig{Paths: []string{"/tmp/container.yaml", "/tmp/host.yaml"}},
	}
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}
