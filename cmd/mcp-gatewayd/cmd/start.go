package cmd

import (
	"context"
	"fmt"
	"log/slog"
	stdhttp "net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/mcpgw/gateway/internal/adapter/inbound/admin"
	"github.com/mcpgw/gateway/internal/adapter/inbound/gwfront"
	inhttp "github.com/mcpgw/gateway/internal/adapter/inbound/http"
	outaudit "github.com/mcpgw/gateway/internal/adapter/outbound/audit"
	"github.com/mcpgw/gateway/internal/adapter/outbound/driftledger"
	"github.com/mcpgw/gateway/internal/adapter/outbound/embedding"
	"github.com/mcpgw/gateway/internal/adapter/outbound/idp"
	"github.com/mcpgw/gateway/internal/adapter/outbound/memory"
	"github.com/mcpgw/gateway/internal/adapter/outbound/oauth"
	"github.com/mcpgw/gateway/internal/adapter/outbound/oidc"
	"github.com/mcpgw/gateway/internal/adapter/outbound/registryfile"
	"github.com/mcpgw/gateway/internal/adapter/outbound/scopestore"
	"github.com/mcpgw/gateway/internal/config"
	"github.com/mcpgw/gateway/internal/domain/audit"
	"github.com/mcpgw/gateway/internal/domain/events"
	"github.com/mcpgw/gateway/internal/domain/identity"
	"github.com/mcpgw/gateway/internal/domain/registry"
	"github.com/mcpgw/gateway/internal/domain/session"
	"github.com/mcpgw/gateway/internal/port/outbound"
	"github.com/mcpgw/gateway/internal/service"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the gateway",
	Long: `Start mcp-gatewayd: the Auth Plane, Registry, Health Supervisor,
Semantic Tool Finder, Group Sync engine, and the Gateway Front HTTP
surface the front reverse proxy's auth-subrequest hook and registry
admin clients talk to.

Examples:
  # Start with config file settings
  mcp-gatewayd start

  # Start with a specific config file
  mcp-gatewayd --config /path/to/config.yaml start`,
	RunE: runStart,
}

var devMode bool

func init() {
	startCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (verbose logging, dev-friendly defaults)")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if devMode {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop() // Restore default: next Ctrl+C = immediate exit.
	}()

	logLevel := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	logger.Debug("log level configured", "level", cfg.Server.LogLevel, "effective", logLevel.String())

	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	if err := run(ctx, cfg, logger); err != nil {
		return err
	}

	logger.Info("mcp-gatewayd stopped")
	return nil
}

// run wires every adapter and service together and blocks until ctx is
// cancelled. Boot order follows the dependency chain: persistence before
// services, services before the HTTP surface.
func run(ctx context.Context, cfg *config.GatewayConfig, logger *slog.Logger) error {
	// ===== Registry =====
	regStore, err := registryfile.NewStore(cfg.Registry.RecordsDir, logger)
	if err != nil {
		return fmt.Errorf("failed to open registry store: %w", err)
	}
	bus := events.NewBus()
	registrySvc := service.NewRegistryService(regStore, bus, cfg.ReverseProxy.FragmentPath, cfg.ReverseProxy.ReloadCommand, logger)

	// ===== Scope Policy Store =====
	policyStore, err := scopestore.NewStore(cfg.ScopePolicy.Paths)
	if err != nil {
		return fmt.Errorf("failed to open scope policy store: %w", err)
	}

	// ===== Identity: Credential Validators and OAuth2 Exchangers =====
	validators, exchangers, err := buildIdentityProviders(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to configure identity providers: %w", err)
	}

	sessionTimeout, err := time.ParseDuration(cfg.Server.SessionTimeout)
	if err != nil {
		sessionTimeout = 30 * time.Minute
		logger.Warn("invalid session_timeout, using default", "value", cfg.Server.SessionTimeout, "default", sessionTimeout)
	}
	validateBudget, err := time.ParseDuration(cfg.Server.ValidateBudget)
	if err != nil {
		validateBudget = 250 * time.Millisecond
	}

	sessionStore := memory.NewSessionStore()
	sessionStore.StartCleanup(ctx)
	defer sessionStore.Stop()
	sessionSvc := session.NewSessionService(sessionStore, session.Config{Timeout: sessionTimeout})

	var keycloakURL string
	if cfg.Identity.Keycloak.BaseURL != "" {
		keycloakURL = strings.TrimSuffix(cfg.Identity.Keycloak.BaseURL, "/") + "/realms/" + cfg.Identity.Keycloak.Realm
	}

	authPlane := service.NewAuthPlane(service.AuthPlaneConfig{
		Validators:  validators,
		Exchangers:  exchangers,
		Sessions:    sessionSvc,
		Registry:    registrySvc,
		Policy:      policyStore,
		SecretKey:   cfg.Secret.Key,
		Budget:      validateBudget,
		KeycloakURL: keycloakURL,
		Logger:      logger,
	})

	// ===== Semantic Tool Finder =====
	toolIndexDims := cfg.ToolIndex.Dimensions
	coalesceWindow, err := time.ParseDuration(cfg.ToolIndex.CoalesceWindow)
	if err != nil {
		coalesceWindow = 2 * time.Second
	}
	toolIndexSvc := service.NewToolIndexService(embedding.NewHashingEncoder(toolIndexDims), coalesceWindow, logger)

	// ===== Health Supervisor =====
	healthPeriod, err := time.ParseDuration(cfg.Health.Period)
	if err != nil {
		healthPeriod = 30 * time.Second
	}
	healthTimeout, err := time.ParseDuration(cfg.Health.Timeout)
	if err != nil {
		healthTimeout = 10 * time.Second
	}
	healthSupervisor := service.NewHealthSupervisor(regStore, healthPeriod, healthTimeout, logger,
		service.WithInventoryHook(toolIndexSvc.OnInventory),
	)
	healthSupervisor.Start(ctx)
	defer healthSupervisor.Stop()

	// ===== Group Sync =====
	groupSyncSvc, driftStore, err := buildGroupSync(cfg, regStore, policyStore, bus, logger)
	if err != nil {
		return fmt.Errorf("failed to configure group sync: %w", err)
	}
	if driftStore != nil {
		defer func() { _ = driftStore.Close() }()
	}

	// ===== Audit =====
	auditStore, err := createAuditStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create audit store: %w", err)
	}
	defer func() { _ = auditStore.Close() }()

	flushInterval, err := time.ParseDuration(cfg.Audit.FlushInterval)
	if err != nil {
		flushInterval = time.Second
	}
	sendTimeout, err := time.ParseDuration(cfg.Audit.SendTimeout)
	if err != nil {
		sendTimeout = 100 * time.Millisecond
	}
	auditSvc := service.NewAuditService(auditStore, logger,
		service.WithBatchSize(cfg.Audit.BatchSize),
		service.WithFlushInterval(flushInterval),
		service.WithChannelSize(cfg.Audit.ChannelSize),
		service.WithSendTimeout(sendTimeout),
		service.WithWarningThreshold(cfg.Audit.WarningThreshold),
	)
	auditSvc.Start(ctx)
	defer auditSvc.Stop()

	// ===== Gateway Front =====
	gwFrontOpts := []gwfront.Option{
		gwfront.WithAuthPlane(authPlane),
		gwfront.WithRegistry(registrySvc),
		gwfront.WithToolIndex(toolIndexSvc),
		gwfront.WithHealthSupervisor(healthSupervisor),
		gwfront.WithScopePolicyStore(policyStore),
		gwfront.WithLogger(logger),
	}
	if groupSyncSvc != nil {
		gwFrontOpts = append(gwFrontOpts, gwfront.WithGroupSync(groupSyncSvc))
	}
	gwFront := gwfront.NewHandler(gwFrontOpts...)

	// ===== Admin audit-query surface =====
	adminHandler := admin.NewAdminAPIHandler(
		admin.WithAuditReader(auditReaderFor(auditStore)),
		admin.WithLogger(logger),
	)

	healthChecker := inhttp.NewHealthChecker(sessionStore, regStore, auditSvc, Version)

	transport := inhttp.NewHTTPTransport(noopDispatcher{},
		inhttp.WithAddr(cfg.Server.HTTPAddr),
		inhttp.WithLogger(logger),
		inhttp.WithHTTPGatewayHandler(gwFront.Routes()),
		inhttp.WithExtraHandler(adminHandler.Routes()),
		inhttp.WithHealthChecker(healthChecker),
	)
	defer func() { _ = transport.Close() }()

	logger.Info("mcp-gatewayd starting", "addr", cfg.Server.HTTPAddr, "dev_mode", cfg.DevMode)
	if err := transport.Start(ctx); err != nil {
		return fmt.Errorf("http transport: %w", err)
	}
	return nil
}

// auditReaderFor narrows store down to the admin.AuditReader interface.
// FileAuditStore implements GetRecent but not Query, so it does not
// satisfy admin.AuditReader: with file output this returns nil and every
// admin audit route answers 503.
func auditReaderFor(store audit.AuditStore) admin.AuditReader {
	if r, ok := store.(admin.AuditReader); ok {
		return r
	}
	return nil
}

// createAuditStore opens the configured audit sink.
func createAuditStore(cfg *config.GatewayConfig, logger *slog.Logger) (audit.AuditStore, error) {
	switch {
	case cfg.Audit.Output == "stdout":
		logger.Debug("audit output: stdout", "buffer_size", cfg.Audit.BufferSize)
		return memory.NewAuditStore(cfg.Audit.BufferSize), nil

	case strings.HasPrefix(cfg.Audit.Output, "file://"):
		path := strings.TrimPrefix(cfg.Audit.Output, "file://")
		if path == "" {
			return nil, fmt.Errorf("invalid audit file URI: %s", cfg.Audit.Output)
		}
		store, err := outaudit.NewFileAuditStore(outaudit.AuditFileConfig{Dir: path}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit file store %s: %w", path, err)
		}
		logger.Debug("audit output: file", "directory", path)
		return store, nil

	default:
		return nil, fmt.Errorf("invalid audit output: %s (must be 'stdout' or 'file://path')", cfg.Audit.Output)
	}
}

// buildIdentityProviders constructs a Credential Validator and, where
// client credentials are configured, an OAuth2 Exchanger for every IdP
// with non-empty configuration — not just the primary cfg.Identity.Provider
// — since AuthPlane dispatches per-request on the Cognito/Keycloak hint
// headers, independent of which provider backs the UI login flow.
func buildIdentityProviders(ctx context.Context, cfg *config.GatewayConfig, logger *slog.Logger) (map[identity.IdP]identity.Validator, map[identity.IdP]*oauth.Exchanger, error) {
	validators := make(map[identity.IdP]identity.Validator)
	exchangers := make(map[identity.IdP]*oauth.Exchanger)

	if c := cfg.Identity.Cognito; c.Region != "" && c.UserPoolID != "" {
		v, err := oidc.NewCognitoValidator(ctx, c.Region, c.UserPoolID, c.ClientID, stdhttp.DefaultClient)
		if err != nil {
			return nil, nil, fmt.Errorf("cognito validator: %w", err)
		}
		validators[identity.IdPCognito] = v

		if c.Domain != "" && c.ClientSecret != "" {
			authURL := fmt.Sprintf("https://%s/oauth2/authorize", c.Domain)
			tokenURL := fmt.Sprintf("https://%s/oauth2/token", c.Domain)
			exchangers[identity.IdPCognito] = oauth.NewExchanger(c.ClientID, c.ClientSecret, authURL, tokenURL, c.RedirectURL, []string{"openid", "email", "profile"})
		}
	}

	if k := cfg.Identity.Keycloak; k.BaseURL != "" && k.Realm != "" {
		v, err := oidc.NewKeycloakValidator(ctx, k.BaseURL, k.Realm, k.ClientID, stdhttp.DefaultClient)
		if err != nil {
			return nil, nil, fmt.Errorf("keycloak validator: %w", err)
		}
		validators[identity.IdPKeycloak] = v

		if k.ClientSecret != "" {
			realmBase := strings.TrimSuffix(k.BaseURL, "/") + "/realms/" + k.Realm + "/protocol/openid-connect"
			exchangers[identity.IdPKeycloak] = oauth.NewExchanger(k.ClientID, k.ClientSecret, realmBase+"/auth", realmBase+"/token", k.RedirectURL, []string{"openid", "email", "profile"})
		}
	}

	if len(validators) == 0 {
		return nil, nil, fmt.Errorf("no identity provider configured (identity.cognito or identity.keycloak)")
	}
	return validators, exchangers, nil
}

// buildGroupSync wires the Group Sync engine to whichever IdP's admin
// API credentials are configured. Group Sync is optional: a gateway can
// run with the primary login IdP configured but no admin-API client
// credentials, in which case create_group/create_m2m_user and friends
// simply aren't available and gwFront omits the capability.
func buildGroupSync(cfg *config.GatewayConfig, regStore registry.Store, policyStore outbound.ScopePolicyStore, bus *events.Bus, logger *slog.Logger) (*service.GroupSyncService, *driftledger.Store, error) {
	var mgr outbound.IdPGroupManager

	switch cfg.Identity.Provider {
	case "cognito":
		c := cfg.Identity.Cognito
		if c.Region == "" || c.UserPoolID == "" {
			return nil, nil, nil
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(c.Region))
		if err != nil {
			return nil, nil, fmt.Errorf("load aws config: %w", err)
		}
		mgr = idp.NewCognitoGroupManager(cognitoidentityprovider.NewFromConfig(awsCfg), c.UserPoolID)

	case "keycloak":
		k := cfg.Identity.Keycloak
		if k.BaseURL == "" || k.Realm == "" || k.ClientID == "" || k.ClientSecret == "" {
			logger.Warn("group sync disabled: keycloak admin client credentials not configured")
			return nil, nil, nil
		}
		realmBase := strings.TrimSuffix(k.BaseURL, "/") + "/realms/" + k.Realm
		ccCfg := &clientcredentials.Config{
			ClientID:     k.ClientID,
			ClientSecret: k.ClientSecret,
			TokenURL:     realmBase + "/protocol/openid-connect/token",
		}
		// ccCfg.Client lazily fetches and refreshes the admin bearer token
		// on first use via the client-credentials grant; KeycloakGroupManager
		// doesn't need a long-lived token minted up front.
		adminHTTPClient := ccCfg.Client(context.Background())
		mgr = idp.NewKeycloakGroupManager(adminHTTPClient, k.BaseURL, k.Realm, "")

	default:
		return nil, nil, nil
	}

	resolver := &registryResolver{store: regStore}

	driftStore, err := driftledger.Open(cfg.Audit.DriftLedgerPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open drift ledger: %w", err)
	}

	backoffBase, err := time.ParseDuration(cfg.GroupSync.BackoffBase)
	if err != nil {
		backoffBase = 200 * time.Millisecond
	}
	backoffCap, err := time.ParseDuration(cfg.GroupSync.BackoffCap)
	if err != nil {
		backoffCap = 5 * time.Second
	}

	svc := service.NewGroupSyncService(mgr, policyStore, resolver, driftStore, bus, cfg.GroupSync.CredentialsDir, cfg.GroupSync.MaxAttempts, backoffBase, backoffCap, logger)
	return svc, driftStore, nil
}

// registryResolver bridges registry.Store's context-based List to
// scope.KnownServerResolver's synchronous single-server-lookup contract,
// so AddServerToGroups can populate a ServerPermission's tool list from
// the Registry's current inventory without this package's Group Sync
// wiring leaking into internal/domain/scope.
type registryResolver struct {
	store registry.Store
}

func (r *registryResolver) Resolve(serverName string) (string, []string, bool) {
	records, err := r.store.List(context.Background())
	if err != nil {
		return "", nil, false
	}
	for _, rec := range records {
		if rec.ServerName != serverName {
			continue
		}
		tools := make([]string, len(rec.ToolList))
		for i, t := range rec.ToolList {
			tools[i] = t.Name
		}
		return rec.Path, tools, true
	}
	return "", nil, false
}

// noopDispatcher satisfies inhttp.NewHTTPTransport's required Dispatcher
// argument. This deployment never terminates MCP sessions in-process:
// the front reverse proxy forwards /mcp/* traffic straight to upstream
// servers listed in the Registry after an auth subrequest to /validate,
// so /mcp and /mcp/ on this process are unreachable in normal operation.
type noopDispatcher struct{}

func (noopDispatcher) Dispatch(ctx context.Context, payload []byte) ([]byte, error) {
	return nil, fmt.Errorf("mcp-gatewayd does not terminate MCP sessions directly; point the front reverse proxy at the Registry's upstream targets")
}

// gracefulSignals returns the signals that trigger graceful shutdown.
func gracefulSignals() []os.Signal {
	return []os.Signal{os.Interrupt, syscall.SIGTERM}
}

// parseLogLevel converts a string log level to slog.Level, defaulting to
// slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
