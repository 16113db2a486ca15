// Package gwfront implements the Gateway Front: the
// HTTP surface consumed by the reverse proxy's auth-subrequest hook,
// by browsers during the 3LO login flow, and by registry-admin and
// MCP tool clients. Built as a functional-options handler over a
// stdlib mux, the same routing idiom internal/adapter/inbound/http
// uses; unlike that package, this one owns authorization (the /api/*
// registry routes require a UI capability, and /mcpgw/mcp checks the
// capability of each tool it is asked to call, both against the caller's
// session groups; /validate, /login, /callback, /logout and
// /tokens/generate are not capability-gated).
package gwfront

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mcpgw/gateway/internal/domain/apperr"
	"github.com/mcpgw/gateway/internal/domain/identity"
	"github.com/mcpgw/gateway/internal/domain/scope"
	"github.com/mcpgw/gateway/internal/port/outbound"
	"github.com/mcpgw/gateway/internal/service"
)

// SessionCookieName is the cookie the Auth Plane mints on a successful
// 3LO callback and reads back on every subsequent request.
const SessionCookieName = "mcpgw_session"

// Handler serves the Gateway Front's HTTP surface.
type Handler struct {
	auth     *service.AuthPlane
	registry *service.RegistryService
	groups   *service.GroupSyncService
	index    *service.ToolIndexService
	health   *service.HealthSupervisor
	policy   outbound.ScopePolicyStore
	logger   *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithAuthPlane wires the Auth Plane /validate, login, and
// token-vending operations depend on.
func WithAuthPlane(a *service.AuthPlane) Option { return func(h *Handler) { h.auth = a } }

// WithRegistry wires the /api/* registry admin routes.
func WithRegistry(r *service.RegistryService) Option { return func(h *Handler) { h.registry = r } }

// WithGroupSync wires the Group Sync operations the admin MCP surface
// exposes (list_groups, create_group, ...).
func WithGroupSync(g *service.GroupSyncService) Option { return func(h *Handler) { h.groups = g } }

// WithToolIndex wires intelligent_tool_finder.
func WithToolIndex(i *service.ToolIndexService) Option { return func(h *Handler) { h.index = i } }

// WithHealthSupervisor wires the healthcheck admin tool/route.
func WithHealthSupervisor(hs *service.HealthSupervisor) Option {
	return func(h *Handler) { h.health = hs }
}

// WithScopePolicyStore wires the capability check every /api/* and
// /mcpgw/mcp route performs against the caller's session groups.
func WithScopePolicyStore(p outbound.ScopePolicyStore) Option {
	return func(h *Handler) { h.policy = p }
}

// WithLogger sets the handler's logger.
func WithLogger(logger *slog.Logger) Option { return func(h *Handler) { h.logger = logger } }

// NewHandler builds a Handler.
func NewHandler(opts ...Option) *Handler {
	h := &Handler{logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns the mux serving every Gateway Front endpoint, to be mounted at the server root.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /validate", h.handleValidate)

	mux.HandleFunc("GET /login", h.handleLogin)
	mux.HandleFunc("GET /callback", h.handleCallback)
	mux.HandleFunc("POST /logout", h.handleLogout)
	mux.HandleFunc("POST /tokens/generate", h.handleGenerateToken)

	mux.HandleFunc("GET /api/list_services", h.requireCapability(scope.CapListService, h.handleListServices))
	mux.HandleFunc("GET /api/server_details/{path...}", h.requireCapability(scope.CapListService, h.handleServerDetails))
	mux.HandleFunc("POST /api/register", h.requireCapability(scope.CapRegisterService, h.handleRegister))
	mux.HandleFunc("POST /api/toggle/{path...}", h.requireCapability(scope.CapModifyService, h.handleToggle))
	mux.HandleFunc("POST /api/edit/{path...}", h.requireCapability(scope.CapModifyService, h.handleEdit))
	mux.HandleFunc("POST /api/remove", h.requireCapability(scope.CapModifyService, h.handleRemove))

	mux.HandleFunc("POST /mcpgw/mcp", h.handleAdminMCP)

	return mux
}

// handleValidate implements the /validate contract: idempotent,
// side-effect free, answers allow/deny for the reverse proxy's
// auth-subrequest hook.
func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	body, err := readLimited(w, r)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	in := service.ValidateInput{
		SessionCookieValue: cookieValue(r, SessionCookieName),
		IngressBearer:      bearerFrom(r.Header.Get("X-Authorization")),
		CognitoHint: identity.CognitoHint{
			UserPoolID: r.Header.Get("X-User-Pool-Id"),
			ClientID:   r.Header.Get("X-Client-Id"),
			Region:     r.Header.Get("X-Region"),
		},
		KeycloakHint: identity.KeycloakHint{
			BaseURL: r.Header.Get("X-Keycloak-URL"),
			Realm:   r.Header.Get("X-Keycloak-Realm"),
		},
		ServicePath: servicePathOf(r),
		Body:        body,
	}

	result, err := h.auth.Validate(r.Context(), in)
	if err != nil {
		h.logger.Error("validate failed", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	if !result.Allowed {
		w.Header().Set("X-Deny-Reason", result.Reason)
		w.WriteHeader(result.Status)
		return
	}
	for k, v := range result.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(http.StatusOK)
}

// servicePathOf extracts the target MCP service path the reverse proxy
// is validating access to, carried in X-Original-Uri by the
// nginx-auth-request-style subrequest hook.
func servicePathOf(r *http.Request) string {
	if p := r.Header.Get("X-Original-Uri"); p != "" {
		if idx := strings.IndexByte(p, '?'); idx >= 0 {
			p = p[:idx]
		}
		return p
	}
	return r.URL.Path
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	provider := identity.IdP(r.URL.Query().Get("provider"))
	if provider == "" {
		respondError(w, http.StatusBadRequest, "provider query parameter is required")
		return
	}
	redirectBack := r.URL.Query().Get("redirect_back")
	if redirectBack == "" {
		redirectBack = "/"
	}

	url, err := h.auth.StartLogin(provider, redirectBack)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")
	if state == "" || code == "" {
		respondError(w, http.StatusBadRequest, "state and code query parameters are required")
		return
	}

	cookie, redirectBack, err := h.auth.HandleCallback(r.Context(), state, code)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err.Error())
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    cookie,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int((30 * time.Minute).Seconds()),
	})
	http.Redirect(w, r, redirectBack, http.StatusFound)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	h.auth.Logout(r.Context(), cookieValue(r, SessionCookieName))
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
	w.WriteHeader(http.StatusNoContent)
}

type generateTokenRequest struct {
	Description     string   `json:"description"`
	ExpiresInHours  int      `json:"expires_in_hours"`
	RequestedScopes []string `json:"requested_scopes,omitempty"`
}

type generateTokenResponse struct {
	AccessToken string   `json:"access_token"`
	ExpiresIn   int      `json:"expires_in"`
	Scopes      []string `json:"scopes"`
}

func (h *Handler) handleGenerateToken(w http.ResponseWriter, r *http.Request) {
	var req generateTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	result, err := h.auth.GenerateToken(r.Context(), cookieValue(r, SessionCookieName), service.TokenVendRequest{
		Description:     req.Description,
		ExpiresInHours:  req.ExpiresInHours,
		RequestedScopes: req.RequestedScopes,
	})
	if err != nil {
		status := http.StatusBadRequest
		switch err {
		case service.ErrUnauthenticated:
			status = http.StatusUnauthorized
		case service.ErrScopeNotHeld:
			status = http.StatusForbidden
		}
		respondError(w, status, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, generateTokenResponse{
		AccessToken: result.AccessToken,
		ExpiresIn:   result.ExpiresIn,
		Scopes:      result.Scopes,
	})
}

// requireCapability wraps next so it only runs when the session cookie
// resolves to a principal holding cap in at least one of its groups.
func (h *Handler) requireCapability(cap scope.UICapability, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		groups, ok := h.sessionGroups(r)
		if !ok {
			respondError(w, http.StatusUnauthorized, "no valid session")
			return
		}
		if h.policy == nil {
			respondError(w, http.StatusServiceUnavailable, "scope policy store not configured")
			return
		}
		policy, err := h.policy.Load(r.Context())
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to load scope policy")
			return
		}
		if !hasCapability(policy, groups, cap) {
			respondError(w, http.StatusForbidden, "missing required capability: "+string(cap))
			return
		}
		next(w, r)
	}
}

// sessionGroups resolves the caller's session cookie through the same
// /validate credential path, without duplicating AuthPlane's
// HMAC-signature and session-lookup logic in this package.
func (h *Handler) sessionGroups(r *http.Request) ([]string, bool) {
	result, err := h.auth.Validate(r.Context(), service.ValidateInput{
		SessionCookieValue: cookieValue(r, SessionCookieName),
		ServicePath:        "/__gwfront_admin__",
	})
	if err != nil || result.Reason == "unauthenticated" {
		return nil, false
	}
	if groups, ok := result.Headers["X-Principal-Groups"]; ok {
		if groups == "" {
			return []string{}, true
		}
		return strings.Split(groups, ","), true
	}
	return []string{}, true
}

func hasCapability(policy scope.Policy, groups []string, cap scope.UICapability) bool {
	for _, g := range groups {
		if policy.UIScopes.Has(g, cap) {
			return true
		}
	}
	return false
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

func bearerFrom(header string) string {
	const prefix = "Bearer "
	if strings.HasPrefix(header, prefix) {
		return strings.TrimPrefix(header, prefix)
	}
	return ""
}

func readLimited(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	defer func() { _ = r.Body.Close() }()
	return io.ReadAll(r.Body)
}

type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}

// httpStatusFor maps an apperr.Kind-carrying error (from RegistryService
// or GroupSyncService) to the HTTP status apperr.HTTPStatus assigns it.
func httpStatusFor(err error) int {
	if kind := apperr.KindOf(err); kind != "" {
		return apperr.HTTPStatus(kind)
	}
	return http.StatusBadRequest
}
