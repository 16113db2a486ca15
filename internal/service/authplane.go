package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mcpgw/gateway/internal/adapter/outbound/oauth"
	"github.com/mcpgw/gateway/internal/domain/identity"
	"github.com/mcpgw/gateway/internal/domain/registry"
	"github.com/mcpgw/gateway/internal/domain/scope"
	"github.com/mcpgw/gateway/internal/domain/session"
	"github.com/mcpgw/gateway/internal/port/outbound"
)

// Errors returned by AuthPlane, mapped to HTTP status by the Gateway
// Front adapter's 401/403 split.
var (
	ErrUnauthenticated  = errors.New("no valid credential presented")
	ErrUnauthorized     = errors.New("principal not authorized for this method/tool")
	ErrInvalidState     = errors.New("login state invalid or expired")
	ErrScopeNotHeld     = errors.New("requested scope not held by the current session")
	ErrValidateBudget   = errors.New("validate exceeded its time budget")
)

// pendingLogin is one in-flight /login → /callback round trip.
type pendingLogin struct {
	Verifier     string
	Provider     identity.IdP
	RedirectBack string
	Expiry       time.Time
}

const pendingLoginTTL = 5 * time.Minute

// ValidateInput is everything the Gateway Front's /validate handler
// extracts from the proxied request for AuthPlane.Validate to reason
// about. Header extraction (reading the raw HTTP
// request) is the adapter's job; AuthPlane never touches net/http so
// it stays testable without spinning up a server.
type ValidateInput struct {
	// SessionCookieValue is the raw mcpgw_session cookie value, empty
	// if absent.
	SessionCookieValue string

	// IngressBearer is the "X-Authorization: Bearer …" token (ingress
	// identity for programmatic callers). An "Authorization: Bearer …"
	// header, if present, is an egress credential forwarded to the
	// backend and never reaches AuthPlane.
	IngressBearer string
	CognitoHint   identity.CognitoHint
	KeycloakHint  identity.KeycloakHint

	ServicePath string
	ServerName  string
	Body        []byte
}

// ValidateResult is AuthPlane.Validate's answer.
type ValidateResult struct {
	Allowed bool
	// Headers are the identity headers to inject upstream on allow
	// (X-Principal-Id, X-Principal-Groups, X-Idp).
	Headers map[string]string
	// Reason is a short deny code; Status is the HTTP status the
	// Gateway Front should return (401 or 403).
	Reason string
	Status int
}

// TokenVendRequest is POST /tokens/generate's input.
type TokenVendRequest struct {
	Description     string
	ExpiresInHours  int
	RequestedScopes []string
}

// TokenVendResult is POST /tokens/generate's output.
type TokenVendResult struct {
	AccessToken string
	ExpiresIn   int
	Scopes      []string
}

// AuthPlane implements /validate's authorization decision, the 3LO
// login flow, and token vending: session-cookie verification
// (internal/domain/session) generalized from a single IdP to
// Cognito/Keycloak discriminator-header selection per request.
type AuthPlane struct {
	validators  map[identity.IdP]identity.Validator
	exchangers  map[identity.IdP]*oauth.Exchanger
	sessions    *session.SessionService
	registry    registry.Store
	policy      outbound.ScopePolicyStore
	secretKey   []byte
	budget      time.Duration
	keycloakURL string // configured realm base URL, for the hint tie-break
	logger      *slog.Logger

	mu      sync.Mutex
	pending map[string]pendingLogin
}

// AuthPlaneConfig bundles AuthPlane's construction-time dependencies.
type AuthPlaneConfig struct {
	Validators  map[identity.IdP]identity.Validator
	Exchangers  map[identity.IdP]*oauth.Exchanger
	Sessions    *session.SessionService
	Registry    registry.Store
	Policy      outbound.ScopePolicyStore
	SecretKey   string
	Budget      time.Duration
	KeycloakURL string
	Logger      *slog.Logger
}

// NewAuthPlane builds an AuthPlane from cfg.
func NewAuthPlane(cfg AuthPlaneConfig) *AuthPlane {
	budget := cfg.Budget
	if budget == 0 {
		budget = 250 * time.Millisecond
	}
	return &AuthPlane{
		validators:  cfg.Validators,
		exchangers:  cfg.Exchangers,
		sessions:    cfg.Sessions,
		registry:    cfg.Registry,
		policy:      cfg.Policy,
		secretKey:   []byte(cfg.SecretKey),
		budget:      budget,
		keycloakURL: cfg.KeycloakURL,
		logger:      cfg.Logger,
		pending:     make(map[string]pendingLogin),
	}
}

// Validate answers the /validate contract.
func (a *AuthPlane) Validate(ctx context.Context, in ValidateInput) (ValidateResult, error) {
	ctx, cancel := context.WithTimeout(ctx, a.budget)
	defer cancel()

	principal, ok, err := a.resolvePrincipal(ctx, in)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ValidateResult{}, ErrValidateBudget
		}
		a.logger.Warn("validate: credential resolution failed", "error", err)
	}
	if !ok {
		return ValidateResult{Allowed: false, Reason: "unauthenticated", Status: 401}, nil
	}

	policy, err := a.policy.Load(ctx)
	if err != nil {
		return ValidateResult{}, fmt.Errorf("load scope policy: %w", err)
	}

	serverName := in.ServerName
	if serverName == "" && a.registry != nil {
		if rec, err := a.registry.Get(ctx, in.ServicePath); err == nil {
			serverName = rec.ServerName
		}
	}

	method, tool := extractMCPMethod(in.Body)
	isToolCall := method == "tools/call"

	decision := scope.Authorize(policy, principal, in.ServicePath, serverName, method, tool, isToolCall)
	if !decision.Allowed {
		return ValidateResult{Allowed: false, Reason: decision.Reason, Status: 403}, nil
	}

	return ValidateResult{
		Allowed: true,
		Headers: map[string]string{
			"X-Principal-Id":     principal.ID,
			"X-Principal-Groups": strings.Join(principal.Groups, ","),
			"X-Idp":              string(principal.Idp),
		},
	}, nil
}

// resolvePrincipal implements the credential resolution order: session
// cookie, then the ingress X-Authorization bearer (IdP JWT or a
// gateway-vended token), selecting Cognito vs Keycloak by
// discriminator header when the latter is used.
func (a *AuthPlane) resolvePrincipal(ctx context.Context, in ValidateInput) (identity.Principal, bool, error) {
	if in.SessionCookieValue != "" {
		sessionID, err := a.decodeCookie(in.SessionCookieValue)
		if err == nil {
			sess, err := a.sessions.Get(ctx, sessionID)
			if err == nil {
				return identity.Principal{
					ID:     sess.PrincipalID,
					Type:   identity.PrincipalUser,
					Groups: sess.Groups,
					Source: identity.SourceSession,
					Idp:    identity.IdP(sess.Idp),
				}, true, nil
			}
		}
	}

	if in.IngressBearer == "" {
		return identity.Principal{}, false, nil
	}

	validator := a.selectValidator(in)
	if validator != nil {
		p, _, err := validator.Verify(ctx, in.IngressBearer)
		if err == nil {
			return p, true, nil
		}
		return identity.Principal{}, false, err
	}

	p, _, err := a.verifyVendedToken(in.IngressBearer)
	if err != nil {
		return identity.Principal{}, false, err
	}
	return p, true, nil
}

// selectValidator picks Cognito or Keycloak by discriminator header:
// if both are present, Keycloak wins when X-Keycloak-URL matches the
// configured realm. Returns nil when neither discriminator is present,
// signalling the caller to try the locally-vended-token path.
func (a *AuthPlane) selectValidator(in ValidateInput) identity.Validator {
	hasKeycloak := in.KeycloakHint.BaseURL != ""
	hasCognito := in.CognitoHint.UserPoolID != ""

	if hasKeycloak && hasCognito {
		if a.keycloakURL != "" && strings.TrimSuffix(in.KeycloakHint.BaseURL, "/") == strings.TrimSuffix(a.keycloakURL, "/") {
			return a.validators[identity.IdPKeycloak]
		}
		return a.validators[identity.IdPCognito]
	}
	if hasKeycloak {
		return a.validators[identity.IdPKeycloak]
	}
	if hasCognito {
		return a.validators[identity.IdPCognito]
	}
	return nil
}

// StartLogin begins the 3LO flow: generates PKCE+state, records a
// pending login, and returns the IdP authorization URL to redirect to.
func (a *AuthPlane) StartLogin(provider identity.IdP, redirectBack string) (string, error) {
	exch, ok := a.exchangers[provider]
	if !ok {
		return "", fmt.Errorf("unknown or unconfigured provider %q", provider)
	}

	pkce, err := oauth.GeneratePKCEParams()
	if err != nil {
		return "", fmt.Errorf("generate pkce: %w", err)
	}
	state, err := oauth.GenerateState()
	if err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}

	a.mu.Lock()
	a.gcPendingLocked()
	a.pending[state] = pendingLogin{
		Verifier:     pkce.CodeVerifier,
		Provider:     provider,
		RedirectBack: redirectBack,
		Expiry:       time.Now().Add(pendingLoginTTL),
	}
	a.mu.Unlock()

	return exch.AuthCodeURL(state, pkce), nil
}

// gcPendingLocked drops expired pending logins. Caller holds a.mu.
func (a *AuthPlane) gcPendingLocked() {
	now := time.Now()
	for k, v := range a.pending {
		if now.After(v.Expiry) {
			delete(a.pending, k)
		}
	}
}

// HandleCallback completes the 3LO flow: validates state, exchanges
// the code, verifies the ID token, mints a session, and returns the
// signed cookie value plus the redirect_back URL.
func (a *AuthPlane) HandleCallback(ctx context.Context, state, code string) (cookie, redirectBack string, err error) {
	a.mu.Lock()
	pl, ok := a.pending[state]
	if ok {
		delete(a.pending, state)
	}
	a.gcPendingLocked()
	a.mu.Unlock()

	if !ok || time.Now().After(pl.Expiry) {
		return "", "", ErrInvalidState
	}

	exch, ok := a.exchangers[pl.Provider]
	if !ok {
		return "", "", fmt.Errorf("unknown or unconfigured provider %q", pl.Provider)
	}

	tok, err := exch.Exchange(ctx, code, &oauth.PKCEParams{CodeVerifier: pl.Verifier})
	if err != nil {
		return "", "", fmt.Errorf("exchange code: %w", err)
	}
	idToken, ok := oauth.IDToken(tok)
	if !ok {
		return "", "", fmt.Errorf("idp response missing id_token")
	}

	validator, ok := a.validators[pl.Provider]
	if !ok {
		return "", "", fmt.Errorf("no validator configured for provider %q", pl.Provider)
	}
	principal, _, err := validator.Verify(ctx, idToken)
	if err != nil {
		return "", "", fmt.Errorf("verify id token: %w", err)
	}

	sess, err := a.sessions.Create(ctx, principal)
	if err != nil {
		return "", "", fmt.Errorf("create session: %w", err)
	}

	return a.encodeCookie(sess.ID), pl.RedirectBack, nil
}

// Logout terminates the session backing cookieValue, if any. Always
// succeeds from the caller's perspective.
func (a *AuthPlane) Logout(ctx context.Context, cookieValue string) {
	if cookieValue == "" {
		return
	}
	sessionID, err := a.decodeCookie(cookieValue)
	if err != nil {
		return
	}
	_ = a.sessions.Delete(ctx, sessionID)
}

// GenerateToken mints a short-lived, gateway-signed access token
// carrying the subset of the session's groups requested: "rejects any scope not held."
func (a *AuthPlane) GenerateToken(ctx context.Context, cookieValue string, req TokenVendRequest) (TokenVendResult, error) {
	if cookieValue == "" {
		return TokenVendResult{}, ErrUnauthenticated
	}
	sessionID, err := a.decodeCookie(cookieValue)
	if err != nil {
		return TokenVendResult{}, ErrUnauthenticated
	}
	sess, err := a.sessions.Get(ctx, sessionID)
	if err != nil {
		return TokenVendResult{}, ErrUnauthenticated
	}

	if req.ExpiresInHours < 1 || req.ExpiresInHours > 24 {
		return TokenVendResult{}, fmt.Errorf("expires_in_hours must be in [1, 24]")
	}

	scopes := sess.Groups
	if len(req.RequestedScopes) > 0 {
		held := make(map[string]bool, len(sess.Groups))
		for _, g := range sess.Groups {
			held[g] = true
		}
		for _, s := range req.RequestedScopes {
			if !held[s] {
				return TokenVendResult{}, ErrScopeNotHeld
			}
		}
		scopes = req.RequestedScopes
	}

	expiresIn := time.Duration(req.ExpiresInHours) * time.Hour
	exp := time.Now().Add(expiresIn)

	claims := jwt.MapClaims{
		"sub":    sess.PrincipalID,
		"groups": scopes,
		"idp":    sess.Idp,
		"desc":   req.Description,
		"exp":    exp.Unix(),
		"iat":    time.Now().Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(a.secretKey)
	if err != nil {
		return TokenVendResult{}, fmt.Errorf("sign vended token: %w", err)
	}

	return TokenVendResult{
		AccessToken: signed,
		ExpiresIn:   int(expiresIn.Seconds()),
		Scopes:      scopes,
	}, nil
}

// verifyVendedToken validates a token minted by GenerateToken: an
// HS256 JWT signed with the same process-wide secret used for session
// cookies.
func (a *AuthPlane) verifyVendedToken(tokenString string) (identity.Principal, time.Time, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secretKey, nil
	})
	if err != nil || !token.Valid {
		return identity.Principal{}, time.Time{}, fmt.Errorf("invalid vended token: %w", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return identity.Principal{}, time.Time{}, fmt.Errorf("unexpected claims type")
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil || exp.Before(time.Now()) {
		return identity.Principal{}, time.Time{}, fmt.Errorf("vended token expired")
	}

	sub, _ := claims["sub"].(string)
	idp, _ := claims["idp"].(string)
	var groups []string
	if raw, ok := claims["groups"].([]any); ok {
		for _, g := range raw {
			if s, ok := g.(string); ok {
				groups = append(groups, s)
			}
		}
	}

	return identity.Principal{
		ID:     sub,
		Type:   identity.PrincipalServiceAccount,
		Groups: groups,
		Source: identity.SourceIngressHeader,
		Idp:    identity.IdP(idp),
	}, exp.Time, nil
}

// encodeCookie produces an HMAC-signed cookie value carrying the
// opaque session ID: "<sessionID>.<hex hmac-sha256>". The session
// itself is looked up server-side (internal/domain/session); the
// signature only proves the cookie was issued by this process and was
// not tampered with in transit, since the session ID alone is already
// unguessable (32 bytes from crypto/rand).
func (a *AuthPlane) encodeCookie(sessionID string) string {
	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(sessionID))
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	return sessionID + "." + sig
}

func (a *AuthPlane) decodeCookie(value string) (string, error) {
	idx := strings.LastIndex(value, ".")
	if idx < 0 {
		return "", fmt.Errorf("malformed session cookie")
	}
	sessionID, sig := value[:idx], value[idx+1:]

	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(sessionID))
	expected := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))

	if subtle.ConstantTimeCompare([]byte(sig), []byte(expected)) != 1 {
		return "", fmt.Errorf("session cookie signature mismatch")
	}
	return sessionID, nil
}

// extractMCPMethod best-effort extracts the JSON-RPC method name and,
// for tools/call, the tool name from params.name. A malformed or
// non-object body yields an empty method, which Authorize fails to
// match against any permission, so such a request is denied whatever
// method it carries, initialize, ping and tools/list included.
func extractMCPMethod(body []byte) (method, tool string) {
	var envelope struct {
		Method string `json:"method"`
		Params struct {
			Name string `json:"name"`
		} `json:"params"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return "", ""
	}
	return envelope.Method, envelope.Params.Name
}
