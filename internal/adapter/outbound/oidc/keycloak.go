package oidc

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mcpgw/gateway/internal/domain/identity"
)

// KeycloakValidator verifies Keycloak-issued JWTs and resolves groups
// from the "groups" claim (mapped by a Keycloak group-membership
// mapper) falling back to realm_access.roles.
type KeycloakValidator struct {
	core *jwksValidator
}

// NewKeycloakValidator builds the issuer/JWKS URLs from baseURL and
// realm per Keycloak's well-known layout.
func NewKeycloakValidator(ctx context.Context, baseURL, realm, clientID string, httpClient *http.Client) (*KeycloakValidator, error) {
	issuer := strings.TrimSuffix(baseURL, "/") + "/realms/" + realm
	jwksURL := issuer + "/protocol/openid-connect/certs"

	core, err := newJWKSValidator(ctx, issuer, clientID, jwksURL, httpClient)
	if err != nil {
		return nil, fmt.Errorf("build keycloak validator: %w", err)
	}
	return &KeycloakValidator{core: core}, nil
}

// Verify implements identity.Validator.
func (v *KeycloakValidator) Verify(ctx context.Context, token string) (identity.Principal, time.Time, error) {
	claims, exp, err := v.core.verify(ctx, token)
	if err != nil {
		return identity.Principal{}, time.Time{}, err
	}

	sub := stringClaim(claims, "sub")
	groups := stringSliceClaim(claims, "groups")
	if len(groups) == 0 {
		groups = realmAccessRoles(claims)
	}

	principalType := identity.PrincipalUser
	if stringClaim(claims, "preferred_username") == "" && stringClaim(claims, "azp") != "" {
		principalType = identity.PrincipalServiceAccount
	}

	return identity.Principal{
		ID:     sub,
		Type:   principalType,
		Groups: groups,
		Source: identity.SourceAuthorizationBearer,
		Idp:    identity.IdPKeycloak,
	}, exp, nil
}

// realmAccessRoles extracts the realm_access.roles claim Keycloak
// embeds by default, used when no explicit groups mapper is configured.
func realmAccessRoles(claims map[string]any) []string {
	realmAccess, ok := claims["realm_access"].(map[string]any)
	if !ok {
		return nil
	}
	rolesRaw, ok := realmAccess["roles"].([]any)
	if !ok {
		return nil
	}
	roles := make([]string, 0, len(rolesRaw))
	for _, r := range rolesRaw {
		if s, ok := r.(string); ok {
			roles = append(roles, s)
		}
	}
	return roles
}
