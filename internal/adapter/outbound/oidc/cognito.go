package oidc

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mcpgw/gateway/internal/domain/identity"
)

// CognitoValidator verifies AWS Cognito-issued JWTs and resolves the
// "cognito:groups" claim into a Principal's Groups.
type CognitoValidator struct {
	core *jwksValidator
}

// NewCognitoValidator builds the JWKS URL from region and userPoolID
// per Cognito's well-known layout and registers it with the cache.
func NewCognitoValidator(ctx context.Context, region, userPoolID, clientID string, httpClient *http.Client) (*CognitoValidator, error) {
	issuer := fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/%s", region, userPoolID)
	jwksURL := issuer + "/.well-known/jwks.json"

	core, err := newJWKSValidator(ctx, issuer, clientID, jwksURL, httpClient)
	if err != nil {
		return nil, fmt.Errorf("build cognito validator: %w", err)
	}
	return &CognitoValidator{core: core}, nil
}

// Verify implements identity.Validator.
func (v *CognitoValidator) Verify(ctx context.Context, token string) (identity.Principal, time.Time, error) {
	claims, exp, err := v.core.verify(ctx, token)
	if err != nil {
		return identity.Principal{}, time.Time{}, err
	}

	sub := stringClaim(claims, "sub")
	groups := stringSliceClaim(claims, "cognito:groups")

	principalType := identity.PrincipalUser
	if stringClaim(claims, "token_use") == "access" && stringClaim(claims, "client_id") != "" && sub == "" {
		principalType = identity.PrincipalServiceAccount
	}

	return identity.Principal{
		ID:     sub,
		Type:   principalType,
		Groups: groups,
		Source: identity.SourceAuthorizationBearer,
		Idp:    identity.IdPCognito,
	}, exp, nil
}
