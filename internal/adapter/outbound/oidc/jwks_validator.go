// Package oidc implements identity.Validator for IdP-issued JWTs,
// verified against the issuer's published JWKS: fetched and cached via
// lestrrat-go/jwx/v3 + lestrrat-go/httprc/v3, tokens parsed and verified
// via golang-jwt/jwt/v5. Deliberately narrower than a general-purpose
// token validator: no opaque-token introspection, no custom
// private-IP-aware HTTP client builder, since the Cognito/Keycloak
// integrations here never need either.
package oidc

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/httprc/v3"
	"github.com/lestrrat-go/jwx/v3/jwk"

	"github.com/mcpgw/gateway/internal/domain/identity"
)

// jwksValidator is the shared JWKS-backed verification core for both
// the Cognito and Keycloak validators; each wraps it with its own
// issuer/audience expectations and groups-claim extraction.
type jwksValidator struct {
	issuer   string
	audience string
	jwksURL  string
	cache    *jwk.Cache
}

func newJWKSValidator(ctx context.Context, issuer, audience, jwksURL string, httpClient *http.Client) (*jwksValidator, error) {
	rc := httprc.NewClient(httprc.WithHTTPClient(httpClient))
	cache, err := jwk.NewCache(ctx, rc)
	if err != nil {
		return nil, fmt.Errorf("create JWKS cache: %w", err)
	}
	if err := cache.Register(ctx, jwksURL); err != nil {
		return nil, fmt.Errorf("register JWKS URL %s: %w", jwksURL, err)
	}
	return &jwksValidator{issuer: issuer, audience: audience, jwksURL: jwksURL, cache: cache}, nil
}

// verify parses and validates tokenString's signature, issuer,
// audience, and expiry, returning its claims.
func (v *jwksValidator) verify(ctx context.Context, tokenString string) (jwt.MapClaims, time.Time, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		return v.keyFor(ctx, t)
	})
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return nil, time.Time{}, fmt.Errorf("token failed validation")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, time.Time{}, fmt.Errorf("unexpected claims type")
	}

	if v.issuer != "" {
		iss, err := claims.GetIssuer()
		if err != nil || strings.TrimSpace(iss) != strings.TrimSpace(v.issuer) {
			return nil, time.Time{}, fmt.Errorf("unexpected issuer %q", iss)
		}
	}
	if v.audience != "" {
		auds, err := claims.GetAudience()
		if err != nil || !containsString(auds, v.audience) {
			return nil, time.Time{}, fmt.Errorf("unexpected audience")
		}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil || exp.Before(time.Now()) {
		return nil, time.Time{}, fmt.Errorf("token expired")
	}

	return claims, exp.Time, nil
}

func (v *jwksValidator) keyFor(ctx context.Context, token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
		return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
	}
	kid, ok := token.Header["kid"].(string)
	if !ok {
		return nil, fmt.Errorf("token header missing kid")
	}
	keySet, err := v.cache.Lookup(ctx, v.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("lookup JWKS: %w", err)
	}
	key, found := keySet.LookupKeyID(kid)
	if !found {
		return nil, fmt.Errorf("key id %s not found in JWKS", kid)
	}
	var raw any
	if err := jwk.Export(key, &raw); err != nil {
		return nil, fmt.Errorf("export key: %w", err)
	}
	return raw, nil
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func stringClaim(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}

func stringSliceClaim(claims jwt.MapClaims, key string) []string {
	raw, ok := claims[key]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, x := range v {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

var _ identity.Validator = (*CognitoValidator)(nil)
var _ identity.Validator = (*KeycloakValidator)(nil)
