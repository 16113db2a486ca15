// Package identity contains the domain types and validator contracts for
// the Credential Validators (CV): pluggable verifiers resolving a bearer
// credential into a Principal.
package identity

import (
	"context"
	"time"
)

// PrincipalType distinguishes human users from machine callers.
type PrincipalType string

const (
	PrincipalUser           PrincipalType = "user"
	PrincipalServiceAccount PrincipalType = "service-account"
)

// Source identifies which credential channel produced this Principal.
type Source string

const (
	SourceSession             Source = "session"
	SourceIngressHeader       Source = "ingress-header"
	SourceAuthorizationBearer Source = "authorization-bearer"
)

// IdP identifies the issuing identity provider.
type IdP string

const (
	IdPCognito  IdP = "cognito"
	IdPKeycloak IdP = "keycloak"
)

// Principal is resolved at authorization time from a credential.
type Principal struct {
	ID     string
	Type   PrincipalType
	Groups []string
	Source Source
	Idp    IdP
}

// InGroup reports whether the principal carries group g.
func (p Principal) InGroup(g string) bool {
	for _, x := range p.Groups {
		if x == g {
			return true
		}
	}
	return false
}

// Validator verifies a bearer token and resolves it to a Principal.
type Validator interface {
	// Verify validates token and returns the resolved Principal along
	// with its expiry time.
	Verify(ctx context.Context, token string) (Principal, time.Time, error)
}

// CognitoHint carries the discriminator headers selecting the Cognito
// validator.
type CognitoHint struct {
	UserPoolID string
	ClientID   string
	Region     string
}

// KeycloakHint carries the discriminator headers selecting the Keycloak
// validator.
type KeycloakHint struct {
	BaseURL string
	Realm   string
}
