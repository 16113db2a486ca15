package oauth

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
)

// Exchanger drives the authorization-code + PKCE exchange for /login
// and /callback against a configured IdP's OAuth2 endpoints.
type Exchanger struct {
	config *oauth2.Config
}

// NewExchanger builds an Exchanger for the given IdP OAuth2 endpoints.
func NewExchanger(clientID, clientSecret, authURL, tokenURL, redirectURL string, scopes []string) *Exchanger {
	return &Exchanger{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     oauth2.Endpoint{AuthURL: authURL, TokenURL: tokenURL},
			RedirectURL:  redirectURL,
			Scopes:       scopes,
		},
	}
}

// AuthCodeURL builds the authorization redirect URL carrying state and
// the PKCE code challenge.
func (e *Exchanger) AuthCodeURL(state string, pkce *PKCEParams) string {
	return e.config.AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", pkce.CodeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
}

// Exchange trades the authorization code plus the original PKCE code
// verifier for an access/ID token pair.
func (e *Exchanger) Exchange(ctx context.Context, code string, pkce *PKCEParams) (*oauth2.Token, error) {
	tok, err := e.config.Exchange(ctx, code, oauth2.SetAuthURLParam("code_verifier", pkce.CodeVerifier))
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}
	return tok, nil
}

// IDToken extracts the "id_token" field the IdP returns alongside the
// access token, used to resolve the session's Principal.
func IDToken(tok *oauth2.Token) (string, bool) {
	raw := tok.Extra("id_token")
	s, ok := raw.(string)
	return s, ok
}
