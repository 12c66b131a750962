// Package identity signs employees in through an OpenID Connect provider so a
// check-in can be submitted with the provider's email and name.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/MKhalifi/employee-checkin/internal/attendance"
	"github.com/MKhalifi/employee-checkin/internal/auth"
)

// ErrLoginFailed wraps every failure of the provider round trip.
var ErrLoginFailed = errors.New("identity provider login failed")

// Config describes the provider registration.
type Config struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	StateKey     string
	StateIssuer  string
}

// Provider drives the authorization code flow.
type Provider struct {
	oauth2      *oauth2.Config
	verifier    *oidc.IDTokenVerifier
	stateKey    string
	stateIssuer string
}

// NewProvider discovers the issuer's endpoints.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("discover oidc provider %s: %w", cfg.Issuer, err)
	}
	return &Provider{
		oauth2: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
		},
		verifier:    provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		stateKey:    cfg.StateKey,
		stateIssuer: cfg.StateIssuer,
	}, nil
}

// AuthURL returns the provider URL that starts a login for checkinToken.
func (p *Provider) AuthURL(checkinToken string) (string, error) {
	nonce, err := randomString(16)
	if err != nil {
		return "", err
	}
	state, err := auth.IssueState(checkinToken, nonce, p.stateIssuer, p.stateKey, auth.DefaultStateTTL)
	if err != nil {
		return "", fmt.Errorf("sign state: %w", err)
	}
	return p.oauth2.AuthCodeURL(state, oidc.Nonce(nonce)), nil
}

// Complete exchanges code, verifies the ID token against the nonce carried in
// state and returns the check-in token with the identity claimed by the provider.
func (p *Provider) Complete(ctx context.Context, state, code string) (string, attendance.Identity, error) {
	claimsState, err := auth.ParseState(state, p.stateKey, p.stateIssuer)
	if err != nil {
		return "", attendance.Identity{}, fmt.Errorf("%w: invalid state: %v", ErrLoginFailed, err)
	}

	tok, err := p.oauth2.Exchange(ctx, code)
	if err != nil {
		return "", attendance.Identity{}, fmt.Errorf("%w: code exchange: %v", ErrLoginFailed, err)
	}
	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok {
		return "", attendance.Identity{}, fmt.Errorf("%w: no id_token in response", ErrLoginFailed)
	}
	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return "", attendance.Identity{}, fmt.Errorf("%w: verify id_token: %v", ErrLoginFailed, err)
	}

	var claims struct {
		Nonce         string `json:"nonce"`
		Email         string `json:"email"`
		EmailVerified *bool  `json:"email_verified"`
		Name          string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return "", attendance.Identity{}, fmt.Errorf("%w: decode claims: %v", ErrLoginFailed, err)
	}
	if claims.Nonce != claimsState.Nonce {
		return "", attendance.Identity{}, fmt.Errorf("%w: nonce mismatch", ErrLoginFailed)
	}
	if claims.EmailVerified != nil && !*claims.EmailVerified {
		return "", attendance.Identity{}, fmt.Errorf("%w: email not verified by provider", ErrLoginFailed)
	}

	return claimsState.CheckinToken, attendance.Identity{Email: claims.Email, Name: claims.Name}, nil
}

func randomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
