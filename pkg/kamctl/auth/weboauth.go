package auth

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kirozen/kamctl/pkg/kamctl/client"
)

// ErrWebLoginTwoPhase is returned when the one-shot Login contract is used on
// the web flow, whose browser redirect happens out of process.
var ErrWebLoginTwoPhase = errors.New("web oauth login is two-phase: use Initiate and Complete")

// WebOAuthProvider logs in through the portal's binary RPC service. The
// redirect is captured by the caller, not the correlator, so the flow splits
// into Initiate and Complete.
type WebOAuthProvider struct {
	cfg    ProviderConfig
	portal *client.WebPortalClient
	log    *zap.Logger
}

func (p *WebOAuthProvider) ProviderID() string { return p.cfg.ProviderID }
func (p *WebOAuthProvider) AuthMethod() string { return MethodWebOAuth }

// InitiateResult carries everything Complete needs besides the redirect
// itself. Callers persist it between the two phases.
type InitiateResult struct {
	AuthorizeURL string `json:"authorizeUrl"`
	State        string `json:"state"`
	CodeVerifier string `json:"codeVerifier"`
	RedirectURI  string `json:"redirectUri"`
	Idp          string `json:"idp"`
	ProviderID   string `json:"providerId"`
}

// Login implements Provider but cannot run the two-phase flow in one call.
func (p *WebOAuthProvider) Login(ctx context.Context) (*AuthResult, error) {
	return nil, ErrWebLoginTwoPhase
}

// Initiate generates the PKCE material and asks the portal for the IdP
// authorization URL. The caller drives a browser there and captures the
// redirect.
func (p *WebOAuthProvider) Initiate(ctx context.Context) (*InitiateResult, error) {
	state := newStateToken()
	verifier, challenge, err := newPKCEPair()
	if err != nil {
		return nil, err
	}
	p.log.Info("initiating web oauth login", zap.String("provider", p.cfg.ProviderID))
	authorizeURL, err := p.portal.InitiateLogin(ctx, p.cfg.Idp, client.DefaultWebRedirectURI, challenge, state)
	if err != nil {
		return nil, err
	}
	if authorizeURL == "" {
		return nil, fmt.Errorf("%w: no redirectUrl in InitiateLogin response", ErrIncompleteExchange)
	}
	return &InitiateResult{
		AuthorizeURL: authorizeURL,
		State:        state,
		CodeVerifier: verifier,
		RedirectURI:  client.DefaultWebRedirectURI,
		Idp:          p.cfg.Idp,
		ProviderID:   p.cfg.ProviderID,
	}, nil
}

// Complete exchanges the redirect's code for session material. returnedState
// is whatever state value actually arrived on the redirect; the backend
// re-encodes the token it was given in Initiate, so it is forwarded verbatim
// rather than compared to the generated value.
func (p *WebOAuthProvider) Complete(ctx context.Context, code, returnedState, codeVerifier string) (*AuthResult, error) {
	result, err := p.portal.ExchangeToken(ctx, p.cfg.Idp, code, codeVerifier, client.DefaultWebRedirectURI, returnedState)
	if err != nil {
		return nil, p.mapErr(err)
	}
	if result.AccessToken == "" {
		return nil, fmt.Errorf("%w: no access token in body or cookie", ErrIncompleteExchange)
	}
	if result.CsrfToken == "" {
		return nil, fmt.Errorf("%w: no csrf token in response", ErrIncompleteExchange)
	}
	if result.SessionToken == "" {
		return nil, fmt.Errorf("%w: no session cookie in response", ErrIncompleteExchange)
	}
	expiresIn := result.ExpiresIn
	if expiresIn == 0 {
		expiresIn = 3600
	}
	p.log.Info("web oauth login complete",
		zap.String("provider", p.cfg.ProviderID),
		zap.Int64("expiresIn", expiresIn))
	return &AuthResult{
		AccessToken:  result.AccessToken,
		RefreshToken: result.SessionToken,
		ExpiresAt:    expiryFrom(expiresIn),
		ExpiresIn:    expiresIn,
		Provider:     p.cfg.ProviderID,
		AuthMethod:   MethodWebOAuth,
		TokenType:    "Bearer",
		ProfileArn:   result.ProfileArn,
		CsrfToken:    result.CsrfToken,
	}, nil
}

// Refresh rotates the portal session. The refresh token is the session
// cookie; the current access token and csrf token ride in as metadata.
func (p *WebOAuthProvider) Refresh(ctx context.Context, refreshToken string, md RefreshMetadata) (*AuthResult, error) {
	if md.AccessToken == "" {
		return nil, fmt.Errorf("%w: accessToken is required for web refresh", ErrMissingMetadata)
	}
	if md.CsrfToken == "" {
		return nil, fmt.Errorf("%w: csrfToken is required for web refresh", ErrMissingMetadata)
	}
	resp, err := p.portal.RefreshToken(ctx, md.AccessToken, md.CsrfToken, refreshToken, p.cfg.Idp)
	if err != nil {
		return nil, p.mapErr(err)
	}
	if resp.AccessToken == "" {
		return nil, fmt.Errorf("%w: no access token in refresh response", ErrIncompleteExchange)
	}
	if resp.CsrfToken == "" {
		return nil, fmt.Errorf("%w: no csrf token in refresh response", ErrIncompleteExchange)
	}
	expiresIn := resp.ExpiresIn
	if expiresIn == 0 {
		expiresIn = 3600
	}
	profileArn := resp.ProfileArn
	if profileArn == "" {
		profileArn = md.ProfileArn
	}
	return &AuthResult{
		AccessToken:  resp.AccessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiryFrom(expiresIn),
		ExpiresIn:    expiresIn,
		Provider:     p.cfg.ProviderID,
		AuthMethod:   MethodWebOAuth,
		TokenType:    "Bearer",
		ProfileArn:   profileArn,
		CsrfToken:    resp.CsrfToken,
	}, nil
}

func (p *WebOAuthProvider) mapErr(err error) error {
	switch {
	case errors.Is(err, client.ErrAccountSuspended):
		return ErrAccountSuspended
	case errors.Is(err, client.ErrUnauthorized):
		return ErrRefreshTokenInvalid
	default:
		return err
	}
}
