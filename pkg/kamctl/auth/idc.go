package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kirozen/kamctl/pkg/kamctl/client"
)

const defaultPollInterval = 5 * time.Second

// IdcProvider logs in through the region's SSO OIDC service using the
// device-authorization grant: register a client, show the user a code, poll
// until they approve in the browser.
type IdcProvider struct {
	cfg           ProviderConfig
	newSSO        func(region string) *client.SSOOIDCClient
	registrations *RegistrationCache
	browser       BrowserOpener
	log           *zap.Logger

	// sleep is swapped out in tests to keep the poll loop instantaneous.
	sleep func(ctx context.Context, d time.Duration) error
}

func (p *IdcProvider) ProviderID() string { return p.cfg.ProviderID }
func (p *IdcProvider) AuthMethod() string { return MethodDevice }

func (p *IdcProvider) startURL() string {
	if p.cfg.StartURL != "" {
		return p.cfg.StartURL
	}
	return BuilderIDStartURL
}

// clientIDHash is a stable key correlating stored accounts with cached client
// registrations for the same issuer.
func clientIDHash(startURL string) string {
	sum := sha256.Sum256([]byte(startURL))
	return hex.EncodeToString(sum[:])
}

func (p *IdcProvider) Login(ctx context.Context) (*AuthResult, error) {
	startURL := p.startURL()
	sso := p.newSSO(p.cfg.Region)
	p.log.Info("starting device authorization",
		zap.String("provider", p.cfg.ProviderID),
		zap.String("region", p.cfg.Region),
		zap.String("startUrl", startURL))

	reg, err := p.clientRegistration(ctx, sso, startURL)
	if err != nil {
		return nil, err
	}

	da, err := sso.StartDeviceAuthorization(ctx, reg.ClientID, reg.ClientSecret, startURL)
	if err != nil {
		return nil, err
	}
	p.log.Info("device authorization started",
		zap.String("userCode", da.UserCode),
		zap.String("verificationUri", da.VerificationURI))

	verificationURL := da.VerificationURIComplete
	if verificationURL == "" {
		verificationURL = da.VerificationURI
	}
	if err := p.browser(verificationURL); err != nil {
		return nil, fmt.Errorf("failed to open browser: %w", err)
	}

	token, err := p.poll(ctx, sso, reg, da)
	if err != nil {
		return nil, err
	}

	p.log.Info("device authorization approved",
		zap.String("provider", p.cfg.ProviderID),
		zap.Int64("expiresIn", token.ExpiresIn))
	return p.result(token, reg.ClientID, reg.ClientSecret, p.cfg.Region, clientIDHash(startURL)), nil
}

// clientRegistration reuses a cached registration for this issuer when one is
// still valid, registering a fresh client otherwise.
func (p *IdcProvider) clientRegistration(ctx context.Context, sso *client.SSOOIDCClient, startURL string) (client.ClientRegistration, error) {
	if p.registrations != nil {
		if reg, ok := p.registrations.Get(startURL, p.cfg.Region); ok {
			p.log.Debug("reusing cached client registration")
			return reg, nil
		}
	}
	reg, err := sso.RegisterClient(ctx, startURL)
	if err != nil {
		return client.ClientRegistration{}, err
	}
	if p.registrations != nil {
		if err := p.registrations.Put(startURL, p.cfg.Region, *reg); err != nil {
			p.log.Warn("failed to cache client registration", zap.Error(err))
		}
	}
	return *reg, nil
}

func (p *IdcProvider) poll(ctx context.Context, sso *client.SSOOIDCClient, reg client.ClientRegistration, da *client.DeviceAuthorization) (*client.SSOTokenResponse, error) {
	interval := time.Duration(da.Interval) * time.Second
	if interval == 0 {
		interval = defaultPollInterval
	}
	deadline := time.Now().Add(time.Duration(da.ExpiresIn) * time.Second)
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	for {
		if time.Now().After(deadline) {
			return nil, ErrDeviceAuthTimeout
		}
		if err := sleep(ctx, interval); err != nil {
			return nil, err
		}
		token, err := sso.PollDeviceToken(ctx, reg.ClientID, reg.ClientSecret, da.DeviceCode)
		switch {
		case err == nil:
			return token, nil
		case errors.Is(err, client.ErrAuthorizationPending):
			continue
		case errors.Is(err, client.ErrSlowDown):
			interval += 5 * time.Second
			continue
		case errors.Is(err, client.ErrExpiredToken):
			return nil, ErrDeviceCodeExpired
		case errors.Is(err, client.ErrAccessDenied):
			return nil, ErrUserDenied
		default:
			return nil, err
		}
	}
}

// Refresh needs the registration that minted the token; clientId,
// clientSecret and region come from metadata.
func (p *IdcProvider) Refresh(ctx context.Context, refreshToken string, md RefreshMetadata) (*AuthResult, error) {
	if md.ClientID == "" {
		return nil, fmt.Errorf("%w: clientId is required for device-flow refresh", ErrMissingMetadata)
	}
	if md.ClientSecret == "" {
		return nil, fmt.Errorf("%w: clientSecret is required for device-flow refresh", ErrMissingMetadata)
	}
	region := md.Region
	if region == "" {
		region = p.cfg.Region
	}

	sso := p.newSSO(region)
	token, err := sso.RefreshToken(ctx, md.ClientID, md.ClientSecret, refreshToken)
	if err != nil {
		if errors.Is(err, client.ErrUnauthorized) {
			return nil, ErrRefreshTokenInvalid
		}
		return nil, err
	}

	hash := md.ClientIDHash
	if hash == "" {
		hash = clientIDHash(p.startURL())
	}
	return p.result(token, md.ClientID, md.ClientSecret, region, hash), nil
}

func (p *IdcProvider) result(token *client.SSOTokenResponse, clientID, clientSecret, region, hash string) *AuthResult {
	return &AuthResult{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    expiryFrom(token.ExpiresIn),
		ExpiresIn:    token.ExpiresIn,
		Provider:     p.cfg.ProviderID,
		AuthMethod:   MethodDevice,
		TokenType:    token.TokenType,
		IDToken:      token.IDToken,
		Region:       region,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		ClientIDHash: hash,
		SSOSessionID: token.SSOSessionID,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
