package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Scopes requested when registering the device client.
var ssoScopes = []string{
	"codewhisperer:completions",
	"codewhisperer:analysis",
	"codewhisperer:conversations",
	"codewhisperer:transformations",
	"codewhisperer:taskassist",
}

const ssoClientName = "Kiro Account Manager"

// SSOOIDCClient talks to the region-scoped AWS SSO OIDC service. Bodies are
// camelCase JSON, not the form encoding of standard OAuth endpoints.
type SSOOIDCClient struct {
	region   string
	endpoint string
	http     *http.Client
	log      *zap.Logger
}

type SSOOption func(*SSOOIDCClient)

func WithSSOEndpoint(endpoint string) SSOOption {
	return func(c *SSOOIDCClient) { c.endpoint = strings.TrimRight(endpoint, "/") }
}

func WithSSOHTTPClient(hc *http.Client) SSOOption {
	return func(c *SSOOIDCClient) { c.http = hc }
}

func WithSSOLogger(log *zap.Logger) SSOOption {
	return func(c *SSOOIDCClient) { c.log = log }
}

func NewSSOOIDC(region string, opts ...SSOOption) *SSOOIDCClient {
	c := &SSOOIDCClient{
		region:   region,
		endpoint: fmt.Sprintf("https://oidc.%s.amazonaws.com", region),
		http:     newHTTPClient(30 * time.Second),
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *SSOOIDCClient) Region() string { return c.region }

// ClientRegistration is the long-lived device client produced by
// /client/register. It is reused across logins for the same issuer.
type ClientRegistration struct {
	ClientID              string `json:"clientId"`
	ClientSecret          string `json:"clientSecret"`
	ClientIDIssuedAt      int64  `json:"clientIdIssuedAt,omitempty"`
	ClientSecretExpiresAt int64  `json:"clientSecretExpiresAt,omitempty"`
	AuthorizationEndpoint string `json:"authorizationEndpoint,omitempty"`
	TokenEndpoint         string `json:"tokenEndpoint,omitempty"`
}

type DeviceAuthorization struct {
	DeviceCode              string `json:"deviceCode"`
	UserCode                string `json:"userCode"`
	VerificationURI         string `json:"verificationUri"`
	VerificationURIComplete string `json:"verificationUriComplete,omitempty"`
	ExpiresIn               int64  `json:"expiresIn"`
	Interval                int64  `json:"interval,omitempty"`
}

type SSOTokenResponse struct {
	AccessToken     string `json:"accessToken"`
	RefreshToken    string `json:"refreshToken"`
	IDToken         string `json:"idToken,omitempty"`
	TokenType       string `json:"tokenType,omitempty"`
	ExpiresIn       int64  `json:"expiresIn"`
	SSOSessionID    string `json:"aws_sso_app_session_id,omitempty"`
	IssuedTokenType string `json:"issuedTokenType,omitempty"`
	OriginSessionID string `json:"originSessionId,omitempty"`
}

type deviceErrorResponse struct {
	Error string `json:"error"`
}

// RegisterClient registers an OIDC client supporting the device-code and
// refresh-token grants against the given issuer start URL.
func (c *SSOOIDCClient) RegisterClient(ctx context.Context, issuerURL string) (*ClientRegistration, error) {
	body := map[string]any{
		"clientName": ssoClientName,
		"clientType": "public",
		"scopes":     ssoScopes,
		"grantTypes": []string{"urn:ietf:params:oauth:grant-type:device_code", "refresh_token"},
		"issuerUrl":  issuerURL,
	}
	c.log.Debug("registering device client", zap.String("region", c.region))
	var out ClientRegistration
	if err := c.post(ctx, "/client/register", body, &out); err != nil {
		return nil, fmt.Errorf("device client registration failed: %w", err)
	}
	return &out, nil
}

// StartDeviceAuthorization begins the device flow for a registered client.
func (c *SSOOIDCClient) StartDeviceAuthorization(ctx context.Context, clientID, clientSecret, startURL string) (*DeviceAuthorization, error) {
	body := map[string]string{
		"clientId":     clientID,
		"clientSecret": clientSecret,
		"startUrl":     startURL,
	}
	var out DeviceAuthorization
	if err := c.post(ctx, "/device_authorization", body, &out); err != nil {
		return nil, fmt.Errorf("device authorization failed: %w", err)
	}
	return &out, nil
}

// PollDeviceToken polls the token endpoint once. Pending, slow_down, expiry
// and denial come back as the package sentinels; unrecognized codes as a
// *DeviceAuthError.
func (c *SSOOIDCClient) PollDeviceToken(ctx context.Context, clientID, clientSecret, deviceCode string) (*SSOTokenResponse, error) {
	body := map[string]string{
		"clientId":     clientID,
		"clientSecret": clientSecret,
		"grantType":    "urn:ietf:params:oauth:grant-type:device_code",
		"deviceCode":   deviceCode,
	}
	raw, status, err := c.postRaw(ctx, "/token", body)
	if err != nil {
		return nil, err
	}
	if status < 400 {
		var out SSOTokenResponse
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("failed to parse token response: %w", err)
		}
		return &out, nil
	}
	var devErr deviceErrorResponse
	if err := json.Unmarshal(raw, &devErr); err != nil || devErr.Error == "" {
		return nil, &HTTPError{StatusCode: status, Message: strings.TrimSpace(string(raw))}
	}
	switch devErr.Error {
	case "authorization_pending":
		return nil, ErrAuthorizationPending
	case "slow_down":
		return nil, ErrSlowDown
	case "expired_token":
		return nil, ErrExpiredToken
	case "access_denied":
		return nil, ErrAccessDenied
	default:
		return nil, &DeviceAuthError{Code: devErr.Error}
	}
}

// RefreshToken performs a refresh_token grant. 401 maps to ErrUnauthorized.
func (c *SSOOIDCClient) RefreshToken(ctx context.Context, clientID, clientSecret, refreshToken string) (*SSOTokenResponse, error) {
	body := map[string]string{
		"clientId":     clientID,
		"clientSecret": clientSecret,
		"grantType":    "refresh_token",
		"refreshToken": refreshToken,
	}
	var out SSOTokenResponse
	err := doWithRetry(ctx, func() error {
		out = SSOTokenResponse{}
		return c.post(ctx, "/token", body, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *SSOOIDCClient) post(ctx context.Context, path string, body, out any) error {
	raw, status, err := c.postRaw(ctx, path, body)
	if err != nil {
		return err
	}
	if status == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if status >= 400 {
		return &HTTPError{StatusCode: status, Message: strings.TrimSpace(string(raw))}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func (c *SSOOIDCClient) postRaw(ctx context.Context, path string, body any) ([]byte, int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read response: %w", err)
	}
	return raw, resp.StatusCode, nil
}
