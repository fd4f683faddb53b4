package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultDesktopEndpoint is the production desktop auth service.
const DefaultDesktopEndpoint = "https://prod.us-east-1.auth.desktop.kiro.dev"

// DesktopAuthClient talks to the desktop auth service: browser login URL,
// code-for-token exchange and refresh.
type DesktopAuthClient struct {
	endpoint  string
	http      *http.Client
	userAgent string
	log       *zap.Logger
}

type DesktopOption func(*DesktopAuthClient)

func WithDesktopEndpoint(endpoint string) DesktopOption {
	return func(c *DesktopAuthClient) {
		c.endpoint = strings.TrimRight(endpoint, "/")
	}
}

func WithDesktopUserAgent(userAgent string) DesktopOption {
	return func(c *DesktopAuthClient) { c.userAgent = userAgent }
}

func WithDesktopHTTPClient(hc *http.Client) DesktopOption {
	return func(c *DesktopAuthClient) { c.http = hc }
}

func WithDesktopLogger(log *zap.Logger) DesktopOption {
	return func(c *DesktopAuthClient) { c.log = log }
}

func NewDesktopAuth(opts ...DesktopOption) *DesktopAuthClient {
	c := &DesktopAuthClient{
		endpoint:  DefaultDesktopEndpoint,
		http:      newHTTPClient(10 * time.Second),
		userAgent: defaultUserAgent,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DesktopTokenResponse is the JSON body returned by /oauth/token and
// /refreshToken.
type DesktopTokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
	ProfileArn   string `json:"profileArn,omitempty"`
	CsrfToken    string `json:"csrfToken,omitempty"`
	IDToken      string `json:"idToken,omitempty"`
	TokenType    string `json:"tokenType,omitempty"`
}

// LoginURL builds the browser login URL. This is a redirect target, not an
// API call: the backend answers with the IdP's hosted login page.
func (c *DesktopAuthClient) LoginURL(idp, redirectURI, codeChallenge, state string) string {
	return fmt.Sprintf(
		"%s/login?idp=%s&redirect_uri=%s&code_challenge=%s&code_challenge_method=S256&state=%s",
		c.endpoint, idp, url.QueryEscape(redirectURI), codeChallenge, state,
	)
}

// CreateToken exchanges an authorization code plus PKCE verifier for tokens.
func (c *DesktopAuthClient) CreateToken(ctx context.Context, code, codeVerifier, redirectURI, invitationCode string) (*DesktopTokenResponse, error) {
	body := map[string]string{
		"code":          code,
		"code_verifier": codeVerifier,
		"redirect_uri":  redirectURI,
	}
	if invitationCode != "" {
		body["invitation_code"] = invitationCode
	}
	var out DesktopTokenResponse
	if err := c.post(ctx, "/oauth/token", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RefreshToken exchanges a refresh token for a fresh token set. Transient
// transport errors are retried; a 401 maps to ErrUnauthorized.
func (c *DesktopAuthClient) RefreshToken(ctx context.Context, refreshToken string) (*DesktopTokenResponse, error) {
	body := map[string]string{"refreshToken": refreshToken}
	var out DesktopTokenResponse
	err := doWithRetry(ctx, func() error {
		out = DesktopTokenResponse{}
		return c.post(ctx, "/refreshToken", body, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *DesktopAuthClient) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		c.log.Debug("desktop auth rejected token", zap.String("path", path))
		return ErrUnauthorized
	}
	if resp.StatusCode >= 400 {
		return &HTTPError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
