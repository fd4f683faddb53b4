package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"go.uber.org/zap"
)

// DefaultWebPortalEndpoint is the production web portal.
const DefaultWebPortalEndpoint = "https://app.kiro.dev"

// DefaultWebRedirectURI is the fixed redirect target registered with the
// portal's IdPs.
const DefaultWebRedirectURI = "https://app.kiro.dev/signin/oauth"

const (
	webPortalServicePath = "/service/KiroWebPortalService/operation/"
	smithyProtocolHeader = "rpc-v2-cbor"
	suspendedMarker      = "AccountSuspendedException"

	// Session cookie names used by the portal.
	cookieAccessToken  = "AccessToken"
	cookieRefreshToken = "RefreshToken"
	cookieIdp          = "Idp"
)

// WebPortalClient speaks the portal's binary RPC protocol: CBOR request and
// response bodies, with session state carried in cookies alongside the
// structured body.
type WebPortalClient struct {
	endpoint string
	http     *http.Client
	log      *zap.Logger
}

type WebPortalOption func(*WebPortalClient)

func WithWebPortalEndpoint(endpoint string) WebPortalOption {
	return func(c *WebPortalClient) { c.endpoint = strings.TrimRight(endpoint, "/") }
}

func WithWebPortalHTTPClient(hc *http.Client) WebPortalOption {
	return func(c *WebPortalClient) { c.http = hc }
}

func WithWebPortalLogger(log *zap.Logger) WebPortalOption {
	return func(c *WebPortalClient) { c.log = log }
}

func NewWebPortal(opts ...WebPortalOption) *WebPortalClient {
	c := &WebPortalClient{
		endpoint: DefaultWebPortalEndpoint,
		http:     newHTTPClient(30 * time.Second),
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type initiateLoginRequest struct {
	Idp                 string `cbor:"idp"`
	RedirectURI         string `cbor:"redirectUri"`
	CodeChallenge       string `cbor:"codeChallenge"`
	CodeChallengeMethod string `cbor:"codeChallengeMethod"`
	State               string `cbor:"state"`
}

type initiateLoginResponse struct {
	RedirectURL string `cbor:"redirectUrl"`
}

type exchangeTokenRequest struct {
	Idp          string `cbor:"idp"`
	Code         string `cbor:"code"`
	CodeVerifier string `cbor:"codeVerifier"`
	RedirectURI  string `cbor:"redirectUri"`
	State        string `cbor:"state"`
}

type exchangeTokenResponse struct {
	AccessToken string `cbor:"accessToken"`
	CsrfToken   string `cbor:"csrfToken"`
	ExpiresIn   int64  `cbor:"expiresIn"`
	ProfileArn  string `cbor:"profileArn"`
}

// ExchangeResult merges the structured ExchangeToken body with the session
// cookies. AccessToken prefers the body over the cookie; SessionToken only
// ever arrives as the RefreshToken cookie.
type ExchangeResult struct {
	AccessToken  string
	CsrfToken    string
	ExpiresIn    int64
	ProfileArn   string
	SessionToken string
	Idp          string
}

type refreshTokenRequest struct {
	CsrfToken string `cbor:"csrfToken"`
}

// WebRefreshResponse is the RefreshToken operation body.
type WebRefreshResponse struct {
	AccessToken string `cbor:"accessToken"`
	CsrfToken   string `cbor:"csrfToken"`
	ExpiresIn   int64  `cbor:"expiresIn"`
	ProfileArn  string `cbor:"profileArn"`
}

// WebUserInfo is the GetUserInfo operation body.
type WebUserInfo struct {
	Email  string `cbor:"email" json:"email"`
	UserID string `cbor:"userId" json:"userId"`
	Idp    string `cbor:"idp" json:"idp"`
	Status string `cbor:"status" json:"status"`
}

type usageRequest struct {
	IsEmailRequired bool   `cbor:"isEmailRequired"`
	Origin          string `cbor:"origin"`
}

// WebUsageBreakdown is one entry of the portal usage report. The structure is
// stored verbatim into the account's usage snapshot, so it keeps the
// backend's field names on both wire formats.
type WebUsageBreakdown struct {
	ResourceType              string  `cbor:"resourceType" json:"resourceType,omitempty"`
	UsageLimit                int64   `cbor:"usageLimit" json:"usageLimit,omitempty"`
	CurrentUsage              int64   `cbor:"currentUsage" json:"currentUsage,omitempty"`
	UsageLimitWithPrecision   float64 `cbor:"usageLimitWithPrecision" json:"usageLimitWithPrecision,omitempty"`
	CurrentUsageWithPrecision float64 `cbor:"currentUsageWithPrecision" json:"currentUsageWithPrecision,omitempty"`
	OverageRate               float64 `cbor:"overageRate" json:"overageRate,omitempty"`
	OverageCap                int64   `cbor:"overageCap" json:"overageCap,omitempty"`
	Currency                  string  `cbor:"currency" json:"currency,omitempty"`
}

type WebSubscriptionInfo struct {
	SubscriptionType  string `cbor:"subscriptionType" json:"subscriptionType,omitempty"`
	SubscriptionTitle string `cbor:"subscriptionTitle" json:"subscriptionTitle,omitempty"`
}

// WebUsageAndLimits is the GetUserUsageAndLimits operation body.
type WebUsageAndLimits struct {
	UsageBreakdownList []WebUsageBreakdown  `cbor:"usageBreakdownList" json:"usageBreakdownList,omitempty"`
	SubscriptionInfo   *WebSubscriptionInfo `cbor:"subscriptionInfo" json:"subscriptionInfo,omitempty"`
	DaysUntilReset     int64                `cbor:"daysUntilReset" json:"daysUntilReset,omitempty"`
	NextDateReset      float64              `cbor:"nextDateReset" json:"nextDateReset,omitempty"`
	UserInfo           *WebUserInfo         `cbor:"userInfo" json:"userInfo,omitempty"`
}

// InitiateLogin asks the portal for the IdP authorization URL.
func (c *WebPortalClient) InitiateLogin(ctx context.Context, idp, redirectURI, codeChallenge, state string) (string, error) {
	req := initiateLoginRequest{
		Idp:                 idp,
		RedirectURI:         redirectURI,
		CodeChallenge:       codeChallenge,
		CodeChallengeMethod: "S256",
		State:               state,
	}
	var out initiateLoginResponse
	if _, err := c.call(ctx, "InitiateLogin", req, &out, callOptions{}); err != nil {
		return "", fmt.Errorf("InitiateLogin failed: %w", err)
	}
	return out.RedirectURL, nil
}

// ExchangeToken exchanges the redirect's code for session material. The state
// must be the value that actually arrived on the redirect: the backend
// re-encodes the state it was originally given, so no equality check against
// the generated value is possible here.
func (c *WebPortalClient) ExchangeToken(ctx context.Context, idp, code, codeVerifier, redirectURI, state string) (*ExchangeResult, error) {
	req := exchangeTokenRequest{
		Idp:          idp,
		Code:         code,
		CodeVerifier: codeVerifier,
		RedirectURI:  redirectURI,
		State:        state,
	}
	var body exchangeTokenResponse
	resp, err := c.call(ctx, "ExchangeToken", req, &body, callOptions{})
	if err != nil {
		return nil, fmt.Errorf("ExchangeToken failed: %w", err)
	}

	result := &ExchangeResult{
		AccessToken: body.AccessToken,
		CsrfToken:   body.CsrfToken,
		ExpiresIn:   body.ExpiresIn,
		ProfileArn:  body.ProfileArn,
	}
	for _, ck := range resp.Cookies() {
		switch ck.Name {
		case cookieRefreshToken:
			result.SessionToken = ck.Value
		case cookieAccessToken:
			if result.AccessToken == "" {
				result.AccessToken = ck.Value
			}
		case cookieIdp:
			result.Idp = ck.Value
		}
	}
	return result, nil
}

// RefreshToken rotates the session. The csrf token travels in both the body
// and the x-csrf-token header; the three session values go as cookies.
func (c *WebPortalClient) RefreshToken(ctx context.Context, accessToken, csrfToken, sessionToken, idp string) (*WebRefreshResponse, error) {
	req := refreshTokenRequest{CsrfToken: csrfToken}
	var out WebRefreshResponse
	_, err := c.call(ctx, "RefreshToken", req, &out, callOptions{
		csrfToken: csrfToken,
		cookies: []*http.Cookie{
			{Name: cookieAccessToken, Value: accessToken},
			{Name: cookieRefreshToken, Value: sessionToken},
			{Name: cookieIdp, Value: idp},
		},
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetUserInfo fetches the authenticated user's identity.
func (c *WebPortalClient) GetUserInfo(ctx context.Context, accessToken, idp string) (*WebUserInfo, error) {
	req := struct {
		Origin string `cbor:"origin"`
	}{Origin: "KIRO_IDE"}
	var out WebUserInfo
	_, err := c.call(ctx, "GetUserInfo", req, &out, callOptions{
		bearer: accessToken,
		cookies: []*http.Cookie{
			{Name: cookieIdp, Value: idp},
			{Name: cookieAccessToken, Value: accessToken},
		},
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetUserUsageAndLimits fetches the quota snapshot.
func (c *WebPortalClient) GetUserUsageAndLimits(ctx context.Context, accessToken, idp string) (*WebUsageAndLimits, error) {
	req := usageRequest{IsEmailRequired: true, Origin: "KIRO_IDE"}
	var out WebUsageAndLimits
	_, err := c.call(ctx, "GetUserUsageAndLimits", req, &out, callOptions{
		bearer: accessToken,
		cookies: []*http.Cookie{
			{Name: cookieIdp, Value: idp},
			{Name: cookieAccessToken, Value: accessToken},
		},
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

type callOptions struct {
	csrfToken string
	bearer    string
	cookies   []*http.Cookie
}

// call performs one binary RPC round trip and decodes the CBOR body into out.
// The *http.Response is returned with its body already consumed so callers
// can read cookies and headers.
func (c *WebPortalClient) call(ctx context.Context, operation string, in, out any, opts callOptions) (*http.Response, error) {
	payload, err := cbor.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("CBOR encode error: %w", err)
	}
	url := c.endpoint + webPortalServicePath + operation
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/cbor")
	req.Header.Set("Accept", "application/cbor")
	req.Header.Set("smithy-protocol", smithyProtocolHeader)
	if opts.csrfToken != "" {
		req.Header.Set("x-csrf-token", opts.csrfToken)
	}
	if opts.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+opts.bearer)
	}
	for _, ck := range opts.cookies {
		req.AddCookie(ck)
	}

	c.log.Debug("web portal call", zap.String("operation", operation))
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", operation, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		msg := decodeCBORError(raw)
		if resp.StatusCode == http.StatusLocked || strings.Contains(msg, suspendedMarker) {
			return nil, ErrAccountSuspended
		}
		return nil, &HTTPError{StatusCode: resp.StatusCode, Message: msg}
	}
	if out != nil {
		if err := cbor.Unmarshal(raw, out); err != nil {
			return nil, fmt.Errorf("CBOR decode error: %w", err)
		}
	}
	return resp, nil
}

func decodeCBORError(raw []byte) string {
	var generic map[string]any
	if err := cbor.Unmarshal(raw, &generic); err == nil {
		parts := make([]string, 0, len(generic))
		for k, v := range generic {
			parts = append(parts, fmt.Sprintf("%s=%v", k, v))
		}
		return strings.Join(parts, " ")
	}
	return strings.TrimSpace(string(raw))
}
