package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultUsageEndpoint serves quota lookups for device-flow accounts.
const DefaultUsageEndpoint = "https://codewhisperer.us-east-1.amazonaws.com"

// UsageClient fetches usage limits for accounts whose tokens were minted via
// the device flow. Web-flow accounts use WebPortalClient instead.
type UsageClient struct {
	endpoint  string
	http      *http.Client
	userAgent string
	log       *zap.Logger
}

type UsageOption func(*UsageClient)

func WithUsageEndpoint(endpoint string) UsageOption {
	return func(c *UsageClient) { c.endpoint = strings.TrimRight(endpoint, "/") }
}

func WithUsageHTTPClient(hc *http.Client) UsageOption {
	return func(c *UsageClient) { c.http = hc }
}

func WithUsageLogger(log *zap.Logger) UsageOption {
	return func(c *UsageClient) { c.log = log }
}

func NewUsage(opts ...UsageOption) *UsageClient {
	c := &UsageClient{
		endpoint:  DefaultUsageEndpoint,
		http:      newHTTPClient(30 * time.Second),
		userAgent: defaultUserAgent,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// UsageUserInfo is the identity part of the usage snapshot.
type UsageUserInfo struct {
	Email  string `json:"email"`
	UserID string `json:"userId"`
}

// UsageLimits keeps the raw snapshot alongside the fields kamctl interprets:
// the identity block and, implicitly, the suspension rejection.
type UsageLimits struct {
	UserInfo UsageUserInfo   `json:"userInfo"`
	Raw      json.RawMessage `json:"-"`
}

// GetUsageLimits fetches the quota snapshot. A rejection carrying a "reason"
// field means the backend suspended the account.
func (c *UsageClient) GetUsageLimits(ctx context.Context, accessToken string) (*UsageLimits, error) {
	url := c.endpoint + "/getUsageLimits?isEmailRequired=true&origin=AI_EDITOR&resourceType=AGENTIC_REQUEST"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("amz-sdk-invocation-id", uuid.NewString())
	req.Header.Set("amz-sdk-request", "attempt=1; max=1")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		var rejection struct {
			Reason string `json:"reason"`
		}
		if err := json.Unmarshal(raw, &rejection); err == nil && rejection.Reason != "" {
			c.log.Debug("usage lookup rejected", zap.String("reason", rejection.Reason))
			return nil, ErrAccountSuspended
		}
		if resp.StatusCode == http.StatusUnauthorized {
			return nil, ErrUnauthorized
		}
		return nil, &HTTPError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}
	var out UsageLimits
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to parse usage response: %w", err)
	}
	out.Raw = json.RawMessage(raw)
	return &out, nil
}
