// Package store persists the roster of authenticated accounts as a JSON file.
package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Account statuses.
const (
	StatusActive    = "active"
	StatusSuspended = "suspended"
)

// Account is one stored identity. Metadata carries whatever the flow needs to
// refresh the tokens later; its shape varies by auth method.
type Account struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	Provider   string    `json:"provider"`
	AuthMethod string    `json:"authMethod"`
	Label      string    `json:"label,omitempty"`
	Status     string    `json:"status"`
	AddedAt    time.Time `json:"addedAt"`
	UpdatedAt  time.Time `json:"updatedAt"`

	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt"`

	Metadata Metadata `json:"metadata,omitempty"`

	// UsageData is the last quota snapshot fetched for this account, kept
	// verbatim as the backend returned it.
	UsageData json.RawMessage `json:"usageData,omitempty"`
}

// Metadata is the per-method refresh material.
type Metadata struct {
	ClientID     string `json:"clientId,omitempty"`
	ClientSecret string `json:"clientSecret,omitempty"`
	Region       string `json:"region,omitempty"`
	ClientIDHash string `json:"clientIdHash,omitempty"`
	ProfileArn   string `json:"profileArn,omitempty"`
	CsrfToken    string `json:"csrfToken,omitempty"`
	IDToken      string `json:"idToken,omitempty"`
	SSOSessionID string `json:"ssoSessionId,omitempty"`
}

// Expired reports whether the access token's expiry has passed.
func (a *Account) Expired() bool {
	return !a.ExpiresAt.IsZero() && time.Now().After(a.ExpiresAt)
}

func newAccountID() string {
	return uuid.NewString()
}
