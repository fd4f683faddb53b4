package auth

import "time"

// Auth methods. Exactly one method-specific field group of AuthResult is
// populated, determined by this value.
const (
	MethodSocial   = "social"
	MethodDevice   = "device"
	MethodWebOAuth = "web_oauth"
)

// AuthResult is the normalized outcome of any flow. Flows produce it; the
// caller merges it into a stored account.
type AuthResult struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
	ExpiresIn    int64     `json:"expiresIn"`
	Provider     string    `json:"provider"`
	AuthMethod   string    `json:"authMethod"`
	TokenType    string    `json:"tokenType,omitempty"`

	// Device flow only.
	IDToken      string `json:"idToken,omitempty"`
	Region       string `json:"region,omitempty"`
	ClientID     string `json:"clientId,omitempty"`
	ClientSecret string `json:"clientSecret,omitempty"`
	ClientIDHash string `json:"clientIdHash,omitempty"`
	SSOSessionID string `json:"ssoSessionId,omitempty"`

	// Social and web flows only.
	ProfileArn string `json:"profileArn,omitempty"`
	CsrfToken  string `json:"csrfToken,omitempty"`
}

// RefreshMetadata is caller-supplied context for refreshes that need state
// beyond the refresh token itself. Flows fail with ErrMissingMetadata when a
// required field is absent.
type RefreshMetadata struct {
	ClientID     string
	ClientSecret string
	Region       string
	ClientIDHash string
	ProfileArn   string
	// Web flow only: the portal refresh authenticates with the current access
	// token and csrf token alongside the session cookie.
	AccessToken string
	CsrfToken   string
}

func expiryFrom(expiresIn int64) time.Time {
	return time.Now().Add(time.Duration(expiresIn) * time.Second)
}
