package auth

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/kirozen/kamctl/pkg/kamctl/callback"
	"github.com/kirozen/kamctl/pkg/kamctl/client"
)

// Provider is the uniform contract over the three flows. Callers dispatch on
// provider ids and never on flow internals.
type Provider interface {
	Login(ctx context.Context) (*AuthResult, error)
	Refresh(ctx context.Context, refreshToken string, md RefreshMetadata) (*AuthResult, error)
	ProviderID() string
	AuthMethod() string
}

// BuilderIDStartURL is the fixed issuer start URL for BuilderId logins.
const BuilderIDStartURL = "https://view.awsapps.com/start"

const defaultRegion = "us-east-1"

// ProviderConfig is the fixed configuration the factory resolves for a known
// provider identifier.
type ProviderConfig struct {
	ProviderID string
	Method     string
	Region     string
	StartURL   string
	// Idp is the identity-provider name sent on the wire; it can differ from
	// the registry id (the web variants share the social idp names).
	Idp string
}

// providerRegistry is the closed set of supported providers. The factory is
// an exhaustive match over Method, so adding an entry without a flow is a
// compile-visible change here, not a runtime registration.
var providerRegistry = map[string]ProviderConfig{
	"Google":      {ProviderID: "Google", Method: MethodSocial, Region: defaultRegion, Idp: "Google"},
	"Github":      {ProviderID: "Github", Method: MethodSocial, Region: defaultRegion, Idp: "Github"},
	"BuilderId":   {ProviderID: "BuilderId", Method: MethodDevice, Region: defaultRegion, StartURL: BuilderIDStartURL, Idp: "BuilderId"},
	"web:Google":  {ProviderID: "web:Google", Method: MethodWebOAuth, Region: defaultRegion, Idp: "Google"},
	"web:Github":  {ProviderID: "web:Github", Method: MethodWebOAuth, Region: defaultRegion, Idp: "Github"},
}

// LookupProvider resolves a provider identifier to its fixed configuration.
func LookupProvider(id string) (ProviderConfig, error) {
	cfg, ok := providerRegistry[id]
	if !ok {
		return ProviderConfig{}, fmt.Errorf("%w: %s", ErrUnsupportedProvider, id)
	}
	return cfg, nil
}

// SupportedProviders lists the known provider identifiers.
func SupportedProviders() []string {
	ids := make([]string, 0, len(providerRegistry))
	for id := range providerRegistry {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Factory constructs flows with their shared collaborators wired in.
type Factory struct {
	Desktop       *client.DesktopAuthClient
	Portal        *client.WebPortalClient
	Correlator    *callback.Correlator
	Registrations *RegistrationCache
	Browser       BrowserOpener
	Log           *zap.Logger

	// NewSSOOIDC builds the region-scoped SSO client. Overridable so tests
	// can point regions at fakes.
	NewSSOOIDC func(region string) *client.SSOOIDCClient
}

// Provider resolves an identifier and constructs the matching flow.
func (f *Factory) Provider(id string) (Provider, error) {
	cfg, err := LookupProvider(id)
	if err != nil {
		return nil, err
	}
	log := f.Log
	if log == nil {
		log = zap.NewNop()
	}
	browser := f.Browser
	if browser == nil {
		browser = OpenBrowser
	}
	switch cfg.Method {
	case MethodSocial:
		return &SocialProvider{
			cfg:        cfg,
			desktop:    f.Desktop,
			correlator: f.Correlator,
			browser:    browser,
			log:        log,
		}, nil
	case MethodDevice:
		newSSO := f.NewSSOOIDC
		if newSSO == nil {
			newSSO = func(region string) *client.SSOOIDCClient {
				return client.NewSSOOIDC(region, client.WithSSOLogger(log))
			}
		}
		return &IdcProvider{
			cfg:           cfg,
			newSSO:        newSSO,
			registrations: f.Registrations,
			browser:       browser,
			log:           log,
		}, nil
	case MethodWebOAuth:
		return &WebOAuthProvider{
			cfg:    cfg,
			portal: f.Portal,
			log:    log,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s has unknown auth method %q", ErrUnsupportedProvider, id, cfg.Method)
	}
}
