package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kirozen/kamctl/pkg/kamctl/client"
)

func newWebProvider(portalURL string) *WebOAuthProvider {
	return &WebOAuthProvider{
		cfg: ProviderConfig{
			ProviderID: "web:Google",
			Method:     MethodWebOAuth,
			Idp:        "Google",
		},
		portal: client.NewWebPortal(client.WithWebPortalEndpoint(portalURL)),
		log:    zap.NewNop(),
	}
}

func cborReply(w http.ResponseWriter, v any) {
	payload, _ := cbor.Marshal(v)
	w.Header().Set("Content-Type", "application/cbor")
	_, _ = w.Write(payload)
}

func TestWebLoginIsTwoPhase(t *testing.T) {
	p := newWebProvider("http://127.0.0.1:1")
	_, err := p.Login(context.Background())
	require.ErrorIs(t, err, ErrWebLoginTwoPhase)
}

func TestWebInitiate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/service/KiroWebPortalService/operation/InitiateLogin", r.URL.Path)
		cborReply(w, map[string]string{"redirectUrl": "https://idp.example/authorize"})
	}))
	defer server.Close()

	p := newWebProvider(server.URL)
	init, err := p.Initiate(context.Background())
	require.NoError(t, err)
	require.Equal(t, "https://idp.example/authorize", init.AuthorizeURL)
	require.NotEmpty(t, init.State)
	require.NotEmpty(t, init.CodeVerifier)
	require.Equal(t, client.DefaultWebRedirectURI, init.RedirectURI)
	require.Equal(t, "Google", init.Idp)
	require.Equal(t, "web:Google", init.ProviderID)
}

func TestWebInitiateWithoutRedirectURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		cborReply(w, map[string]string{})
	}))
	defer server.Close()

	p := newWebProvider(server.URL)
	_, err := p.Initiate(context.Background())
	require.ErrorIs(t, err, ErrIncompleteExchange)
}

func TestWebComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/service/KiroWebPortalService/operation/ExchangeToken", r.URL.Path)
		http.SetCookie(w, &http.Cookie{Name: "RefreshToken", Value: "session-rt"})
		cborReply(w, map[string]any{
			"accessToken": "at",
			"csrfToken":   "csrf-1",
			"expiresIn":   int64(1800),
		})
	}))
	defer server.Close()

	p := newWebProvider(server.URL)
	res, err := p.Complete(context.Background(), "the-code", "returned-state", "the-verifier")
	require.NoError(t, err)
	require.Equal(t, "at", res.AccessToken)
	require.Equal(t, "session-rt", res.RefreshToken)
	require.Equal(t, "csrf-1", res.CsrfToken)
	require.Equal(t, MethodWebOAuth, res.AuthMethod)
	require.EqualValues(t, 1800, res.ExpiresIn)
	require.True(t, res.ExpiresAt.After(time.Now()))
	require.WithinDuration(t, time.Now().Add(1800*time.Second), res.ExpiresAt, 5*time.Second)
}

func TestWebCompleteDefaultsExpiry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "RefreshToken", Value: "session-rt"})
		cborReply(w, map[string]any{"accessToken": "at", "csrfToken": "csrf-1"})
	}))
	defer server.Close()

	p := newWebProvider(server.URL)
	res, err := p.Complete(context.Background(), "c", "s", "v")
	require.NoError(t, err)
	require.EqualValues(t, 3600, res.ExpiresIn)
}

func TestWebCompleteMissingFields(t *testing.T) {
	tests := []struct {
		name string
		body map[string]any
		ck   string
	}{
		{"no access token", map[string]any{"csrfToken": "csrf-1"}, "session-rt"},
		{"no csrf token", map[string]any{"accessToken": "at"}, "session-rt"},
		{"no session cookie", map[string]any{"accessToken": "at", "csrfToken": "csrf-1"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				if tt.ck != "" {
					http.SetCookie(w, &http.Cookie{Name: "RefreshToken", Value: tt.ck})
				}
				cborReply(w, tt.body)
			}))
			defer server.Close()

			p := newWebProvider(server.URL)
			_, err := p.Complete(context.Background(), "c", "s", "v")
			require.ErrorIs(t, err, ErrIncompleteExchange)
		})
	}
}

func TestWebCompleteSuspended(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusLocked)
	}))
	defer server.Close()

	p := newWebProvider(server.URL)
	_, err := p.Complete(context.Background(), "c", "s", "v")
	require.ErrorIs(t, err, ErrAccountSuspended)
}

func TestWebRefreshRequiresMetadata(t *testing.T) {
	p := newWebProvider("http://127.0.0.1:1")

	_, err := p.Refresh(context.Background(), "session-rt", RefreshMetadata{CsrfToken: "csrf"})
	require.ErrorIs(t, err, ErrMissingMetadata)
	require.ErrorContains(t, err, "accessToken")

	_, err = p.Refresh(context.Background(), "session-rt", RefreshMetadata{AccessToken: "at"})
	require.ErrorIs(t, err, ErrMissingMetadata)
	require.ErrorContains(t, err, "csrfToken")
}

func TestWebRefresh(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/service/KiroWebPortalService/operation/RefreshToken", r.URL.Path)
		require.Equal(t, "csrf-1", r.Header.Get("x-csrf-token"))
		cborReply(w, map[string]any{
			"accessToken": "at-new",
			"csrfToken":   "csrf-2",
			"expiresIn":   int64(3600),
			"profileArn":  "arn:new",
		})
	}))
	defer server.Close()

	p := newWebProvider(server.URL)
	res, err := p.Refresh(context.Background(), "session-rt", RefreshMetadata{
		AccessToken: "at-old",
		CsrfToken:   "csrf-1",
	})
	require.NoError(t, err)
	require.Equal(t, "at-new", res.AccessToken)
	require.Equal(t, "session-rt", res.RefreshToken)
	require.Equal(t, "csrf-2", res.CsrfToken)
	require.Equal(t, "arn:new", res.ProfileArn)
}

func TestWebRefreshSuspended(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusLocked)
	}))
	defer server.Close()

	p := newWebProvider(server.URL)
	_, err := p.Refresh(context.Background(), "session-rt", RefreshMetadata{AccessToken: "at", CsrfToken: "csrf"})
	require.ErrorIs(t, err, ErrAccountSuspended)
}
