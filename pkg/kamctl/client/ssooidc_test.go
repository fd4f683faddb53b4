package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegisterClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/client/register", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "Kiro Account Manager", body["clientName"])
		require.Equal(t, "public", body["clientType"])
		require.Equal(t, "https://view.awsapps.com/start", body["issuerUrl"])
		require.Len(t, body["scopes"], 5)

		_ = json.NewEncoder(w).Encode(ClientRegistration{
			ClientID:              "cid",
			ClientSecret:          "csecret",
			ClientSecretExpiresAt: 9999999999,
		})
	}))
	defer server.Close()

	c := NewSSOOIDC("us-east-1", WithSSOEndpoint(server.URL))
	reg, err := c.RegisterClient(context.Background(), "https://view.awsapps.com/start")
	require.NoError(t, err)
	require.Equal(t, "cid", reg.ClientID)
	require.Equal(t, "csecret", reg.ClientSecret)
}

func TestStartDeviceAuthorization(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/device_authorization", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "cid", body["clientId"])
		require.Equal(t, "csecret", body["clientSecret"])
		require.Equal(t, "https://view.awsapps.com/start", body["startUrl"])

		_ = json.NewEncoder(w).Encode(DeviceAuthorization{
			DeviceCode:              "dev-code",
			UserCode:                "WXYZ-1234",
			VerificationURI:         "https://device.sso.example/verify",
			VerificationURIComplete: "https://device.sso.example/verify?user_code=WXYZ-1234",
			ExpiresIn:               600,
			Interval:                5,
		})
	}))
	defer server.Close()

	c := NewSSOOIDC("us-east-1", WithSSOEndpoint(server.URL))
	da, err := c.StartDeviceAuthorization(context.Background(), "cid", "csecret", "https://view.awsapps.com/start")
	require.NoError(t, err)
	require.Equal(t, "dev-code", da.DeviceCode)
	require.Equal(t, "WXYZ-1234", da.UserCode)
	require.EqualValues(t, 5, da.Interval)
}

func TestPollDeviceTokenErrorMapping(t *testing.T) {
	tests := []struct {
		code string
		want error
	}{
		{"authorization_pending", ErrAuthorizationPending},
		{"slow_down", ErrSlowDown},
		{"expired_token", ErrExpiredToken},
		{"access_denied", ErrAccessDenied},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": tt.code})
			}))
			defer server.Close()

			c := NewSSOOIDC("us-east-1", WithSSOEndpoint(server.URL))
			_, err := c.PollDeviceToken(context.Background(), "cid", "csecret", "dev-code")
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestPollDeviceTokenUnknownCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
	}))
	defer server.Close()

	c := NewSSOOIDC("us-east-1", WithSSOEndpoint(server.URL))
	_, err := c.PollDeviceToken(context.Background(), "cid", "csecret", "dev-code")
	var devErr *DeviceAuthError
	require.True(t, errors.As(err, &devErr))
	require.Equal(t, "invalid_grant", devErr.Code)
}

func TestPollDeviceTokenSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "urn:ietf:params:oauth:grant-type:device_code", body["grantType"])
		require.Equal(t, "dev-code", body["deviceCode"])

		_ = json.NewEncoder(w).Encode(SSOTokenResponse{
			AccessToken:  "at",
			RefreshToken: "rt",
			ExpiresIn:    28800,
			TokenType:    "Bearer",
			SSOSessionID: "sess-1",
		})
	}))
	defer server.Close()

	c := NewSSOOIDC("us-east-1", WithSSOEndpoint(server.URL))
	token, err := c.PollDeviceToken(context.Background(), "cid", "csecret", "dev-code")
	require.NoError(t, err)
	require.Equal(t, "at", token.AccessToken)
	require.Equal(t, "sess-1", token.SSOSessionID)
}

func TestSSORefreshTokenUnauthorized(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	c := NewSSOOIDC("us-east-1", WithSSOEndpoint(server.URL))
	_, err := c.RefreshToken(context.Background(), "cid", "csecret", "stale")
	require.ErrorIs(t, err, ErrUnauthorized)
	require.Equal(t, 1, calls)
}

func TestSSORefreshToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "refresh_token", body["grantType"])
		require.Equal(t, "rt-old", body["refreshToken"])

		_ = json.NewEncoder(w).Encode(SSOTokenResponse{AccessToken: "at-new", RefreshToken: "rt-new", ExpiresIn: 28800})
	}))
	defer server.Close()

	c := NewSSOOIDC("us-east-1", WithSSOEndpoint(server.URL))
	token, err := c.RefreshToken(context.Background(), "cid", "csecret", "rt-old")
	require.NoError(t, err)
	require.Equal(t, "at-new", token.AccessToken)
}
