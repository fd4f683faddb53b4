package auth

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kirozen/kamctl/pkg/kamctl/client"
)

func fileCache(t *testing.T) *RegistrationCache {
	t.Helper()
	return &RegistrationCache{
		FilePath:    filepath.Join(t.TempDir(), "registrations.json"),
		StorageMode: StorageFile,
	}
}

func TestRegistrationCacheRoundTrip(t *testing.T) {
	cache := fileCache(t)
	reg := client.ClientRegistration{
		ClientID:              "cid",
		ClientSecret:          "csecret",
		ClientSecretExpiresAt: time.Now().Add(time.Hour).Unix(),
	}
	require.NoError(t, cache.Put("https://view.awsapps.com/start", "us-east-1", reg))

	got, ok := cache.Get("https://view.awsapps.com/start", "us-east-1")
	require.True(t, ok)
	require.Equal(t, "cid", got.ClientID)
	require.Equal(t, "csecret", got.ClientSecret)
}

func TestRegistrationCacheMissesOtherRegion(t *testing.T) {
	cache := fileCache(t)
	reg := client.ClientRegistration{ClientID: "cid", ClientSecret: "csecret"}
	require.NoError(t, cache.Put("https://view.awsapps.com/start", "us-east-1", reg))

	_, ok := cache.Get("https://view.awsapps.com/start", "eu-west-1")
	require.False(t, ok)
}

func TestRegistrationCacheExpiredSecret(t *testing.T) {
	cache := fileCache(t)
	reg := client.ClientRegistration{
		ClientID:              "cid",
		ClientSecret:          "csecret",
		ClientSecretExpiresAt: time.Now().Add(-time.Minute).Unix(),
	}
	require.NoError(t, cache.Put("https://view.awsapps.com/start", "us-east-1", reg))

	_, ok := cache.Get("https://view.awsapps.com/start", "us-east-1")
	require.False(t, ok)
}

func TestRegistrationCacheEmpty(t *testing.T) {
	cache := fileCache(t)
	_, ok := cache.Get("https://view.awsapps.com/start", "us-east-1")
	require.False(t, ok)
}
