package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zalando/go-keyring"
	"go.uber.org/zap"

	"github.com/kirozen/kamctl/pkg/kamctl/client"
)

const keyringService = "kamctl-sso-registrations"

// Storage modes for the registration cache.
const (
	StorageAuto     = ""
	StorageKeychain = "keychain"
	StorageFile     = "file"
)

// RegistrationCache stores SSO client registrations so repeated device-flow
// logins against the same issuer reuse their clientId/clientSecret instead of
// re-registering. Secrets go to the OS keychain when available, with a
// 0600 JSON file fallback.
type RegistrationCache struct {
	FilePath    string
	StorageMode string
	Log         *zap.Logger
}

type registrationFile struct {
	Registrations map[string]client.ClientRegistration `json:"registrations"`
}

func registrationKey(startURL, region string) string {
	return region + "/" + startURL
}

// Get returns the cached registration for (startURL, region) if it exists and
// its client secret has not expired.
func (c *RegistrationCache) Get(startURL, region string) (client.ClientRegistration, bool) {
	key := registrationKey(startURL, region)
	reg, ok := c.lookup(key)
	if !ok {
		return client.ClientRegistration{}, false
	}
	if reg.ClientSecretExpiresAt != 0 && time.Now().Unix() >= reg.ClientSecretExpiresAt {
		return client.ClientRegistration{}, false
	}
	return reg, true
}

// Put stores a registration under (startURL, region).
func (c *RegistrationCache) Put(startURL, region string, reg client.ClientRegistration) error {
	key := registrationKey(startURL, region)
	payload, err := json.Marshal(reg)
	if err != nil {
		return fmt.Errorf("failed to marshal registration: %w", err)
	}
	if c.StorageMode != StorageFile {
		if err := keyring.Set(keyringService, key, string(payload)); err == nil {
			return nil
		} else if c.StorageMode == StorageKeychain {
			return fmt.Errorf("failed to store registration in keychain: %w", err)
		}
	}
	return c.putFile(key, reg)
}

func (c *RegistrationCache) lookup(key string) (client.ClientRegistration, bool) {
	if c.StorageMode != StorageFile {
		if payload, err := keyring.Get(keyringService, key); err == nil {
			var reg client.ClientRegistration
			if err := json.Unmarshal([]byte(payload), &reg); err == nil {
				return reg, true
			}
		} else if !errors.Is(err, keyring.ErrNotFound) && c.StorageMode == StorageKeychain {
			return client.ClientRegistration{}, false
		}
	}
	if c.StorageMode == StorageKeychain {
		return client.ClientRegistration{}, false
	}
	file, err := c.loadFile()
	if err != nil {
		return client.ClientRegistration{}, false
	}
	reg, ok := file.Registrations[key]
	return reg, ok
}

func (c *RegistrationCache) loadFile() (*registrationFile, error) {
	content, err := os.ReadFile(c.FilePath)
	if err != nil {
		return &registrationFile{Registrations: map[string]client.ClientRegistration{}}, err
	}
	var file registrationFile
	if err := json.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("failed to parse registration cache: %w", err)
	}
	if file.Registrations == nil {
		file.Registrations = map[string]client.ClientRegistration{}
	}
	return &file, nil
}

func (c *RegistrationCache) putFile(key string, reg client.ClientRegistration) error {
	file, err := c.loadFile()
	if err != nil && !os.IsNotExist(err) && file == nil {
		return err
	}
	file.Registrations[key] = reg
	if err := os.MkdirAll(filepath.Dir(c.FilePath), 0o700); err != nil {
		return fmt.Errorf("failed to create registration dir: %w", err)
	}
	content, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal registration cache: %w", err)
	}
	return os.WriteFile(c.FilePath, content, 0o600)
}
