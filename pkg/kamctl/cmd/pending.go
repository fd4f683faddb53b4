package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kirozen/kamctl/pkg/kamctl/auth"
	"github.com/kirozen/kamctl/pkg/kamctl/config"
)

// pendingWebLogin parks the state of an in-flight web login between the
// initiate and complete phases, which run as separate kamctl invocations.
type pendingWebLogin struct {
	auth.InitiateResult
	Label     string    `json:"label,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// pendingLoginTTL bounds how long a parked web login stays completable.
const pendingLoginTTL = 10 * time.Minute

func savePendingLogin(p *pendingWebLogin) error {
	path, err := config.PendingLoginPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	content, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal pending login: %w", err)
	}
	return os.WriteFile(path, content, 0o600)
}

func loadPendingLogin() (*pendingWebLogin, bool, error) {
	path, err := config.PendingLoginPath()
	if err != nil {
		return nil, false, err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var p pendingWebLogin
	if err := json.Unmarshal(content, &p); err != nil {
		return nil, false, fmt.Errorf("failed to parse pending login: %w", err)
	}
	if time.Since(p.CreatedAt) > pendingLoginTTL {
		_ = os.Remove(path)
		return nil, false, nil
	}
	return &p, true, nil
}

func clearPendingLogin() {
	if path, err := config.PendingLoginPath(); err == nil {
		_ = os.Remove(path)
	}
}
