package cmd

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kirozen/kamctl/pkg/kamctl/config"
	"github.com/kirozen/kamctl/pkg/kamctl/store"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	var buf bytes.Buffer
	root := NewRootCommand(Config{
		ConfigPath:   filepath.Join(t.TempDir(), "config.yaml"),
		OutputWriter: &buf,
	})
	root.SetArgs(args)
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	err := root.Execute()
	return buf.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := runCommand(t, "version")
	require.NoError(t, err)
	require.Contains(t, out, "kamctl")
}

func TestVersionCommandJSON(t *testing.T) {
	out, err := runCommand(t, "version", "-o", "json")
	require.NoError(t, err)
	require.Contains(t, out, `"version"`)
	require.Contains(t, out, `"goVersion"`)
}

func TestAuthProvidersCommand(t *testing.T) {
	out, err := runCommand(t, "auth", "providers")
	require.NoError(t, err)
	require.Contains(t, out, "Google")
	require.Contains(t, out, "BuilderId")
	require.Contains(t, out, "web:Github")
}

func TestAuthLoginUnknownProvider(t *testing.T) {
	_, err := runCommand(t, "auth", "login", "MySpace")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported provider")
	require.Contains(t, err.Error(), "supported:")
}

func TestAuthRefreshWithoutTarget(t *testing.T) {
	_, err := runCommand(t, "auth", "refresh")
	require.Error(t, err)
	require.Contains(t, err.Error(), "--all")
}

func TestAccountListEmpty(t *testing.T) {
	out, err := runCommand(t, "account", "list")
	require.NoError(t, err)
	require.Contains(t, out, "EMAIL")
}

func TestAccountListJSONEmpty(t *testing.T) {
	out, err := runCommand(t, "account", "list", "-o", "json")
	require.NoError(t, err)
	require.Contains(t, out, "[]")
}

func TestAccountDeleteUnknown(t *testing.T) {
	_, err := runCommand(t, "account", "delete", "nope")
	require.Error(t, err)
	require.Contains(t, err.Error(), "account not found")
}

func TestConfigInitAndView(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	var buf bytes.Buffer
	root := NewRootCommand(Config{ConfigPath: configPath, OutputWriter: &buf})
	root.SetArgs([]string{"config", "init"})
	require.NoError(t, root.Execute())
	require.Contains(t, buf.String(), "Initialized config at")

	// A second init without --force refuses to overwrite.
	buf.Reset()
	root = NewRootCommand(Config{ConfigPath: configPath, OutputWriter: &buf})
	root.SetArgs([]string{"config", "init"})
	require.Error(t, root.Execute())

	buf.Reset()
	root = NewRootCommand(Config{ConfigPath: configPath, OutputWriter: &buf})
	root.SetArgs([]string{"config", "view"})
	require.NoError(t, root.Execute())
	require.Contains(t, buf.String(), "output: table")
}

func TestConfigPathCommand(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	var buf bytes.Buffer
	root := NewRootCommand(Config{ConfigPath: configPath, OutputWriter: &buf})
	root.SetArgs([]string{"config", "path"})
	require.NoError(t, root.Execute())
	require.Contains(t, buf.String(), configPath)
}

func TestCompletionCommand(t *testing.T) {
	out, err := runCommand(t, "completion", "bash")
	require.NoError(t, err)
	require.Contains(t, out, "kamctl")

	_, err = runCommand(t, "completion", "tcsh")
	require.Error(t, err)
}

func TestAccountSyncPersistsUsageSnapshot(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"userInfo":      map[string]string{"email": "dev@example.com", "userId": "u-1"},
			"breakdownList": []map[string]any{{"resourceType": "AGENTIC_REQUEST", "usageLimit": 500}},
		})
	}))
	defer server.Close()

	path, err := config.AccountsPath()
	require.NoError(t, err)
	st, err := store.Open(path, nil)
	require.NoError(t, err)
	_, err = st.Upsert(store.Account{
		Email:       "dev@example.com",
		Provider:    "BuilderId",
		AuthMethod:  "device",
		AccessToken: "at",
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	root := NewRootCommand(Config{
		ConfigPath:   filepath.Join(t.TempDir(), "config.yaml"),
		OutputWriter: &buf,
	})
	root.SetArgs([]string{"account", "sync", "--usage-endpoint", server.URL})
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	require.NoError(t, root.Execute())
	require.Contains(t, buf.String(), "active")

	reopened, err := store.Open(path, nil)
	require.NoError(t, err)
	accounts := reopened.List()
	require.Len(t, accounts, 1)
	require.NotEmpty(t, accounts[0].UsageData)
	require.Contains(t, string(accounts[0].UsageData), "breakdownList")
}

func TestAuthCallbackWithoutAnythingPending(t *testing.T) {
	t.Setenv("KAMCTL_LISTEN_ADDR", "127.0.0.1:1")
	_, err := runCommand(t, "auth", "callback", "kiro://kiro.kiroAgent/authenticate-success?code=c&state=s")
	require.Error(t, err)
	require.Contains(t, err.Error(), "no login in progress")
}
