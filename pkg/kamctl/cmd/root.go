package cmd

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kirozen/kamctl/pkg/kamctl/auth"
	"github.com/kirozen/kamctl/pkg/kamctl/callback"
	"github.com/kirozen/kamctl/pkg/kamctl/client"
	"github.com/kirozen/kamctl/pkg/kamctl/config"
	"github.com/kirozen/kamctl/pkg/kamctl/store"
)

type Config struct {
	ConfigPath   string
	OutputWriter io.Writer
}

type runtimeState struct {
	configPath      string
	cfg             *config.Config
	outputFormat    string
	desktopOverride string
	portalOverride  string
	usageOverride   string
	listenOverride  string
	storageOverride string
	verbose         bool
	writer          io.Writer
	logger          *zap.Logger
}

type runtimeKey struct{}

func DefaultConfig() Config {
	path, _ := config.Path()
	return Config{
		ConfigPath:   path,
		OutputWriter: os.Stdout,
	}
}

func NewRootCommand(cfg Config) *cobra.Command {
	rt := &runtimeState{configPath: cfg.ConfigPath, writer: cfg.OutputWriter}

	root := &cobra.Command{
		Use:   "kamctl",
		Short: "Kiro account manager CLI",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if rt.writer == nil {
				rt.writer = os.Stdout
			}
			if rt.configPath == "" {
				path, err := config.Path()
				if err != nil {
					return err
				}
				rt.configPath = path
			}
			if rt.outputFormat == "" {
				rt.outputFormat = os.Getenv("KAMCTL_OUTPUT")
			}
			if rt.desktopOverride == "" {
				rt.desktopOverride = os.Getenv("KAMCTL_DESKTOP_ENDPOINT")
			}
			if rt.portalOverride == "" {
				rt.portalOverride = os.Getenv("KAMCTL_PORTAL_ENDPOINT")
			}
			if rt.usageOverride == "" {
				rt.usageOverride = os.Getenv("KAMCTL_USAGE_ENDPOINT")
			}
			if rt.listenOverride == "" {
				rt.listenOverride = os.Getenv("KAMCTL_LISTEN_ADDR")
			}
			if !rt.verbose {
				rt.verbose = strings.EqualFold(os.Getenv("KAMCTL_VERBOSE"), "true")
			}

			if cmd.Name() == "init" && cmd.Parent() != nil && cmd.Parent().Name() == "config" {
				return nil
			}
			if cmd.Name() == "version" || cmd.Name() == "completion" {
				return nil
			}

			loaded, err := config.Load(rt.configPath)
			if err != nil {
				return err
			}
			rt.cfg = loaded
			return nil
		},
	}

	root.PersistentFlags().StringVar(&rt.configPath, "config", rt.configPath, "Path to config file")
	root.PersistentFlags().StringVarP(&rt.outputFormat, "output", "o", "", "Output format: table, json, yaml, wide")
	root.PersistentFlags().StringVar(&rt.desktopOverride, "desktop-endpoint", "", "Desktop auth service override")
	root.PersistentFlags().StringVar(&rt.portalOverride, "portal-endpoint", "", "Web portal service override")
	root.PersistentFlags().StringVar(&rt.usageOverride, "usage-endpoint", "", "Usage service override")
	root.PersistentFlags().StringVar(&rt.listenOverride, "listen", "", "Loopback callback listen address")
	root.PersistentFlags().StringVar(&rt.storageOverride, "registration-storage", "", "Registration storage backend: keychain or file")
	root.PersistentFlags().BoolVarP(&rt.verbose, "verbose", "v", false, "Enable debug logging")

	root.SetContext(context.WithValue(context.Background(), runtimeKey{}, rt))

	root.AddCommand(
		NewConfigCommand(),
		NewAuthCommand(),
		NewAccountCommand(),
		NewCompletionCommand(),
		NewVersionCommand(),
	)

	return root
}

func getRuntime(cmd *cobra.Command) (*runtimeState, error) {
	rt, ok := cmd.Context().Value(runtimeKey{}).(*runtimeState)
	if !ok || rt == nil {
		return nil, errors.New("runtime not initialized")
	}
	return rt, nil
}

func (rt *runtimeState) Writer() io.Writer {
	if rt.writer != nil {
		return rt.writer
	}
	return os.Stdout
}

func (rt *runtimeState) OutputFormat() string {
	if rt.outputFormat != "" {
		return rt.outputFormat
	}
	if rt.cfg != nil && rt.cfg.Defaults.Output != "" {
		return rt.cfg.Defaults.Output
	}
	return "table"
}

// Logger builds a stderr logger once per invocation. Output stays on the
// writer; diagnostics never mix into parseable output.
func (rt *runtimeState) Logger() *zap.Logger {
	if rt.logger != nil {
		return rt.logger
	}
	level := zapcore.WarnLevel
	if rt.verbose {
		level = zapcore.DebugLevel
	}
	zcfg := zap.NewDevelopmentConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.OutputPaths = []string{"stderr"}
	logger, err := zcfg.Build()
	if err != nil {
		logger = zap.NewNop()
	}
	rt.logger = logger
	return rt.logger
}

func (rt *runtimeState) desktopEndpoint() string {
	if rt.desktopOverride != "" {
		return rt.desktopOverride
	}
	if rt.cfg != nil && rt.cfg.Endpoints.Desktop != "" {
		return rt.cfg.Endpoints.Desktop
	}
	return client.DefaultDesktopEndpoint
}

func (rt *runtimeState) portalEndpoint() string {
	if rt.portalOverride != "" {
		return rt.portalOverride
	}
	if rt.cfg != nil && rt.cfg.Endpoints.Portal != "" {
		return rt.cfg.Endpoints.Portal
	}
	return client.DefaultWebPortalEndpoint
}

func (rt *runtimeState) usageEndpoint() string {
	if rt.usageOverride != "" {
		return rt.usageOverride
	}
	if rt.cfg != nil && rt.cfg.Endpoints.Usage != "" {
		return rt.cfg.Endpoints.Usage
	}
	return client.DefaultUsageEndpoint
}

func (rt *runtimeState) redirectURI() string {
	if rt.cfg != nil && rt.cfg.Auth.RedirectURI != "" {
		return rt.cfg.Auth.RedirectURI
	}
	return callback.DefaultRedirectURI
}

func (rt *runtimeState) listenAddr() string {
	if rt.listenOverride != "" {
		return rt.listenOverride
	}
	if rt.cfg != nil && rt.cfg.Auth.ListenAddr != "" {
		return rt.cfg.Auth.ListenAddr
	}
	return callback.DefaultListenAddr
}

func (rt *runtimeState) registrationStorage() string {
	if rt.storageOverride != "" {
		return rt.storageOverride
	}
	if rt.cfg != nil {
		return rt.cfg.Auth.RegistrationStorage
	}
	return ""
}

func (rt *runtimeState) invitationCode() string {
	if rt.cfg != nil {
		return rt.cfg.Auth.InvitationCode
	}
	return ""
}

func (rt *runtimeState) openStore() (*store.Store, error) {
	path, err := config.AccountsPath()
	if err != nil {
		return nil, err
	}
	return store.Open(path, rt.Logger())
}

func (rt *runtimeState) desktopClient() *client.DesktopAuthClient {
	return client.NewDesktopAuth(
		client.WithDesktopEndpoint(rt.desktopEndpoint()),
		client.WithDesktopLogger(rt.Logger()),
	)
}

func (rt *runtimeState) portalClient() *client.WebPortalClient {
	return client.NewWebPortal(
		client.WithWebPortalEndpoint(rt.portalEndpoint()),
		client.WithWebPortalLogger(rt.Logger()),
	)
}

func (rt *runtimeState) usageClient() *client.UsageClient {
	return client.NewUsage(
		client.WithUsageEndpoint(rt.usageEndpoint()),
		client.WithUsageLogger(rt.Logger()),
	)
}

func (rt *runtimeState) registrationCache() (*auth.RegistrationCache, error) {
	path, err := config.RegistrationsPath()
	if err != nil {
		return nil, err
	}
	return &auth.RegistrationCache{
		FilePath:    path,
		StorageMode: rt.registrationStorage(),
		Log:         rt.Logger(),
	}, nil
}

// factory wires the shared collaborators for the auth flows. The correlator
// is only built for flows that need the redirect rendezvous.
func (rt *runtimeState) factory(correlator *callback.Correlator) (*auth.Factory, error) {
	registrations, err := rt.registrationCache()
	if err != nil {
		return nil, err
	}
	return &auth.Factory{
		Desktop:       rt.desktopClient(),
		Portal:        rt.portalClient(),
		Correlator:    correlator,
		Registrations: registrations,
		Log:           rt.Logger(),
	}, nil
}
