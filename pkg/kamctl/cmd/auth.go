package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kirozen/kamctl/pkg/kamctl/auth"
	"github.com/kirozen/kamctl/pkg/kamctl/callback"
	"github.com/kirozen/kamctl/pkg/kamctl/store"
)

func NewAuthCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authenticate with Kiro providers",
	}
	cmd.AddCommand(
		newAuthLoginCommand(),
		newAuthRefreshCommand(),
		newAuthCallbackCommand(),
		newAuthProvidersCommand(),
	)
	return cmd
}

func newAuthLoginCommand() *cobra.Command {
	var (
		label          string
		invitationCode string
	)

	cmd := &cobra.Command{
		Use:   "login PROVIDER",
		Short: "Log in with a provider",
		Long: "Log in with one of the supported providers. Social and device logins " +
			"complete in a single run; web logins print an authorization URL and are " +
			"finished with 'kamctl auth callback'.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			providerID := args[0]
			pcfg, err := auth.LookupProvider(providerID)
			if err != nil {
				return fmt.Errorf("%w (supported: %s)", err, strings.Join(auth.SupportedProviders(), ", "))
			}
			if invitationCode == "" {
				invitationCode = rt.invitationCode()
			}
			ctx := cmd.Context()

			if pcfg.Method == auth.MethodWebOAuth {
				return runWebInitiate(ctx, rt, providerID, label)
			}

			correlator, err := callback.New(rt.redirectURI(), rt.Logger())
			if err != nil {
				return err
			}
			factory, err := rt.factory(correlator)
			if err != nil {
				return err
			}
			prov, err := factory.Provider(providerID)
			if err != nil {
				return err
			}

			if social, ok := prov.(*auth.SocialProvider); ok {
				social.InvitationCode = invitationCode

				srv := callback.NewServer(correlator, rt.listenAddr(), rt.Logger())
				addr, err := srv.Start()
				if err != nil {
					return fmt.Errorf("failed to start callback listener: %w", err)
				}
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
				_, _ = fmt.Fprintf(rt.Writer(), "Waiting for the browser redirect on %s ...\n", addr)
			}

			res, err := prov.Login(ctx)
			if err != nil {
				return err
			}
			return storeLoginResult(ctx, rt, res, pcfg.Idp, label)
		},
	}

	cmd.Flags().StringVar(&label, "label", "", "Label for the stored account")
	cmd.Flags().StringVar(&invitationCode, "invitation-code", "", "Invitation code for the token exchange")
	return cmd
}

// runWebInitiate starts the two-phase web login and parks its state for the
// follow-up callback invocation.
func runWebInitiate(ctx context.Context, rt *runtimeState, providerID, label string) error {
	factory, err := rt.factory(nil)
	if err != nil {
		return err
	}
	prov, err := factory.Provider(providerID)
	if err != nil {
		return err
	}
	web, ok := prov.(*auth.WebOAuthProvider)
	if !ok {
		return fmt.Errorf("provider %s does not use the web flow", providerID)
	}
	init, err := web.Initiate(ctx)
	if err != nil {
		return err
	}
	if err := savePendingLogin(&pendingWebLogin{
		InitiateResult: *init,
		Label:          label,
		CreatedAt:      time.Now().UTC(),
	}); err != nil {
		return err
	}
	if err := auth.OpenBrowser(init.AuthorizeURL); err != nil {
		rt.Logger().Warn("failed to open browser", zap.Error(err))
	}
	w := rt.Writer()
	_, _ = fmt.Fprintf(w, "Open this URL to authorize:\n\n  %s\n\n", init.AuthorizeURL)
	_, _ = fmt.Fprintln(w, "Then finish the login with:")
	_, _ = fmt.Fprintln(w, "  kamctl auth callback '<redirect url>'")
	return nil
}

func newAuthCallbackCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "callback URL",
		Short: "Deliver an OAuth redirect to kamctl",
		Long: "Deliver a captured OAuth redirect URL. Web logins are completed " +
			"directly; social redirects are forwarded to the login process " +
			"listening on the loopback callback address.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			u, err := url.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid callback URL: %w", err)
			}
			q := u.Query()
			ctx := cmd.Context()

			pending, ok, err := loadPendingLogin()
			if err != nil {
				return err
			}
			if ok {
				return runWebComplete(ctx, rt, pending, q)
			}
			return forwardCallback(ctx, rt, q)
		},
	}
}

// runWebComplete finishes a parked web login with the captured redirect.
func runWebComplete(ctx context.Context, rt *runtimeState, pending *pendingWebLogin, q url.Values) error {
	if errMsg := q.Get("error"); errMsg != "" {
		clearPendingLogin()
		if desc := q.Get("error_description"); desc != "" {
			return fmt.Errorf("authorization failed: %s: %s", errMsg, desc)
		}
		return fmt.Errorf("authorization failed: %s", errMsg)
	}
	code := q.Get("code")
	if code == "" {
		return errors.New("callback URL carries no code parameter")
	}

	factory, err := rt.factory(nil)
	if err != nil {
		return err
	}
	prov, err := factory.Provider(pending.ProviderID)
	if err != nil {
		return err
	}
	web, ok := prov.(*auth.WebOAuthProvider)
	if !ok {
		return fmt.Errorf("pending login references non-web provider %s", pending.ProviderID)
	}
	res, err := web.Complete(ctx, code, q.Get("state"), pending.CodeVerifier)
	if err != nil {
		return err
	}
	clearPendingLogin()
	return storeLoginResult(ctx, rt, res, pending.Idp, pending.Label)
}

// forwardCallback hands a social redirect to the login process waiting on the
// loopback listener.
func forwardCallback(ctx context.Context, rt *runtimeState, q url.Values) error {
	target := "http://" + rt.listenAddr() + callback.CallbackPath + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("no login in progress (callback listener unreachable): %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("callback rejected with status %d", resp.StatusCode)
	}
	_, _ = fmt.Fprintln(rt.Writer(), "Callback delivered")
	return nil
}

func storeLoginResult(ctx context.Context, rt *runtimeState, res *auth.AuthResult, idp, label string) error {
	st, err := rt.openStore()
	if err != nil {
		return err
	}
	email := resolveEmail(ctx, rt.portalClient(), res, idp)
	account, err := st.Upsert(accountFromResult(res, email, label))
	if err != nil {
		return err
	}
	who := account.Email
	if who == "" {
		who = account.ID
	}
	_, _ = fmt.Fprintf(rt.Writer(), "Logged in as %s via %s (account %s, expires %s)\n",
		who, account.Provider, account.ID, account.ExpiresAt.UTC().Format(time.RFC3339))
	return nil
}

func newAuthRefreshCommand() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "refresh [ACCOUNT]",
		Short: "Refresh stored access tokens",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if !all && len(args) == 0 {
				return errors.New("specify an account id or --all")
			}
			st, err := rt.openStore()
			if err != nil {
				return err
			}
			var targets []store.Account
			if all {
				targets = st.List()
			} else {
				account, err := findAccount(st, args[0])
				if err != nil {
					return err
				}
				targets = []store.Account{account}
			}

			factory, err := rt.factory(nil)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			var failed int
			for _, account := range targets {
				if err := refreshAccount(ctx, rt, st, factory, account); err != nil {
					failed++
					_, _ = fmt.Fprintf(rt.Writer(), "%s (%s): %v\n", account.Email, account.Provider, err)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d refreshes failed", failed, len(targets))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Refresh every stored account")
	return cmd
}

func refreshAccount(ctx context.Context, rt *runtimeState, st *store.Store, factory *auth.Factory, account store.Account) error {
	prov, err := factory.Provider(account.Provider)
	if err != nil {
		return err
	}
	res, err := prov.Refresh(ctx, account.RefreshToken, refreshMetadata(account))
	if err != nil {
		if errors.Is(err, auth.ErrAccountSuspended) {
			account.Status = store.StatusSuspended
			if uerr := st.Update(account); uerr != nil {
				rt.Logger().Warn("failed to persist suspended status", zap.Error(uerr))
			}
		}
		if errors.Is(err, auth.ErrRefreshTokenInvalid) {
			return fmt.Errorf("%w (run 'kamctl auth login %s' again)", err, account.Provider)
		}
		return err
	}
	applyResult(&account, res)
	if err := st.Update(account); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(rt.Writer(), "Refreshed %s (%s), expires %s\n",
		account.Email, account.Provider, account.ExpiresAt.UTC().Format(time.RFC3339))
	return nil
}

func newAuthProvidersCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List supported providers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			for _, id := range auth.SupportedProviders() {
				_, _ = fmt.Fprintln(rt.Writer(), id)
			}
			return nil
		},
	}
}

// findAccount matches by full id, id prefix, or email.
func findAccount(st *store.Store, key string) (store.Account, error) {
	accounts := st.List()
	var matches []store.Account
	for _, a := range accounts {
		if a.ID == key {
			return a, nil
		}
		if strings.HasPrefix(a.ID, key) || a.Email == key {
			matches = append(matches, a)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return store.Account{}, fmt.Errorf("%w: %s", store.ErrAccountNotFound, key)
	default:
		return store.Account{}, fmt.Errorf("ambiguous account %q matches %d entries", key, len(matches))
	}
}
