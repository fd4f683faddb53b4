package cmd

import (
	"context"

	"github.com/kirozen/kamctl/pkg/kamctl/auth"
	"github.com/kirozen/kamctl/pkg/kamctl/client"
	"github.com/kirozen/kamctl/pkg/kamctl/store"
)

// accountFromResult turns a flow outcome into a storable account. The email
// is resolved separately because the flows differ in where it comes from.
func accountFromResult(res *auth.AuthResult, email, label string) store.Account {
	return store.Account{
		Email:        email,
		Provider:     res.Provider,
		AuthMethod:   res.AuthMethod,
		Label:        label,
		Status:       store.StatusActive,
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		ExpiresAt:    res.ExpiresAt,
		Metadata: store.Metadata{
			ClientID:     res.ClientID,
			ClientSecret: res.ClientSecret,
			Region:       res.Region,
			ClientIDHash: res.ClientIDHash,
			ProfileArn:   res.ProfileArn,
			CsrfToken:    res.CsrfToken,
			IDToken:      res.IDToken,
			SSOSessionID: res.SSOSessionID,
		},
	}
}

// applyResult merges a refresh outcome into the stored account, keeping
// metadata fields the flow did not re-issue.
func applyResult(a *store.Account, res *auth.AuthResult) {
	a.AccessToken = res.AccessToken
	if res.RefreshToken != "" {
		a.RefreshToken = res.RefreshToken
	}
	a.ExpiresAt = res.ExpiresAt
	a.Status = store.StatusActive
	if res.ClientID != "" {
		a.Metadata.ClientID = res.ClientID
	}
	if res.ClientSecret != "" {
		a.Metadata.ClientSecret = res.ClientSecret
	}
	if res.Region != "" {
		a.Metadata.Region = res.Region
	}
	if res.ClientIDHash != "" {
		a.Metadata.ClientIDHash = res.ClientIDHash
	}
	if res.ProfileArn != "" {
		a.Metadata.ProfileArn = res.ProfileArn
	}
	if res.CsrfToken != "" {
		a.Metadata.CsrfToken = res.CsrfToken
	}
	if res.IDToken != "" {
		a.Metadata.IDToken = res.IDToken
	}
	if res.SSOSessionID != "" {
		a.Metadata.SSOSessionID = res.SSOSessionID
	}
}

func refreshMetadata(a store.Account) auth.RefreshMetadata {
	return auth.RefreshMetadata{
		ClientID:     a.Metadata.ClientID,
		ClientSecret: a.Metadata.ClientSecret,
		Region:       a.Metadata.Region,
		ClientIDHash: a.Metadata.ClientIDHash,
		ProfileArn:   a.Metadata.ProfileArn,
		AccessToken:  a.AccessToken,
		CsrfToken:    a.Metadata.CsrfToken,
	}
}

// resolveEmail extracts the account email from whatever the flow produced:
// the id token claim when present, the portal user-info call for web logins.
func resolveEmail(ctx context.Context, portal *client.WebPortalClient, res *auth.AuthResult, idp string) string {
	if email := auth.EmailFromIDToken(res.IDToken); email != "" {
		return email
	}
	if res.AuthMethod == auth.MethodWebOAuth && portal != nil {
		if info, err := portal.GetUserInfo(ctx, res.AccessToken, idp); err == nil {
			return info.Email
		}
	}
	return ""
}
