// Package auth implements the login flows against the Kiro identity backends
// (PKCE with redirect correlation, SSO device authorization with polling, and
// the CBOR web-portal session flow) behind one provider contract, so account
// storage and commands never care which flow backs an account.
package auth
