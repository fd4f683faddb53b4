// Package cmd implements the cobra command tree for the kamctl CLI, including
// subcommands for provider login, token refresh, account roster management,
// configuration, and shell completion.
package cmd
