package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "accounts.json")
	s, err := Open(path, nil)
	require.NoError(t, err)
	return s, path
}

func testAccount(email, provider string) Account {
	return Account{
		Email:        email,
		Provider:     provider,
		AuthMethod:   "social",
		AccessToken:  "at",
		RefreshToken: "rt",
		ExpiresAt:    time.Now().Add(time.Hour),
	}
}

func TestUpsertAssignsIdentity(t *testing.T) {
	s, _ := newTestStore(t)
	account, err := s.Upsert(testAccount("dev@example.com", "Google"))
	require.NoError(t, err)
	require.NotEmpty(t, account.ID)
	require.Equal(t, StatusActive, account.Status)
	require.False(t, account.AddedAt.IsZero())
	require.False(t, account.UpdatedAt.IsZero())
}

func TestUpsertDeduplicatesByEmailAndProvider(t *testing.T) {
	s, _ := newTestStore(t)
	first, err := s.Upsert(testAccount("dev@example.com", "Google"))
	require.NoError(t, err)

	update := testAccount("dev@example.com", "Google")
	update.AccessToken = "at-2"
	second, err := s.Upsert(update)
	require.NoError(t, err)

	require.Equal(t, first.ID, second.ID)
	require.Equal(t, first.AddedAt, second.AddedAt)
	require.Equal(t, "at-2", second.AccessToken)
	require.Len(t, s.List(), 1)
}

func TestUpsertSameEmailDifferentProvider(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Upsert(testAccount("dev@example.com", "Google"))
	require.NoError(t, err)
	_, err = s.Upsert(testAccount("dev@example.com", "Github"))
	require.NoError(t, err)
	require.Len(t, s.List(), 2)
}

func TestUpsertInsertsNewAccountsFirst(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Upsert(testAccount("a@example.com", "Google"))
	require.NoError(t, err)
	_, err = s.Upsert(testAccount("b@example.com", "Github"))
	require.NoError(t, err)

	content, err := s.Export()
	require.NoError(t, err)
	var payload struct {
		Accounts []Account `json:"accounts"`
	}
	require.NoError(t, json.Unmarshal(content, &payload))
	require.Equal(t, "b@example.com", payload.Accounts[0].Email)
	require.Equal(t, "a@example.com", payload.Accounts[1].Email)
}

func TestUpsertDefaultsLabelOnInsert(t *testing.T) {
	s, _ := newTestStore(t)
	account, err := s.Upsert(testAccount("dev@example.com", "Google"))
	require.NoError(t, err)
	require.Equal(t, "Kiro Google account", account.Label)
}

func TestUpsertKeepsLabelOnUpdate(t *testing.T) {
	s, _ := newTestStore(t)
	labeled := testAccount("dev@example.com", "Google")
	labeled.Label = "work"
	_, err := s.Upsert(labeled)
	require.NoError(t, err)

	updated, err := s.Upsert(testAccount("dev@example.com", "Google"))
	require.NoError(t, err)
	require.Equal(t, "work", updated.Label)
}

func TestUpsertPersistsToDisk(t *testing.T) {
	s, path := newTestStore(t)
	_, err := s.Upsert(testAccount("dev@example.com", "Google"))
	require.NoError(t, err)

	reopened, err := Open(path, nil)
	require.NoError(t, err)
	require.Len(t, reopened.List(), 1)
	require.Equal(t, "dev@example.com", reopened.List()[0].Email)
}

func TestDelete(t *testing.T) {
	s, _ := newTestStore(t)
	account, err := s.Upsert(testAccount("dev@example.com", "Google"))
	require.NoError(t, err)

	require.NoError(t, s.Delete(account.ID))
	require.Empty(t, s.List())
	require.ErrorIs(t, s.Delete(account.ID), ErrAccountNotFound)
}

func TestDeleteMany(t *testing.T) {
	s, _ := newTestStore(t)
	a, _ := s.Upsert(testAccount("a@example.com", "Google"))
	b, _ := s.Upsert(testAccount("b@example.com", "Github"))
	_, _ = s.Upsert(testAccount("c@example.com", "BuilderId"))

	removed := s.DeleteMany([]string{a.ID, b.ID, "unknown"})
	require.Equal(t, 2, removed)
	require.Len(t, s.List(), 1)
}

func TestGet(t *testing.T) {
	s, _ := newTestStore(t)
	account, err := s.Upsert(testAccount("dev@example.com", "Google"))
	require.NoError(t, err)

	got, err := s.Get(account.ID)
	require.NoError(t, err)
	require.Equal(t, account.Email, got.Email)

	_, err = s.Get("missing")
	require.ErrorIs(t, err, ErrAccountNotFound)
}

func TestUpdate(t *testing.T) {
	s, _ := newTestStore(t)
	account, err := s.Upsert(testAccount("dev@example.com", "Google"))
	require.NoError(t, err)

	account.Status = StatusSuspended
	require.NoError(t, s.Update(account))

	got, err := s.Get(account.ID)
	require.NoError(t, err)
	require.Equal(t, StatusSuspended, got.Status)

	missing := account
	missing.ID = "nope"
	require.ErrorIs(t, s.Update(missing), ErrAccountNotFound)
}

func TestImportIsIdempotent(t *testing.T) {
	s, _ := newTestStore(t)
	existing, err := s.Upsert(testAccount("a@example.com", "Google"))
	require.NoError(t, err)

	incoming := []Account{
		existing,
		{ID: "new-1", Email: "b@example.com", Provider: "Github"},
		{Email: "no-id@example.com", Provider: "Google"},
	}
	require.Equal(t, 1, s.Import(incoming))
	require.Len(t, s.List(), 2)

	// Importing the same payload again adds nothing.
	require.Zero(t, s.Import(incoming))
	require.Len(t, s.List(), 2)
}

func TestExportImportRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Upsert(testAccount("a@example.com", "Google"))
	require.NoError(t, err)
	_, err = s.Upsert(testAccount("b@example.com", "Github"))
	require.NoError(t, err)

	content, err := s.Export()
	require.NoError(t, err)

	var payload struct {
		Accounts []Account `json:"accounts"`
	}
	require.NoError(t, json.Unmarshal(content, &payload))
	require.Len(t, payload.Accounts, 2)

	other, _ := newTestStore(t)
	require.Equal(t, 2, other.Import(payload.Accounts))
}

func TestUsageDataSurvivesPersistence(t *testing.T) {
	s, path := newTestStore(t)
	account, err := s.Upsert(testAccount("dev@example.com", "Google"))
	require.NoError(t, err)

	account.UsageData = json.RawMessage(`{"breakdownList":[{"resourceType":"AGENTIC_REQUEST"}]}`)
	require.NoError(t, s.Update(account))

	reopened, err := Open(path, nil)
	require.NoError(t, err)
	got, err := reopened.Get(account.ID)
	require.NoError(t, err)
	require.JSONEq(t, string(account.UsageData), string(got.UsageData))
}

func TestOpenMissingFileStartsEmpty(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "nope", "accounts.json"), nil)
	require.NoError(t, err)
	require.Empty(t, s.List())
}

func TestOpenRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o600))
	_, err := Open(path, nil)
	require.Error(t, err)
}

func TestAccountExpired(t *testing.T) {
	a := Account{ExpiresAt: time.Now().Add(-time.Minute)}
	require.True(t, a.Expired())
	a.ExpiresAt = time.Now().Add(time.Minute)
	require.False(t, a.Expired())
	a.ExpiresAt = time.Time{}
	require.False(t, a.Expired())
}
