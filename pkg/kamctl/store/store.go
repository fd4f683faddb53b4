package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrAccountNotFound is returned when no stored account matches the given id.
var ErrAccountNotFound = errors.New("account not found")

// Store keeps the account roster in memory and mirrors every mutation to a
// JSON file. A single mutex serializes all access; mutations persist before
// returning but a failed write does not roll back the in-memory state.
type Store struct {
	mu       sync.Mutex
	filePath string
	accounts []Account
	log      *zap.Logger
}

type storeFile struct {
	Accounts []Account `json:"accounts"`
}

// Open loads the roster from filePath, starting empty when the file does not
// exist yet.
func Open(filePath string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{filePath: filePath, log: log}
	content, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read account store: %w", err)
	}
	var file storeFile
	if err := json.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("failed to parse account store: %w", err)
	}
	s.accounts = file.Accounts
	return s, nil
}

// List returns a copy of all accounts, sorted by when they were added.
func (s *Store) List() []Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Account, len(s.accounts))
	copy(out, s.accounts)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].AddedAt.Before(out[j].AddedAt)
	})
	return out
}

// Get returns the account with the given id.
func (s *Store) Get(id string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.ID == id {
			return a, nil
		}
	}
	return Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
}

// Upsert inserts the account, or updates the existing entry that shares its
// email and provider. The stored id and addedAt survive an update; everything
// else is replaced.
func (s *Store) Upsert(account Account) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	account.UpdatedAt = now
	if account.Status == "" {
		account.Status = StatusActive
	}

	for i, existing := range s.accounts {
		if existing.Email == account.Email && existing.Provider == account.Provider {
			account.ID = existing.ID
			account.AddedAt = existing.AddedAt
			if account.Label == "" {
				account.Label = existing.Label
			}
			s.accounts[i] = account
			s.persistLocked()
			return account, nil
		}
	}

	if account.ID == "" {
		account.ID = newAccountID()
	}
	if account.Label == "" {
		account.Label = fmt.Sprintf("Kiro %s account", account.Provider)
	}
	account.AddedAt = now
	// Newest first: the persisted and exported order puts the most recent
	// login at the top.
	s.accounts = append([]Account{account}, s.accounts...)
	s.persistLocked()
	return account, nil
}

// Update replaces the stored account with the same id.
func (s *Store) Update(account Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.accounts {
		if existing.ID == account.ID {
			account.AddedAt = existing.AddedAt
			account.UpdatedAt = time.Now().UTC()
			s.accounts[i] = account
			s.persistLocked()
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrAccountNotFound, account.ID)
}

// Delete removes the account with the given id.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.accounts {
		if existing.ID == id {
			s.accounts = append(s.accounts[:i], s.accounts[i+1:]...)
			s.persistLocked()
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrAccountNotFound, id)
}

// DeleteMany removes every account whose id is in ids and returns how many
// were removed. Unknown ids are skipped.
func (s *Store) DeleteMany(ids []string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	kept := s.accounts[:0]
	removed := 0
	for _, a := range s.accounts {
		if wanted[a.ID] {
			removed++
			continue
		}
		kept = append(kept, a)
	}
	s.accounts = kept
	if removed > 0 {
		s.persistLocked()
	}
	return removed
}

// Import merges accounts into the roster. Entries whose id already exists are
// skipped, so importing the same export twice is a no-op. Returns how many
// accounts were added.
func (s *Store) Import(accounts []Account) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := make(map[string]bool, len(s.accounts))
	for _, a := range s.accounts {
		existing[a.ID] = true
	}
	added := 0
	for _, a := range accounts {
		if a.ID == "" || existing[a.ID] {
			continue
		}
		if a.Status == "" {
			a.Status = StatusActive
		}
		existing[a.ID] = true
		s.accounts = append(s.accounts, a)
		added++
	}
	if added > 0 {
		s.persistLocked()
	}
	return added
}

// Export renders the roster as indented JSON, in the same shape Import reads.
func (s *Store) Export() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return json.MarshalIndent(storeFile{Accounts: s.accounts}, "", "  ")
}

func (s *Store) persistLocked() {
	if err := s.writeLocked(); err != nil {
		s.log.Error("failed to persist account store", zap.Error(err))
	}
}

func (s *Store) writeLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o700); err != nil {
		return fmt.Errorf("failed to create store dir: %w", err)
	}
	content, err := json.MarshalIndent(storeFile{Accounts: s.accounts}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal account store: %w", err)
	}
	if err := os.WriteFile(s.filePath, content, 0o600); err != nil {
		return fmt.Errorf("failed to write account store: %w", err)
	}
	return nil
}
