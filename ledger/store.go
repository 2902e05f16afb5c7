package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ErrNotFound is returned by Get when no document exists for the address.
var ErrNotFound = errors.New("account not found")

// Store persists one JSON document per account under a data directory, keyed
// by the lower-cased wallet address. Updates are read-modify-write cycles
// serialised per account; operations on different accounts proceed in
// parallel.
type Store struct {
	dir string
	now func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewStore(dir string) (*Store, error) {
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" {
		return nil, errors.New("ledger data directory required")
	}
	if err := os.MkdirAll(trimmed, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return &Store{dir: trimmed, now: time.Now, locks: make(map[string]*sync.Mutex)}, nil
}

// WithClock overrides the lastUpdated timestamp source, for tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Get loads the account document for the canonical lower-case address.
func (s *Store) Get(address string) (*Account, error) {
	key := canonicalKey(address)
	lock := s.accountLock(key)
	lock.Lock()
	defer lock.Unlock()
	account, err := s.read(key)
	if err != nil {
		return nil, err
	}
	return account, nil
}

// Update applies the mutator inside the account's critical section and
// persists the result. A missing document starts zero-valued, matching the
// original server's create-on-first-touch behaviour. The mutator returning an
// error aborts the update with nothing written.
func (s *Store) Update(address string, fn func(*Account) error) (*Account, error) {
	key := canonicalKey(address)
	lock := s.accountLock(key)
	lock.Lock()
	defer lock.Unlock()

	account, err := s.read(key)
	if errors.Is(err, ErrNotFound) {
		account = &Account{}
	} else if err != nil {
		return nil, err
	}

	if err := fn(account); err != nil {
		return nil, err
	}
	account.LastUpdated = s.now().UTC()

	if err := s.write(key, account); err != nil {
		return nil, err
	}
	return account.Clone(), nil
}

// Addresses lists every account with a persisted document, for the admin
// aggregation and leaderboard surfaces.
func (s *Store) Addresses() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read data directory: %w", err)
	}
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		out = append(out, strings.TrimSuffix(name, ".json"))
	}
	return out, nil
}

func (s *Store) read(key string) (*Account, error) {
	raw, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read account %s: %w", key, err)
	}
	account := &Account{}
	if err := json.Unmarshal(raw, account); err != nil {
		return nil, fmt.Errorf("decode account %s: %w", key, err)
	}
	return account, nil
}

// write lands the document via temp-file rename so a crash mid-write never
// leaves a truncated ledger entry.
func (s *Store) write(key string, account *Account) error {
	raw, err := json.MarshalIndent(account, "", "  ")
	if err != nil {
		return fmt.Errorf("encode account %s: %w", key, err)
	}
	tmp, err := os.CreateTemp(s.dir, key+".tmp-")
	if err != nil {
		return fmt.Errorf("stage account %s: %w", key, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("stage account %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("stage account %s: %w", key, err)
	}
	if err := os.Rename(tmpName, s.path(key)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("persist account %s: %w", key, err)
	}
	return nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

func (s *Store) accountLock(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[key] = lock
	}
	return lock
}

func canonicalKey(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
