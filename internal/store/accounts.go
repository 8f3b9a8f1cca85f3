package store

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/inovacc/inboxd/internal/model"
)

// FormatVersion is written to every accounts file.
const FormatVersion = "1.0"

type accountsFile struct {
	Version  string         `toml:"version"`
	Accounts []model.Record `toml:"accounts"`
}

// FileStore is a Store backed by a single TOML file.
type FileStore struct {
	path string
	mu   sync.Mutex
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a store for the given file. The file is created on the
// first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Path() string {
	return s.path
}

// LoadAccounts returns all valid accounts in file order. A missing file yields
// an empty list. Records that fail validation are left out and reported in the
// returned error, so callers may receive both accounts and an error.
func (s *FileStore) LoadAccounts() ([]*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := s.read()
	if err != nil {
		return nil, err
	}

	accounts := make([]*model.Account, 0, len(file.Accounts))

	var errs []error

	for _, rec := range file.Accounts {
		if !isSupported(rec) {
			slog.Warn("skipping account with unsupported type", "email", rec.Email, "type", rec.Type)
			continue
		}

		acct, err := model.FromRecord(rec)
		if err != nil {
			errs = append(errs, fmt.Errorf("account %q: %w", rec.Email, err))
			continue
		}

		accounts = append(accounts, acct)
	}

	return accounts, errors.Join(errs...)
}

// SaveAccounts overwrites the file with exactly the given accounts.
func (s *FileStore) SaveAccounts(accounts []*model.Account) error {
	records := make([]model.Record, 0, len(accounts))

	for _, acct := range accounts {
		if err := acct.Validate(); err != nil {
			return fmt.Errorf("refusing to save: %w", err)
		}

		records = append(records, acct.Record())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.write(&accountsFile{Version: FormatVersion, Accounts: records})
}

// SaveAccount inserts the account, or replaces the record with the same email
// in place. Other records, including ones that fail validation, are kept
// untouched.
func (s *FileStore) SaveAccount(account *model.Account) error {
	if err := account.Validate(); err != nil {
		return fmt.Errorf("refusing to save: %w", err)
	}

	rec := account.Record()

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := s.read()
	if err != nil {
		return err
	}

	if i := indexOf(file.Accounts, rec.Email); i >= 0 {
		file.Accounts[i] = rec
	} else {
		file.Accounts = append(file.Accounts, rec)
	}

	file.Version = FormatVersion

	return s.write(file)
}

// GetAccount returns the account with the given email.
func (s *FileStore) GetAccount(email string) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := s.read()
	if err != nil {
		return nil, err
	}

	i := indexOf(file.Accounts, email)
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, email)
	}

	return model.FromRecord(file.Accounts[i])
}

// RemoveAccount deletes the record with the given email.
func (s *FileStore) RemoveAccount(email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := s.read()
	if err != nil {
		return err
	}

	i := indexOf(file.Accounts, email)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, email)
	}

	file.Accounts = append(file.Accounts[:i], file.Accounts[i+1:]...)

	return s.write(file)
}

func (s *FileStore) read() (*accountsFile, error) {
	file := &accountsFile{Version: FormatVersion}

	if _, err := toml.DecodeFile(s.path, file); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &accountsFile{Version: FormatVersion}, nil
		}

		return nil, fmt.Errorf("failed to read accounts file: %w", err)
	}

	if file.Version != FormatVersion {
		slog.Warn("accounts file version mismatch", "path", s.path, "found", file.Version, "expected", FormatVersion)
	}

	return file, nil
}

func (s *FileStore) write(file *accountsFile) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create accounts directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".accounts-*.toml")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to set permissions: %w", err)
	}

	if err := toml.NewEncoder(tmp).Encode(file); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to encode accounts: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace accounts file: %w", err)
	}

	return nil
}

func indexOf(records []model.Record, email string) int {
	for i, rec := range records {
		if strings.EqualFold(rec.Email, email) {
			return i
		}
	}

	return -1
}

func isSupported(rec model.Record) bool {
	return rec.Type == "" || rec.Type == model.ProviderGmail
}
