package store

import (
	"errors"
	"sync"

	"github.com/inovacc/inboxd/internal/application"
	"github.com/inovacc/inboxd/internal/model"
)

// ErrAccountNotFound is returned when no account matches an email.
var ErrAccountNotFound = errors.New("account not found")

// Store defines the account persistence operations used by the app.
type Store interface {
	LoadAccounts() ([]*model.Account, error)
	SaveAccounts(accounts []*model.Account) error
	SaveAccount(account *model.Account) error
	GetAccount(email string) (*model.Account, error)
	RemoveAccount(email string) error
	Path() string
}

var (
	once    sync.Once
	storage Store
)

// GetStore returns the store backed by the default accounts file.
func GetStore() Store {
	once.Do(lazyInit)

	return storage
}

func lazyInit() {
	path, err := application.AccountsFile()
	if err != nil {
		panic(err)
	}

	storage = NewFileStore(path)
}
