package database

import (
	"errors"
	"sync"

	"github.com/inovacc/inboxd/internal/application"
	"github.com/inovacc/inboxd/internal/model"
)

// ErrStatusNotFound is returned when no status exists for an email.
var ErrStatusNotFound = errors.New("status not found")

// Store defines the sync status operations used by the app.
type Store interface {
	Ping() error
	RecordResult(cycleID string, info model.AccountSyncInfo) (*Status, error)
	GetStatus(email string) (*Status, error)
	ListStatuses() ([]Status, error)
	DeleteStatus(email string) error
	RecordCycle(cycle Cycle) error
	RecentCycles(limit int) ([]Cycle, error)
}

var (
	once sync.Once
	db   Store
)

// GetDB returns the store for the default status database.
func GetDB() Store {
	once.Do(func() {
		path, err := application.StatusDBFile()
		if err != nil {
			panic(err)
		}

		db, err = Open(path)
		if err != nil {
			panic(err)
		}
	})

	return db
}
