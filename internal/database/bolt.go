package database

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/inovacc/inboxd/internal/model"
	"go.etcd.io/bbolt"
)

const (
	boltBucketStatus = "status" // key: email -> Status JSON
	boltBucketCycles = "cycles" // key: sequence -> Cycle JSON

	// MaxCycles bounds the cycle history.
	MaxCycles = 200
)

type Bolt struct {
	path    string
	timeout time.Duration
}

var _ Store = (*Bolt)(nil)

// Open prepares the database at path, creating the file and buckets.
func Open(path string) (*Bolt, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	b := &Bolt{path: path, timeout: 5 * time.Second}

	if err := b.update(func(tx *bbolt.Tx) error { return nil }); err != nil {
		return nil, err
	}

	return b, nil
}

func (b *Bolt) Path() string {
	return b.path
}

func (b *Bolt) open(readOnly bool) (*bbolt.DB, error) {
	db, err := bbolt.Open(b.path, 0600, &bbolt.Options{Timeout: b.timeout, ReadOnly: readOnly})
	if err != nil {
		return nil, fmt.Errorf("failed to open status database: %w", err)
	}

	return db, nil
}

func (b *Bolt) update(fn func(tx *bbolt.Tx) error) error {
	db, err := b.open(false)
	if err != nil {
		return err
	}

	defer func() { _ = db.Close() }()

	return db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(boltBucketStatus)); err != nil {
			return err
		}

		if _, err := tx.CreateBucketIfNotExists([]byte(boltBucketCycles)); err != nil {
			return err
		}

		return fn(tx)
	})
}

func (b *Bolt) view(fn func(tx *bbolt.Tx) error) error {
	db, err := b.open(true)
	if err != nil {
		return err
	}

	defer func() { _ = db.Close() }()

	return db.View(fn)
}

func (b *Bolt) Ping() error {
	return b.view(func(tx *bbolt.Tx) error {
		return nil
	})
}

// RecordResult merges one sync result into the account's status.
func (b *Bolt) RecordResult(cycleID string, info model.AccountSyncInfo) (*Status, error) {
	var status Status

	err := b.update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(boltBucketStatus))
		key := statusKey(info.Email)

		if data := bucket.Get(key); data != nil {
			if err := json.Unmarshal(data, &status); err != nil {
				return err
			}
		}

		applyResult(&status, cycleID, info)

		data, err := json.Marshal(&status)
		if err != nil {
			return err
		}

		return bucket.Put(key, data)
	})
	if err != nil {
		return nil, err
	}

	return &status, nil
}

func applyResult(status *Status, cycleID string, info model.AccountSyncInfo) {
	syncedAt := info.SyncedAt
	if syncedAt.IsZero() {
		syncedAt = time.Now().UTC()
	}

	status.Email = info.Email
	status.LastSync = syncedAt
	status.CycleID = cycleID
	status.NetworkIssue = info.NetworkIssue

	if info.DisplayName != "" {
		status.DisplayName = info.DisplayName
	}

	if info.AvatarURL != "" {
		status.AvatarURL = info.AvatarURL
	}

	if info.Failed() {
		status.LastError = info.Error
		status.ConsecutiveFailures++
		status.PersistentError = true

		// a failed identity call still reports the unread count
		if info.UnreadCount > 0 {
			status.UnreadCount = info.UnreadCount
		}

		return
	}

	status.UnreadCount = info.UnreadCount
	status.LastSuccess = syncedAt
	status.LastError = ""
	status.ConsecutiveFailures = 0
	status.PersistentError = false
}

func (b *Bolt) GetStatus(email string) (*Status, error) {
	var status *Status

	err := b.view(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(boltBucketStatus)).Get(statusKey(email))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrStatusNotFound, email)
		}

		status = &Status{}

		return json.Unmarshal(data, status)
	})

	return status, err
}

func (b *Bolt) ListStatuses() ([]Status, error) {
	var statuses []Status

	err := b.view(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(boltBucketStatus)).ForEach(func(k, v []byte) error {
			var status Status
			if err := json.Unmarshal(v, &status); err != nil {
				return err
			}

			statuses = append(statuses, status)

			return nil
		})
	})

	return statuses, err
}

func (b *Bolt) DeleteStatus(email string) error {
	return b.update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(boltBucketStatus)).Delete(statusKey(email))
	})
}

// RecordCycle appends a cycle and trims the history to MaxCycles.
func (b *Bolt) RecordCycle(cycle Cycle) error {
	if cycle.ID == "" {
		cycle.ID = uuid.New().String()
	}

	data, err := json.Marshal(&cycle)
	if err != nil {
		return err
	}

	return b.update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(boltBucketCycles))

		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}

		if err := bucket.Put(sequenceKey(seq), data); err != nil {
			return err
		}

		var keys [][]byte

		c := bucket.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}

		for i := 0; i < len(keys)-MaxCycles; i++ {
			if err := bucket.Delete(keys[i]); err != nil {
				return err
			}
		}

		return nil
	})
}

// RecentCycles returns up to limit cycles, newest first.
func (b *Bolt) RecentCycles(limit int) ([]Cycle, error) {
	var cycles []Cycle

	err := b.view(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(boltBucketCycles)).Cursor()

		for k, v := c.Last(); k != nil && (limit <= 0 || len(cycles) < limit); k, v = c.Prev() {
			var cycle Cycle
			if err := json.Unmarshal(v, &cycle); err != nil {
				return err
			}

			cycles = append(cycles, cycle)
		}

		return nil
	})

	return cycles, err
}

func statusKey(email string) []byte {
	return []byte(strings.ToLower(email))
}

func sequenceKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)

	return key
}
