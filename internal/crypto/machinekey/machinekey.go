// Package machinekey derives the symmetric key that binds stored credentials
// to the current host.
//
// The key is Argon2id(machine identifier, fixed salt). The salt is constant so
// the same machine always yields the same key; all uniqueness comes from the
// identifier, which is read from the operating system:
//
//   - Linux: /etc/machine-id (or /var/lib/dbus/machine-id)
//   - macOS: IOPlatformUUID reported by ioreg
//   - Windows: HKLM\SOFTWARE\Microsoft\Cryptography\MachineGuid
//
// Copying the accounts file to another machine therefore makes it unreadable.
package machinekey

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
)

// KeySize is the length of the derived AES-256 key.
const KeySize = 32

var fixedSalt = []byte("inboxd.machine-key.v1")

var (
	// ErrMachineID is returned when the OS machine identifier cannot be read.
	ErrMachineID = errors.New("machine identifier unavailable")

	// ErrShortKey is returned when the configured output length is below KeySize.
	ErrShortKey = errors.New("derived key shorter than 32 bytes")
)

// Params holds the Argon2id cost parameters.
type Params struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
	KeyLen  uint32
}

// DefaultParams are the cost parameters used for production keys.
var DefaultParams = Params{
	Time:    1,
	Memory:  64 * 1024,
	Threads: 4,
	KeyLen:  KeySize,
}

// readMachineID is swapped in tests.
var readMachineID = machineID

// MachineID returns the trimmed OS machine identifier.
func MachineID() (string, error) {
	id, err := readMachineID()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrMachineID, err)
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("%w: empty identifier", ErrMachineID)
	}

	return id, nil
}

// DeriveKey derives the machine-bound key with DefaultParams.
func DeriveKey() ([]byte, error) {
	return DeriveKeyWithParams(DefaultParams)
}

// DeriveKeyWithParams derives the machine-bound key with explicit cost parameters.
func DeriveKeyWithParams(p Params) ([]byte, error) {
	id, err := MachineID()
	if err != nil {
		return nil, err
	}

	return deriveFrom(id, p)
}

func deriveFrom(id string, p Params) ([]byte, error) {
	if p.KeyLen < KeySize {
		return nil, ErrShortKey
	}

	hash := argon2.IDKey([]byte(id), fixedSalt, p.Time, p.Memory, p.Threads, p.KeyLen)
	if len(hash) < KeySize {
		return nil, ErrShortKey
	}

	key := make([]byte, KeySize)
	copy(key, hash[:KeySize])

	return key, nil
}

// Source hands out the machine key, deriving it at most once per process.
type Source struct {
	params Params

	mu  sync.Mutex
	key []byte
}

// NewSource creates a Source using DefaultParams.
func NewSource() *Source {
	return &Source{params: DefaultParams}
}

// NewSourceWithParams creates a Source with explicit cost parameters.
func NewSourceWithParams(p Params) *Source {
	return &Source{params: p}
}

// Key returns a copy of the derived key. Failures are not cached.
func (s *Source) Key() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.key == nil {
		key, err := DeriveKeyWithParams(s.params)
		if err != nil {
			return nil, err
		}

		s.key = key
	}

	out := make([]byte, len(s.key))
	copy(out, s.key)

	return out, nil
}
