// Package tokencipher encrypts OAuth secrets for storage at rest.
//
// An encrypted secret is the literal prefix "encrypted:" followed by the
// standard base64 encoding of a 12-byte random nonce concatenated with the
// AES-256-GCM ciphertext and tag. Every call to Encrypt draws a fresh nonce,
// so encrypting the same plaintext twice yields different strings.
package tokencipher

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Prefix marks a string as an encrypted secret.
const Prefix = "encrypted:"

const (
	nonceSize = 12
	keySize   = 32
)

// Step identifies which stage of encryption or decryption failed.
type Step string

const (
	StepKeyDerivation Step = "key derivation"
	StepPrefix        Step = "prefix"
	StepDecode        Step = "base64 decode"
	StepLength        Step = "length"
	StepAuth          Step = "authentication"
	StepUTF8          Step = "utf8"
	StepEncrypt       Step = "encrypt"
)

var (
	ErrKeyDerivation = errors.New("key derivation failed")
	ErrMissingPrefix = errors.New("missing encrypted prefix")
	ErrDecode        = errors.New("invalid base64 payload")
	ErrTooShort      = errors.New("payload shorter than nonce")
	ErrAuthFailed    = errors.New("authentication tag mismatch (wrong machine or corrupted data)")
	ErrInvalidUTF8   = errors.New("decrypted data is not valid UTF-8")
	ErrEncrypt       = errors.New("encryption failed")
)

var stepErrors = map[Step]error{
	StepKeyDerivation: ErrKeyDerivation,
	StepPrefix:        ErrMissingPrefix,
	StepDecode:        ErrDecode,
	StepLength:        ErrTooShort,
	StepAuth:          ErrAuthFailed,
	StepUTF8:          ErrInvalidUTF8,
	StepEncrypt:       ErrEncrypt,
}

// Error reports the failing step. It matches the step's sentinel with errors.Is
// and also unwraps to the underlying cause, if any.
type Error struct {
	Step Step
	Err  error
}

func (e *Error) Error() string {
	sentinel := stepErrors[e.Step]
	if e.Err == nil {
		return fmt.Sprintf("tokencipher: %v", sentinel)
	}

	return fmt.Sprintf("tokencipher: %v: %v", sentinel, e.Err)
}

func (e *Error) Unwrap() []error {
	errs := []error{stepErrors[e.Step]}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}

	return errs
}

func stepError(step Step, err error) error {
	return &Error{Step: step, Err: err}
}

// KeySource supplies the 32-byte AES key.
type KeySource interface {
	Key() ([]byte, error)
}

// StaticKey is a KeySource backed by a fixed key.
type StaticKey []byte

func (k StaticKey) Key() ([]byte, error) {
	out := make([]byte, len(k))
	copy(out, k)

	return out, nil
}

// Cipher encrypts and decrypts secrets with keys from a KeySource.
type Cipher struct {
	keys KeySource
}

// New creates a Cipher.
func New(keys KeySource) *Cipher {
	return &Cipher{keys: keys}
}

// IsEncrypted reports whether s carries the encrypted prefix.
func IsEncrypted(s string) bool {
	return strings.HasPrefix(s, Prefix)
}

// Encrypt seals plaintext and returns the prefixed encoding.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	aead, err := c.aead()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", stepError(StepEncrypt, fmt.Errorf("generate nonce: %w", err))
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)

	return Prefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt. It never returns partial output.
func (c *Cipher) Decrypt(secret string) (string, error) {
	encoded, ok := strings.CutPrefix(secret, Prefix)
	if !ok {
		return "", stepError(StepPrefix, nil)
	}

	payload, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", stepError(StepDecode, err)
	}

	if len(payload) < nonceSize {
		return "", stepError(StepLength, fmt.Errorf("got %d bytes, need at least %d", len(payload), nonceSize))
	}

	aead, err := c.aead()
	if err != nil {
		return "", err
	}

	nonce, ciphertext := payload[:nonceSize], payload[nonceSize:]

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", stepError(StepAuth, err)
	}

	if !utf8.Valid(plaintext) {
		secureZero(plaintext)
		return "", stepError(StepUTF8, nil)
	}

	return string(plaintext), nil
}

func (c *Cipher) aead() (cipher.AEAD, error) {
	if c == nil || c.keys == nil {
		return nil, stepError(StepKeyDerivation, errors.New("no key source configured"))
	}

	key, err := c.keys.Key()
	if err != nil {
		return nil, stepError(StepKeyDerivation, err)
	}

	defer secureZero(key)

	if len(key) != keySize {
		return nil, stepError(StepKeyDerivation, fmt.Errorf("key is %d bytes, want %d", len(key), keySize))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, stepError(StepKeyDerivation, err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, stepError(StepKeyDerivation, err)
	}

	return aead, nil
}

func secureZero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
