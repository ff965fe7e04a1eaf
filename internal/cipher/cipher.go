// Package cipher encrypts session secrets at rest with AES-256-GCM.
//
// Ciphertexts are base64 (standard encoding) of
//
//	version (1 byte) || nonce (12 bytes) || sealed payload
//
// so every value is self-describing and a fresh nonce is used per call.
package cipher

import (
	"crypto/aes"
	gocipher "crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
)

const (
	// KeySize is the raw key length for AES-256
	KeySize = 32

	formatVersion byte = 0x01
	nonceSize          = 12
)

// ErrCipher is the root of all encryption failures: missing or malformed key,
// corrupt, truncated or tampered ciphertext.
var ErrCipher = errors.New("cipher error")

// Error describes a failed cipher operation
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "cipher " + e.Op + " failed"
	}
	return fmt.Sprintf("cipher %s failed: %v", e.Op, e.Err)
}

// Unwrap lets errors.Is match both ErrCipher and the underlying cause
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrCipher}
	}
	return []error{ErrCipher, e.Err}
}

type keyState struct {
	key  []byte
	aead gocipher.AEAD
}

// Cipher holds the process-wide key. The key and its AEAD are swapped as one unit.
type Cipher struct {
	state atomic.Pointer[keyState]
}

// New creates a Cipher for a raw 32-byte key
func New(key []byte) (*Cipher, error) {
	st, err := newKeyState(key)
	if err != nil {
		return nil, err
	}
	c := &Cipher{}
	c.state.Store(st)
	return c, nil
}

// LoadOrGenerate builds a Cipher from an encoded key. When encodedKey is empty a
// new key is generated and returned so the caller can surface it to the operator.
// A malformed key is an error; there is no fallback.
func LoadOrGenerate(encodedKey string) (c *Cipher, generated string, err error) {
	if encodedKey == "" {
		raw, err := GenerateKey()
		if err != nil {
			return nil, "", err
		}
		c, err := New(raw)
		if err != nil {
			return nil, "", err
		}
		return c, EncodeKey(raw), nil
	}

	raw, err := ParseKey(encodedKey)
	if err != nil {
		return nil, "", err
	}
	c, err = New(raw)
	if err != nil {
		return nil, "", err
	}
	return c, "", nil
}

func newKeyState(key []byte) (*keyState, error) {
	if len(key) != KeySize {
		return nil, &Error{Op: "init", Err: fmt.Errorf("key must be exactly %d bytes, got %d", KeySize, len(key))}
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, &Error{Op: "init", Err: err}
	}
	aead, err := gocipher.NewGCM(block)
	if err != nil {
		return nil, &Error{Op: "init", Err: err}
	}

	k := make([]byte, len(key))
	copy(k, key)
	return &keyState{key: k, aead: aead}, nil
}

// Encrypt seals plaintext with the active key
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	st := c.state.Load()
	if st == nil {
		return "", &Error{Op: "encrypt", Err: errors.New("no key loaded")}
	}
	return seal(st, plaintext)
}

// Decrypt opens a ciphertext produced by Encrypt
func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	st := c.state.Load()
	if st == nil {
		return "", &Error{Op: "decrypt", Err: errors.New("no key loaded")}
	}
	return open(st, ciphertext)
}

// Swap atomically replaces the active key. In-flight calls finish with the key they loaded.
func (c *Cipher) Swap(newKey []byte) error {
	st, err := newKeyState(newKey)
	if err != nil {
		return err
	}
	c.state.Store(st)
	return nil
}

// Uses reports whether key is the active key
func (c *Cipher) Uses(key []byte) bool {
	st := c.state.Load()
	return st != nil && SameKey(st.key, key)
}

func seal(st *keyState, plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", &Error{Op: "encrypt", Err: fmt.Errorf("failed to generate nonce: %w", err)}
	}

	out := make([]byte, 0, 1+nonceSize+len(plaintext)+st.aead.Overhead())
	out = append(out, formatVersion)
	out = append(out, nonce...)
	out = st.aead.Seal(out, nonce, []byte(plaintext), []byte{formatVersion})

	return base64.StdEncoding.EncodeToString(out), nil
}

func open(st *keyState, ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", &Error{Op: "decrypt", Err: fmt.Errorf("invalid encoding: %w", err)}
	}
	if len(raw) < 1+nonceSize+st.aead.Overhead() {
		return "", &Error{Op: "decrypt", Err: errors.New("ciphertext truncated")}
	}
	if raw[0] != formatVersion {
		return "", &Error{Op: "decrypt", Err: fmt.Errorf("unknown format version %d", raw[0])}
	}

	nonce := raw[1 : 1+nonceSize]
	plaintext, err := st.aead.Open(nil, nonce, raw[1+nonceSize:], raw[:1])
	if err != nil {
		return "", &Error{Op: "decrypt", Err: errors.New("authentication failed")}
	}
	return string(plaintext), nil
}

// GenerateKey returns a new random 32-byte key
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, &Error{Op: "generate", Err: err}
	}
	return key, nil
}

// EncodeKey renders a raw key for configuration
func EncodeKey(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}

// ParseKey decodes a configured key and checks its length
func ParseKey(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, &Error{Op: "parse key", Err: fmt.Errorf("invalid base64: %w", err)}
	}
	if len(key) != KeySize {
		return nil, &Error{Op: "parse key", Err: fmt.Errorf("key must be exactly %d bytes, got %d", KeySize, len(key))}
	}
	return key, nil
}
