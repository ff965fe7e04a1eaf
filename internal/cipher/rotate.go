package cipher

import (
	"crypto/subtle"
	"errors"

	"golang.org/x/crypto/argon2"
)

// RotationResult is the outcome for one ciphertext of a rotation batch.
// Exactly one of Ciphertext or Err is set.
type RotationResult struct {
	Ciphertext string
	Err        error
}

// Rotate decrypts every ciphertext with oldKey and re-encrypts it under a newly
// generated key. Per-item failures are reported in the matching result; the batch
// never aborts on a single bad item. The live Cipher is not touched: callers persist
// the results and then Swap to the returned key.
func Rotate(oldKey []byte, ciphertexts []string) (newKey []byte, results []RotationResult, err error) {
	oldState, err := newKeyState(oldKey)
	if err != nil {
		return nil, nil, err
	}

	newKey, err = GenerateKey()
	if err != nil {
		return nil, nil, err
	}
	newState, err := newKeyState(newKey)
	if err != nil {
		return nil, nil, err
	}

	results = make([]RotationResult, len(ciphertexts))
	for i, ct := range ciphertexts {
		plaintext, err := open(oldState, ct)
		if err != nil {
			results[i] = RotationResult{Err: err}
			continue
		}
		sealed, err := seal(newState, plaintext)
		if err != nil {
			results[i] = RotationResult{Err: err}
			continue
		}
		results[i] = RotationResult{Ciphertext: sealed}
	}

	return newKey, results, nil
}

// Argon2id parameters for passphrase-derived keys
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	minSaltLen   = 8
)

// DeriveKey derives a 32-byte key from an operator passphrase with argon2id
func DeriveKey(passphrase, salt []byte) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, &Error{Op: "derive", Err: errors.New("passphrase is empty")}
	}
	if len(salt) < minSaltLen {
		return nil, &Error{Op: "derive", Err: errors.New("salt must be at least 8 bytes")}
	}
	return argon2.IDKey(passphrase, salt, argonTime, argonMemory, argonThreads, KeySize), nil
}

// SameKey reports whether two raw keys are equal in constant time
func SameKey(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
