package cipher

import (
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCipher(t *testing.T) (*Cipher, []byte) {
	t.Helper()
	key, err := GenerateKey()
	require.NoError(t, err)
	c, err := New(key)
	require.NoError(t, err)
	return c, key
}

// ============================================================================
// Constructor Tests
// ============================================================================

func TestNew_InvalidKeyLength(t *testing.T) {
	for _, length := range []int{0, 16, 24, 31, 33, 64} {
		c, err := New(make([]byte, length))
		assert.Nil(t, c)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrCipher))
		assert.Contains(t, err.Error(), "must be exactly 32 bytes")
	}
}

func TestLoadOrGenerate_EmptyKeyGenerates(t *testing.T) {
	c, generated, err := LoadOrGenerate("")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.NotEmpty(t, generated)

	raw, err := ParseKey(generated)
	require.NoError(t, err)
	assert.Len(t, raw, KeySize)
	assert.True(t, c.Uses(raw))
}

func TestLoadOrGenerate_ExistingKey(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	c, generated, err := LoadOrGenerate(EncodeKey(key))
	require.NoError(t, err)
	assert.Empty(t, generated)
	assert.True(t, c.Uses(key))
}

func TestLoadOrGenerate_MalformedKeyFails(t *testing.T) {
	tests := []string{
		"not base64!!",
		base64.StdEncoding.EncodeToString([]byte("too-short")),
	}
	for _, encoded := range tests {
		c, generated, err := LoadOrGenerate(encoded)
		assert.Nil(t, c)
		assert.Empty(t, generated)
		assert.True(t, errors.Is(err, ErrCipher), "expected cipher error for %q", encoded)
	}
}

// ============================================================================
// Encrypt / Decrypt Tests
// ============================================================================

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	c, _ := newTestCipher(t)

	secrets := []string{
		"",
		"a",
		"BQAAAAEAAAB-session-string-with-symbols_-+/=",
		strings.Repeat("x", 4096),
		"unicode ✓ секрет",
	}

	for _, s := range secrets {
		ct, err := c.Encrypt(s)
		require.NoError(t, err)
		pt, err := c.Decrypt(ct)
		require.NoError(t, err)
		assert.Equal(t, s, pt)
	}
}

func TestEncrypt_NonDeterministic(t *testing.T) {
	c, _ := newTestCipher(t)

	a, err := c.Encrypt("same secret")
	require.NoError(t, err)
	b, err := c.Encrypt("same secret")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestDecrypt_EveryBitFlipFails(t *testing.T) {
	c, _ := newTestCipher(t)

	ct, err := c.Encrypt("session-secret")
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(ct)
	require.NoError(t, err)

	for i := 0; i < len(raw); i++ {
		for bit := 0; bit < 8; bit++ {
			tampered := make([]byte, len(raw))
			copy(tampered, raw)
			tampered[i] ^= 1 << bit

			_, err := c.Decrypt(base64.StdEncoding.EncodeToString(tampered))
			require.Error(t, err, "byte %d bit %d", i, bit)
			assert.True(t, errors.Is(err, ErrCipher))
		}
	}
}

func TestDecrypt_TruncatedAndGarbage(t *testing.T) {
	c, _ := newTestCipher(t)

	ct, err := c.Encrypt("session-secret")
	require.NoError(t, err)
	raw, _ := base64.StdEncoding.DecodeString(ct)

	inputs := []string{
		"",
		"%%%",
		base64.StdEncoding.EncodeToString(raw[:10]),
		base64.StdEncoding.EncodeToString(raw[:len(raw)-1]),
	}
	for _, in := range inputs {
		_, err := c.Decrypt(in)
		assert.True(t, errors.Is(err, ErrCipher), "input %q", in)
	}
}

func TestDecrypt_WrongKeyFails(t *testing.T) {
	c1, _ := newTestCipher(t)
	c2, _ := newTestCipher(t)

	ct, err := c1.Encrypt("session-secret")
	require.NoError(t, err)

	_, err = c2.Decrypt(ct)
	assert.True(t, errors.Is(err, ErrCipher))
}

func TestZeroValueCipher_Fails(t *testing.T) {
	var c Cipher
	_, err := c.Encrypt("x")
	assert.True(t, errors.Is(err, ErrCipher))
	_, err = c.Decrypt("x")
	assert.True(t, errors.Is(err, ErrCipher))
}

// ============================================================================
// Swap / Rotation Tests
// ============================================================================

func TestSwap_ReplacesKey(t *testing.T) {
	c, _ := newTestCipher(t)
	before, err := c.Encrypt("secret")
	require.NoError(t, err)

	newKey, err := GenerateKey()
	require.NoError(t, err)
	require.NoError(t, c.Swap(newKey))

	_, err = c.Decrypt(before)
	assert.True(t, errors.Is(err, ErrCipher))
	assert.True(t, c.Uses(newKey))
}

func TestSwap_InvalidKeyKeepsOld(t *testing.T) {
	c, key := newTestCipher(t)
	err := c.Swap([]byte("short"))
	assert.Error(t, err)
	assert.True(t, c.Uses(key))
}

func TestUses(t *testing.T) {
	c, key := newTestCipher(t)
	other, err := GenerateKey()
	require.NoError(t, err)

	assert.True(t, c.Uses(key))
	assert.False(t, c.Uses(other))
	assert.False(t, c.Uses(key[:16]))
	assert.False(t, (&Cipher{}).Uses(key))
}

func TestSwap_ConcurrentWithEncrypt(t *testing.T) {
	c, _ := newTestCipher(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, err := c.Encrypt("secret")
				assert.NoError(t, err)
			}
		}()
	}
	for i := 0; i < 10; i++ {
		k, err := GenerateKey()
		require.NoError(t, err)
		require.NoError(t, c.Swap(k))
	}
	wg.Wait()
}

func TestRotate_ReencryptsAndReportsFailures(t *testing.T) {
	c, oldKey := newTestCipher(t)

	good1, err := c.Encrypt("secret-one")
	require.NoError(t, err)
	good2, err := c.Encrypt("secret-two")
	require.NoError(t, err)

	newKey, results, err := Rotate(oldKey, []string{good1, "corrupt", good2})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.False(t, SameKey(oldKey, newKey))

	assert.NoError(t, results[0].Err)
	assert.True(t, errors.Is(results[1].Err, ErrCipher))
	assert.Empty(t, results[1].Ciphertext)
	assert.NoError(t, results[2].Err)

	rotated, err := New(newKey)
	require.NoError(t, err)

	pt, err := rotated.Decrypt(results[0].Ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "secret-one", pt)
	pt, err = rotated.Decrypt(results[2].Ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "secret-two", pt)

	// the live cipher still uses the old key until swapped
	pt, err = c.Decrypt(good1)
	require.NoError(t, err)
	assert.Equal(t, "secret-one", pt)
}

func TestRotate_InvalidOldKey(t *testing.T) {
	_, _, err := Rotate([]byte("short"), []string{"x"})
	assert.True(t, errors.Is(err, ErrCipher))
}

func TestDeriveKey(t *testing.T) {
	k1, err := DeriveKey([]byte("correct horse"), []byte("fixed-salt"))
	require.NoError(t, err)
	k2, err := DeriveKey([]byte("correct horse"), []byte("fixed-salt"))
	require.NoError(t, err)
	k3, err := DeriveKey([]byte("correct horse"), []byte("other-salt"))
	require.NoError(t, err)

	assert.Len(t, k1, KeySize)
	assert.True(t, SameKey(k1, k2))
	assert.False(t, SameKey(k1, k3))

	_, err = DeriveKey(nil, []byte("fixed-salt"))
	assert.Error(t, err)
	_, err = DeriveKey([]byte("pw"), []byte("short"))
	assert.Error(t, err)
}
