package crypto

import (
	"fmt"
	"testing"

	"github.com/alecthomas/assert/v2"
)

func TestGenerateKey(t *testing.T) {
	t.Run("Generating keys", func(t *testing.T) {
		k1, err := GenerateKey()
		assert.NoError(t, err)
		k2, err := GenerateKey()
		assert.NoError(t, err)

		t.Run("should generate something that looks vaguely key-like", func(t *testing.T) {
			assert.NotEqual(t, k1, k2)
			assert.NotContains(t, k1, "AAAAAA")
		})

		t.Run("should be accepted by NewKeyring", func(t *testing.T) {
			kr, err := NewKeyring(k1, k2)
			assert.NoError(t, err)
			assert.Equal(t, 2, kr.Len())
		})
	})
}

func TestNewKeyringRejectsBadKeys(t *testing.T) {
	_, err := NewKeyring("")
	assert.Error(t, err)

	_, err = NewKeyring("not base64!!!")
	assert.Error(t, err)

	// valid base64, wrong length
	_, err = NewKeyring("c2hvcnQ=")
	assert.Error(t, err)
}

func TestNonceGeneration(t *testing.T) {
	t.Run("Generating a nonce", func(t *testing.T) {
		t.Run("should be unique", func(t *testing.T) {
			n1, _ := genNonce()
			n2, _ := genNonce()
			assert.NotEqual(t, n1, n2)
		})

		t.Run("should complete successfully", func(t *testing.T) {
			n, err := genNonce()
			assert.NoError(t, err)
			assert.NotContains(t, fmt.Sprintf("%x", n), "00000")
		})
	})
}

func TestRoundtrip(t *testing.T) {
	key, err := GenerateKey()
	assert.NoError(t, err)
	kr, err := NewKeyring(key)
	assert.NoError(t, err)

	t.Run("Roundtripping", func(t *testing.T) {
		message := []byte("This is a test of the emergency broadcast system.")

		ct, err := kr.Encrypt(message)
		assert.NoError(t, err)
		assert.NotEqual(t, ct, message)
		assert.True(t, len(ct) > len(message))

		pt, err := kr.Decrypt(ct)
		assert.NoError(t, err)
		assert.Equal(t, pt, message)
	})

	t.Run("Ciphertexts are unique per encryption", func(t *testing.T) {
		ct1, err := kr.Encrypt([]byte("same message"))
		assert.NoError(t, err)
		ct2, err := kr.Encrypt([]byte("same message"))
		assert.NoError(t, err)
		assert.NotEqual(t, ct1, ct2)
	})
}

func TestKeyRotation(t *testing.T) {
	k1, err := GenerateKey()
	assert.NoError(t, err)
	k2, err := GenerateKey()
	assert.NoError(t, err)

	old, err := NewKeyring(k1)
	assert.NoError(t, err)
	ct, err := old.Encrypt([]byte("sealed under k1"))
	assert.NoError(t, err)

	t.Run("data encrypted under a retired key stays readable", func(t *testing.T) {
		rotated, err := NewKeyring(k2, k1)
		assert.NoError(t, err)
		pt, err := rotated.Decrypt(ct)
		assert.NoError(t, err)
		assert.Equal(t, pt, []byte("sealed under k1"))
	})

	t.Run("dropping the old key makes the data unreadable", func(t *testing.T) {
		replaced, err := NewKeyring(k2)
		assert.NoError(t, err)
		_, err = replaced.Decrypt(ct)
		assert.IsError(t, err, ErrDecryptionFailed)
	})

	t.Run("garbage is rejected", func(t *testing.T) {
		_, err := old.Decrypt([]byte("way too short"))
		assert.IsError(t, err, ErrDecryptionFailed)
	})
}
