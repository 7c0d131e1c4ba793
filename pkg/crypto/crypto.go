// Package crypto implements the symmetric keyring used to encrypt stored
// instance configuration. Values are sealed with NaCl secretbox
// (XSalsa20-Poly1305) under the first key in the ring; opening tries every
// key in order, which is what makes key rotation work: retire a key to a
// secondary slot and old ciphertexts stay readable while new writes use the
// current primary only.
package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	// KeySize is the raw byte length of a keyring key.
	KeySize = 32

	nonceSize = 24
)

// ErrDecryptionFailed is returned when no key in the ring authenticates the
// ciphertext.
var ErrDecryptionFailed = errors.New("decryption failed: no key in the ring could open the message")

// Keyring holds an ordered list of symmetric keys. The first key is the
// primary and is used for all encryption; the remainder are secondaries
// kept around so previously written data stays readable.
type Keyring struct {
	keys [][KeySize]byte
}

// NewKeyring builds a keyring from base64-encoded 32-byte keys, primary
// first. Keys can be generated with GenerateKey or `openssl rand -base64 32`.
func NewKeyring(primary string, secondaries ...string) (*Keyring, error) {
	if primary == "" {
		return nil, errors.New("primary key is required")
	}
	raw := append([]string{primary}, secondaries...)
	kr := &Keyring{keys: make([][KeySize]byte, 0, len(raw))}
	for i, encoded := range raw {
		key, err := decodeKey(encoded)
		if err != nil {
			return nil, fmt.Errorf("key %d: %w", i, err)
		}
		kr.keys = append(kr.keys, key)
	}
	return kr, nil
}

// GenerateKey returns a fresh random key in the base64 format NewKeyring
// accepts.
func GenerateKey() (string, error) {
	var key [KeySize]byte
	if _, err := rand.Read(key[:]); err != nil {
		return "", fmt.Errorf("generating key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key[:]), nil
}

// KeyFromEntropy derives the base64 key form from raw 32-byte entropy.
// Used by the CLI to rebuild a key from its recovery mnemonic.
func KeyFromEntropy(entropy []byte) (string, error) {
	if len(entropy) != KeySize {
		return "", fmt.Errorf("unexpected entropy length: got %d, want %d", len(entropy), KeySize)
	}
	return base64.StdEncoding.EncodeToString(entropy), nil
}

func decodeKey(encoded string) ([KeySize]byte, error) {
	var key [KeySize]byte
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return key, fmt.Errorf("not valid base64: %w", err)
	}
	if len(raw) != KeySize {
		return key, fmt.Errorf("decoded key is %d bytes, want %d", len(raw), KeySize)
	}
	copy(key[:], raw)
	return key, nil
}

// Encrypt seals message under the primary key. The nonce is random and
// prefixed to the returned ciphertext.
func (kr *Keyring) Encrypt(message []byte) ([]byte, error) {
	nonce, err := genNonce()
	if err != nil {
		return nil, err
	}
	return secretbox.Seal(nonce[:], message, &nonce, &kr.keys[0]), nil
}

// Decrypt opens ciphertext by trying each key in the ring in order,
// primary first. Returns ErrDecryptionFailed when none authenticates.
func (kr *Keyring) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < nonceSize {
		return nil, ErrDecryptionFailed
	}
	var nonce [nonceSize]byte
	copy(nonce[:], ciphertext[:nonceSize])
	box := ciphertext[nonceSize:]
	for i := range kr.keys {
		if message, ok := secretbox.Open(nil, box, &nonce, &kr.keys[i]); ok {
			return message, nil
		}
	}
	return nil, ErrDecryptionFailed
}

// Len reports how many keys are in the ring.
func (kr *Keyring) Len() int {
	return len(kr.keys)
}

func genNonce() ([nonceSize]byte, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nonce, fmt.Errorf("generating nonce: %w", err)
	}
	return nonce, nil
}
