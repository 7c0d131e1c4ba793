package instore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/mscno/instore/pkg/crypto"
)

// Labels are the searchable attributes of a record. Values must be scalar:
// string, int64, float64, bool or nil (all integer widths and json.Number
// are normalized on the way in; anything else is ErrInvalidArgument).
type Labels map[string]any

// Bundle is the plaintext configuration payload of an instance record.
// User and Admin are required; Callback and State are optional (nil when
// absent).
type Bundle struct {
	User     map[string]any `json:"user"`
	Admin    map[string]any `json:"admin"`
	Callback map[string]any `json:"callback,omitempty"`
	State    map[string]any `json:"state,omitempty"`
}

// AdminHash is what remains of the admin object after sealing: a hex
// SHA-256 digest of its canonical JSON form. The store is write-only for
// admin secrets; no read path ever recovers the original object.
type AdminHash struct {
	Hash string `json:"hash"`
}

// SealedBundle is the stored form of a Bundle: the admin object replaced by
// its integrity hash. This is what decryption yields.
type SealedBundle struct {
	User     map[string]any `json:"user"`
	Admin    AdminHash      `json:"admin"`
	Callback map[string]any `json:"callback,omitempty"`
	State    map[string]any `json:"state,omitempty"`
}

// Item is the caller-supplied triple stored under a primary key.
type Item struct {
	Value  Bundle
	Guid   string
	Labels Labels
}

// Result is a decrypted record as returned by the read paths.
type Result struct {
	PrimaryKey string
	Value      SealedBundle
	Guid       string
	Labels     Labels
}

// StoredRecord is the encrypted-at-rest form backends persist. It is part
// of the Backend contract so backends can live outside this package.
type StoredRecord struct {
	Ciphertext []byte
	Guid       string
	Labels     Labels
}

// HashAdmin computes the integrity digest stored in place of an admin
// object: hex SHA-256 over the canonical (key-sorted) JSON serialization.
// encoding/json sorts map keys recursively, so marshalling the map is the
// canonical form.
func HashAdmin(admin map[string]any) (string, error) {
	canonical, err := json.Marshal(admin)
	if err != nil {
		return "", fmt.Errorf("canonicalizing admin config: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// seal transforms a bundle into its stored form (admin object reduced to
// its hash) and encrypts it under the keyring's primary key.
func seal(kr *crypto.Keyring, b Bundle) ([]byte, error) {
	if b.User == nil || b.Admin == nil {
		return nil, fmt.Errorf("%w: bundle requires user and admin objects", ErrInvalidArgument)
	}
	digest, err := HashAdmin(b.Admin)
	if err != nil {
		return nil, err
	}
	sealed := SealedBundle{
		User:     b.User,
		Admin:    AdminHash{Hash: digest},
		Callback: b.Callback,
		State:    b.State,
	}
	plaintext, err := json.Marshal(sealed)
	if err != nil {
		return nil, fmt.Errorf("serializing bundle: %w", err)
	}
	return kr.Encrypt(plaintext)
}

// open decrypts a stored bundle, trying every key in the ring.
func open(kr *crypto.Keyring, ciphertext []byte) (SealedBundle, error) {
	var sealed SealedBundle
	plaintext, err := kr.Decrypt(ciphertext)
	if err != nil {
		return sealed, err
	}
	if err := json.Unmarshal(plaintext, &sealed); err != nil {
		return sealed, fmt.Errorf("%w: stored bundle is not valid JSON: %v", ErrBadData, err)
	}
	return sealed, nil
}

// normalizeLabels validates label values and collapses numeric types so
// that equality in the index is well defined: every integer width becomes
// int64, every float becomes float64. A json.Number keeps its int/float
// distinction, which is how labels survive a JSON round trip through a
// durable backend.
func normalizeLabels(labels Labels) (Labels, error) {
	normalized := make(Labels, len(labels))
	for key, value := range labels {
		if key == "" {
			return nil, fmt.Errorf("%w: empty label key", ErrInvalidArgument)
		}
		v, err := normalizeLabelValue(value)
		if err != nil {
			return nil, fmt.Errorf("label %q: %w", key, err)
		}
		normalized[key] = v
	}
	return normalized, nil
}

func normalizeLabelValue(value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string, bool, int64:
		return v, nil
	case float64:
		return finiteFloat(v)
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case uint:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case float32:
		return finiteFloat(float64(v))
	case json.Number:
		if !strings.ContainsAny(v.String(), ".eE") {
			return v.Int64()
		}
		f, err := v.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		return finiteFloat(f)
	default:
		return nil, fmt.Errorf("%w: unsupported label value type %T", ErrInvalidArgument, value)
	}
}

// finiteFloat rejects NaN and the infinities: they do not serialize as JSON,
// and NaN is never equal to itself, so it could neither be indexed nor found
// again.
func finiteFloat(v float64) (any, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, fmt.Errorf("%w: non-finite float label value", ErrInvalidArgument)
	}
	return v, nil
}

func copyLabels(labels Labels) Labels {
	out := make(Labels, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}
