package cachekey

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"
)

// Prefix namespaces every derived key. Bump the version when the key
// material or its encoding changes; old entries then simply miss.
const Prefix = "qr:v1:"

var ErrInvalidExtras = errors.New("cache key extras are not serializable")

// Hash is a 32-byte BLAKE3 digest.
type Hash [32]byte

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

type domainKey [32]byte

// Domain separation keys: ASCII domain name, zero-padded to 32 bytes.
var (
	promptDomainKey = domainKey{
		'q', 'u', 'e', 'r', 'y', '-', 'r', 'o', 'u', 't', 'e', 'r', '.', 'p', 'r', 'o',
		'm', 'p', 't', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	keyDomainKey = domainKey{
		'q', 'u', 'e', 'r', 'y', '-', 'r', 'o', 'u', 't', 'e', 'r', '.', 'c', 'a', 'c',
		'h', 'e', '-', 'k', 'e', 'y', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}
)

// encMode is CBOR Core Deterministic Encoding (RFC 8949 §4.2): sorted map
// keys, shortest-form integers and floats, definite lengths. The CBOR major
// type of every item acts as an explicit type tag, so 1, 1.5, "1" and true
// never encode alike.
var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("cachekey: CBOR encoder initialization failed: " + err.Error())
	}
}

// Canonical returns the deterministic encoding of v. Logically equal values
// (including maps built in a different insertion order) encode identically.
func Canonical(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Fingerprint hashes canonical prompt bytes in the prompt domain.
func Fingerprint(canonical []byte) Hash {
	return keyedHash(promptDomainKey, canonical)
}

// Material is everything that identifies a cacheable unit of work.
type Material struct {
	Fingerprint string
	Provider    string
	Model       string
	Extras      any
}

// Derive builds the cache key for m. A nil Extras is encoded as CBOR null
// and is distinct from every non-nil value, including empty maps and zero.
// json.Number values in Extras are encoded as the number they spell.
func Derive(m Material) (string, error) {
	extras, err := normalizeExtras(m.Extras)
	if err != nil {
		return "", err
	}

	// encode as a map so field order is governed by key sorting, not struct layout
	data, err := encMode.Marshal(map[string]any{
		"fingerprint": m.Fingerprint,
		"provider":    m.Provider,
		"model":       m.Model,
		"extras":      extras,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidExtras, err)
	}
	return Prefix + keyedHash(keyDomainKey, data).String(), nil
}

// normalizeExtras replaces every json.Number in decoded JSON by an integer
// when the literal is integral, and by a float64 otherwise. Integers are
// never routed through float64, so values above 2^53 stay distinct.
func normalizeExtras(v any) (any, error) {
	switch t := v.(type) {
	case json.Number:
		return numberValue(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			n, err := normalizeExtras(e)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			n, err := normalizeExtras(e)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	default:
		return v, nil
	}
}

func numberValue(n json.Number) (any, error) {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, nil
		}
		if u, err := strconv.ParseUint(s, 10, 64); err == nil {
			return u, nil
		}
		if b, ok := new(big.Int).SetString(s, 10); ok {
			return b, nil
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: number %q: %v", ErrInvalidExtras, s, err)
	}
	return f, nil
}

func keyedHash(key domainKey, data []byte) Hash {
	// NewKeyed only fails on a key that is not 32 bytes
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("cachekey: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	_, _ = hasher.Write(data)
	var h Hash
	copy(h[:], hasher.Sum(nil))
	return h
}
