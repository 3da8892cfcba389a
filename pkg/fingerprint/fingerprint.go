// Package fingerprint builds deterministic content hashes used to key on-disk
// caches to the data and configuration that produced them.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"hash"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Of fingerprints any JSON-encodable value (typically a config struct).
func Of(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", errors.Wrap(err, "failed to encode value for fingerprint")
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", errors.Wrap(err, "failed to decode value for fingerprint")
	}
	var b strings.Builder
	canonicalize(&b, decoded)
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:]), nil
}

// canonicalize writes data as JSON with object keys sorted.
func canonicalize(b *strings.Builder, data any) {
	switch v := data.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			key, _ := json.Marshal(k)
			b.Write(key)
			b.WriteByte(':')
			canonicalize(b, v[k])
		}
		b.WriteByte('}')
	case []any:
		b.WriteByte('[')
		for i, item := range v {
			if i > 0 {
				b.WriteByte(',')
			}
			canonicalize(b, item)
		}
		b.WriteByte(']')
	default:
		raw, _ := json.Marshal(v)
		b.Write(raw)
	}
}

// Hasher accumulates a fingerprint over a stream of values without holding
// them in memory. Parts are length-prefixed so ("ab","c") and ("a","bc") differ.
type Hasher struct {
	h hash.Hash
}

// NewHasher creates an empty stream hasher.
func NewHasher() *Hasher {
	return &Hasher{h: sha256.New()}
}

// Add appends parts to the stream.
func (h *Hasher) Add(parts ...string) {
	for _, p := range parts {
		var prefix [8]byte
		n := uint64(len(p))
		for i := 7; i >= 0; i-- {
			prefix[i] = byte(n)
			n >>= 8
		}
		h.h.Write(prefix[:])
		h.h.Write([]byte(p))
	}
}

// Sum returns the hex digest.
func (h *Hasher) Sum() string {
	return hex.EncodeToString(h.h.Sum(nil))
}
