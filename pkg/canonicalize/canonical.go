// Package canonicalize produces the deterministic serialization of a UOW
// attribute map and the per-UOW hash-chain step used by the history ledger.
//
// Canonical form:
//  1. Map keys sorted lexicographically by UTF-8 bytes.
//  2. Strings valid UTF-8, NFC normalized, HTML escaping disabled.
//  3. Numbers in shortest round-trip decimal; integers without a fraction.
//  4. Booleans as true/false, null preserved.
//
// Chain step: new = SHA256(prev || "\n" || payload). The first row of a
// chain seeds prev with the empty string, still concatenated with the
// separator. The seed is fixed forever; see ChainSeed.
package canonicalize

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"

	"golang.org/x/text/unicode/norm"
)

// ChainSeed is the prev-hash of the first row in every UOW history chain.
const ChainSeed = ""

// Canonical returns the canonical JSON bytes of v.
//
// v is first marshaled with the standard encoder (respecting json tags),
// decoded back through json.Number to avoid float drift, then re-marshaled
// recursively with sorted keys, NFC strings, and no HTML escaping.
func Canonical(v any) ([]byte, error) {
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: pre-marshal failed: %w", err)
	}

	var generic any
	dec := json.NewDecoder(bytes.NewReader(intermediate))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonicalize: intermediate decode failed: %w", err)
	}

	var buf bytes.Buffer
	if err := writeCanonical(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// AttributeDigest returns the plain SHA-256 hex digest of the canonical
// form of an attribute map. This is the payload the chain step consumes.
func AttributeDigest(attrs map[string]any) (string, error) {
	if attrs == nil {
		attrs = map[string]any{}
	}
	b, err := Canonical(attrs)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// ChainHash computes one step of the history chain.
func ChainHash(prev, payload string) string {
	h := sha256.New()
	h.Write([]byte(prev))
	h.Write([]byte("\n"))
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}

// HashBytes returns the SHA-256 hex digest of raw bytes.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case json.Number:
		return writeNumber(buf, t)
	case string:
		return writeString(buf, t)
	case []any:
		buf.WriteByte('[')
		for i, elem := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := writeCanonical(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	default:
		return fmt.Errorf("canonicalize: unsupported type %T", v)
	}
}

// writeNumber emits the shortest round-trip decimal. Integer-valued numbers
// lose their fraction so 1, 1.0 and json.Number("1.00") hash identically.
func writeNumber(buf *bytes.Buffer, n json.Number) error {
	if i, err := n.Int64(); err == nil {
		buf.WriteString(strconv.FormatInt(i, 10))
		return nil
	}
	f, err := n.Float64()
	if err != nil {
		return fmt.Errorf("canonicalize: bad number %q: %w", n.String(), err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("canonicalize: non-finite number %q", n.String())
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		buf.WriteString(strconv.FormatInt(int64(f), 10))
		return nil
	}
	buf.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
	return nil
}

// writeString emits a JSON string, NFC normalized, without HTML escaping.
func writeString(buf *bytes.Buffer, s string) error {
	normalized := norm.NFC.String(s)
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalized); err != nil {
		return err
	}
	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte{'\n'}))
	return nil
}
