package canonicalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalSortsKeys(t *testing.T) {
	b, err := Canonical(map[string]any{"b": 1, "a": 2, "c": 3})
	require.NoError(t, err)
	assert.Equal(t, `{"a":2,"b":1,"c":3}`, string(b))
}

func TestCanonicalNoHTMLEscaping(t *testing.T) {
	b, err := Canonical(map[string]any{"k": "<a>&</a>"})
	require.NoError(t, err)
	assert.Equal(t, `{"k":"<a>&</a>"}`, string(b))
}

func TestCanonicalNumbers(t *testing.T) {
	cases := map[string]any{
		`{"n":1}`:       map[string]any{"n": 1},
		`{"n":1.5}`:     map[string]any{"n": 1.5},
		`{"n":-7}`:      map[string]any{"n": -7.0},
		`{"n":0.1}`:     map[string]any{"n": 0.1},
		`{"big":1e+30}`: map[string]any{"big": 1e30},
	}
	for want, in := range cases {
		b, err := Canonical(in)
		require.NoError(t, err)
		assert.Equal(t, want, string(b))
	}
}

func TestCanonicalIntegerValuedFloatsCollapse(t *testing.T) {
	a, err := Canonical(map[string]any{"n": 1})
	require.NoError(t, err)
	b, err := Canonical(map[string]any{"n": 1.0})
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestCanonicalNFCNormalization(t *testing.T) {
	// "é" composed vs decomposed must hash identically.
	composed := map[string]any{"k": "é"}
	decomposed := map[string]any{"k": "é"}
	a, err := Canonical(composed)
	require.NoError(t, err)
	b, err := Canonical(decomposed)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestCanonicalNested(t *testing.T) {
	b, err := Canonical(map[string]any{
		"list": []any{true, nil, "x"},
		"obj":  map[string]any{"z": 1, "a": 2},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"list":[true,null,"x"],"obj":{"a":2,"z":1}}`, string(b))
}

func TestAttributeDigestDeterministic(t *testing.T) {
	attrs := map[string]any{"amount": 100, "risk": 0.95, "tag": "café"}
	d1, err := AttributeDigest(attrs)
	require.NoError(t, err)
	d2, err := AttributeDigest(attrs)
	require.NoError(t, err)
	assert.Equal(t, d1, d2)
	assert.Len(t, d1, 64)
}

func TestAttributeDigestNilEqualsEmpty(t *testing.T) {
	d1, err := AttributeDigest(nil)
	require.NoError(t, err)
	d2, err := AttributeDigest(map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, d1, d2)
	assert.Equal(t, HashBytes([]byte("{}")), d1)
}

func TestChainHashSeed(t *testing.T) {
	// The first row concatenates the empty seed with the separator, so the
	// seed step is SHA256("\n" + payload), not SHA256(payload).
	digest := HashBytes([]byte("{}"))
	withSeed := ChainHash(ChainSeed, digest)
	bare := HashBytes([]byte(digest))
	assert.NotEqual(t, bare, withSeed)
	assert.Equal(t, HashBytes([]byte("\n"+digest)), withSeed)
}

func TestChainHashLinks(t *testing.T) {
	h1 := ChainHash(ChainSeed, "a")
	h2 := ChainHash(h1, "b")
	h2again := ChainHash(h1, "b")
	assert.Equal(t, h2, h2again)
	assert.NotEqual(t, h1, h2)
}
