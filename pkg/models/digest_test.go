package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDigestAndVerify(t *testing.T) {
	data := []byte("hello world")
	d := NewDigest(data)

	assert.Equal(t, int64(len(data)), d.Size)
	assert.Len(t, d.Hash, 64)
	assert.True(t, d.Verify(data))
	assert.False(t, d.Verify([]byte("hello worlD")))
	assert.False(t, d.Verify(nil))
}

func TestEmptyDigest(t *testing.T) {
	assert.Equal(t, int64(0), EmptyDigest.Size)
	assert.True(t, EmptyDigest.Verify(nil))
	assert.True(t, EmptyDigest.Verify([]byte{}))
	assert.False(t, EmptyDigest.IsZero(), "the empty digest is a real digest, not the zero value")
	assert.True(t, Digest{}.IsZero())
}

func TestParseDigestRoundTrip(t *testing.T) {
	d := NewDigest([]byte("payload"))

	parsed, err := ParseDigest(d.String())
	require.NoError(t, err)
	assert.Equal(t, d, parsed)
}

func TestParseDigestErrors(t *testing.T) {
	valid := NewDigest(nil).Hash

	cases := []struct {
		name  string
		input string
	}{
		{"missing separator", valid},
		{"short hash", "abc123/10"},
		{"non-hex hash", strings.Repeat("z", 64) + "/10"},
		{"negative size", valid + "/-1"},
		{"non-numeric size", valid + "/ten"},
		{"empty", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseDigest(tc.input)
			assert.Error(t, err)
		})
	}
}
