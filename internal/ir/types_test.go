package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBinary_Immutable(t *testing.T) {
	src := []byte("%PDF-1.7")
	b := NewBinary(src)

	src[0] = 'X'
	assert.Equal(t, "%PDF-1.7", string(b.Bytes()), "mutating the source must not change the artifact")

	out := b.Bytes()
	out[1] = 'X'
	assert.Equal(t, "%PDF-1.7", string(b.Bytes()), "mutating a returned copy must not change the artifact")
	assert.Equal(t, 8, b.Len())
}

func TestBinary_Equal(t *testing.T) {
	assert.True(t, NewBinary([]byte("a")).Equal(NewBinary([]byte("a"))))
	assert.False(t, NewBinary([]byte("a")).Equal(NewBinary([]byte("b"))))
	assert.True(t, Binary{}.IsEmpty())
}

func TestDecodeStructural_RejectsInvalidUTF8(t *testing.T) {
	for _, input := range [][]byte{
		{'{', 0xFF, '}'},
		append([]byte{0xEF, 0xBB, 0xBF}, 0xC3, 0x28),
	} {
		_, err := DecodeStructural(input)
		assert.ErrorIs(t, err, ErrInvalidText, "%x", input)
	}
}

func TestDecodeStructural(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  Structural
	}{
		{"plain utf-8", []byte(`{"a":1}`), `{"a":1}`},
		{"utf-8 bom", append([]byte{0xEF, 0xBB, 0xBF}, []byte(`{"a":1}`)...), `{"a":1}`},
		{"utf-16le bom", []byte{0xFF, 0xFE, '{', 0, '}', 0}, `{}`},
		{"utf-16be bom", []byte{0xFE, 0xFF, 0, '{', 0, '}'}, `{}`},
		{"empty", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeStructural(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDigests(t *testing.T) {
	text := Structural(`{"qpdf":[]}`)

	d1 := DigestStructural(text)
	d2 := DigestStructural(text)
	assert.Equal(t, d1, d2, "digest must be deterministic")
	assert.Len(t, d1, 64, "SHA-256 hex is 64 characters")

	assert.NotEqual(t, d1, DigestStructural(text+" "))
	assert.NotEqual(t, d1, DigestBinary(NewBinary(text.Bytes())), "domains must separate identical bytes")
}
