package ir

import (
	"bytes"
	"errors"
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// PDFMIMEType is the MIME type of every Binary artifact.
const PDFMIMEType = "application/pdf"

// Binary is an immutable PDF byte sequence.
//
// The zero value is an empty artifact. NewBinary copies its input, and Bytes
// returns a copy, so no caller can mutate an artifact after construction.
type Binary struct {
	data []byte
}

// NewBinary copies data into a new artifact.
func NewBinary(data []byte) Binary {
	return Binary{data: bytes.Clone(data)}
}

// Bytes returns a copy of the artifact contents.
func (b Binary) Bytes() []byte {
	return bytes.Clone(b.data)
}

// Len returns the artifact size in bytes.
func (b Binary) Len() int {
	return len(b.data)
}

// IsEmpty reports whether the artifact holds no bytes.
func (b Binary) IsEmpty() bool {
	return len(b.data) == 0
}

// Equal reports whether two artifacts hold identical bytes.
func (b Binary) Equal(other Binary) bool {
	return bytes.Equal(b.data, other.data)
}

// Structural is the editable, lossless JSON text of a document.
type Structural string

// String returns the text.
func (s Structural) String() string {
	return string(s)
}

// Bytes returns the text as UTF-8 bytes.
func (s Structural) Bytes() []byte {
	return []byte(s)
}

// IsEmpty reports whether the text is empty.
func (s Structural) IsEmpty() bool {
	return len(s) == 0
}

// ErrInvalidText is returned by DecodeStructural for bytes that are not
// valid UTF-8.
var ErrInvalidText = errors.New("invalid UTF-8")

// DecodeStructural turns raw bytes into structural text.
//
// A leading byte order mark selects UTF-8, UTF-16LE or UTF-16BE and is
// stripped. Without a BOM the bytes are read as UTF-8. Text saved by
// editors that prepend a BOM therefore round-trips to the engine unchanged.
//
// UTF-8 input must be valid; invalid bytes are rejected with ErrInvalidText
// rather than replaced, so the engine never sees text the user did not write.
func DecodeStructural(data []byte) (Structural, error) {
	if !hasUTF16BOM(data) && !utf8.Valid(data) {
		return "", fmt.Errorf("decode structural text: %w", ErrInvalidText)
	}
	dec := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	out, _, err := transform.Bytes(dec, data)
	if err != nil {
		return "", fmt.Errorf("decode structural text: %w", err)
	}
	return Structural(out), nil
}

func hasUTF16BOM(data []byte) bool {
	return bytes.HasPrefix(data, []byte{0xFF, 0xFE}) || bytes.HasPrefix(data, []byte{0xFE, 0xFF})
}
