package codec

import (
	"encoding/json"
	"strings"
)

// BlobRefType is the fixed type marker of a blob-ref envelope.
const BlobRefType = "caep-blob-ref"

// BlobRef is the structured form of the envelope embedded in message content
// when a payload is stored out-of-line in the blob store.
type BlobRef struct {
	Type          string `json:"type"`
	Hash          string `json:"hash"`
	DeclaredChars int    `json:"declared_chars"`
}

// MakeBlobRef produces the envelope string for a stored blob.
func MakeBlobRef(hash string, declaredChars int) string {
	out, _ := json.Marshal(BlobRef{Type: BlobRefType, Hash: hash, DeclaredChars: declaredChars})
	return string(out)
}

// ParseBlobRef parses a message content string into a BlobRef, or nil when the
// content is not an envelope.
func ParseBlobRef(content string) *BlobRef {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "{") {
		return nil
	}
	var ref BlobRef
	if err := json.Unmarshal([]byte(trimmed), &ref); err != nil {
		return nil
	}
	if ref.Type != BlobRefType || !validHash(ref.Hash) {
		return nil
	}
	return &ref
}

// validHash reports whether s is a 64-char lowercase hex SHA-256 digest.
func validHash(s string) bool {
	if len(s) != 64 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
