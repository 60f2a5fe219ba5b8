package togglemark

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"
)

// URLHashSize is the size of a BLAKE3 URL digest in bytes (256 bits).
const URLHashSize = 32

// URLHash is the BLAKE3 digest of a bookmark URL. It keys the URL index of the
// bookmark store so lookups do not depend on URL length.
type URLHash [URLHashSize]byte

// HashURL computes the index hash for a URL. The URL is used verbatim; two
// URLs that differ only in a trailing slash are different bookmarks.
func HashURL(url string) URLHash {
	return URLHash(blake3.Sum256([]byte(url)))
}

// String returns the hex-encoded representation of the hash.
func (h URLHash) String() string {
	return hex.EncodeToString(h[:])
}

// ShortString returns a shortened hex representation for logs.
func (h URLHash) ShortString() string {
	return hex.EncodeToString(h[:8])
}

// IsZero returns true if the hash is all zeros (uninitialized).
func (h URLHash) IsZero() bool {
	return h == URLHash{}
}

// ParseURLHash parses a hex-encoded hash string.
func ParseURLHash(s string) (URLHash, error) {
	var h URLHash
	if len(s) != URLHashSize*2 {
		return URLHash{}, fmt.Errorf("invalid hash length: expected %d hex chars, got %d", URLHashSize*2, len(s))
	}
	if _, err := hex.Decode(h[:], []byte(strings.ToLower(s))); err != nil {
		return URLHash{}, fmt.Errorf("decoding hash: %w", err)
	}
	return h, nil
}
