package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

const (
	// fingerprintChunk is the read size used when hashing.
	fingerprintChunk = 8 * 1024
	// fingerprintLen is the number of hex characters kept from the
	// digest. Enough to make collisions among a user's activities
	// implausible while keeping settings files readable.
	fingerprintLen = 16
)

// Fingerprint computes the content identity of a file: a streamed
// SHA-256 truncated to 16 hex characters.
func Fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, fingerprintChunk)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil))[:fingerprintLen], nil
}
