package index

import (
	"crypto/md5" //nolint:gosec // dedup fingerprint, not authentication
	"encoding/hex"
	"fmt"
	"io"
)

// HashBytes returns the 128-bit content fingerprint used for duplicate
// detection, as a lowercase hex string.
func HashBytes(data []byte) string {
	sum := md5.Sum(data) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// HashReader consumes r and returns its content fingerprint and size.
func HashReader(r io.Reader) (string, uint64, error) {
	h := md5.New() //nolint:gosec
	n, err := io.Copy(h, r)
	if err != nil {
		return "", 0, fmt.Errorf("hash content: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), uint64(n), nil
}
