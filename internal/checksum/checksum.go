// Package checksum computes and compares the SHA-256 digests that pin every
// archive and bundle handled by libpack.
package checksum

import (
	"crypto"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Hash is the digest used for archives, bundle files and published bundles.
const Hash = crypto.SHA256

// errMalformed is returned when a hex digest cannot be decoded.
var errMalformed = errors.New("malformed checksum")

// New returns a fresh hasher for Hash.
func New() hash.Hash {
	return sha256.New()
}

// File returns the hex-encoded digest of the file at path.
func File(path string) (string, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return "", err
	}

	defer func() {
		_ = f.Close()
	}()

	return Reader(f)
}

// Reader returns the hex-encoded digest of everything read from r.
func Reader(r io.Reader) (string, error) {
	hasher := New()
	if _, err := io.Copy(hasher, r); err != nil {
		return "", fmt.Errorf("calculate checksum: %w", err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// Bytes returns the hex-encoded digest of data.
func Bytes(data []byte) string {
	sum := sha256.Sum256(data)

	return hex.EncodeToString(sum[:])
}

// Decode converts a hex digest to raw bytes.
func Decode(sum string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(sum))
	if err != nil || len(raw) != sha256.Size {
		return nil, fmt.Errorf("%w: %q", errMalformed, sum)
	}

	return raw, nil
}

// Equal compares two hex digests case-insensitively in constant time.
func Equal(a, b string) bool {
	a, b = strings.ToLower(strings.TrimSpace(a)), strings.ToLower(strings.TrimSpace(b))

	return len(a) == len(b) && subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Matches reports whether the file at path exists and has the expected digest.
// A missing file is not an error.
func Matches(path, expected string) (bool, string, error) {
	actual, err := File(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, "", nil
		}

		return false, "", err
	}

	return Equal(actual, expected), actual, nil
}
