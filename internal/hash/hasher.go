package hash

import (
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/spf13/afero"
)

const bufferSize = 32 * 1024 // 32KB buffer for streaming

// Size is the digest length in bytes.
const Size = md5.Size

// Digest is the content hash of a whole file. It is an array so it can be
// used directly as a map key and compares by value.
type Digest [Size]byte

// String renders the digest as uppercase hex, two characters per byte.
func (d Digest) String() string {
	return strings.ToUpper(hex.EncodeToString(d[:]))
}

// ParseDigest decodes a hex digest as written by Digest.String. Case is
// ignored.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	s = strings.TrimSpace(s)
	if len(s) != Size*2 {
		return d, fmt.Errorf("digest %q: expected %d hex characters, got %d", s, Size*2, len(s))
	}
	if _, err := hex.Decode(d[:], []byte(s)); err != nil {
		return d, fmt.Errorf("digest %q: %w", s, err)
	}
	return d, nil
}

// HashFile computes the digest of a file by streaming its full contents. It
// also returns the number of bytes read.
func HashFile(fsys afero.Fs, path string) (Digest, int64, error) {
	var d Digest

	file, err := fsys.Open(path)
	if err != nil {
		return d, 0, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	h := md5.New()
	buf := make([]byte, bufferSize)

	n, err := io.CopyBuffer(h, file, buf)
	if err != nil {
		return d, n, fmt.Errorf("failed to read file: %w", err)
	}

	copy(d[:], h.Sum(nil))
	return d, n, nil
}

// XXHashFunc is a custom hash function adapter for go-merkletree
// It converts []byte input to xxHash []byte output
func XXHashFunc(data []byte) ([]byte, error) {
	sum := xxhash.Sum64(data)

	// Convert uint64 to []byte in big-endian format
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, sum)
	return buf, nil
}
