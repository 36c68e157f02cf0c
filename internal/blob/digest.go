package blob

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
)

const AlgorithmSHA256 = "sha256"

// DigestReader tees every byte read through a SHA-256 state, so a single
// streaming pass both uploads the content and produces its digest. Any blob
// store can be wrapped without duplicating hashing logic.
type DigestReader struct {
	reader io.Reader
	hasher hash.Hash
	size   int64
}

func NewDigestReader(r io.Reader) *DigestReader {
	return &DigestReader{
		reader: r,
		hasher: sha256.New(),
	}
}

func (d *DigestReader) Read(p []byte) (int, error) {
	n, err := d.reader.Read(p)
	if n > 0 {
		d.hasher.Write(p[:n])
		d.size += int64(n)
	}
	return n, err
}

// Sum returns the hex digest of everything read so far.
func (d *DigestReader) Sum() string {
	return hex.EncodeToString(d.hasher.Sum(nil))
}

func (d *DigestReader) Size() int64 {
	return d.size
}

// HashBytes digests a full in-memory payload.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
