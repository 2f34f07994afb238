package serialization

import (
	"crypto/sha256"
	"fmt"
	"io"
)

// sumData returns the SHA-256 digest stored in the fixed header.
func sumData(data []byte) [ChecksumSize]byte {
	return sha256.Sum256(data)
}

// verifyData hashes the data section streamed from r and compares it with
// the digest recorded at write time.
func verifyData(r io.Reader, want [ChecksumSize]byte) error {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return fmt.Errorf("read tensor data: %w", err)
	}
	var got [ChecksumSize]byte
	h.Sum(got[:0])
	if got != want {
		return fmt.Errorf("%w: stored %x, computed %x", ErrChecksumMismatch, want[:4], got[:4])
	}
	return nil
}
