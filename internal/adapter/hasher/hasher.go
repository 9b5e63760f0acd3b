package hasher

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/spf13/afero"
)

// Files are streamed through a fixed-size buffer so arbitrarily large content
// can be hashed with bounded memory.
const chunkSize = 1 << 20

type fileHasher struct {
	fs afero.Fs
}

func New() *fileHasher {
	return NewWithFS(afero.NewOsFs())
}

func NewWithFS(fs afero.Fs) *fileHasher {
	return &fileHasher{fs: fs}
}

// Sum returns the hex SHA-256 digest over the full content of the file at
// path. I/O errors mid-read propagate to the caller.
func (h *fileHasher) Sum(path string) (string, error) {
	file, err := h.fs.Open(path)
	if err != nil {
		return "", fmt.Errorf("cannot open file %s: %w", path, err)
	}
	defer file.Close()

	hash := sha256.New()
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(hash, file, buf); err != nil {
		return "", fmt.Errorf("cannot hash file %s: %w", path, err)
	}

	return hex.EncodeToString(hash.Sum(nil)), nil
}
