package quarantine

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/go-git/go-billy/v5"
)

// FileChecksum computes the SHA-256 hex digest of a file's content. Sidecar
// records carry it so operators can verify a quarantined or archived artifact
// was copied intact.
func FileChecksum(fs billy.Filesystem, name string) (string, error) {
	file, err := fs.Open(name)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", name, err)
	}
	defer func() { _ = file.Close() }()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("hash %s: %w", name, err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}
