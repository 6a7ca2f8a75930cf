package image

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/wippyai/deploy-runtime/errors"
)

// Materialize stages a payload's bytes into a content-addressed file the
// loading backend can open, and returns the file path. The staging
// directory doubles as the backend's compilation-cache home. Materialize
// is idempotent: a previously staged copy with the same digest is reused.
func Materialize(p *Payload) (string, error) {
	dir, err := CacheDir()
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(p.Data)
	path := filepath.Join(dir, fmt.Sprintf("%s-%s.img", p.Name, hex.EncodeToString(sum[:8])))

	if fi, err := os.Stat(path); err == nil && fi.Size() == int64(len(p.Data)) {
		return path, nil
	}

	// Stage through a temp file so a concurrent Materialize never observes
	// a half-written image.
	tmp, err := os.CreateTemp(dir, p.Name+"-*.tmp")
	if err != nil {
		return "", errors.OpenFailed("stage payload", err)
	}
	if _, err := tmp.Write(p.Data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", errors.OpenFailed("stage payload", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", errors.OpenFailed("stage payload", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", errors.OpenFailed("stage payload", err)
	}
	return path, nil
}

// CacheDir returns the directory staged payloads and compiled artifacts
// live under, creating it if needed.
func CacheDir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	dir := filepath.Join(base, "deploy-runtime")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.OpenFailed("create payload cache dir", err)
	}
	return dir, nil
}
