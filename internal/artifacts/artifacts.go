// Package artifacts indexes the regular files a session's agent run
// produced into its designated artifacts directory.
package artifacts

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"

	"github.com/throw-if-null/bridge/internal/session"
)

// Index lists every regular, non-symlink file directly under dir (no
// recursion) and returns one session.Artifact per file with its size and
// SHA-256 hex digest. A missing directory yields an empty slice, not an
// error.
func Index(dir string) ([]session.Artifact, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []session.Artifact
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		sum, err := sha256File(path)
		if err != nil {
			continue
		}
		out = append(out, session.Artifact{
			Name:   e.Name(),
			Path:   path,
			Bytes:  info.Size(),
			SHA256: sum,
		})
	}
	return out, nil
}

func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
