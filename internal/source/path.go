package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"inferd/internal/common/fsutil"
)

// PathSource is a model stored on the local filesystem (file or directory).
type PathSource struct {
	uri  string
	path string
}

func (s *PathSource) URI() string    { return s.uri }
func (s *PathSource) Scheme() string { return "file" }

// Path returns the absolute, home-expanded location of the model.
func (s *PathSource) Path() (string, error) {
	base, err := fsutil.ExpandHome(s.path)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return "", fmt.Errorf("abs path: %w", err)
	}
	return abs, nil
}

// Fetch verifies the model exists and, when destDir is set, copies it there.
func (s *PathSource) Fetch(ctx context.Context, destDir string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p, err := s.Path()
	if err != nil {
		return "", err
	}
	fi, err := os.Stat(p)
	if err != nil {
		return "", fmt.Errorf("model source %s: %w", s.uri, err)
	}
	if destDir == "" {
		return p, nil
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("create model dir: %w", err)
	}
	if fi.IsDir() {
		if err := fsutil.CopyTree(p, destDir); err != nil {
			return "", fmt.Errorf("copy model: %w", err)
		}
		return destDir, nil
	}
	dst := filepath.Join(destDir, filepath.Base(p))
	if err := fsutil.CopyFile(p, dst); err != nil {
		return "", fmt.Errorf("copy model: %w", err)
	}
	return dst, nil
}
