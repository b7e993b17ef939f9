package source

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"inferd/internal/common/fsutil"
)

// maxArchiveBytes bounds the size of a downloaded model artifact.
const maxArchiveBytes int64 = 8 << 30

// ArchiveSource is a model published at an HTTP(S) URL, typically a zip archive.
type ArchiveSource struct {
	uri    string
	url    *url.URL
	client *http.Client
}

func (s *ArchiveSource) URI() string    { return s.uri }
func (s *ArchiveSource) Scheme() string { return strings.ToLower(s.url.Scheme) }

// Fetch downloads the artifact. Zip archives are extracted into destDir; when
// the archive holds a single top-level directory that directory is returned.
func (s *ArchiveSource) Fetch(ctx context.Context, destDir string) (string, error) {
	if destDir == "" {
		d, err := os.MkdirTemp("", "inferd-model-")
		if err != nil {
			return "", fmt.Errorf("create temp dir: %w", err)
		}
		destDir = d
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("create model dir: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url.String(), nil)
	if err != nil {
		return "", err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("download %s: %w", s.uri, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("download %s: http status %s", s.uri, resp.Status)
	}

	name := path.Base(s.url.Path)
	if name == "" || name == "/" || name == "." {
		name = "model"
	}
	tmp, err := os.CreateTemp(destDir, ".download-*")
	if err != nil {
		return "", fmt.Errorf("create download file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	n, err := io.Copy(tmp, io.LimitReader(resp.Body, maxArchiveBytes+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("download %s: %w", s.uri, err)
	}
	if n > maxArchiveBytes {
		return "", fmt.Errorf("download %s: artifact exceeds %d bytes", s.uri, maxArchiveBytes)
	}

	if isZip(name, resp.Header.Get("Content-Type")) {
		return extractZip(tmpName, destDir)
	}
	dst := filepath.Join(destDir, name)
	if err := os.Rename(tmpName, dst); err != nil {
		return "", fmt.Errorf("store artifact: %w", err)
	}
	return dst, nil
}

func isZip(name, contentType string) bool {
	if strings.HasSuffix(strings.ToLower(name), ".zip") {
		return true
	}
	ct := strings.ToLower(contentType)
	return strings.HasPrefix(ct, "application/zip") || strings.HasPrefix(ct, "application/x-zip")
}

func extractZip(archive, destDir string) (string, error) {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return "", fmt.Errorf("open zip: %w", err)
	}
	defer zr.Close()

	tops := map[string]struct{}{}
	for _, f := range zr.File {
		// skip macOS resource forks shipped inside many archives
		if strings.HasPrefix(f.Name, "__MACOSX/") {
			continue
		}
		target, err := fsutil.SafeJoin(destDir, f.Name)
		if err != nil {
			return "", err
		}
		top := strings.SplitN(strings.TrimPrefix(f.Name, "./"), "/", 2)[0]
		if top != "" {
			tops[top] = struct{}{}
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return "", err
			}
			continue
		}
		if err := writeZipEntry(f, target); err != nil {
			return "", fmt.Errorf("extract %s: %w", f.Name, err)
		}
	}
	if len(tops) == 0 {
		return "", errors.New("zip archive is empty")
	}
	if len(tops) == 1 {
		for top := range tops {
			p := filepath.Join(destDir, top)
			if fi, err := os.Stat(p); err == nil && fi.IsDir() {
				return p, nil
			}
		}
	}
	return destDir, nil
}

func writeZipEntry(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, io.LimitReader(rc, maxArchiveBytes)); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
