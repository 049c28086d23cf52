// Package local stores fetched page bodies on the local filesystem, keyed by
// host and content hash.
package local

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/fetchcore/internal/crawler"
	"github.com/JakeFAU/fetchcore/internal/hash/sha256"
)

// Config captures the parameters for the local filesystem blob store.
type Config struct {
	// BaseDir is the root directory where bodies are stored.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// BlobStore writes page bodies under BaseDir.
type BlobStore struct {
	baseDir string
	hasher  crawler.Hasher
}

// New creates the base directory if needed and checks it is writable.
func New(cfg Config) (*BlobStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, errors.New("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat base directory: %w", err)
	case !info.IsDir():
		return nil, errors.New("base directory path is not a directory")
	}

	marker := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(marker, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(marker); err != nil {
		return nil, fmt.Errorf("clean up marker file: %w", err)
	}

	return &BlobStore{baseDir: cfg.BaseDir, hasher: sha256.New()}, nil
}

// PutObject writes data under path and returns a file:// URI.
func (s *BlobStore) PutObject(_ context.Context, path string, data []byte) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("path is required")
	}

	fullPath := filepath.Join(s.baseDir, path)
	cleanBase := filepath.Clean(s.baseDir)
	if !strings.HasPrefix(filepath.Clean(fullPath), cleanBase+string(filepath.Separator)) {
		return "", errors.New("path traversal detected")
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return "", fmt.Errorf("create parent directories: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0o600); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return "file://" + fullPath, nil
}

// PathFor returns the relative path a page body is stored under:
// <host>/<sha256>.body.
func (s *BlobStore) PathFor(page crawler.Page) (string, error) {
	u, err := url.Parse(page.URL)
	if err != nil || u.Hostname() == "" {
		return "", fmt.Errorf("%w: %q", crawler.ErrInvalidURL, page.URL)
	}
	sum, err := s.hasher.Hash(page.Body)
	if err != nil {
		return "", fmt.Errorf("hash body: %w", err)
	}
	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" {
		host += "_" + port
	}
	return filepath.Join(host, sum+".body"), nil
}

// Write stores the body of a successful, non-redirect page. Other records
// are skipped.
func (s *BlobStore) Write(ctx context.Context, page crawler.Page) error {
	if !page.Fetched() || page.IsRedirect() || len(page.Body) == 0 {
		return nil
	}
	path, err := s.PathFor(page)
	if err != nil {
		return err
	}
	if _, err := s.PutObject(ctx, path, page.Body); err != nil {
		return fmt.Errorf("store body of %s: %w", page.URL, err)
	}
	return nil
}
