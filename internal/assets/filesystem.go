package assets

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// FilesystemCache implements Cache on a local directory tree:
// <baseDir>/<userID>/<file>.
type FilesystemCache struct {
	baseDir string
}

// NewFilesystemCache creates the cache root if it does not exist.
func NewFilesystemCache(baseDir string) (*FilesystemCache, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FilesystemCache{baseDir: baseDir}, nil
}

// BaseDir returns the cache root.
func (fc *FilesystemCache) BaseDir() string {
	return fc.baseDir
}

// Path maps a slash-separated path relative to the root onto the filesystem,
// rejecting anything that escapes the root.
func (fc *FilesystemCache) Path(rel string) (string, error) {
	root := filepath.Clean(fc.baseDir)
	p := filepath.Join(root, filepath.FromSlash(rel))
	if p == root || !strings.HasPrefix(p, root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: path traversal detected", ErrInvalidKey)
	}
	return p, nil
}

func (fc *FilesystemCache) location(key Key) (string, error) {
	if !key.valid() {
		return "", fmt.Errorf("%w: %q/%q", ErrInvalidKey, key.UserID, key.Role)
	}
	return fc.Path(key.RelativePath())
}

// Resolve implements Cache.
func (fc *FilesystemCache) Resolve(ctx context.Context, key Key) (string, bool, error) {
	loc, err := fc.location(key)
	if err != nil {
		return "", false, err
	}

	info, err := os.Stat(loc)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to stat asset: %w", err)
	}
	if info.IsDir() {
		return "", false, fmt.Errorf("%w: %s is a directory", ErrInvalidKey, loc)
	}

	return loc, true, nil
}

// Store implements Cache. The file appears at its final location only once
// fully written, so a concurrent Resolve never sees a partial asset.
func (fc *FilesystemCache) Store(ctx context.Context, key Key, r io.Reader) (string, error) {
	loc, err := fc.location(key)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(loc)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create asset directory: %w", err)
	}

	tmp := filepath.Join(dir, ".tmp-"+uuid.NewString())
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to create asset file: %w", err)
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("failed to write asset: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to close asset: %w", err)
	}

	if err := os.Rename(tmp, loc); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to move asset into place: %w", err)
	}

	return loc, nil
}

// Purge implements Cache.
func (fc *FilesystemCache) Purge(ctx context.Context, userID string) error {
	if !(Key{UserID: userID, Role: "any"}).valid() {
		return fmt.Errorf("%w: %q", ErrInvalidKey, userID)
	}
	dir, err := fc.Path(userID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to purge assets: %w", err)
	}
	return nil
}
