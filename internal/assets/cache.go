// Package assets keeps fetched and composed images on local storage, keyed by
// user and role. Presence at the expected location is the only cache-hit signal.
package assets

import (
	"context"
	"errors"
	"io"
	"path"

	"github.com/shresthakamal/try-on/internal/models"
)

// ErrInvalidKey is returned for keys that would escape the cache root.
var ErrInvalidKey = errors.New("invalid asset key")

// Key names one local asset.
type Key struct {
	UserID string
	Role   models.Role
}

// FileName returns the file name used for the key's role.
func (k Key) FileName() string {
	switch k.Role {
	case models.RolePerson:
		return "person.jpg"
	case models.RoleProduct:
		return "product.jpg"
	case models.RoleResult:
		return "prediction.png"
	default:
		return string(k.Role)
	}
}

// RelativePath returns the key's location relative to the cache root, using
// forward slashes so it can be appended to a URL.
func (k Key) RelativePath() string {
	return path.Join(k.UserID, k.FileName())
}

func (k Key) valid() bool {
	return k.UserID != "" && k.UserID != "." && k.UserID != ".." &&
		path.Base(k.UserID) == k.UserID && k.Role != ""
}

// Cache maps asset keys to local locations.
type Cache interface {
	// Resolve reports the location of key if it has already been written.
	Resolve(ctx context.Context, key Key) (string, bool, error)

	// Store writes r to the key's location, creating directories as needed.
	Store(ctx context.Context, key Key, r io.Reader) (string, error)

	// Purge removes every asset held for userID.
	Purge(ctx context.Context, userID string) error
}
