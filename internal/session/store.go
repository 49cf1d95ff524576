// Package session tracks each user's progress through the two-image protocol.
package session

import (
	"context"
	"errors"

	"github.com/shresthakamal/try-on/internal/models"
)

var (
	ErrNotFound   = errors.New("session not found")
	ErrOutOfOrder = errors.New("product recorded before person")
)

// Store defines per-user session persistence. Sessions returned by a Store are
// copies; mutate them only through the Record/Mark/Reset methods.
type Store interface {
	// GetOrCreate returns the user's session, creating it if needed.
	// created reports whether a new session was made.
	GetOrCreate(ctx context.Context, userID string) (s *models.Session, created bool, err error)

	// Get returns the user's session or nil.
	Get(ctx context.Context, userID string) (*models.Session, error)

	// RecordPerson fills the person slot. It is a no-op returning false when
	// the slot is already filled.
	RecordPerson(ctx context.Context, userID string, ref models.AssetRef) (bool, error)

	// RecordProduct fills the product slot. It is a no-op returning false when
	// the slot is already filled.
	RecordProduct(ctx context.Context, userID string, ref models.AssetRef) (bool, error)

	// Status reports the protocol state; unknown users are StatusEmpty.
	Status(ctx context.Context, userID string) (models.Status, error)

	// MarkResolved records that the composed image was delivered.
	MarkResolved(ctx context.Context, userID string) error

	// Reset clears both slots and the resolved flag.
	Reset(ctx context.Context, userID string) error
}
