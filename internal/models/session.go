package models

import "time"

// Status is the position of a session in the two-image collection protocol.
type Status string

const (
	StatusEmpty           Status = "empty"
	StatusAwaitingProduct Status = "awaiting_product"
	StatusReady           Status = "ready"
	StatusResolved        Status = "resolved"
)

// Session tracks one user's progress through a try-on request.
type Session struct {
	UserID     string    `json:"user_id"`
	Person     *AssetRef `json:"person,omitempty"`
	Product    *AssetRef `json:"product,omitempty"`
	Resolved   bool      `json:"resolved"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// Status derives the protocol state from the filled slots.
func (s *Session) Status() Status {
	switch {
	case s.Resolved:
		return StatusResolved
	case s.Person == nil:
		return StatusEmpty
	case s.Product == nil:
		return StatusAwaitingProduct
	default:
		return StatusReady
	}
}

// Clone returns a copy that shares no pointers with s.
func (s *Session) Clone() *Session {
	c := *s
	if s.Person != nil {
		p := *s.Person
		c.Person = &p
	}
	if s.Product != nil {
		p := *s.Product
		c.Product = &p
	}
	return &c
}
