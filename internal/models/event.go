package models

import "strings"

// InboundEvent is one webhook delivery from the messaging provider.
type InboundEvent struct {
	AccountID  string
	From       string
	To         string
	Body       string
	MessageID  string
	NumMedia   int
	Attachment *AssetRef // first attachment only
}

// UserID returns the session key for the event's account/sender pair.
func (e *InboundEvent) UserID() string {
	return UserID(e.AccountID, e.From)
}

// UserID builds a filesystem- and URL-safe identifier from an account and a sender.
func UserID(account, sender string) string {
	return sanitizeID(account) + "_" + sanitizeID(sender)
}

func sanitizeID(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		}
		return -1
	}, s)
}

// Reply is the synchronous acknowledgment returned for an inbound event.
// An empty Message means an empty acknowledgment.
type Reply struct {
	Message string
}

// OutboundMessage is a proactive message sent through the provider's send API.
type OutboundMessage struct {
	From     string
	To       string
	Body     string
	MediaURL string
}
