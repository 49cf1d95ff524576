package provider

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/twilio/twilio-go/twiml"

	"github.com/shresthakamal/try-on/internal/models"
)

// ErrMalformedInbound is returned for webhook forms that do not describe a
// usable inbound message.
var ErrMalformedInbound = errors.New("malformed inbound webhook")

// ParseInbound reads a Twilio messaging webhook form. Only the first media
// attachment is kept.
func ParseInbound(form url.Values) (models.InboundEvent, error) {
	ev := models.InboundEvent{
		AccountID: form.Get("AccountSid"),
		From:      form.Get("From"),
		To:        form.Get("To"),
		Body:      form.Get("Body"),
		MessageID: form.Get("MessageSid"),
	}
	if ev.AccountID == "" || ev.From == "" {
		return ev, fmt.Errorf("%w: AccountSid and From are required", ErrMalformedInbound)
	}

	if n := strings.TrimSpace(form.Get("NumMedia")); n != "" {
		count, err := strconv.Atoi(n)
		if err != nil || count < 0 {
			return ev, fmt.Errorf("%w: NumMedia %q is not a count", ErrMalformedInbound, n)
		}
		ev.NumMedia = count
	}

	if ev.NumMedia > 0 {
		if mediaURL := form.Get("MediaUrl0"); mediaURL != "" {
			ev.Attachment = &models.AssetRef{
				URL:       mediaURL,
				MessageID: ev.MessageID,
				MediaID:   mediaID(mediaURL),
			}
		}
	}

	return ev, nil
}

// mediaID returns the last path segment of a Twilio media URL.
func mediaID(mediaURL string) string {
	if u, err := url.Parse(mediaURL); err == nil && u.Path != "" {
		return path.Base(u.Path)
	}
	return path.Base(mediaURL)
}

// Reply renders a webhook acknowledgment as TwiML, with at most one message.
func Reply(r models.Reply) (string, error) {
	var verbs []twiml.Element
	if r.Message != "" {
		verbs = append(verbs, &twiml.MessagingMessage{Body: r.Message})
	}
	return twiml.Messages(verbs)
}
