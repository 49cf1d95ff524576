// Package provider adapts the Twilio messaging API to the try-on service.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/shresthakamal/try-on/internal/models"
)

// DefaultAPIBase is where Twilio media is downloaded from.
const DefaultAPIBase = "https://api.twilio.com"

// restAPI is the subset of the Twilio REST API used here.
type restAPI interface {
	FetchMedia(messageSid string, sid string, params *openapi.FetchMediaParams) (*openapi.ApiV2010Media, error)
	CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error)
}

// Twilio resolves media references and sends proactive messages.
type Twilio struct {
	api        restAPI
	accountSID string
	apiBase    string
}

// NewTwilio creates a client authenticated as accountSID.
func NewTwilio(accountSID, authToken, apiBase string) *Twilio {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return newTwilio(client.Api, accountSID, apiBase)
}

func newTwilio(api restAPI, accountSID, apiBase string) *Twilio {
	if apiBase == "" {
		apiBase = DefaultAPIBase
	}
	return &Twilio{
		api:        api,
		accountSID: accountSID,
		apiBase:    strings.TrimRight(apiBase, "/"),
	}
}

// MediaURL implements fetcher.Locator. It looks the media up through the
// metadata API and returns the URI of its binary content.
func (t *Twilio) MediaURL(ctx context.Context, ref models.AssetRef) (string, error) {
	if ref.MessageID == "" || ref.MediaID == "" {
		return "", errors.New("media reference is missing message or media sid")
	}

	return call(ctx, func() (string, error) {
		params := &openapi.FetchMediaParams{}
		params.SetPathAccountSid(t.accountSID)

		media, err := t.api.FetchMedia(ref.MessageID, ref.MediaID, params)
		if err != nil {
			return "", fmt.Errorf("fetch media %s: %w", ref.MediaID, err)
		}
		if media == nil || media.Uri == nil || *media.Uri == "" {
			return "", fmt.Errorf("media %s has no uri", ref.MediaID)
		}
		return t.apiBase + strings.TrimSuffix(*media.Uri, ".json"), nil
	})
}

// Send implements conversation.Messenger.
func (t *Twilio) Send(ctx context.Context, msg models.OutboundMessage) error {
	_, err := call(ctx, func() (string, error) {
		params := &openapi.CreateMessageParams{}
		params.SetFrom(msg.From)
		params.SetTo(msg.To)
		params.SetBody(msg.Body)
		if msg.MediaURL != "" {
			params.SetMediaUrl([]string{msg.MediaURL})
		}

		resp, err := t.api.CreateMessage(params)
		if err != nil {
			return "", fmt.Errorf("create message: %w", err)
		}
		if resp != nil && resp.Sid != nil {
			return *resp.Sid, nil
		}
		return "", nil
	})
	return err
}

// call runs fn and gives up waiting once ctx is done. The Twilio client takes
// no context, so an abandoned call finishes in the background.
func call(ctx context.Context, fn func() (string, error)) (string, error) {
	type result struct {
		v   string
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
