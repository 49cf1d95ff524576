package compose

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
)

// maxResultSize bounds the response read from the composition service.
const maxResultSize = 32 << 20

// HTTPComposer calls a composition service over HTTP. The request is a
// multipart form with the two images and the options; the response is either
// an image body or JSON of the form {"image": "<base64 or data URI>"}.
type HTTPComposer struct {
	endpoint   string
	httpClient *http.Client
}

// NewHTTPComposer creates a composer posting to endpoint.
func NewHTTPComposer(endpoint string, client *http.Client) *HTTPComposer {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPComposer{endpoint: endpoint, httpClient: client}
}

type composeResponse struct {
	Image string `json:"image"`
	Error string `json:"error"`
}

// Compose implements Composer.
func (c *HTTPComposer) Compose(ctx context.Context, req Request) ([]byte, error) {
	body, contentType, err := encodeForm(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "image/*, application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("composition request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResultSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read composition response: %w", err)
	}

	mediaType := resp.Header.Get("Content-Type")
	if resp.StatusCode != http.StatusOK {
		var errResp composeResponse
		json.Unmarshal(data, &errResp)
		return nil, fmt.Errorf("composition service error %d: %s", resp.StatusCode, errResp.Error)
	}

	if strings.HasPrefix(mediaType, "image/") {
		return data, nil
	}

	var out composeResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("malformed composition response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("composition service error: %s", out.Error)
	}
	if out.Image == "" {
		return nil, ErrEmptyResult
	}
	return decodeImageField(out.Image)
}

func decodeImageField(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		i := strings.Index(s, ",")
		if i < 0 {
			return nil, fmt.Errorf("malformed data URI")
		}
		s = s[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("malformed image payload: %w", err)
	}
	return data, nil
}

func encodeForm(req Request) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	files := []struct {
		field, name string
		r           io.Reader
	}{
		{"background", "person.jpg", req.Person},
		{"garm_img", "product.jpg", req.Product},
	}
	for _, f := range files {
		part, err := mw.CreateFormFile(f.field, f.name)
		if err != nil {
			return nil, "", err
		}
		if _, err := io.Copy(part, f.r); err != nil {
			return nil, "", fmt.Errorf("failed to attach %s: %w", f.field, err)
		}
	}

	fields := map[string]string{
		"garment_des":     req.Options.GarmentDescription,
		"is_checked":      "true",
		"is_checked_crop": strconv.FormatBool(req.Options.CropEnabled),
		"denoise_steps":   strconv.Itoa(req.Options.DenoiseSteps),
		"seed":            strconv.FormatInt(req.Options.Seed, 10),
	}
	for name, value := range fields {
		if err := mw.WriteField(name, value); err != nil {
			return nil, "", err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}
