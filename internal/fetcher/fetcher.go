// Package fetcher downloads provider-held media into the asset cache at most
// once per key.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/shresthakamal/try-on/internal/assets"
	"github.com/shresthakamal/try-on/internal/metrics"
	"github.com/shresthakamal/try-on/internal/models"
)

// FetchError reports a failed metadata lookup or download. Status is the HTTP
// status of the download when one was received, otherwise 0.
type FetchError struct {
	Status int
	Cause  error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch failed: status %d", e.Status)
	}
	return fmt.Sprintf("fetch failed: %v", e.Cause)
}

func (e *FetchError) Unwrap() error {
	return e.Cause
}

// Locator resolves an asset reference to an authorization-scoped download URL.
type Locator interface {
	MediaURL(ctx context.Context, ref models.AssetRef) (string, error)
}

// Config holds download settings.
type Config struct {
	Username   string // basic-auth user for the download
	Password   string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Fetcher implements the fetch-or-reuse download of a single asset.
type Fetcher struct {
	cache      assets.Cache
	locator    Locator
	httpClient *http.Client
	username   string
	password   string
	timeout    time.Duration
	logger     zerolog.Logger
}

// New creates a Fetcher.
func New(cache assets.Cache, locator Locator, cfg Config, logger zerolog.Logger) *Fetcher {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &Fetcher{
		cache:      cache,
		locator:    locator,
		httpClient: client,
		username:   cfg.Username,
		password:   cfg.Password,
		timeout:    cfg.Timeout,
		logger:     logger.With().Str("component", "fetcher").Logger(),
	}
}

// Fetch returns the local location of ref under key, downloading it only if
// the cache does not hold it yet. Nothing is cached on failure.
func (f *Fetcher) Fetch(ctx context.Context, ref models.AssetRef, key assets.Key) (string, error) {
	loc, ok, err := f.cache.Resolve(ctx, key)
	if err != nil {
		metrics.AssetLookups.WithLabelValues("fetch", "error").Inc()
		return "", &FetchError{Cause: err}
	}
	if ok {
		metrics.AssetLookups.WithLabelValues("fetch", "hit").Inc()
		f.logger.Debug().Str("user", key.UserID).Str("role", string(key.Role)).Msg("asset already cached")
		return loc, nil
	}
	metrics.AssetLookups.WithLabelValues("fetch", "miss").Inc()

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	start := time.Now()
	downloadURL, err := f.locator.MediaURL(ctx, ref)
	if err != nil {
		return "", &FetchError{Cause: fmt.Errorf("media lookup: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return "", &FetchError{Cause: fmt.Errorf("failed to create request: %w", err)}
	}
	if f.username != "" {
		req.SetBasicAuth(f.username, f.password)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", &FetchError{Cause: fmt.Errorf("failed to download media: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return "", &FetchError{
			Status: resp.StatusCode,
			Cause:  fmt.Errorf("download failed with status %d", resp.StatusCode),
		}
	}

	loc, err = f.cache.Store(ctx, key, resp.Body)
	if err != nil {
		return "", &FetchError{Cause: err}
	}
	metrics.FetchLatency.Observe(time.Since(start).Seconds())

	f.logger.Info().
		Str("user", key.UserID).
		Str("role", string(key.Role)).
		Str("media_sid", ref.MediaID).
		Int64("bytes", resp.ContentLength).
		Dur("latency", time.Since(start)).
		Msg("media downloaded")

	return loc, nil
}
