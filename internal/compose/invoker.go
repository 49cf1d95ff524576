// Package compose drives the external try-on composition service and keeps
// its output in the asset cache.
package compose

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"

	"github.com/shresthakamal/try-on/internal/assets"
	"github.com/shresthakamal/try-on/internal/metrics"
)

// ErrEmptyResult is returned when the service answers without an image.
var ErrEmptyResult = errors.New("composition returned no image")

// CompositionError reports a failed or unusable composition.
type CompositionError struct {
	Cause error
}

func (e *CompositionError) Error() string {
	return fmt.Sprintf("composition failed: %v", e.Cause)
}

func (e *CompositionError) Unwrap() error {
	return e.Cause
}

// Request carries the two source images to the service.
type Request struct {
	Person  io.Reader
	Product io.Reader
	Options Options
}

// Composer is the remote composition function. It returns the encoded image.
type Composer interface {
	Compose(ctx context.Context, req Request) ([]byte, error)
}

// Invoker runs a composition at most once per result key.
type Invoker struct {
	cache    assets.Cache
	composer Composer
	opts     Options
	timeout  time.Duration
	logger   zerolog.Logger
}

// NewInvoker validates opts and creates an Invoker.
func NewInvoker(cache assets.Cache, composer Composer, opts Options, timeout time.Duration, logger zerolog.Logger) (*Invoker, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Invoker{
		cache:    cache,
		composer: composer,
		opts:     opts,
		timeout:  timeout,
		logger:   logger.With().Str("component", "compose").Logger(),
	}, nil
}

// Compose returns the location of the composed image for key, calling the
// remote service only when no result is cached. Nothing is cached on failure.
func (inv *Invoker) Compose(ctx context.Context, personLoc, productLoc string, key assets.Key) (string, error) {
	loc, ok, err := inv.cache.Resolve(ctx, key)
	if err != nil {
		metrics.AssetLookups.WithLabelValues("compose", "error").Inc()
		return "", &CompositionError{Cause: err}
	}
	if ok {
		metrics.AssetLookups.WithLabelValues("compose", "hit").Inc()
		inv.logger.Info().Str("user", key.UserID).Msg("result already cached")
		return loc, nil
	}
	metrics.AssetLookups.WithLabelValues("compose", "miss").Inc()

	person, err := os.Open(personLoc)
	if err != nil {
		return "", &CompositionError{Cause: fmt.Errorf("open person image: %w", err)}
	}
	defer person.Close()

	product, err := os.Open(productLoc)
	if err != nil {
		return "", &CompositionError{Cause: fmt.Errorf("open product image: %w", err)}
	}
	defer product.Close()

	if inv.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, inv.timeout)
		defer cancel()
	}

	start := time.Now()
	payload, err := inv.composer.Compose(ctx, Request{Person: person, Product: product, Options: inv.opts})
	metrics.ComposeLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return "", &CompositionError{Cause: err}
	}
	if len(payload) == 0 {
		return "", &CompositionError{Cause: ErrEmptyResult}
	}

	encoded, err := inv.normalize(payload)
	if err != nil {
		return "", &CompositionError{Cause: err}
	}

	loc, err = inv.cache.Store(ctx, key, bytes.NewReader(encoded))
	if err != nil {
		return "", &CompositionError{Cause: err}
	}

	inv.logger.Info().
		Str("user", key.UserID).
		Dur("latency", time.Since(start)).
		Int("bytes", len(encoded)).
		Msg("composition stored")

	return loc, nil
}

// normalize decodes the service output and re-encodes it as PNG.
func (inv *Invoker) normalize(payload []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}

	if limit := inv.opts.MaxDimension; limit > 0 {
		b := img.Bounds()
		if b.Dx() > limit || b.Dy() > limit {
			img = imaging.Fit(img, limit, limit, imaging.Lanczos)
		}
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return buf.Bytes(), nil
}
