package compose

import (
	"errors"
	"fmt"
)

// ErrInvalidOptions is returned by Options.Validate.
var ErrInvalidOptions = errors.New("invalid composition options")

// Options are the fixed structural parameters sent with every composition.
type Options struct {
	DenoiseSteps       int    // quality/latency tradeoff
	Seed               int64  // determinism of output
	CropEnabled        bool   // whether the service auto-crops the output
	GarmentDescription string // free text describing the product
	MaxDimension       int    // if > 0, results are fit within MaxDimension x MaxDimension
}

// DefaultOptions returns the options the service ships with.
func DefaultOptions() Options {
	return Options{
		DenoiseSteps:       30,
		Seed:               42,
		CropEnabled:        false,
		GarmentDescription: "Garment for the user to try on",
	}
}

// Validate checks every option once, before the first composition.
func (o Options) Validate() error {
	if o.DenoiseSteps < 1 || o.DenoiseSteps > 100 {
		return fmt.Errorf("%w: denoise steps must be within 1..100, got %d", ErrInvalidOptions, o.DenoiseSteps)
	}
	if o.Seed < 0 {
		return fmt.Errorf("%w: seed must not be negative, got %d", ErrInvalidOptions, o.Seed)
	}
	if o.MaxDimension < 0 {
		return fmt.Errorf("%w: max dimension must not be negative, got %d", ErrInvalidOptions, o.MaxDimension)
	}
	return nil
}
