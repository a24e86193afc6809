// Package geocode resolves free-text addresses to coordinates.
package geocode

import (
	"context"
	"errors"

	"region-service/internal/geo"
)

// ErrNotFound means the provider answered but had no match for the address.
var ErrNotFound = errors.New("address not found")

// Geocoder resolves an address, optionally restricted to a country code.
type Geocoder interface {
	Resolve(ctx context.Context, address, countryHint string) (geo.Point, error)
}

// Func adapts a plain function to the Geocoder interface.
type Func func(ctx context.Context, address, countryHint string) (geo.Point, error)

func (f Func) Resolve(ctx context.Context, address, countryHint string) (geo.Point, error) {
	return f(ctx, address, countryHint)
}
