package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"region-service/internal/geo"
	"region-service/internal/geocode"
	"region-service/internal/metrics"
	"region-service/internal/model"
	"region-service/internal/repository"
	"region-service/internal/spatial"
)

var (
	ErrNotFound            = repository.ErrNotFound
	ErrDuplicateName       = repository.ErrDuplicateName
	ErrInvalidGeometry     = geo.ErrInvalidGeometry
	ErrInvalidInput        = errors.New("invalid input")
	ErrInvalidQuery        = errors.New("invalid query")
	ErrUpstreamUnavailable = errors.New("geocoding provider unavailable")
)

const (
	modeIntersects = "intersects"
	modeRadius     = "radius"
	modeAddress    = "address"
)

type Options struct {
	// CountryHint restricts address lookups to one country code.
	CountryHint    string
	GeocodeTimeout time.Duration
}

type RegionService struct {
	repo     *repository.RegionRepository
	geocoder geocode.Geocoder
	opts     Options
	log      zerolog.Logger
}

func NewRegionService(repo *repository.RegionRepository, geocoder geocode.Geocoder, opts Options, log zerolog.Logger) *RegionService {
	return &RegionService{
		repo:     repo,
		geocoder: geocoder,
		opts:     opts,
		log:      log.With().Str("component", "region_service").Logger(),
	}
}

type CreateRegionInput struct {
	Name     string
	Geometry geo.Polygon
}

// UpdateRegionInput carries a partial update; nil fields keep their value.
type UpdateRegionInput struct {
	Name     *string
	Geometry *geo.Polygon
}

func (s *RegionService) Create(ctx context.Context, input CreateRegionInput) (*model.Region, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	return s.repo.Create(ctx, name, input.Geometry)
}

func (s *RegionService) Get(ctx context.Context, id string) (*model.Region, error) {
	regionID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, regionID)
}

func (s *RegionService) List(ctx context.Context) ([]model.Region, error) {
	return s.repo.List(ctx)
}

func (s *RegionService) Update(ctx context.Context, id string, input UpdateRegionInput) (*model.Region, error) {
	regionID, err := parseID(id)
	if err != nil {
		return nil, err
	}

	current, err := s.repo.GetByID(ctx, regionID)
	if err != nil {
		return nil, err
	}

	name := current.Name
	if input.Name != nil {
		name = strings.TrimSpace(*input.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: name must not be empty", ErrInvalidInput)
		}
	}

	polygon := current.Geometry
	if input.Geometry != nil {
		polygon = *input.Geometry
	}

	return s.repo.Update(ctx, regionID, name, polygon)
}

func (s *RegionService) Delete(ctx context.Context, id string) (*model.Region, error) {
	regionID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	return s.repo.Delete(ctx, regionID)
}

// Intersects returns the regions sharing at least one point with polygon.
func (s *RegionService) Intersects(ctx context.Context, polygon geo.Polygon) ([]model.Region, error) {
	start := time.Now()
	if err := polygon.Validate(); err != nil {
		s.observe(modeIntersects, start, 0, 0, err)
		return nil, err
	}

	query := geo.Prepare(polygon)
	regions, candidates, err := s.repo.Select(ctx,
		func(idx *spatial.Index) spatial.IDSet { return idx.CandidatesForBound(query.Bound()) },
		func(shape *geo.Shape) bool { return shape.Intersects(query) },
	)
	s.observe(modeIntersects, start, candidates, len(regions), err)
	return regions, err
}

// WithinRadius returns the regions with at least one vertex within radiusKm
// of center. A region overlapping the disk with no vertex inside it is not
// returned.
func (s *RegionService) WithinRadius(ctx context.Context, center geo.Point, radiusKm float64) ([]model.Region, error) {
	start := time.Now()
	if err := validateRadiusQuery(center, radiusKm); err != nil {
		s.observe(modeRadius, start, 0, 0, err)
		return nil, err
	}

	regions, candidates, err := s.repo.Select(ctx,
		func(idx *spatial.Index) spatial.IDSet { return idx.CandidatesForRadius(center, radiusKm) },
		func(shape *geo.Shape) bool { return shape.WithinRadius(center, radiusKm) },
	)
	s.observe(modeRadius, start, candidates, len(regions), err)
	return regions, err
}

// ByAddress geocodes address and returns the regions containing the
// resolved point, boundary included. An address the provider cannot resolve
// yields an empty result.
func (s *RegionService) ByAddress(ctx context.Context, address string) ([]model.Region, error) {
	start := time.Now()
	address = strings.TrimSpace(address)
	if address == "" {
		err := fmt.Errorf("%w: address is required", ErrInvalidQuery)
		s.observe(modeAddress, start, 0, 0, err)
		return nil, err
	}

	pt, err := s.resolve(ctx, address)
	if errors.Is(err, geocode.ErrNotFound) {
		s.observe(modeAddress, start, 0, 0, nil)
		return []model.Region{}, nil
	}
	if err != nil {
		s.observe(modeAddress, start, 0, 0, err)
		return nil, err
	}

	regions, candidates, err := s.repo.Select(ctx,
		func(idx *spatial.Index) spatial.IDSet { return idx.CandidatesForPoint(pt) },
		func(shape *geo.Shape) bool { return shape.ContainsPoint(pt) },
	)
	s.observe(modeAddress, start, candidates, len(regions), err)
	return regions, err
}

func (s *RegionService) resolve(ctx context.Context, address string) (geo.Point, error) {
	if s.geocoder == nil {
		return geo.Point{}, fmt.Errorf("%w: no geocoder configured", ErrUpstreamUnavailable)
	}

	gctx := ctx
	if s.opts.GeocodeTimeout > 0 {
		var cancel context.CancelFunc
		gctx, cancel = context.WithTimeout(ctx, s.opts.GeocodeTimeout)
		defer cancel()
	}

	pt, err := s.geocoder.Resolve(gctx, address, s.opts.CountryHint)
	switch {
	case err == nil:
		if !pt.Valid() {
			return geo.Point{}, fmt.Errorf("%w: resolved out-of-range point %v", ErrUpstreamUnavailable, pt)
		}
		return pt, nil
	case errors.Is(err, geocode.ErrNotFound):
		return geo.Point{}, err
	case ctx.Err() != nil:
		return geo.Point{}, ctx.Err()
	default:
		s.log.Error().Err(err).Str("address", address).Msg("geocoding failed")
		return geo.Point{}, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
}

func (s *RegionService) observe(mode string, start time.Time, candidates, matches int, err error) {
	elapsed := time.Since(start)
	outcome := queryOutcome(err)

	metrics.QueriesTotal.WithLabelValues(mode, outcome).Inc()
	metrics.QueryDurationMs.WithLabelValues(mode).Observe(float64(elapsed.Microseconds()) / 1000)
	metrics.QueryCandidates.WithLabelValues(mode).Observe(float64(candidates))

	s.log.Debug().
		Str("mode", mode).
		Str("outcome", outcome).
		Int("candidates", candidates).
		Int("matches", matches).
		Dur("elapsed", elapsed).
		Msg("spatial query")
}

func queryOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidGeometry), errors.Is(err, ErrInvalidQuery):
		return "invalid"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "upstream_unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}

func validateRadiusQuery(center geo.Point, radiusKm float64) error {
	if math.IsNaN(radiusKm) || math.IsInf(radiusKm, 0) || radiusKm <= 0 {
		return fmt.Errorf("%w: radius must be a positive number of kilometres", ErrInvalidQuery)
	}
	if !center.Valid() {
		return fmt.Errorf("%w: center %v is out of range", ErrInvalidQuery, center)
	}
	return nil
}

func parseID(id string) (uuid.UUID, error) {
	regionID, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: malformed region id %q", ErrInvalidInput, id)
	}
	return regionID, nil
}
