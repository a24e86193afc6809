package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"region-service/internal/geo"
	"region-service/internal/metrics"
	"region-service/internal/model"
	"region-service/internal/spatial"
)

var (
	ErrNotFound      = errors.New("region not found")
	ErrDuplicateName = errors.New("region name already exists")
)

type entry struct {
	region model.Region
	shape  *geo.Shape
}

// RegionRepository persists regions through gorm and keeps an in-memory
// catalogue plus the spatial index in step with the table. All writes hold
// the write lock across the storage write, the catalogue and the index, so a
// reader never sees an index entry without its record.
type RegionRepository struct {
	db    *gorm.DB
	index *spatial.Index
	log   zerolog.Logger
	now   func() time.Time

	mu      sync.RWMutex
	regions map[uuid.UUID]*entry
	byName  map[string]uuid.UUID
}

func NewRegionRepository(db *gorm.DB, index *spatial.Index, log zerolog.Logger) *RegionRepository {
	return &RegionRepository{
		db:    db,
		index: index,
		log:   log.With().Str("component", "region_repository").Logger(),
		now: func() time.Time {
			return time.Now().UTC().Truncate(time.Microsecond)
		},
		regions: make(map[uuid.UUID]*entry),
		byName:  make(map[string]uuid.UUID),
	}
}

// Load replaces the catalogue and the index with the stored rows. A stored
// row with an invalid ring aborts the load and leaves the current state.
func (r *RegionRepository) Load(ctx context.Context) error {
	var rows []model.Region
	if err := r.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return fmt.Errorf("load regions: %w", err)
	}

	regions := make(map[uuid.UUID]*entry, len(rows))
	byName := make(map[string]uuid.UUID, len(rows))
	for _, row := range rows {
		if err := row.Geometry.Validate(); err != nil {
			return fmt.Errorf("stored region %s: %w", row.ID, err)
		}
		if other, dup := byName[row.Name]; dup {
			return fmt.Errorf("stored regions %s and %s: %w", other, row.ID, ErrDuplicateName)
		}
		regions[row.ID] = &entry{region: row, shape: geo.Prepare(row.Geometry)}
		byName[row.Name] = row.ID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for id := range r.regions {
		r.index.Remove(id)
	}
	r.regions = regions
	r.byName = byName
	for id, e := range regions {
		r.index.UpsertBound(id, e.shape.Bound())
	}
	metrics.RegionsStored.Set(float64(len(regions)))

	r.log.Info().Int("regions", len(regions)).Msg("regions loaded")
	return nil
}

func (r *RegionRepository) Create(ctx context.Context, name string, polygon geo.Polygon) (_ *model.Region, err error) {
	defer func() { recordWrite("create", err) }()

	if err := polygon.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byName[name]; taken {
		return nil, ErrDuplicateName
	}

	now := r.now()
	region := model.Region{
		ID:        uuid.New(),
		Name:      name,
		Geometry:  polygon.Clone(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.db.WithContext(ctx).Create(&region).Error; err != nil {
		return nil, translateError(err)
	}

	r.put(region)
	r.log.Debug().Str("id", region.ID.String()).Str("name", name).Msg("region created")

	out := region.Clone()
	return &out, nil
}

func (r *RegionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Region, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.regions[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := e.region.Clone()
	return &out, nil
}

// Update replaces the name and geometry of an existing region. The name is
// checked against every other region; keeping the current name is allowed.
func (r *RegionRepository) Update(ctx context.Context, id uuid.UUID, name string, polygon geo.Polygon) (_ *model.Region, err error) {
	defer func() { recordWrite("update", err) }()

	if err := polygon.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.regions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if other, taken := r.byName[name]; taken && other != id {
		return nil, ErrDuplicateName
	}

	updated := current.region
	updated.Name = name
	updated.Geometry = polygon.Clone()
	updated.UpdatedAt = r.now()

	res := r.db.WithContext(ctx).
		Model(&model.Region{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"name":       updated.Name,
			"geometry":   updated.Geometry,
			"updated_at": updated.UpdatedAt,
		})
	if res.Error != nil {
		return nil, translateError(res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}

	delete(r.byName, current.region.Name)
	r.put(updated)
	r.log.Debug().Str("id", id.String()).Str("name", name).Msg("region updated")

	out := updated.Clone()
	return &out, nil
}

// Delete removes the region and returns its last state.
func (r *RegionRepository) Delete(ctx context.Context, id uuid.UUID) (_ *model.Region, err error) {
	defer func() { recordWrite("delete", err) }()

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.regions[id]
	if !ok {
		return nil, ErrNotFound
	}

	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Region{}).Error; err != nil {
		return nil, fmt.Errorf("delete region: %w", err)
	}

	r.index.Remove(id)
	delete(r.regions, id)
	delete(r.byName, e.region.Name)
	metrics.RegionsStored.Set(float64(len(r.regions)))
	r.log.Debug().Str("id", id.String()).Msg("region deleted")

	out := e.region.Clone()
	return &out, nil
}

// List returns every region ordered by name.
func (r *RegionRepository) List(ctx context.Context) ([]model.Region, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Region, 0, len(r.regions))
	for _, e := range r.regions {
		out = append(out, e.region.Clone())
	}
	sortByName(out)
	return out, nil
}

// Select runs a spatial query under the read lock: candidates picks ids from
// the index and keep filters them with the exact predicate. It returns the
// matches ordered by name and the number of candidates examined. A cancelled
// context yields no partial result.
func (r *RegionRepository) Select(
	ctx context.Context,
	candidates func(*spatial.Index) spatial.IDSet,
	keep func(*geo.Shape) bool,
) ([]model.Region, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := candidates(r.index)
	out := make([]model.Region, 0)
	for id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, len(ids), err
		}
		e, ok := r.regions[id]
		if !ok {
			return nil, len(ids), fmt.Errorf("index entry %s has no stored region", id)
		}
		if keep(e.shape) {
			out = append(out, e.region.Clone())
		}
	}
	sortByName(out)
	return out, len(ids), nil
}

// Count returns the number of catalogued regions.
func (r *RegionRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.regions)
}

// put catalogues and indexes region. Callers hold the write lock.
func (r *RegionRepository) put(region model.Region) {
	shape := geo.Prepare(region.Geometry)
	r.regions[region.ID] = &entry{region: region, shape: shape}
	r.byName[region.Name] = region.ID
	r.index.UpsertBound(region.ID, shape.Bound())
	metrics.RegionsStored.Set(float64(len(r.regions)))
}

func sortByName(regions []model.Region) {
	sort.Slice(regions, func(i, j int) bool {
		if regions[i].Name != regions[j].Name {
			return regions[i].Name < regions[j].Name
		}
		return regions[i].ID.String() < regions[j].ID.String()
	})
}

func translateError(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateName
	}
	return fmt.Errorf("store region: %w", err)
}

func recordWrite(op string, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, geo.ErrInvalidGeometry):
		outcome = "invalid_geometry"
	case errors.Is(err, ErrDuplicateName):
		outcome = "duplicate_name"
	case errors.Is(err, ErrNotFound):
		outcome = "not_found"
	default:
		outcome = "error"
	}
	metrics.RegionWritesTotal.WithLabelValues(op, outcome).Inc()
}
