// Package spatial keeps a coarse grid over region bounding boxes so queries
// only run exact geometry tests against regions that can possibly match.
package spatial

import (
	"math"
	"sync"

	"github.com/golang/geo/s2"
	"github.com/google/uuid"

	"region-service/internal/geo"
)

const (
	// DefaultCellSizeDeg is the edge length of a grid cell in degrees.
	DefaultCellSizeDeg = 1.0

	// minCellSizeDeg keeps a world-sized polygon under a few million cells.
	minCellSizeDeg = 0.1
	maxCellSizeDeg = 90.0

	// coverMarginDeg absorbs the rounding of s2 bounds converted back to degrees.
	coverMarginDeg = 1e-9
)

// IDSet is a set of region ids.
type IDSet map[uuid.UUID]struct{}

// Has reports whether id is in the set.
func (s IDSet) Has(id uuid.UUID) bool {
	_, ok := s[id]
	return ok
}

type cell struct {
	col, row int
}

// Index maps fixed-size lon/lat grid cells to the regions whose bounding
// rectangle overlaps them. It never drops a true match but may return
// regions that an exact test later rejects.
type Index struct {
	mu       sync.RWMutex
	cellSize float64
	cols     int
	rows     int
	cells    map[cell]IDSet
	members  map[uuid.UUID][]cell
}

// New creates an index with square cells of cellSizeDeg degrees. Sizes
// outside [0.1, 90] fall back to DefaultCellSizeDeg.
func New(cellSizeDeg float64) *Index {
	if math.IsNaN(cellSizeDeg) || cellSizeDeg < minCellSizeDeg || cellSizeDeg > maxCellSizeDeg {
		cellSizeDeg = DefaultCellSizeDeg
	}
	return &Index{
		cellSize: cellSizeDeg,
		cols:     int(math.Ceil(360 / cellSizeDeg)),
		rows:     int(math.Ceil(180 / cellSizeDeg)),
		cells:    make(map[cell]IDSet),
		members:  make(map[uuid.UUID][]cell),
	}
}

// CellSize returns the cell edge length in degrees.
func (idx *Index) CellSize() float64 {
	return idx.cellSize
}

// Upsert registers id under every cell overlapped by the polygon's bound,
// replacing any previous registration.
func (idx *Index) Upsert(id uuid.UUID, polygon geo.Polygon) {
	idx.UpsertBound(id, geo.Bound(polygon))
}

// UpsertBound is Upsert for a precomputed bounding rectangle.
func (idx *Index) UpsertBound(id uuid.UUID, bound s2.Rect) {
	covered := idx.cover(bound)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.removeLocked(id)
	for _, c := range covered {
		set, ok := idx.cells[c]
		if !ok {
			set = make(IDSet)
			idx.cells[c] = set
		}
		set[id] = struct{}{}
	}
	idx.members[id] = covered
}

// Remove drops every registration of id. Unknown ids are ignored.
func (idx *Index) Remove(id uuid.UUID) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(id)
}

func (idx *Index) removeLocked(id uuid.UUID) {
	for _, c := range idx.members[id] {
		set := idx.cells[c]
		delete(set, id)
		if len(set) == 0 {
			delete(idx.cells, c)
		}
	}
	delete(idx.members, id)
}

// Contains reports whether id is registered.
func (idx *Index) Contains(id uuid.UUID) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, ok := idx.members[id]
	return ok
}

// Len returns the number of registered regions.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.members)
}

// CandidatesForPolygon returns the regions registered in any cell the
// polygon's bounding rectangle overlaps.
func (idx *Index) CandidatesForPolygon(polygon geo.Polygon) IDSet {
	return idx.CandidatesForBound(geo.Bound(polygon))
}

// CandidatesForPoint returns the regions registered in the cell holding pt.
func (idx *Index) CandidatesForPoint(pt geo.Point) IDSet {
	return idx.CandidatesForBound(geo.PointBound(pt))
}

// CandidatesForRadius returns the regions registered in any cell overlapped
// by the bounding rectangle of the radiusKm cap around center.
func (idx *Index) CandidatesForRadius(center geo.Point, radiusKm float64) IDSet {
	return idx.CandidatesForBound(geo.RadiusBound(center, radiusKm))
}

// CandidatesForBound returns the regions registered in any cell bound overlaps.
func (idx *Index) CandidatesForBound(bound s2.Rect) IDSet {
	covered := idx.cover(bound)

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := make(IDSet)
	for _, c := range covered {
		for id := range idx.cells[c] {
			out[id] = struct{}{}
		}
	}
	return out
}

// cover lists the cells overlapped by r, widened by coverMarginDeg so a
// point on a cell border or on the antimeridian reaches both sides.
func (idx *Index) cover(r s2.Rect) []cell {
	if r.IsEmpty() {
		return nil
	}
	rowLo := idx.row(r.Lo().Lat.Degrees() - coverMarginDeg)
	rowHi := idx.row(r.Hi().Lat.Degrees() + coverMarginDeg)

	var out []cell
	for _, span := range idx.columnSpans(r) {
		for col := span[0]; col <= span[1]; col++ {
			for row := rowLo; row <= rowHi; row++ {
				out = append(out, cell{col: col, row: row})
			}
		}
	}
	return out
}

// columnSpans unwraps the longitude interval of r and splits it into column
// ranges that do not cross the antimeridian.
func (idx *Index) columnSpans(r s2.Rect) [][2]int {
	full := [][2]int{{0, idx.cols - 1}}
	if r.Lng.IsFull() {
		return full
	}

	lo := r.Lo().Lng.Degrees() - coverMarginDeg
	hi := r.Hi().Lng.Degrees() + coverMarginDeg
	if r.Lng.IsInverted() {
		hi += 360
	}
	if hi-lo >= 360 {
		return full
	}

	var spans [][2]int
	if lo < -180 {
		spans = append(spans, [2]int{idx.col(lo + 360), idx.cols - 1})
		lo = -180
	}
	if hi > 180 {
		spans = append(spans, [2]int{0, idx.col(hi - 360)})
		hi = 180
	}
	return append(spans, [2]int{idx.col(lo), idx.col(hi)})
}

func (idx *Index) col(lonDeg float64) int {
	return clamp(int(math.Floor((lonDeg+180)/idx.cellSize)), idx.cols-1)
}

func (idx *Index) row(latDeg float64) int {
	return clamp(int(math.Floor((latDeg+90)/idx.cellSize)), idx.rows-1)
}

func clamp(v, hi int) int {
	if v < 0 {
		return 0
	}
	if v > hi {
		return hi
	}
	return v
}
