package repository

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"region-service/internal/config"
	"region-service/internal/db"
	"region-service/internal/geo"
	"region-service/internal/model"
	"region-service/internal/spatial"
)

func square(lonMin, latMin, lonMax, latMax float64) geo.Polygon {
	return geo.Polygon{Ring: geo.Ring{
		{Lon: lonMin, Lat: latMin},
		{Lon: lonMax, Lat: latMin},
		{Lon: lonMax, Lat: latMax},
		{Lon: lonMin, Lat: latMax},
		{Lon: lonMin, Lat: latMin},
	}}
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	cfg := &config.Config{DB: config.DBConfig{
		Driver: config.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "regions.db"),
	}}
	gdb, err := db.New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(gdb) })
	return gdb
}

func newTestRepo(t *testing.T) (*RegionRepository, *spatial.Index, *gorm.DB) {
	t.Helper()
	gdb := newTestDB(t)
	idx := spatial.New(spatial.DefaultCellSizeDeg)
	return NewRegionRepository(gdb, idx, zerolog.Nop()), idx, gdb
}

func countRows(t *testing.T, gdb *gorm.DB) int64 {
	t.Helper()
	var n int64
	if err := gdb.Model(&model.Region{}).Count(&n).Error; err != nil {
		t.Fatalf("count rows: %v", err)
	}
	return n
}

func TestCreateAndGet(t *testing.T) {
	repo, idx, gdb := newTestRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, "São Paulo", square(-46.65, -23.55, -46.63, -23.53))
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if created.ID == uuid.Nil {
		t.Fatal("Create() did not assign an id")
	}
	var stored model.Region
	if err := gdb.First(&stored, "name = ?", "São Paulo").Error; err != nil {
		t.Fatalf("read stored row: %v", err)
	}
	if stored.ID != created.ID {
		t.Errorf("stored id = %s, returned id = %s", stored.ID, created.ID)
	}
	if created.CreatedAt.IsZero() || !created.CreatedAt.Equal(created.UpdatedAt) {
		t.Errorf("timestamps = %v / %v, want equal and set", created.CreatedAt, created.UpdatedAt)
	}

	got, err := repo.GetByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if got.Name != "São Paulo" || len(got.Geometry.Ring) != 5 {
		t.Errorf("GetByID() = %+v", got)
	}
	if !idx.Contains(created.ID) {
		t.Error("created region missing from the index")
	}
	if n := countRows(t, gdb); n != 1 {
		t.Errorf("stored rows = %d, want 1", n)
	}

	if _, err := repo.GetByID(ctx, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestCreateValidatesBeforeStoring(t *testing.T) {
	repo, idx, gdb := newTestRepo(t)

	open := geo.Polygon{Ring: geo.Ring{{Lon: 0, Lat: 0}, {Lon: 1, Lat: 0}, {Lon: 1, Lat: 1}, {Lon: 0, Lat: 1}}}
	if _, err := repo.Create(context.Background(), "open", open); !errors.Is(err, geo.ErrInvalidGeometry) {
		t.Fatalf("Create() error = %v, want ErrInvalidGeometry", err)
	}
	if n := countRows(t, gdb); n != 0 {
		t.Errorf("stored rows = %d, want 0", n)
	}
	if repo.Count() != 0 || idx.Len() != 0 {
		t.Errorf("catalogue=%d index=%d, want both empty", repo.Count(), idx.Len())
	}
}

func TestCreateDuplicateName(t *testing.T) {
	repo, _, gdb := newTestRepo(t)
	ctx := context.Background()

	if _, err := repo.Create(ctx, "Rio", square(-43.28, -22.89, -43.26, -22.87)); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if _, err := repo.Create(ctx, "Rio", square(0, 0, 1, 1)); !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("Create(duplicate) error = %v, want ErrDuplicateName", err)
	}
	if _, err := repo.Create(ctx, "rio", square(0, 0, 1, 1)); err != nil {
		t.Errorf("names are case-sensitive, Create(rio) error: %v", err)
	}
	if n := countRows(t, gdb); n != 2 {
		t.Errorf("stored rows = %d, want 2", n)
	}
}

func TestCreateMapsStorageUniqueViolation(t *testing.T) {
	repo, idx, gdb := newTestRepo(t)

	// A row written behind the repository's back, before Load.
	outside := model.Region{ID: uuid.New(), Name: "Curitiba", Geometry: square(0, 0, 1, 1)}
	if err := gdb.Create(&outside).Error; err != nil {
		t.Fatalf("insert row: %v", err)
	}

	if _, err := repo.Create(context.Background(), "Curitiba", square(2, 2, 3, 3)); !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("Create() error = %v, want ErrDuplicateName", err)
	}
	if repo.Count() != 0 || idx.Len() != 0 {
		t.Errorf("failed storage write changed the catalogue: catalogue=%d index=%d", repo.Count(), idx.Len())
	}
}

func TestUpdate(t *testing.T) {
	repo, idx, _ := newTestRepo(t)
	ctx := context.Background()

	a, err := repo.Create(ctx, "A", square(0, 0, 1, 1))
	if err != nil {
		t.Fatalf("Create(A) error: %v", err)
	}
	b, err := repo.Create(ctx, "B", square(10, 10, 11, 11))
	if err != nil {
		t.Fatalf("Create(B) error: %v", err)
	}

	if _, err := repo.Update(ctx, b.ID, "A", square(10, 10, 11, 11)); !errors.Is(err, ErrDuplicateName) {
		t.Errorf("Update(B -> A) error = %v, want ErrDuplicateName", err)
	}
	if _, err := repo.Update(ctx, uuid.New(), "C", square(0, 0, 1, 1)); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update(unknown) error = %v, want ErrNotFound", err)
	}
	if _, err := repo.Update(ctx, a.ID, "A", geo.Polygon{}); !errors.Is(err, geo.ErrInvalidGeometry) {
		t.Errorf("Update(empty ring) error = %v, want ErrInvalidGeometry", err)
	}

	moved, err := repo.Update(ctx, a.ID, "A", square(20, 20, 21, 21))
	if err != nil {
		t.Fatalf("Update(A keeps name) error: %v", err)
	}
	if moved.UpdatedAt.Before(a.UpdatedAt) || !moved.CreatedAt.Equal(a.CreatedAt) {
		t.Errorf("timestamps after update: created %v updated %v", moved.CreatedAt, moved.UpdatedAt)
	}
	if idx.CandidatesForPoint(geo.Point{Lon: 0.5, Lat: 0.5}).Has(a.ID) {
		t.Error("index still holds the old geometry")
	}
	if !idx.CandidatesForPoint(geo.Point{Lon: 20.5, Lat: 20.5}).Has(a.ID) {
		t.Error("index is missing the new geometry")
	}

	renamed, err := repo.Update(ctx, a.ID, "Z", moved.Geometry)
	if err != nil {
		t.Fatalf("Update(rename) error: %v", err)
	}
	if renamed.Name != "Z" {
		t.Errorf("Name = %q, want Z", renamed.Name)
	}
	if _, err := repo.Create(ctx, "A", square(5, 5, 6, 6)); err != nil {
		t.Errorf("old name should be free after rename, Create(A) error: %v", err)
	}
}

func TestDelete(t *testing.T) {
	repo, idx, gdb := newTestRepo(t)
	ctx := context.Background()

	r, err := repo.Create(ctx, "BH", square(-44, -20, -43.9, -19.9))
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	deleted, err := repo.Delete(ctx, r.ID)
	if err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if deleted.ID != r.ID || deleted.Name != "BH" {
		t.Errorf("Delete() returned %+v", deleted)
	}
	if idx.Contains(r.ID) {
		t.Error("deleted region still indexed")
	}
	if n := countRows(t, gdb); n != 0 {
		t.Errorf("stored rows = %d, want 0", n)
	}
	if _, err := repo.Delete(ctx, r.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}
	if _, err := repo.Create(ctx, "BH", square(-44, -20, -43.9, -19.9)); err != nil {
		t.Errorf("name should be free after delete: %v", err)
	}
}

func TestListSortedByName(t *testing.T) {
	repo, _, _ := newTestRepo(t)
	ctx := context.Background()

	for _, name := range []string{"Recife", "Belém", "Manaus"} {
		if _, err := repo.Create(ctx, name, square(0, 0, 1, 1)); err != nil {
			t.Fatalf("Create(%s) error: %v", name, err)
		}
	}

	regions, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	want := []string{"Belém", "Manaus", "Recife"}
	if len(regions) != len(want) {
		t.Fatalf("List() returned %d regions, want %d", len(regions), len(want))
	}
	for i, name := range want {
		if regions[i].Name != name {
			t.Errorf("regions[%d] = %q, want %q", i, regions[i].Name, name)
		}
	}
}

func TestListReturnsCopies(t *testing.T) {
	repo, _, _ := newTestRepo(t)
	ctx := context.Background()

	r, err := repo.Create(ctx, "A", square(0, 0, 1, 1))
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	regions, _ := repo.List(ctx)
	regions[0].Geometry.Ring[0] = geo.Point{Lon: 50, Lat: 50}

	got, _ := repo.GetByID(ctx, r.ID)
	if got.Geometry.Ring[0] != (geo.Point{Lon: 0, Lat: 0}) {
		t.Error("mutating a listed region changed the catalogue")
	}
}

func TestLoadRestoresCatalogueAndIndex(t *testing.T) {
	gdb := newTestDB(t)
	ctx := context.Background()

	writer := NewRegionRepository(gdb, spatial.New(spatial.DefaultCellSizeDeg), zerolog.Nop())
	sp, err := writer.Create(ctx, "São Paulo", square(-46.65, -23.55, -46.63, -23.53))
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if _, err := writer.Create(ctx, "Rio de Janeiro", square(-43.28, -22.89, -43.26, -22.87)); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	idx := spatial.New(spatial.DefaultCellSizeDeg)
	reader := NewRegionRepository(gdb, idx, zerolog.Nop())
	if err := reader.Load(ctx); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if reader.Count() != 2 || idx.Len() != 2 {
		t.Fatalf("after Load catalogue=%d index=%d, want 2/2", reader.Count(), idx.Len())
	}
	got, err := reader.GetByID(ctx, sp.ID)
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if got.Name != sp.Name || !got.CreatedAt.Equal(sp.CreatedAt) {
		t.Errorf("loaded %+v, want %+v", got, sp)
	}
	for i := range sp.Geometry.Ring {
		if got.Geometry.Ring[i] != sp.Geometry.Ring[i] {
			t.Errorf("position %d = %v, want %v", i, got.Geometry.Ring[i], sp.Geometry.Ring[i])
		}
	}
	if !idx.CandidatesForPoint(geo.Point{Lon: -46.64, Lat: -23.54}).Has(sp.ID) {
		t.Error("loaded region missing from the index")
	}
}

func TestLoadRejectsInvalidStoredRing(t *testing.T) {
	gdb := newTestDB(t)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	err := gdb.Exec(
		`INSERT INTO regions (id, name, geometry, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		uuid.New().String(), "broken",
		`{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1]]]}`,
		now, now,
	).Error
	if err != nil {
		t.Fatalf("insert row: %v", err)
	}

	repo := NewRegionRepository(gdb, spatial.New(spatial.DefaultCellSizeDeg), zerolog.Nop())
	if err := repo.Load(context.Background()); !errors.Is(err, geo.ErrInvalidGeometry) {
		t.Fatalf("Load() error = %v, want ErrInvalidGeometry", err)
	}
	if repo.Count() != 0 {
		t.Errorf("failed Load left %d regions", repo.Count())
	}
}

func TestSelect(t *testing.T) {
	repo, _, _ := newTestRepo(t)
	ctx := context.Background()

	inside, err := repo.Create(ctx, "inside", square(0, 0, 0.5, 0.5))
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	// Same cell, but does not hold the query point.
	if _, err := repo.Create(ctx, "neighbour", square(0.6, 0.6, 0.9, 0.9)); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	pt := geo.Point{Lon: 0.25, Lat: 0.25}
	regions, candidates, err := repo.Select(ctx,
		func(idx *spatial.Index) spatial.IDSet { return idx.CandidatesForPoint(pt) },
		func(s *geo.Shape) bool { return s.ContainsPoint(pt) },
	)
	if err != nil {
		t.Fatalf("Select() error: %v", err)
	}
	if candidates != 2 {
		t.Errorf("candidates = %d, want 2", candidates)
	}
	if len(regions) != 1 || regions[0].ID != inside.ID {
		t.Errorf("Select() = %+v, want only %q", regions, inside.Name)
	}
}

func TestSelectCancelled(t *testing.T) {
	repo, _, _ := newTestRepo(t)
	if _, err := repo.Create(context.Background(), "A", square(0, 0, 1, 1)); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	regions, _, err := repo.Select(ctx,
		func(idx *spatial.Index) spatial.IDSet { return idx.CandidatesForPoint(geo.Point{Lon: 0.5, Lat: 0.5}) },
		func(*geo.Shape) bool { return true },
	)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Select() error = %v, want context.Canceled", err)
	}
	if regions != nil {
		t.Errorf("Select() returned a partial result: %+v", regions)
	}
}

func TestConcurrentCreateSameName(t *testing.T) {
	repo, _, gdb := newTestRepo(t)
	ctx := context.Background()

	const workers = 8
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		successes  int
		duplicates int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := repo.Create(ctx, "Fortaleza", square(float64(i), 0, float64(i)+0.5, 0.5))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrDuplicateName):
				duplicates++
			default:
				t.Errorf("Create() unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if successes != 1 || duplicates != workers-1 {
		t.Errorf("successes=%d duplicates=%d, want 1/%d", successes, duplicates, workers-1)
	}
	if n := countRows(t, gdb); n != 1 {
		t.Errorf("stored rows = %d, want 1", n)
	}
}
