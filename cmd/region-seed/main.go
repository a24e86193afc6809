package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/paulmach/orb/geojson"
	"github.com/spf13/pflag"

	"region-service/internal/config"
	"region-service/internal/db"
	"region-service/internal/geo"
	"region-service/internal/logger"
	"region-service/internal/repository"
	"region-service/internal/service"
	"region-service/internal/spatial"
)

//go:embed regions.geojson
var sampleRegions []byte

func main() {
	file := pflag.StringP("file", "f", "", "GeoJSON FeatureCollection to seed instead of the bundled sample regions")
	keep := pflag.Bool("keep", false, "keep stored regions instead of deleting them first")
	pflag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	appLogger := logger.New(cfg.Environment)

	data := sampleRegions
	if *file != "" {
		data, err = os.ReadFile(*file)
		if err != nil {
			appLogger.Fatal().Err(err).Str("file", *file).Msg("failed to read seed file")
		}
	}

	inputs, err := parseFeatures(data)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("failed to parse seed regions")
	}

	database, err := db.New(cfg, appLogger)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer db.Close(database)

	ctx := context.Background()
	repo := repository.NewRegionRepository(database, spatial.New(cfg.Index.CellSizeDeg), appLogger)
	if err := repo.Load(ctx); err != nil {
		appLogger.Fatal().Err(err).Msg("failed to load regions")
	}
	regionService := service.NewRegionService(repo, nil, service.Options{}, appLogger)

	if err := seed(ctx, regionService, inputs, !*keep); err != nil {
		appLogger.Fatal().Err(err).Msg("failed to seed regions")
	}

	appLogger.Info().Int("regions", len(inputs)).Msg("database seeded")
}

func seed(ctx context.Context, regionService *service.RegionService, inputs []service.CreateRegionInput, replace bool) error {
	if replace {
		existing, err := regionService.List(ctx)
		if err != nil {
			return err
		}
		for _, r := range existing {
			if _, err := regionService.Delete(ctx, r.ID.String()); err != nil {
				return fmt.Errorf("delete %q: %w", r.Name, err)
			}
		}
	}

	for _, input := range inputs {
		if _, err := regionService.Create(ctx, input); err != nil {
			return fmt.Errorf("create %q: %w", input.Name, err)
		}
	}
	return nil
}

// parseFeatures reads a FeatureCollection whose features carry a unique
// "name" property and a Polygon geometry. Geometries are parsed from the raw
// document so malformed positions are not zero-filled by the decoder.
func parseFeatures(data []byte) ([]service.CreateRegionInput, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("decode feature collection: %w", err)
	}

	var raw struct {
		Features []struct {
			Geometry json.RawMessage `json:"geometry"`
		} `json:"features"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode feature collection: %w", err)
	}
	if len(raw.Features) != len(fc.Features) {
		return nil, fmt.Errorf("decode feature collection: got %d raw features, %d decoded", len(raw.Features), len(fc.Features))
	}

	inputs := make([]service.CreateRegionInput, 0, len(fc.Features))
	seen := make(map[string]int, len(fc.Features))
	for i, f := range fc.Features {
		name := strings.TrimSpace(f.Properties.MustString("name", ""))
		if name == "" {
			return nil, fmt.Errorf("feature %d has no name", i)
		}
		if prev, ok := seen[name]; ok {
			return nil, fmt.Errorf("feature %d: %w: %q already used by feature %d", i, service.ErrDuplicateName, name, prev)
		}
		seen[name] = i

		g, err := geo.ParseGeoJSON(raw.Features[i].Geometry)
		if err != nil {
			return nil, fmt.Errorf("feature %q: %w", name, err)
		}
		polygon, ok := g.(geo.Polygon)
		if !ok {
			return nil, fmt.Errorf("feature %q: %w: expected Polygon, got %s", name, geo.ErrInvalidGeometry, g.GeoJSONType())
		}
		if err := polygon.Validate(); err != nil {
			return nil, fmt.Errorf("feature %q: %w", name, err)
		}

		inputs = append(inputs, service.CreateRegionInput{Name: name, Geometry: polygon})
	}
	return inputs, nil
}
