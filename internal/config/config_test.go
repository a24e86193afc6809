package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DB_DSN", "postgres://localhost/regions")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Environment != "development" {
		t.Errorf("Environment = %q, want development", cfg.Environment)
	}
	if cfg.HTTP.Host != "0.0.0.0" || cfg.HTTP.Port != 8080 {
		t.Errorf("HTTP = %s:%d, want 0.0.0.0:8080", cfg.HTTP.Host, cfg.HTTP.Port)
	}
	if cfg.DB.Driver != DriverPostgres {
		t.Errorf("DB.Driver = %q, want %q", cfg.DB.Driver, DriverPostgres)
	}
	if cfg.Index.CellSizeDeg != 1.0 {
		t.Errorf("Index.CellSizeDeg = %v, want 1", cfg.Index.CellSizeDeg)
	}
	if cfg.Geocoder.Timeout != 5*time.Second {
		t.Errorf("Geocoder.Timeout = %v, want 5s", cfg.Geocoder.Timeout)
	}
	if cfg.Redis.Addr != "" {
		t.Errorf("Redis.Addr = %q, want empty", cfg.Redis.Addr)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_DSN", "file:regions.db")
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("INDEX_CELL_SIZE_DEG", "0.5")
	t.Setenv("GEOCODER_COUNTRY_CODE", "br")
	t.Setenv("GEOCODER_TIMEOUT", "2s")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REDIS_DB", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.DB.Driver != DriverSQLite || cfg.DB.DSN != "file:regions.db" {
		t.Errorf("DB = %+v", cfg.DB)
	}
	if cfg.HTTP.Port != 9090 {
		t.Errorf("HTTP.Port = %d, want 9090", cfg.HTTP.Port)
	}
	if cfg.Index.CellSizeDeg != 0.5 {
		t.Errorf("Index.CellSizeDeg = %v, want 0.5", cfg.Index.CellSizeDeg)
	}
	if cfg.Geocoder.CountryCode != "br" || cfg.Geocoder.Timeout != 2*time.Second {
		t.Errorf("Geocoder = %+v", cfg.Geocoder)
	}
	if cfg.Redis.Addr != "localhost:6379" || cfg.Redis.DB != 3 {
		t.Errorf("Redis = %+v", cfg.Redis)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing dsn", map[string]string{"DB_DSN": ""}},
		{"unknown driver", map[string]string{"DB_DSN": "x", "DB_DRIVER": "mysql"}},
		{"negative timeout", map[string]string{"DB_DSN": "x", "GEOCODER_TIMEOUT": "-1s"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("Load() expected an error")
			}
		})
	}
}
