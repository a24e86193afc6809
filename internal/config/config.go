package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type HTTPConfig struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
}

type DBConfig struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type IndexConfig struct {
	CellSizeDeg float64
}

type GeocoderConfig struct {
	URL         string
	UserAgent   string
	CountryCode string
	Timeout     time.Duration
	CacheTTL    time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type Config struct {
	Environment string
	HTTP        HTTPConfig
	DB          DBConfig
	Index       IndexConfig
	Geocoder    GeocoderConfig
	Redis       RedisConfig
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("app")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("./deploy")
	v.AddConfigPath("./internal/config")

	v.AutomaticEnv()

	_ = v.ReadInConfig()

	cfg := &Config{
		Environment: v.GetString("APP_ENV"),
		HTTP: HTTPConfig{
			Host:            v.GetString("HTTP_HOST"),
			Port:            v.GetInt("HTTP_PORT"),
			ShutdownTimeout: v.GetDuration("HTTP_SHUTDOWN_TIMEOUT"),
		},
		DB: DBConfig{
			Driver:          v.GetString("DB_DRIVER"),
			DSN:             v.GetString("DB_DSN"),
			MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
			ConnMaxLifetime: v.GetDuration("DB_CONN_MAX_LIFETIME"),
		},
		Index: IndexConfig{
			CellSizeDeg: v.GetFloat64("INDEX_CELL_SIZE_DEG"),
		},
		Geocoder: GeocoderConfig{
			URL:         v.GetString("GEOCODER_URL"),
			UserAgent:   v.GetString("GEOCODER_USER_AGENT"),
			CountryCode: v.GetString("GEOCODER_COUNTRY_CODE"),
			Timeout:     v.GetDuration("GEOCODER_TIMEOUT"),
			CacheTTL:    v.GetDuration("GEOCODE_CACHE_TTL"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.HTTP.Host == "" {
		cfg.HTTP.Host = "0.0.0.0"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.HTTP.ShutdownTimeout == 0 {
		cfg.HTTP.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.DB.Driver == "" {
		cfg.DB.Driver = DriverPostgres
	}
	if cfg.Index.CellSizeDeg == 0 {
		cfg.Index.CellSizeDeg = 1.0
	}
	if cfg.Geocoder.URL == "" {
		cfg.Geocoder.URL = "https://nominatim.openstreetmap.org"
	}
	if cfg.Geocoder.UserAgent == "" {
		cfg.Geocoder.UserAgent = "region-service/1.0"
	}
	if cfg.Geocoder.Timeout == 0 {
		cfg.Geocoder.Timeout = 5 * time.Second
	}
	if cfg.Geocoder.CacheTTL == 0 {
		cfg.Geocoder.CacheTTL = 24 * time.Hour
	}
}

func validate(cfg *Config) error {
	if cfg.DB.DSN == "" {
		return fmt.Errorf("DB_DSN is required")
	}
	if cfg.DB.Driver != DriverPostgres && cfg.DB.Driver != DriverSQLite {
		return fmt.Errorf("DB_DRIVER must be %q or %q, got %q", DriverPostgres, DriverSQLite, cfg.DB.Driver)
	}
	if cfg.Geocoder.Timeout < 0 {
		return fmt.Errorf("GEOCODER_TIMEOUT must be positive")
	}
	if cfg.Index.CellSizeDeg < 0 {
		return fmt.Errorf("INDEX_CELL_SIZE_DEG must be positive")
	}
	return nil
}
