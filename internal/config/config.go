// Package config loads canlidar settings from config.yaml, the environment
// (CANLIDAR_ prefix) and an optional .env file.
package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/canlidar/internal/catalog"
	"github.com/sells-group/canlidar/internal/resilience"
)

// Config holds the full application configuration.
type Config struct {
	Catalog    CatalogConfig    `yaml:"catalog" mapstructure:"catalog"`
	Boundaries BoundaryConfig   `yaml:"boundaries" mapstructure:"boundaries"`
	Geocode    GeocodeConfig    `yaml:"geocode" mapstructure:"geocode"`
	PDAL       PDALConfig       `yaml:"pdal" mapstructure:"pdal"`
	Download   DownloadConfig   `yaml:"download" mapstructure:"download"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Output     OutputConfig     `yaml:"output" mapstructure:"output"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// CatalogConfig points at the tile index shapefile.
type CatalogConfig struct {
	Path   string         `yaml:"path" mapstructure:"path"`
	CRS    string         `yaml:"crs" mapstructure:"crs"`
	Fields catalog.Fields `yaml:"fields" mapstructure:"fields"`
}

// BoundaryConfig points at the administrative boundary shapefile.
type BoundaryConfig struct {
	Path       string   `yaml:"path" mapstructure:"path"`
	CRS        string   `yaml:"crs" mapstructure:"crs"`
	NameFields []string `yaml:"name_fields" mapstructure:"name_fields"`
}

// GeocodeConfig configures the geocoder cascade.
type GeocodeConfig struct {
	// Provider is "nominatim", "google", or "cascade" (nominatim then google).
	Provider      string  `yaml:"provider" mapstructure:"provider"`
	NominatimURL  string  `yaml:"nominatim_url" mapstructure:"nominatim_url"`
	UserAgent     string  `yaml:"user_agent" mapstructure:"user_agent"`
	GoogleAPIKey  string  `yaml:"google_api_key" mapstructure:"google_api_key"`
	RateLimit     float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	RedisAddr     string  `yaml:"redis_addr" mapstructure:"redis_addr"`
	RedisPassword string  `yaml:"redis_password" mapstructure:"redis_password"`
	CacheTTLHours int     `yaml:"cache_ttl_hours" mapstructure:"cache_ttl_hours"`
	CacheSize     int     `yaml:"cache_size" mapstructure:"cache_size"`

	Retry   resilience.RetryConfig   `yaml:"retry" mapstructure:"retry"`
	Breaker resilience.BreakerConfig `yaml:"breaker" mapstructure:"breaker"`
}

// CacheTTL returns the cache lifetime.
func (g GeocodeConfig) CacheTTL() time.Duration {
	return time.Duration(g.CacheTTLHours) * time.Hour
}

// PDALConfig configures the pipeline executor.
type PDALConfig struct {
	BinPath     string `yaml:"bin_path" mapstructure:"bin_path"`
	Reader      string `yaml:"reader" mapstructure:"reader"`
	Writer      string `yaml:"writer" mapstructure:"writer"`
	Concurrency int    `yaml:"concurrency" mapstructure:"concurrency"`
}

// DownloadConfig configures the bulk tile downloader.
type DownloadConfig struct {
	Concurrency int     `yaml:"concurrency" mapstructure:"concurrency"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int     `yaml:"max_retries" mapstructure:"max_retries"`
	RatePerHost float64 `yaml:"rate_per_host" mapstructure:"rate_per_host"`
	Overwrite   bool    `yaml:"overwrite" mapstructure:"overwrite"`
	FTPUser     string  `yaml:"ftp_user" mapstructure:"ftp_user"`
	FTPPassword string  `yaml:"ftp_password" mapstructure:"ftp_password"`
}

// StoreConfig configures the query history store. An empty driver
// disables history.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// OutputConfig holds where retrieved data is written.
type OutputConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, config.yaml and the environment.
func Load() (*Config, error) {
	// A missing .env is fine.
	_ = godotenv.Load(".env")

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("CANLIDAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	fields := catalog.DefaultFields()
	v.SetDefault("catalog.path", "data/Index_LiDAR_Tiles.shp")
	v.SetDefault("catalog.crs", "EPSG:4617")
	v.SetDefault("catalog.fields.project", fields.Project)
	v.SetDefault("catalog.fields.tile_name", fields.TileName)
	v.SetDefault("catalog.fields.url", fields.URL)
	v.SetDefault("catalog.fields.provider", fields.Provider)
	v.SetDefault("boundaries.path", "data/gadm41_CAN.shp")
	v.SetDefault("boundaries.crs", "EPSG:4326")
	v.SetDefault("boundaries.name_fields", []string{"NAME_0", "NAME_1", "NAME_2", "NAME_3", "NAME"})
	v.SetDefault("geocode.provider", "nominatim")
	v.SetDefault("geocode.nominatim_url", "https://nominatim.openstreetmap.org")
	v.SetDefault("geocode.user_agent", "canlidar/1.0")
	v.SetDefault("geocode.google_api_key", "")
	v.SetDefault("geocode.redis_addr", "")
	v.SetDefault("geocode.redis_password", "")
	v.SetDefault("geocode.rate_limit", 1.0)
	v.SetDefault("geocode.cache_ttl_hours", 24*30)
	v.SetDefault("geocode.cache_size", 1024)
	v.SetDefault("geocode.retry.max_attempts", 3)
	v.SetDefault("geocode.retry.initial_backoff", "500ms")
	v.SetDefault("geocode.retry.max_backoff", "10s")
	v.SetDefault("geocode.retry.jitter", 0.2)
	v.SetDefault("geocode.breaker.failure_threshold", 5)
	v.SetDefault("geocode.breaker.reset_timeout", "30s")
	v.SetDefault("pdal.bin_path", "pdal")
	v.SetDefault("pdal.reader", "las")
	v.SetDefault("pdal.writer", "las")
	v.SetDefault("pdal.concurrency", 2)
	v.SetDefault("download.concurrency", 4)
	v.SetDefault("download.timeout_secs", 300)
	v.SetDefault("download.max_retries", 3)
	v.SetDefault("download.rate_per_host", 10.0)
	v.SetDefault("download.overwrite", false)
	v.SetDefault("download.ftp_user", "")
	v.SetDefault("download.ftp_password", "")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "canlidar.db")
	v.SetDefault("output.dir", "output")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on. Modes are
// "query", "retrieve" and "serve".
func (c *Config) Validate(mode string) error {
	var missing []string
	switch mode {
	case "query", "serve":
		if c.Catalog.Path == "" {
			missing = append(missing, "catalog.path")
		}
	case "retrieve":
		if c.Catalog.Path == "" {
			missing = append(missing, "catalog.path")
		}
		if c.Output.Dir == "" {
			missing = append(missing, "output.dir")
		}
	default:
		return eris.Errorf("config: unknown validation mode %q", mode)
	}
	if len(missing) > 0 {
		return eris.Errorf("config: missing required fields for %s: %s", mode, strings.Join(missing, ", "))
	}

	switch c.Geocode.Provider {
	case "nominatim", "cascade":
	case "google":
		if c.Geocode.GoogleAPIKey == "" {
			return eris.New("config: geocode.google_api_key is required for the google provider")
		}
	default:
		return eris.Errorf("config: unknown geocode.provider %q", c.Geocode.Provider)
	}

	switch c.Store.Driver {
	case "", "sqlite", "postgres":
	default:
		return eris.Errorf("config: unknown store.driver %q", c.Store.Driver)
	}
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		return eris.New("config: store.database_url is required for postgres")
	}

	if mode == "serve" && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		return eris.Errorf("config: server.port %d out of range", c.Server.Port)
	}
	if c.Download.Concurrency < 1 || c.Download.Concurrency > 64 {
		return eris.Errorf("config: download.concurrency %d must be between 1 and 64", c.Download.Concurrency)
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
