// Package config loads and validates harvester configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/panorama-harvester/internal/extract"
)

// Year bounds accepted on the command line, both exclusive.
const (
	MinYearExclusive = 2010
	MaxYearExclusive = 2030
)

// ErrInvalidYear reports a year argument outside the accepted range.
var ErrInvalidYear = errors.New("year must be a 4-digit value between 2011 and 2029")

// Config captures all harvester configuration knobs loaded via Viper.
type Config struct {
	Paths   PathsConfig   `mapstructure:"paths"`
	Harvest HarvestConfig `mapstructure:"harvest"`
	Service ServiceConfig `mapstructure:"service"`
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	DB      DBConfig      `mapstructure:"db"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// PathsConfig locates the geometry input and the output trees.
type PathsConfig struct {
	InputCSV  string `mapstructure:"input_csv"`
	OutputDir string `mapstructure:"output_dir"`
	TempDir   string `mapstructure:"temp_dir"`
}

// HarvestConfig governs the acquisition loop.
type HarvestConfig struct {
	RequestDelay    time.Duration              `mapstructure:"request_delay"`
	ViewPolicy      string                     `mapstructure:"view_policy"`
	JPEGQuality     int                        `mapstructure:"jpeg_quality"`
	DownloadZoom    int                        `mapstructure:"download_zoom"`
	CheckpointEvery int                        `mapstructure:"checkpoint_every"`
	ROIProfiles     map[string]extract.Profile `mapstructure:"roi_profiles"`
}

// ServiceConfig points at the panorama service.
type ServiceConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	TileURL        string `mapstructure:"tile_url"`
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxRetries     int    `mapstructure:"max_retries"`
}

// ServerConfig controls the optional status server. Zero disables it.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// StorageConfig configures the optional GCS mirror.
type StorageConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls the optional Postgres catalog.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	Table        string `mapstructure:"table"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	Migrate      bool   `mapstructure:"migrate"`
}

// PubSubConfig holds metadata for accepted-view notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features and output.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
	File        string `mapstructure:"file"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("paths.input_csv", "almaty_roads.csv")
	v.SetDefault("paths.output_dir", "output")
	v.SetDefault("paths.temp_dir", "temp_panoramas")
	v.SetDefault("harvest.request_delay", time.Second)
	v.SetDefault("harvest.view_policy", extract.PolicyMulti)
	v.SetDefault("harvest.jpeg_quality", 95)
	v.SetDefault("harvest.download_zoom", 0)
	v.SetDefault("harvest.checkpoint_every", 25)
	v.SetDefault("service.base_url", "https://api-maps.yandex.ru/services/panoramas/1.x/")
	v.SetDefault("service.tile_url", "https://pano.maps.yandex.net")
	v.SetDefault("service.user_agent", "panorama-harvester/0.1")
	v.SetDefault("service.timeout_seconds", 30)
	v.SetDefault("service.max_retries", 2)
	v.SetDefault("server.port", 0)
	// Keys without a useful default are still registered so that
	// AutomaticEnv can fill them during Unmarshal.
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "panoramas")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "harvest_images")
	v.SetDefault("db.max_open_conns", 4)
	v.SetDefault("db.migrate", false)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Paths.InputCSV) == "" {
		return errors.New("paths.input_csv is required")
	}
	if strings.TrimSpace(c.Paths.OutputDir) == "" || strings.TrimSpace(c.Paths.TempDir) == "" {
		return errors.New("paths.output_dir and paths.temp_dir are required")
	}
	if c.Harvest.RequestDelay < 0 {
		return errors.New("harvest.request_delay must be >= 0")
	}
	if c.Harvest.JPEGQuality < 1 || c.Harvest.JPEGQuality > 100 {
		return errors.New("harvest.jpeg_quality must be between 1 and 100")
	}
	if c.Harvest.DownloadZoom < 0 {
		return errors.New("harvest.download_zoom must be >= 0")
	}
	if c.Harvest.CheckpointEvery < 0 {
		return errors.New("harvest.checkpoint_every must be >= 0")
	}
	if _, err := extract.New(c.Harvest.ViewPolicy, c.Harvest.ROIProfiles); err != nil {
		return fmt.Errorf("harvest: %w", err)
	}
	if c.Service.BaseURL == "" || c.Service.TileURL == "" {
		return errors.New("service.base_url and service.tile_url are required")
	}
	if c.Service.TimeoutSeconds <= 0 {
		return errors.New("service.timeout_seconds must be > 0")
	}
	if c.Service.MaxRetries < 0 {
		return errors.New("service.max_retries must be >= 0")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return errors.New("server.port must be between 0 and 65535")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return errors.New("pubsub.project_id must be set when pubsub.topic_name is")
	}
	return nil
}

// ServiceTimeout converts the service timeout into a duration.
func (c Config) ServiceTimeout() time.Duration {
	return time.Duration(c.Service.TimeoutSeconds) * time.Second
}

// YearPaths are the per-year and shared artifact locations.
type YearPaths struct {
	OutputDir   string
	OutputLog   string
	FailureLog  string
	StateFile   string
	CacheFile   string
	LockFile    string
	TempDir     string
	SummaryFile string
}

// PathsFor lays out the artifacts of one target year.
func (c Config) PathsFor(year int) YearPaths {
	y := strconv.Itoa(year)
	dir := filepath.Join(c.Paths.OutputDir, y)
	return YearPaths{
		OutputDir:   dir,
		OutputLog:   filepath.Join(dir, "metadata_"+y+".csv"),
		FailureLog:  filepath.Join(dir, "no_panorama_addresses_"+y+".csv"),
		StateFile:   filepath.Join(dir, "state.json"),
		CacheFile:   filepath.Join(c.Paths.TempDir, "panorama_cache.json"),
		LockFile:    filepath.Join(dir, ".harvest.lock"),
		TempDir:     c.Paths.TempDir,
		SummaryFile: filepath.Join(dir, "summary.json"),
	}
}

// ParseYear validates the year argument: exactly four digits, strictly
// between 2010 and 2030.
func ParseYear(s string) (int, error) {
	s = strings.TrimSpace(s)
	if len(s) != 4 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidYear, s)
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%w: %q", ErrInvalidYear, s)
		}
	}
	year, _ := strconv.Atoi(s)
	if year <= MinYearExclusive || year >= MaxYearExclusive {
		return 0, fmt.Errorf("%w: %d", ErrInvalidYear, year)
	}
	return year, nil
}
