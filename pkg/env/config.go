// ABOUTME: Environment configuration: recognized parameters plus YAML loading
// ABOUTME: Config loader exposing the engine's own PAGESIZE/CACHESIZE/... parameter table

package env

import (
	"os"
	"time"

	"github.com/nainya/kvengine/internal/logger"
	"github.com/nainya/kvengine/internal/metrics"
	"github.com/nainya/kvengine/pkg/freelist"
	"gopkg.in/yaml.v3"
)

// Config holds the recognized Create/Open-time configuration parameters.
type Config struct {
	Pagesize          int           `yaml:"pagesize"`
	CacheSize         int           `yaml:"cachesize"`
	Keysize           int           `yaml:"keysize"`
	MaxEnvDatabases   int           `yaml:"max_env_databases"`
	DataAccessMode    freelist.DAM  `yaml:"data_access_mode"`
	InitialDBSize     int64         `yaml:"initial_db_size"`
	CustomDevice      string        `yaml:"custom_device"` // "file" (default) or "memory"
	CheckpointEvery   time.Duration `yaml:"checkpoint_every"`
	EnableDuplicates  bool          `yaml:"enable_duplicates"`
	LogLevel          string        `yaml:"log_level"`
	ReadOnly          bool          `yaml:"-"` // set by callers (e.g. cmd/kvdump), never persisted

	// Logger/Metrics are optional (nil-safe); callers wanting observability
	// set them explicitly. Not loaded from YAML.
	Logger  *logger.Logger  `yaml:"-"`
	Metrics *metrics.Metrics `yaml:"-"`
}

// DefaultConfig mirrors the format's documented defaults.
func DefaultConfig() Config {
	return Config{
		Pagesize:         16 * 1024,
		CacheSize:        1024,
		Keysize:          21,
		MaxEnvDatabases:  16,
		DataAccessMode:   freelist.DAMRandom,
		InitialDBSize:    0,
		CustomDevice:     "file",
		CheckpointEvery:  30 * time.Second,
		EnableDuplicates: false,
		LogLevel:         "info",
	}
}

// LoadConfigFile reads a YAML config file, applying it on top of DefaultConfig.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
