package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"stemgen/stemfile"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	// Input decoding configuration
	Input InputConfig `mapstructure:"input"`

	// Separation model configuration
	Separation SeparationConfig `mapstructure:"separation"`

	// Intermediate store configuration
	Store StoreConfig `mapstructure:"store"`

	// Preview playback configuration
	Playback PlaybackConfig `mapstructure:"playback"`

	// Output file configuration
	Output OutputConfig `mapstructure:"output"`

	// Job catalog configuration
	Catalog CatalogConfig `mapstructure:"catalog"`

	// Logging configuration
	Logging LoggingConfig `mapstructure:"logging"`
}

// InputConfig holds source decoding settings
type InputConfig struct {
	ResampleQuality int  `mapstructure:"resample_quality"`
	FFmpegDecode    bool `mapstructure:"ffmpeg_decode"`
}

// SeparationConfig holds model and overlap-add settings
type SeparationConfig struct {
	Command       string   `mapstructure:"command"`
	Args          []string `mapstructure:"args"`
	SegmentLength int      `mapstructure:"segment_length"`
	Overlap       float64  `mapstructure:"overlap"`
	Power         float64  `mapstructure:"power"`
	Workers       int      `mapstructure:"workers"`
}

// StoreConfig holds store file settings
type StoreConfig struct {
	Dir  string `mapstructure:"dir"`
	Keep bool   `mapstructure:"keep"`
}

// PlaybackConfig holds preview player settings
type PlaybackConfig struct {
	Window   int           `mapstructure:"window"`
	LowWater int           `mapstructure:"low_water"`
	Buffer   time.Duration `mapstructure:"buffer"`
	Volume   float64       `mapstructure:"volume"`
}

// OutputConfig holds export settings
type OutputConfig struct {
	Dir       string   `mapstructure:"dir"`
	Mode      string   `mapstructure:"mode"` // preserve or consistent
	Precision int      `mapstructure:"precision"`
	Overwrite bool     `mapstructure:"overwrite"`
	Package   bool     `mapstructure:"package"`
	FFmpeg    string   `mapstructure:"ffmpeg"`
	Codec     string   `mapstructure:"codec"`
	Bitrate   string   `mapstructure:"bitrate"`
	Labels    []string `mapstructure:"labels"`
	Colors    []string `mapstructure:"colors"`
}

// CatalogConfig holds job ledger settings
type CatalogConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Path          string `mapstructure:"path"`
	SkipProcessed bool   `mapstructure:"skip_processed"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or text
}

// SetDefaults registers the default values on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("input.resample_quality", 4)
	v.SetDefault("input.ffmpeg_decode", false)
	v.SetDefault("separation.command", "")
	v.SetDefault("separation.segment_length", 343980)
	v.SetDefault("separation.overlap", 0.25)
	v.SetDefault("separation.power", 1.0)
	v.SetDefault("separation.workers", 1)
	v.SetDefault("store.dir", os.TempDir())
	v.SetDefault("store.keep", false)
	v.SetDefault("playback.window", 2048)
	v.SetDefault("playback.low_water", 4)
	v.SetDefault("playback.buffer", "100ms")
	v.SetDefault("playback.volume", 0.0)
	v.SetDefault("output.dir", ".")
	v.SetDefault("output.mode", string(stemfile.Preserve))
	v.SetDefault("output.precision", 2)
	v.SetDefault("output.package", false)
	v.SetDefault("output.ffmpeg", stemfile.Exec)
	v.SetDefault("output.codec", stemfile.DefaultCodec)
	v.SetDefault("output.bitrate", stemfile.DefaultBitrate)
	v.SetDefault("catalog.enabled", true)
	v.SetDefault("catalog.path", defaultCatalogPath())
	v.SetDefault("catalog.skip_processed", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

func defaultCatalogPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "stemgen.db")
	}
	return filepath.Join(home, ".stemgen", "stemgen.db")
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig() (*Config, error) {
	return Load(viper.GetViper())
}

// Load reads configuration into v and unmarshals it
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	// Search for a config file unless --config named one; SetConfigName
	// would clear it
	if v.ConfigFileUsed() == "" {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.stemgen")
		v.AddConfigPath("/etc/stemgen")
	}

	// Allow environment variables
	v.SetEnvPrefix("STEMGEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read the config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		slog.Debug("No config file found, using defaults and environment variables")
	} else {
		slog.Info("Using config file", slog.String("file", v.ConfigFileUsed()))
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Input.ResampleQuality < 1 || c.Input.ResampleQuality > 64 {
		return &ConfigError{Field: "input.resample_quality", Message: "resample quality must be between 1 and 64"}
	}
	if c.Separation.SegmentLength <= 0 {
		return &ConfigError{Field: "separation.segment_length", Message: "segment length must be positive"}
	}
	if c.Separation.Overlap < 0 || c.Separation.Overlap >= 1 {
		return &ConfigError{Field: "separation.overlap", Message: "overlap must be in [0, 1)"}
	}
	if c.Separation.Power <= 0 {
		return &ConfigError{Field: "separation.power", Message: "transition power must be positive"}
	}
	if c.Separation.Workers < 1 {
		return &ConfigError{Field: "separation.workers", Message: "at least one worker is required"}
	}
	if c.Playback.Window <= 0 || c.Playback.Window%2 != 0 {
		return &ConfigError{Field: "playback.window", Message: "window must be a positive even sample count"}
	}
	if c.Playback.LowWater < 1 {
		return &ConfigError{Field: "playback.low_water", Message: "low water mark must be at least 1"}
	}
	if _, err := stemfile.ParseMode(c.Output.Mode); err != nil {
		return &ConfigError{Field: "output.mode", Message: err.Error()}
	}
	switch c.Output.Precision {
	case 1, 2, 3:
	default:
		return &ConfigError{Field: "output.precision", Message: "precision must be 1, 2 or 3 bytes"}
	}
	if len(c.Output.Labels) != 0 && len(c.Output.Labels) != 4 {
		return &ConfigError{Field: "output.labels", Message: "exactly four stem labels are required"}
	}
	if len(c.Output.Colors) != 0 && len(c.Output.Colors) != 4 {
		return &ConfigError{Field: "output.colors", Message: "exactly four stem colours are required"}
	}
	for _, col := range c.Output.Colors {
		if _, err := stemfile.ParseColor(col); err != nil {
			return &ConfigError{Field: "output.colors", Message: err.Error()}
		}
	}
	if c.Catalog.Enabled && c.Catalog.Path == "" {
		return &ConfigError{Field: "catalog.path", Message: "catalog path is required when the catalog is enabled"}
	}
	return nil
}

// Stems returns the stem labels and colours, falling back to the defaults
func (c *Config) Stems() []stemfile.Stem {
	stems := stemfile.DefaultStems()
	for i, label := range c.Output.Labels {
		if i < len(stems) && label != "" {
			stems[i].Name = label
		}
	}
	for i, col := range c.Output.Colors {
		if v, err := stemfile.ParseColor(col); err == nil && i < len(stems) {
			stems[i].Color = v
		}
	}
	return stems
}

// ConfigError represents a configuration validation error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}
