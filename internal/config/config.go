package config

import (
	"encoding/json"
	"fmt"
)

// Config represents the main mediagate configuration
type Config struct {
	// Gateway configuration
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Storage of raw and encoded recordings
	Storage StorageConfig `json:"storage" mapstructure:"storage"`

	// Transcoder settings
	Transcoder TranscoderConfig `json:"transcoder" mapstructure:"transcoder"`

	// Catalog database
	Catalog CatalogConfig `json:"catalog" mapstructure:"catalog"`

	// Janitor housekeeping
	Janitor JanitorConfig `json:"janitor" mapstructure:"janitor"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// GatewayConfig holds gateway server configuration
type GatewayConfig struct {
	Port               int      `json:"port" mapstructure:"port"`
	Host               string   `json:"host" mapstructure:"host"`
	Path               string   `json:"path" mapstructure:"path"`
	ReadLimit          int64    `json:"read_limit" mapstructure:"read_limit"`             // bytes
	WriteTimeout       int      `json:"write_timeout" mapstructure:"write_timeout"`       // seconds
	ShutdownTimeout    int      `json:"shutdown_timeout" mapstructure:"shutdown_timeout"` // seconds
	AllowedOrigins     []string `json:"allowed_origins" mapstructure:"allowed_origins"`
	StartsPerMinute    int      `json:"starts_per_minute" mapstructure:"starts_per_minute"`
	MaxPendingFinishes int      `json:"max_pending_finishes" mapstructure:"max_pending_finishes"`
}

// StorageConfig holds recording storage settings
type StorageConfig struct {
	Root           string `json:"root" mapstructure:"root"`
	RawExtension   string `json:"raw_extension" mapstructure:"raw_extension"`
	FinalExtension string `json:"final_extension" mapstructure:"final_extension"`
	FlushThreshold int    `json:"flush_threshold" mapstructure:"flush_threshold"` // bytes
}

// TranscoderConfig holds encoder settings
type TranscoderConfig struct {
	Binary      string   `json:"binary" mapstructure:"binary"`
	VideoCodec  string   `json:"video_codec" mapstructure:"video_codec"`
	Preset      string   `json:"preset" mapstructure:"preset"`
	CRF         int      `json:"crf" mapstructure:"crf"`
	AudioCodec  string   `json:"audio_codec" mapstructure:"audio_codec"`
	ExtraArgs   []string `json:"extra_args" mapstructure:"extra_args"`
	Concurrency int      `json:"concurrency" mapstructure:"concurrency"`
	Timeout     int      `json:"timeout" mapstructure:"timeout"`           // seconds, 0 = none
	OutputLimit int      `json:"output_limit" mapstructure:"output_limit"` // bytes
}

// CatalogConfig holds catalog settings
type CatalogConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Path    string `json:"path" mapstructure:"path"`
}

// JanitorConfig holds housekeeping settings
type JanitorConfig struct {
	Enabled     bool   `json:"enabled" mapstructure:"enabled"`
	Schedule    string `json:"schedule" mapstructure:"schedule"`
	IdleTimeout int    `json:"idle_timeout" mapstructure:"idle_timeout"` // seconds, 0 = never expire
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Port:               8080,
			Host:               "0.0.0.0",
			Path:               "/ws",
			ReadLimit:          32 * 1024 * 1024,
			WriteTimeout:       10,
			ShutdownTimeout:    30,
			AllowedOrigins:     []string{},
			StartsPerMinute:    60,
			MaxPendingFinishes: 8,
		},
		Storage: StorageConfig{
			RawExtension:   ".webm",
			FinalExtension: ".mp4",
			FlushThreshold: 10 * 1024 * 1024,
		},
		Transcoder: TranscoderConfig{
			Binary:      "ffmpeg",
			VideoCodec:  "libx264",
			Preset:      "medium",
			CRF:         23,
			AudioCodec:  "aac",
			ExtraArgs:   []string{},
			Concurrency: 2,
			Timeout:     0,
			OutputLimit: 64 * 1024,
		},
		Catalog: CatalogConfig{
			Enabled: true,
		},
		Janitor: JanitorConfig{
			Enabled:     true,
			Schedule:    "@every 1m",
			IdleTimeout: 0,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    true,
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		DataDir: "",
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Gateway.Port < 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("invalid gateway port: %d", c.Gateway.Port)
	}
	if c.Storage.Root == "" {
		return fmt.Errorf("storage root is required")
	}
	if c.Storage.FlushThreshold <= 0 {
		return fmt.Errorf("storage flush_threshold must be positive")
	}
	if c.Transcoder.Binary == "" {
		return fmt.Errorf("transcoder binary is required")
	}
	if c.Transcoder.Concurrency < 1 {
		return fmt.Errorf("transcoder concurrency must be at least 1")
	}
	if c.Catalog.Enabled && c.Catalog.Path == "" {
		return fmt.Errorf("catalog path is required when the catalog is enabled")
	}
	if c.Janitor.IdleTimeout < 0 {
		return fmt.Errorf("janitor idle_timeout must be >= 0")
	}
	return nil
}
