package config

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/robfig/cron/v3"
)

var presetPattern = regexp.MustCompile(`^(ultrafast|superfast|veryfast|faster|fast|medium|slow|slower|veryslow|placebo)$`)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidatePort validates a listen port
func (v *Validator) ValidatePort(port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535, got %d", port)
	}
	return nil
}

// ValidatePath validates the upgrade endpoint path
func (v *Validator) ValidatePath(path string) error {
	if path == "" {
		return nil // Use default
	}
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("gateway path must start with /, got %q", path)
	}
	return nil
}

// ValidateExtension validates an artifact file extension
func (v *Validator) ValidateExtension(ext string) error {
	if ext == "" {
		return fmt.Errorf("extension cannot be empty")
	}
	if !strings.HasPrefix(ext, ".") || strings.ContainsAny(ext, `/\`) {
		return fmt.Errorf("invalid extension %q (must look like .webm)", ext)
	}
	return nil
}

// ValidateFlushThreshold validates the buffer flush threshold
func (v *Validator) ValidateFlushThreshold(bytes int) error {
	if bytes < 64*1024 {
		return fmt.Errorf("flush threshold too small (min 65536), got %d", bytes)
	}
	if bytes > 512*1024*1024 {
		return fmt.Errorf("flush threshold too large (max 536870912), got %d", bytes)
	}
	return nil
}

// ValidateCRF validates an x264 constant rate factor
func (v *Validator) ValidateCRF(crf int) error {
	if crf < 0 || crf > 51 {
		return fmt.Errorf("crf must be between 0 and 51, got %d", crf)
	}
	return nil
}

// ValidatePreset validates an encoder speed preset
func (v *Validator) ValidatePreset(preset string) error {
	if !presetPattern.MatchString(preset) {
		return fmt.Errorf("invalid encoder preset: %s", preset)
	}
	return nil
}

// ValidateSchedule validates a janitor cron schedule
func (v *Validator) ValidateSchedule(schedule string) error {
	if schedule == "" {
		return nil // Use default
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid janitor schedule: %w", err)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	// Gateway
	if err := v.ValidatePort(cfg.Gateway.Port); err != nil {
		errors = append(errors, fmt.Errorf("gateway: %w", err))
	}
	if err := v.ValidatePath(cfg.Gateway.Path); err != nil {
		errors = append(errors, err)
	}
	if cfg.Gateway.ReadLimit < 0 {
		errors = append(errors, fmt.Errorf("gateway read_limit must be >= 0"))
	}
	if cfg.Gateway.WriteTimeout < 0 {
		errors = append(errors, fmt.Errorf("gateway write_timeout must be >= 0"))
	}
	if cfg.Gateway.ShutdownTimeout < 0 {
		errors = append(errors, fmt.Errorf("gateway shutdown_timeout must be >= 0"))
	}

	// Storage
	if cfg.Storage.Root != "" && !filepath.IsAbs(cfg.Storage.Root) {
		errors = append(errors, fmt.Errorf("storage root must be an absolute path, got %q", cfg.Storage.Root))
	}
	if err := v.ValidateExtension(cfg.Storage.RawExtension); err != nil {
		errors = append(errors, fmt.Errorf("storage raw_extension: %w", err))
	}
	if err := v.ValidateExtension(cfg.Storage.FinalExtension); err != nil {
		errors = append(errors, fmt.Errorf("storage final_extension: %w", err))
	}
	if cfg.Storage.RawExtension != "" && cfg.Storage.RawExtension == cfg.Storage.FinalExtension {
		errors = append(errors, fmt.Errorf("storage raw and final extensions must differ"))
	}
	if err := v.ValidateFlushThreshold(cfg.Storage.FlushThreshold); err != nil {
		errors = append(errors, err)
	}

	// Transcoder
	if strings.TrimSpace(cfg.Transcoder.Binary) == "" {
		errors = append(errors, fmt.Errorf("transcoder binary is required"))
	}
	if err := v.ValidateCRF(cfg.Transcoder.CRF); err != nil {
		errors = append(errors, fmt.Errorf("transcoder: %w", err))
	}
	if err := v.ValidatePreset(cfg.Transcoder.Preset); err != nil {
		errors = append(errors, fmt.Errorf("transcoder: %w", err))
	}
	if cfg.Transcoder.Concurrency < 1 {
		errors = append(errors, fmt.Errorf("transcoder concurrency must be >= 1"))
	}
	if cfg.Transcoder.Timeout < 0 {
		errors = append(errors, fmt.Errorf("transcoder timeout must be >= 0"))
	}
	if cfg.Transcoder.OutputLimit < 0 {
		errors = append(errors, fmt.Errorf("transcoder output_limit must be >= 0"))
	}

	// Janitor
	if cfg.Janitor.Enabled {
		if err := v.ValidateSchedule(cfg.Janitor.Schedule); err != nil {
			errors = append(errors, err)
		}
	}
	if cfg.Janitor.IdleTimeout < 0 {
		errors = append(errors, fmt.Errorf("janitor idle_timeout must be >= 0"))
	}

	// Validate logging
	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	return errors
}
