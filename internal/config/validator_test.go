package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatePort(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidatePort(0))
	assert.NoError(t, v.ValidatePort(8080))
	assert.Error(t, v.ValidatePort(-1))
	assert.Error(t, v.ValidatePort(65536))
}

func TestValidatePath(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidatePath(""))
	assert.NoError(t, v.ValidatePath("/ingest"))
	assert.Error(t, v.ValidatePath("ingest"))
}

func TestValidateExtension(t *testing.T) {
	v := NewValidator()

	t.Run("valid extensions", func(t *testing.T) {
		for _, ext := range []string{".webm", ".mp4", ".mkv"} {
			assert.NoError(t, v.ValidateExtension(ext))
		}
	})

	t.Run("invalid extensions", func(t *testing.T) {
		for _, ext := range []string{"", "webm", "./webm", `.a\b`} {
			assert.Error(t, v.ValidateExtension(ext), ext)
		}
	})
}

func TestValidateFlushThreshold(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateFlushThreshold(10*1024*1024))
	assert.Error(t, v.ValidateFlushThreshold(1024))
	assert.Error(t, v.ValidateFlushThreshold(1024*1024*1024))
}

func TestValidateEncoderSettings(t *testing.T) {
	v := NewValidator()

	t.Run("crf", func(t *testing.T) {
		assert.NoError(t, v.ValidateCRF(0))
		assert.NoError(t, v.ValidateCRF(23))
		assert.NoError(t, v.ValidateCRF(51))
		assert.Error(t, v.ValidateCRF(52))
		assert.Error(t, v.ValidateCRF(-1))
	})

	t.Run("preset", func(t *testing.T) {
		assert.NoError(t, v.ValidatePreset("medium"))
		assert.NoError(t, v.ValidatePreset("veryfast"))
		assert.Error(t, v.ValidatePreset("warp"))
		assert.Error(t, v.ValidatePreset(""))
	})
}

func TestValidateSchedule(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateSchedule(""))
	assert.NoError(t, v.ValidateSchedule("@every 1m"))
	assert.NoError(t, v.ValidateSchedule("*/5 * * * *"))
	assert.Error(t, v.ValidateSchedule("every minute"))
}

func TestValidateLogLevel(t *testing.T) {
	v := NewValidator()

	t.Run("valid levels", func(t *testing.T) {
		for _, level := range []string{"debug", "info", "warn", "error"} {
			assert.NoError(t, v.ValidateLogLevel(level))
		}
	})

	t.Run("invalid level", func(t *testing.T) {
		assert.Error(t, v.ValidateLogLevel("verbose"))
	})
}

func TestValidateConfig(t *testing.T) {
	v := NewValidator()

	t.Run("valid config", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Storage.Root = "/srv/recordings"
		assert.Empty(t, v.ValidateConfig(cfg))
	})

	t.Run("collects every problem", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Storage.Root = "relative/dir"
		cfg.Storage.FinalExtension = ".webm"
		cfg.Transcoder.CRF = 99
		cfg.Transcoder.Preset = "warp"
		cfg.Janitor.Schedule = "sometimes"
		cfg.Logging.Level = "verbose"

		errs := v.ValidateConfig(cfg)
		assert.Len(t, errs, 6)
	})

	t.Run("disabled janitor schedule is not checked", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Janitor.Enabled = false
		cfg.Janitor.Schedule = "sometimes"
		assert.Empty(t, v.ValidateConfig(cfg))
	})
}
