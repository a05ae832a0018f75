package config

import (
	"fmt"
	"os"
	"strings"
)

// Environment variables that override file values. They are applied before
// normalization so they receive the same path expansion.
const (
	EnvInputDir   = "TSMILL_INPUT_DIR"
	EnvOutputDir  = "TSMILL_OUTPUT_DIR"
	EnvStagingDir = "TSMILL_STAGING_DIR"
	EnvLogLevel   = "TSMILL_LOG_LEVEL"
)

func (c *Config) applyEnv() {
	if value, ok := lookupEnv(EnvInputDir); ok {
		c.Paths.InputDir = value
	}
	if value, ok := lookupEnv(EnvOutputDir); ok {
		c.Paths.OutputDir = value
	}
	if value, ok := lookupEnv(EnvStagingDir); ok {
		c.Paths.StagingDir = value
	}
	if value, ok := lookupEnv(EnvLogLevel); ok {
		c.Logging.Level = value
	}
}

func lookupEnv(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeWatch()
	c.normalizeEncoder()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.InputDir, err = expandPath(strings.TrimSpace(c.Paths.InputDir)); err != nil {
		return fmt.Errorf("paths.input_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.OutputDir) == "" {
		c.Paths.OutputDir = defaultOutputDir
	}
	if c.Paths.OutputDir, err = expandPath(strings.TrimSpace(c.Paths.OutputDir)); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StagingDir) == "" {
		c.Paths.StagingDir = defaultStagingDir
	}
	if c.Paths.StagingDir, err = expandPath(strings.TrimSpace(c.Paths.StagingDir)); err != nil {
		return fmt.Errorf("paths.staging_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(strings.TrimSpace(c.Paths.LogDir)); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeWatch() {
	suffix := strings.ToLower(strings.TrimSpace(c.Watch.Suffix))
	if suffix != "" && !strings.HasPrefix(suffix, ".") {
		suffix = "." + suffix
	}
	c.Watch.Suffix = suffix
}

func (c *Config) normalizeEncoder() {
	c.Encoder.Binary = strings.TrimSpace(c.Encoder.Binary)
	if c.Encoder.Binary == "" {
		c.Encoder.Binary = defaultFFmpegBinary
	}
	c.Encoder.VideoCodec = strings.TrimSpace(c.Encoder.VideoCodec)
	c.Encoder.Preset = strings.TrimSpace(c.Encoder.Preset)
	c.Encoder.RateControl = strings.TrimSpace(c.Encoder.RateControl)
	c.Encoder.VideoFilter = strings.TrimSpace(c.Encoder.VideoFilter)
	c.Encoder.AudioCodec = strings.TrimSpace(c.Encoder.AudioCodec)
	c.Encoder.AudioBitrate = strings.TrimSpace(c.Encoder.AudioBitrate)
	c.Encoder.ExtraArgs = strings.TrimSpace(c.Encoder.ExtraArgs)
	c.Encoder.OutputExtension = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(c.Encoder.OutputExtension)), ".")
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
