package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/shlex"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateWatch(); err != nil {
		return err
	}
	if err := c.validateEncoder(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateStaging(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.InputDir) == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/tsmill/config.toml"
		}
		return fmt.Errorf("paths.input_dir is required. Set %s or edit %s (create with 'tsmill config init')", EnvInputDir, defaultPath)
	}
	if c.Paths.InputDir == c.Paths.StagingDir {
		return errors.New("paths.staging_dir must differ from paths.input_dir")
	}
	if c.Paths.OutputDir == c.Paths.StagingDir {
		return errors.New("paths.staging_dir must differ from paths.output_dir")
	}
	return nil
}

func (c *Config) validateWatch() error {
	if c.Watch.Suffix == "" {
		return errors.New("watch.suffix must be set")
	}
	if c.Watch.PollInterval < 1 {
		return errors.New("watch.poll_interval must be at least 1 second")
	}
	if c.Watch.SettlePolls < 0 {
		return errors.New("watch.settle_polls must be non-negative")
	}
	return nil
}

func (c *Config) validateEncoder() error {
	if c.Encoder.OutputExtension == "" {
		return errors.New("encoder.output_extension must be set")
	}
	if c.Encoder.VideoCodec == "" {
		return errors.New("encoder.video_codec must be set")
	}
	if c.Encoder.AudioCodec == "" {
		return errors.New("encoder.audio_codec must be set")
	}
	if c.Encoder.Quality < 0 {
		return errors.New("encoder.quality must be non-negative")
	}
	if c.Encoder.ExtraArgs != "" {
		if _, err := shlex.Split(c.Encoder.ExtraArgs); err != nil {
			return fmt.Errorf("encoder.extra_args: %w", err)
		}
	}
	if "."+c.Encoder.OutputExtension == c.Watch.Suffix && c.Paths.OutputDir == c.Paths.InputDir {
		return errors.New("paths.output_dir must differ from paths.input_dir when the output extension matches watch.suffix")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.MaxAttempts < 1 {
		return errors.New("workflow.max_attempts must be at least 1")
	}
	if c.Workflow.RetryDelaySeconds < 0 {
		return errors.New("workflow.retry_delay_seconds must be non-negative")
	}
	return nil
}

func (c *Config) validateStaging() error {
	if _, err := c.MinFreeBytes(); err != nil {
		return err
	}
	if c.Staging.RetentionHours < 0 {
		return errors.New("staging.retention_hours must be non-negative")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
