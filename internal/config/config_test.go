package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"tsmill/internal/config"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{config.EnvInputDir, config.EnvOutputDir, config.EnvStagingDir, config.EnvLogLevel} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	clearEnv(t)
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantStaging := filepath.Join(tempHome, ".local", "share", "tsmill", "staging")
	if cfg.Paths.StagingDir != wantStaging {
		t.Fatalf("unexpected staging dir: got %q want %q", cfg.Paths.StagingDir, wantStaging)
	}
	if cfg.Paths.InputDir != filepath.Join(tempHome, "tsmill", "input") {
		t.Fatalf("unexpected input dir: %q", cfg.Paths.InputDir)
	}
	if cfg.Watch.Suffix != ".ts" {
		t.Fatalf("unexpected suffix: %q", cfg.Watch.Suffix)
	}
	if cfg.PollInterval() != 10*time.Second {
		t.Fatalf("unexpected poll interval: %s", cfg.PollInterval())
	}
	if cfg.Workflow.MaxAttempts != 3 {
		t.Fatalf("unexpected max attempts: %d", cfg.Workflow.MaxAttempts)
	}
	if cfg.RetryDelay() != 2*time.Minute {
		t.Fatalf("unexpected retry delay: %s", cfg.RetryDelay())
	}
	if cfg.Watch.SettlePolls != 1 {
		t.Fatalf("unexpected settle polls: %d", cfg.Watch.SettlePolls)
	}
	if cfg.Encoder.OutputExtension != "mp4" {
		t.Fatalf("unexpected output extension: %q", cfg.Encoder.OutputExtension)
	}
	if !cfg.History.Enabled {
		t.Fatal("expected history enabled by default")
	}
}

func TestLoadCustomConfigOverrides(t *testing.T) {
	clearEnv(t)
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	configPath := filepath.Join(tempHome, "config.toml")
	payload := map[string]any{
		"paths": map[string]any{
			"input_dir":   "~/feed",
			"output_dir":  "~/feed/out",
			"staging_dir": "~/scratch",
		},
		"watch": map[string]any{
			"suffix":        "TS",
			"poll_interval": 3,
		},
		"encoder": map[string]any{
			"output_extension": ".MKV",
			"extra_args":       `-metadata title="From Feed"`,
		},
		"workflow": map[string]any{
			"max_attempts": 1,
		},
		"staging": map[string]any{
			"min_free_space": "2GB",
		},
	}
	data, err := toml.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("expected config at %q, got %q (exists=%v)", configPath, resolved, exists)
	}
	if cfg.Paths.InputDir != filepath.Join(tempHome, "feed") {
		t.Fatalf("unexpected input dir: %q", cfg.Paths.InputDir)
	}
	if cfg.Watch.Suffix != ".ts" {
		t.Fatalf("expected suffix normalized to .ts, got %q", cfg.Watch.Suffix)
	}
	if cfg.Encoder.OutputExtension != "mkv" {
		t.Fatalf("expected extension normalized to mkv, got %q", cfg.Encoder.OutputExtension)
	}
	if cfg.Workflow.MaxAttempts != 1 {
		t.Fatalf("unexpected max attempts: %d", cfg.Workflow.MaxAttempts)
	}
	free, err := cfg.MinFreeBytes()
	if err != nil {
		t.Fatalf("MinFreeBytes: %v", err)
	}
	if free != 2*1024*1024*1024 {
		t.Fatalf("unexpected min free bytes: %d", free)
	}
}

func TestLoadAppliesEnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	inputDir := filepath.Join(tempHome, "incoming")
	t.Setenv(config.EnvInputDir, inputDir)
	t.Setenv(config.EnvLogLevel, "DEBUG")

	cfg, _, _, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Paths.InputDir != inputDir {
		t.Fatalf("expected env input dir, got %q", cfg.Paths.InputDir)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("expected env log level, got %q", cfg.Logging.Level)
	}
}

func TestValidateRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"zero attempts", func(c *config.Config) { c.Workflow.MaxAttempts = 0 }, "max_attempts"},
		{"zero poll", func(c *config.Config) { c.Watch.PollInterval = 0 }, "poll_interval"},
		{"negative settle", func(c *config.Config) { c.Watch.SettlePolls = -1 }, "settle_polls"},
		{"empty suffix", func(c *config.Config) { c.Watch.Suffix = "" }, "watch.suffix"},
		{"empty extension", func(c *config.Config) { c.Encoder.OutputExtension = "" }, "output_extension"},
		{"bad size", func(c *config.Config) { c.Staging.MinFreeSpace = "lots" }, "min_free_space"},
		{"bad extra args", func(c *config.Config) { c.Encoder.ExtraArgs = `-metadata "unterminated` }, "extra_args"},
		{"bad format", func(c *config.Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"staging equals input", func(c *config.Config) { c.Paths.StagingDir = c.Paths.InputDir }, "staging_dir"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Paths.InputDir = "/srv/feed"
			cfg.Paths.OutputDir = "/srv/out"
			cfg.Paths.StagingDir = "/srv/staging"
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestEnsureDirectoriesCreatesWorkingAreas(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.InputDir = filepath.Join(base, "input")
	cfg.Paths.OutputDir = filepath.Join(base, "output")
	cfg.Paths.StagingDir = filepath.Join(base, "staging")
	cfg.Paths.LogDir = filepath.Join(base, "logs")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, dir := range []string{cfg.Paths.OutputDir, cfg.Paths.StagingDir, cfg.Paths.LogDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s to exist", dir)
		}
	}
	if _, err := os.Stat(cfg.Paths.InputDir); !os.IsNotExist(err) {
		t.Fatalf("input dir should not be created, stat err=%v", err)
	}
}

func TestCreateSampleIsLoadable(t *testing.T) {
	clearEnv(t)
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	path := filepath.Join(tempHome, "nested", "config.toml")

	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load sample: %v", err)
	}
	if !exists {
		t.Fatal("expected sample to exist")
	}
	if cfg.Encoder.VideoCodec != "h264_nvenc" {
		t.Fatalf("unexpected sample codec: %q", cfg.Encoder.VideoCodec)
	}
}

func TestRuntimeFilesLiveInLogDir(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = "/var/lib/tsmill/logs"
	for name, got := range map[string]string{
		"tsmill.lock": cfg.LockPath(),
		"tsmill.pid":  cfg.PIDPath(),
		"history.db":  cfg.HistoryPath(),
	} {
		if want := filepath.Join(cfg.Paths.LogDir, name); got != want {
			t.Fatalf("got %q, want %q", got, want)
		}
	}
}
