package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/constellation/pkg/config"
	"github.com/odvcencio/constellation/pkg/errors"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()

	require.NoError(t, cfg.Validate())
	assert.Nil(t, cfg.Chaos.Probability, "chaos is off by default")
	assert.False(t, cfg.Multiprocess)
	assert.False(t, cfg.HardFail)
	assert.Equal(t, 1280, cfg.Viewport.Width)
	assert.Equal(t, 720, cfg.Viewport.Height)
	assert.Equal(t, config.DefaultAutomationBind, cfg.Automation.Bind)
	assert.Empty(t, cfg.ValidationWarnings())
}

func TestLoadHierarchy(t *testing.T) {
	home := t.TempDir()
	project := t.TempDir()
	t.Setenv("HOME", home)

	writeFile(t, filepath.Join(home, ".constellation", "config.yaml"), `
viewport:
  width: 800
  height: 600
chaos:
  probability: 0.1
  seed: 7
pipeline:
  exit_timeout: 2s
`)
	writeFile(t, filepath.Join(project, ".constellation", "config.yaml"), `
viewport:
  width: 1024
chaos:
  interval: 250ms
hard_fail: true
`)
	t.Chdir(project)
	t.Setenv("CONSTELLATION_LOG_LEVEL", "debug")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 1024, cfg.Viewport.Width, "project overrides user")
	assert.Equal(t, 600, cfg.Viewport.Height, "user value survives")
	require.NotNil(t, cfg.Chaos.Probability)
	assert.InDelta(t, 0.1, *cfg.Chaos.Probability, 1e-9)
	require.NotNil(t, cfg.Chaos.Seed)
	assert.Equal(t, uint64(7), *cfg.Chaos.Seed)
	assert.Equal(t, 250*time.Millisecond, cfg.Chaos.Interval)
	assert.Equal(t, 2*time.Second, cfg.Pipeline.ExitTimeout)
	assert.True(t, cfg.HardFail)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadWithoutFiles(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig(), cfg)
}

func TestLoadFromPath(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "session.yaml")
	writeFile(t, path, `
multiprocess: true
bus:
  url: nats://127.0.0.1:4222
  prefix: ci
content:
  binary: /usr/local/bin/constellation-content
  hosts: 3
automation:
  bind: 0.0.0.0:9000
`)

	cfg, err := config.LoadFromPath(path)
	require.NoError(t, err)

	assert.True(t, cfg.Multiprocess)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.Bus.URL)
	assert.Equal(t, "ci", cfg.Bus.Prefix)
	assert.Equal(t, 3, cfg.Content.Hosts)
	assert.Contains(t, cfg.ValidationWarnings()[0], "0.0.0.0:9000")
}

func TestLoadFromPath_Missing(t *testing.T) {
	_, err := config.LoadFromPath(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeConfigLoad))
}

func TestLoadFromPath_Malformed(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "bad.yaml")
	writeFile(t, path, "viewport: [1, 2\n")

	_, err := config.LoadFromPath(path)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeConfigLoad))
}

func TestLoadFromPath_ExplicitFalseOverridesDefault(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "session.yaml")
	writeFile(t, path, `
chaos:
  include_hidden: false
automation:
  enabled: false
pipeline:
  load_delay: 0s
`)

	cfg, err := config.LoadFromPath(path)
	require.NoError(t, err)
	assert.False(t, cfg.Chaos.IncludeHidden)
	assert.False(t, cfg.Automation.Enabled)
	assert.Zero(t, cfg.Pipeline.LoadDelay)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CONSTELLATION_CHAOS_PROBABILITY", "0.25")
	t.Setenv("CONSTELLATION_CHAOS_SEED", "42")
	t.Setenv("CONSTELLATION_CHAOS_INCLUDE_HIDDEN", "off")
	t.Setenv("CONSTELLATION_VIEWPORT", "640x480")
	t.Setenv("CONSTELLATION_MULTIPROCESS", "yes")
	t.Setenv("CONSTELLATION_NATS_URL", "nats://bus:4222")
	t.Setenv("CONSTELLATION_CONTENT_HOSTS", "4")
	t.Setenv("CONSTELLATION_EXIT_TIMEOUT", "750ms")
	t.Setenv("CONSTELLATION_LOG_FORMAT", "console")

	cfg := config.DefaultConfig()
	require.NoError(t, config.ApplyEnvOverridesForTest(cfg))

	require.NotNil(t, cfg.Chaos.Probability)
	assert.InDelta(t, 0.25, *cfg.Chaos.Probability, 1e-9)
	assert.Equal(t, uint64(42), *cfg.Chaos.Seed)
	assert.False(t, cfg.Chaos.IncludeHidden)
	assert.Equal(t, 640, cfg.Viewport.Width)
	assert.Equal(t, 480, cfg.Viewport.Height)
	assert.InDelta(t, 1.0, cfg.Viewport.DeviceScaleFactor, 1e-9, "scale factor kept")
	assert.True(t, cfg.Multiprocess)
	assert.Equal(t, "nats://bus:4222", cfg.Bus.URL)
	assert.Equal(t, 4, cfg.Content.Hosts)
	assert.Equal(t, 750*time.Millisecond, cfg.Pipeline.ExitTimeout)
	assert.EqualValues(t, "console", cfg.Logging.Format)
	require.NoError(t, cfg.Validate())
}

func TestEnvOverrides_Invalid(t *testing.T) {
	for key, value := range map[string]string{
		"CONSTELLATION_CHAOS_PROBABILITY": "often",
		"CONSTELLATION_CHAOS_SEED":        "-1",
		"CONSTELLATION_VIEWPORT":          "wide",
		"CONSTELLATION_CONTENT_HOSTS":     "many",
	} {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			err := config.ApplyEnvOverridesForTest(config.DefaultConfig())
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.ErrCodeConfigInvalid))
		})
	}
}

func TestConfigEnvFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Chdir(t.TempDir())
	writeFile(t, filepath.Join(home, ".constellation", "config.env"), `
# session defaults
export CONSTELLATION_CHAOS_PROBABILITY=0.5
CONSTELLATION_CHAOS_SEED="9"
`)

	cfg, err := config.Load()
	require.NoError(t, err)
	require.NotNil(t, cfg.Chaos.Probability)
	assert.InDelta(t, 0.5, *cfg.Chaos.Probability, 1e-9)
	assert.Equal(t, uint64(9), *cfg.Chaos.Seed)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"probability above one", func(c *config.Config) { p := 1.5; c.Chaos.Probability = &p }},
		{"zero chaos interval", func(c *config.Config) { p := 0.5; c.Chaos.Probability = &p; c.Chaos.Interval = 0 }},
		{"empty viewport", func(c *config.Config) { c.Viewport.Width = 0 }},
		{"zero exit timeout", func(c *config.Config) { c.Pipeline.ExitTimeout = 0 }},
		{"zero animation interval", func(c *config.Config) { c.Pipeline.AnimationInterval = 0 }},
		{"multiprocess without binary", func(c *config.Config) { c.Multiprocess = true; c.Content.Binary = "" }},
		{"multiprocess without prefix", func(c *config.Config) { c.Multiprocess = true; c.Bus.Prefix = "" }},
		{"automation without bind", func(c *config.Config) { c.Automation.Bind = "" }},
		{"zero screenshot rate", func(c *config.Config) { c.Automation.ScreenshotRate = 0 }},
		{"unknown log format", func(c *config.Config) { c.Logging.Format = "xml" }},
		{"unknown log level", func(c *config.Config) { c.Logging.Level = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.ErrCodeConfigInvalid), "got %v", err)
		})
	}
}

func TestValidate_AutomationDisabledSkipsBind(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Automation.Enabled = false
	cfg.Automation.Bind = ""
	assert.NoError(t, cfg.Validate())
}

func TestValidationWarnings(t *testing.T) {
	cfg := config.DefaultConfig()
	p := 0.3
	cfg.Chaos.Probability = &p
	cfg.HardFail = true
	cfg.Multiprocess = true

	warnings := cfg.ValidationWarnings()
	require.Len(t, warnings, 3)
	assert.Contains(t, warnings[0], "without a seed")
	assert.Contains(t, warnings[1], "hard_fail")
	assert.Contains(t, warnings[2], "memory bus")
}

func TestResolveLogDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg := config.DefaultConfig()
	assert.Empty(t, config.ResolveLogDir(cfg))
	assert.Empty(t, config.ResolveLogDir(nil))

	cfg.Logging.Dir = "~/logs"
	assert.Equal(t, filepath.Join(home, "logs"), config.ResolveLogDir(cfg))
}
