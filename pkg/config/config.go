package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/odvcencio/constellation/pkg/browser"
	"github.com/odvcencio/constellation/pkg/bus"
	"github.com/odvcencio/constellation/pkg/chaos"
	"github.com/odvcencio/constellation/pkg/errors"
	"github.com/odvcencio/constellation/pkg/logging"
	"github.com/odvcencio/constellation/pkg/pipeline"
)

// Default configuration values exported for documentation and validation
const (
	DefaultAutomationBind    = "127.0.0.1:7878"
	DefaultScreenshotRate    = 5.0
	DefaultScreenshotBurst   = 10
	DefaultScreenshotTimeout = 10 * time.Second

	configDirName = ".constellation"
)

// Config represents the complete session configuration
type Config struct {
	Chaos        chaos.Config           `yaml:"chaos"`
	Multiprocess bool                   `yaml:"multiprocess"`
	HardFail     bool                   `yaml:"hard_fail"`
	Viewport     browser.Viewport       `yaml:"viewport"`
	Bus          bus.Config             `yaml:"bus"`
	Content      pipeline.ContentConfig `yaml:"content"`
	Pipeline     pipeline.Config        `yaml:"pipeline"`
	Automation   AutomationConfig       `yaml:"automation"`
	Logging      logging.Options        `yaml:"logging"`
	Tracing      TracingConfig          `yaml:"tracing"`
}

// AutomationConfig controls the HTTP surface used by test harnesses.
type AutomationConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bind    string `yaml:"bind"`
	// ScreenshotRate and ScreenshotBurst shape the screenshot token bucket.
	ScreenshotRate    float64       `yaml:"screenshot_rate"`
	ScreenshotBurst   int           `yaml:"screenshot_burst"`
	ScreenshotTimeout time.Duration `yaml:"screenshot_timeout"`
}

// TracingConfig enables OpenTelemetry spans around screenshots and launches.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
	// Output is "stdout", "stderr" or a file path.
	Output string `yaml:"output"`
}

// DefaultConfig returns a single-process session with chaos disabled.
func DefaultConfig() *Config {
	return &Config{
		Chaos:    chaos.DefaultConfig(),
		Viewport: browser.DefaultViewport(),
		Bus:      bus.DefaultConfig(),
		Content:  pipeline.DefaultContentConfig(),
		Pipeline: pipeline.DefaultConfig(),
		Automation: AutomationConfig{
			Enabled:           true,
			Bind:              DefaultAutomationBind,
			ScreenshotRate:    DefaultScreenshotRate,
			ScreenshotBurst:   DefaultScreenshotBurst,
			ScreenshotTimeout: DefaultScreenshotTimeout,
		},
		Logging: logging.DefaultOptions(),
		Tracing: TracingConfig{Output: "stderr"},
	}
}

// Load reads defaults, then ~/.constellation/config.yaml, then
// ./.constellation/config.yaml, then CONSTELLATION_* environment variables.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configEnv := loadConfigEnvVars()

	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	if home != "" {
		userConfigPath := filepath.Join(home, configDirName, "config.yaml")
		if err := loadAndMerge(cfg, userConfigPath); err != nil && !os.IsNotExist(err) {
			return nil, errors.Wrap(err, errors.ErrCodeConfigLoad, "loading user config").
				WithContext("path", userConfigPath)
		}
	}

	projectConfigPath := filepath.Join(".", configDirName, "config.yaml")
	if err := loadAndMerge(cfg, projectConfigPath); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, errors.ErrCodeConfigLoad, "loading project config").
			WithContext("path", projectConfigPath)
	}

	if err := applyEnvOverrides(cfg, configEnv); err != nil {
		return nil, err
	}
	cfg.expandPaths()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file path
func LoadFromPath(path string) (*Config, error) {
	cfg := DefaultConfig()

	configEnv := loadConfigEnvVars()

	if err := loadAndMerge(cfg, path); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigLoad, "loading config").
			WithContext("path", path)
	}

	if err := applyEnvOverrides(cfg, configEnv); err != nil {
		return nil, err
	}
	cfg.expandPaths()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverridesForTest exposes env override logic for tests without file I/O.
func ApplyEnvOverridesForTest(cfg *Config) error {
	return applyEnvOverrides(cfg, nil)
}

func applyEnvOverrides(cfg *Config, configEnv map[string]string) error {
	lookup := func(key string) string {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
		return strings.TrimSpace(configEnv[key])
	}
	invalid := func(key, value string, err error) error {
		return errors.Wrap(err, errors.ErrCodeConfigInvalid, "invalid environment override").
			WithContext("variable", key).
			WithContext("value", value)
	}

	// Chaos
	if v := lookup("CONSTELLATION_CHAOS_PROBABILITY"); v != "" {
		p, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return invalid("CONSTELLATION_CHAOS_PROBABILITY", v, err)
		}
		cfg.Chaos.Probability = &p
	}
	if v := lookup("CONSTELLATION_CHAOS_SEED"); v != "" {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return invalid("CONSTELLATION_CHAOS_SEED", v, err)
		}
		cfg.Chaos.Seed = &seed
	}
	if v := lookup("CONSTELLATION_CHAOS_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return invalid("CONSTELLATION_CHAOS_INTERVAL", v, err)
		}
		cfg.Chaos.Interval = d
	}
	if val, ok := envBool("CONSTELLATION_CHAOS_INCLUDE_HIDDEN"); ok {
		cfg.Chaos.IncludeHidden = val
	}

	// Session
	if val, ok := envBool("CONSTELLATION_MULTIPROCESS"); ok {
		cfg.Multiprocess = val
	}
	if val, ok := envBool("CONSTELLATION_HARD_FAIL"); ok {
		cfg.HardFail = val
	}
	if v := lookup("CONSTELLATION_VIEWPORT"); v != "" {
		vp, err := parseViewport(v)
		if err != nil {
			return invalid("CONSTELLATION_VIEWPORT", v, err)
		}
		vp.DeviceScaleFactor = cfg.Viewport.DeviceScaleFactor
		cfg.Viewport = vp
	}
	if v := lookup("CONSTELLATION_EXIT_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return invalid("CONSTELLATION_EXIT_TIMEOUT", v, err)
		}
		cfg.Pipeline.ExitTimeout = d
	}

	// Bus and content processes
	if v := lookup("CONSTELLATION_NATS_URL"); v != "" {
		cfg.Bus.URL = v
	}
	if v := lookup("CONSTELLATION_BUS_PREFIX"); v != "" {
		cfg.Bus.Prefix = v
	}
	if v := lookup("CONSTELLATION_CONTENT_BINARY"); v != "" {
		cfg.Content.Binary = v
	}
	if v := lookup("CONSTELLATION_CONTENT_HOSTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return invalid("CONSTELLATION_CONTENT_HOSTS", v, err)
		}
		cfg.Content.Hosts = n
	}

	// Automation
	if val, ok := envBool("CONSTELLATION_AUTOMATION_ENABLED"); ok {
		cfg.Automation.Enabled = val
	}
	if v := lookup("CONSTELLATION_AUTOMATION_BIND"); v != "" {
		cfg.Automation.Bind = v
	}

	// Observability
	if v := lookup("CONSTELLATION_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := lookup("CONSTELLATION_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = logging.Format(v)
	}
	if v := lookup("CONSTELLATION_LOG_DIR"); v != "" {
		cfg.Logging.Dir = v
	}
	if val, ok := envBool("CONSTELLATION_TRACING"); ok {
		cfg.Tracing.Enabled = val
	}
	return nil
}

// parseViewport reads "WIDTHxHEIGHT".
func parseViewport(raw string) (browser.Viewport, error) {
	w, h, ok := strings.Cut(strings.ToLower(raw), "x")
	if !ok {
		return browser.Viewport{}, fmt.Errorf("expected WIDTHxHEIGHT, got %q", raw)
	}
	width, err := strconv.Atoi(strings.TrimSpace(w))
	if err != nil {
		return browser.Viewport{}, err
	}
	height, err := strconv.Atoi(strings.TrimSpace(h))
	if err != nil {
		return browser.Viewport{}, err
	}
	return browser.Viewport{Width: width, Height: height}, nil
}

func envBool(key string) (bool, bool) {
	val := os.Getenv(key)
	if val == "" {
		return false, false
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}

func isLoopbackBindAddress(addr string) bool {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return false
	}

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return false
	}
	switch strings.ToLower(host) {
	case "localhost":
		return true
	case "0.0.0.0", "::":
		return false
	default:
		ip := net.ParseIP(host)
		if ip == nil {
			return false
		}
		return ip.IsLoopback()
	}
}

// Validate reports the first setting that would keep a session from running.
func (c *Config) Validate() error {
	invalid := func(msg string) error {
		return errors.New(errors.ErrCodeConfigInvalid, msg)
	}

	if err := c.Chaos.Validate(); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigInvalid, "chaos")
	}
	if c.Viewport.Width <= 0 || c.Viewport.Height <= 0 {
		return invalid(fmt.Sprintf("viewport must be positive, got %dx%d", c.Viewport.Width, c.Viewport.Height))
	}
	if c.Viewport.DeviceScaleFactor < 0 {
		return invalid("viewport.device_scale_factor must be zero or positive")
	}

	if c.Pipeline.LoadDelay < 0 {
		return invalid("pipeline.load_delay must be zero or positive")
	}
	if c.Pipeline.AnimationInterval <= 0 {
		return invalid("pipeline.animation_interval must be greater than zero")
	}
	if c.Pipeline.ExitTimeout <= 0 {
		return invalid("pipeline.exit_timeout must be greater than zero")
	}

	if c.Bus.Timeout <= 0 {
		return invalid("bus.timeout must be greater than zero")
	}
	if c.Multiprocess {
		if strings.TrimSpace(c.Bus.Prefix) == "" {
			return invalid("bus.prefix is required in multiprocess mode")
		}
		if err := c.Content.Validate(); err != nil {
			return errors.Wrap(err, errors.ErrCodeConfigInvalid, "content")
		}
	}

	if c.Automation.Enabled {
		if strings.TrimSpace(c.Automation.Bind) == "" {
			return invalid("automation.bind is required when automation is enabled")
		}
		if c.Automation.ScreenshotRate <= 0 {
			return invalid("automation.screenshot_rate must be greater than zero")
		}
		if c.Automation.ScreenshotBurst <= 0 {
			return invalid("automation.screenshot_burst must be greater than zero")
		}
		if c.Automation.ScreenshotTimeout <= 0 {
			return invalid("automation.screenshot_timeout must be greater than zero")
		}
	}

	switch c.Logging.Format {
	case "", logging.FormatJSON, logging.FormatConsole:
	default:
		return invalid(fmt.Sprintf("logging.format must be %q or %q", logging.FormatJSON, logging.FormatConsole))
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Level)) {
	case "", "debug", "info", "warn", "error":
	default:
		return invalid(fmt.Sprintf("unknown logging.level %q", c.Logging.Level))
	}
	return nil
}

// ValidationWarnings returns settings that are legal but probably unintended.
func (c *Config) ValidationWarnings() []string {
	var warnings []string

	if c.Automation.Enabled && !isLoopbackBindAddress(c.Automation.Bind) {
		warnings = append(warnings, fmt.Sprintf("SECURITY: automation API binds %s, which is reachable from other hosts.", c.Automation.Bind))
	}
	if c.Chaos.Probability != nil && c.Chaos.Seed == nil {
		warnings = append(warnings, "WARNING: chaos is enabled without a seed. The drawn seed is logged at start-up; set chaos.seed to replay the run.")
	}
	if c.Chaos.Probability != nil && c.HardFail {
		warnings = append(warnings, "WARNING: hard_fail is enabled together with chaos. Any invariant violation chaos uncovers aborts the session.")
	}
	if c.Multiprocess && strings.TrimSpace(c.Bus.URL) == "" {
		warnings = append(warnings, "WARNING: multiprocess is enabled without bus.url. Content hosts run in-process over the memory bus.")
	}
	if c.Pipeline.ExitTimeout > time.Minute {
		warnings = append(warnings, fmt.Sprintf("WARNING: pipeline.exit_timeout is %s. A hung pipeline delays shutdown by that long.", c.Pipeline.ExitTimeout))
	}
	return warnings
}

func (c *Config) expandPaths() {
	c.Logging.Dir = expandHomeDir(c.Logging.Dir)
	if strings.ContainsRune(c.Content.Binary, os.PathSeparator) {
		c.Content.Binary = expandHomeDir(c.Content.Binary)
	}
	if out := c.Tracing.Output; out != "stdout" && out != "stderr" {
		c.Tracing.Output = expandHomeDir(out)
	}
}

// loadConfigEnvVars reads KEY=VALUE lines from ~/.constellation/config.env.
func loadConfigEnvVars() map[string]string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return nil
	}

	path := filepath.Join(home, configDirName, "config.env")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	vars := make(map[string]string)
	lines := strings.Split(string(data), "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		line = strings.TrimSpace(line)
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		value = strings.Trim(value, "\"'")
		vars[key] = value
	}
	return vars
}
