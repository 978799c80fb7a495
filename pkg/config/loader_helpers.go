package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// loadAndMerge loads a YAML file and merges it into the config.
func loadAndMerge(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var override Config
	if err := yaml.Unmarshal(data, &override); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}

	mergeConfigs(cfg, &override, raw)
	return nil
}

// mergeConfigs merges override into base. Zero values only win when the key
// is present in raw.
func mergeConfigs(base, override *Config, raw map[string]any) {
	if override == nil {
		return
	}

	// Chaos
	if override.Chaos.Probability != nil {
		p := *override.Chaos.Probability
		base.Chaos.Probability = &p
	}
	if override.Chaos.Seed != nil {
		seed := *override.Chaos.Seed
		base.Chaos.Seed = &seed
	}
	if override.Chaos.Interval != 0 {
		base.Chaos.Interval = override.Chaos.Interval
	}
	if boolFieldSet(raw, "chaos", "include_hidden") {
		base.Chaos.IncludeHidden = override.Chaos.IncludeHidden
	}

	// Session
	if boolFieldSet(raw, "multiprocess") {
		base.Multiprocess = override.Multiprocess
	}
	if boolFieldSet(raw, "hard_fail") {
		base.HardFail = override.HardFail
	}
	if override.Viewport.Width != 0 {
		base.Viewport.Width = override.Viewport.Width
	}
	if override.Viewport.Height != 0 {
		base.Viewport.Height = override.Viewport.Height
	}
	if override.Viewport.DeviceScaleFactor != 0 {
		base.Viewport.DeviceScaleFactor = override.Viewport.DeviceScaleFactor
	}

	// Bus
	if override.Bus.URL != "" {
		base.Bus.URL = override.Bus.URL
	}
	if override.Bus.Name != "" {
		base.Bus.Name = override.Bus.Name
	}
	if override.Bus.Timeout != 0 {
		base.Bus.Timeout = override.Bus.Timeout
	}
	if override.Bus.Prefix != "" {
		base.Bus.Prefix = override.Bus.Prefix
	}

	// Content processes
	if override.Content.Binary != "" {
		base.Content.Binary = override.Content.Binary
	}
	if override.Content.Hosts != 0 {
		base.Content.Hosts = override.Content.Hosts
	}
	if boolFieldSet(raw, "content", "start_timeout") {
		base.Content.StartTimeout = override.Content.StartTimeout
	}
	if boolFieldSet(raw, "content", "stop_timeout") {
		base.Content.StopTimeout = override.Content.StopTimeout
	}

	// Pipelines
	if boolFieldSet(raw, "pipeline", "load_delay") {
		base.Pipeline.LoadDelay = override.Pipeline.LoadDelay
	}
	if override.Pipeline.AnimationInterval != 0 {
		base.Pipeline.AnimationInterval = override.Pipeline.AnimationInterval
	}
	if override.Pipeline.ExitTimeout != 0 {
		base.Pipeline.ExitTimeout = override.Pipeline.ExitTimeout
	}

	// Automation
	if boolFieldSet(raw, "automation", "enabled") {
		base.Automation.Enabled = override.Automation.Enabled
	}
	if override.Automation.Bind != "" {
		base.Automation.Bind = override.Automation.Bind
	}
	if override.Automation.ScreenshotRate != 0 {
		base.Automation.ScreenshotRate = override.Automation.ScreenshotRate
	}
	if override.Automation.ScreenshotBurst != 0 {
		base.Automation.ScreenshotBurst = override.Automation.ScreenshotBurst
	}
	if override.Automation.ScreenshotTimeout != 0 {
		base.Automation.ScreenshotTimeout = override.Automation.ScreenshotTimeout
	}

	// Observability
	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}
	if override.Logging.Format != "" {
		base.Logging.Format = override.Logging.Format
	}
	if override.Logging.Dir != "" {
		base.Logging.Dir = override.Logging.Dir
	}
	if boolFieldSet(raw, "tracing", "enabled") {
		base.Tracing.Enabled = override.Tracing.Enabled
	}
	if override.Tracing.Output != "" {
		base.Tracing.Output = override.Tracing.Output
	}
}

// boolFieldSet reports whether the key at path is present in raw, so that an
// explicit false or zero can override a default.
func boolFieldSet(raw map[string]any, path ...string) bool {
	if len(path) == 0 || raw == nil {
		return false
	}
	current := any(raw)
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return false
		}
		val, ok := m[key]
		if !ok {
			return false
		}
		current = val
	}
	return true
}
