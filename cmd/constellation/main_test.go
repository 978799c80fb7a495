package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/odvcencio/constellation/pkg/config"
	cerrors "github.com/odvcencio/constellation/pkg/errors"
)

func TestParseStartupOptions(t *testing.T) {
	opts, err := parseStartupOptions([]string{
		"-config", "/tmp/session.yaml",
		"-url", "about:blank",
		"-url", "about:blank?iframes=2",
		"-addr", "127.0.0.1:9999",
		"-duration", "3s",
	}, io.Discard)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/session.yaml", opts.configPath)
	assert.Equal(t, []string{"about:blank", "about:blank?iframes=2"}, opts.urls)
	assert.Equal(t, "127.0.0.1:9999", opts.addr)
	assert.Equal(t, 3*time.Second, opts.duration)
}

func TestParseStartupOptions_Usage(t *testing.T) {
	_, err := parseStartupOptions([]string{"-bogus"}, io.Discard)
	require.Error(t, err)
	assert.Equal(t, 2, exitCodeForError(err))

	_, err = parseStartupOptions([]string{"stray"}, io.Discard)
	assert.Equal(t, 2, exitCodeForError(err))

	_, err = parseStartupOptions([]string{"-url", " "}, io.Discard)
	assert.Error(t, err)

	_, err = parseStartupOptions([]string{"-h"}, io.Discard)
	assert.True(t, errors.Is(err, flag.ErrHelp))
}

func TestExitCodeForError(t *testing.T) {
	assert.Equal(t, 0, exitCodeForError(nil))
	assert.Equal(t, 1, exitCodeForError(errors.New("boom")))
	assert.Equal(t, 3, exitCodeForError(cerrors.New(cerrors.ErrCodeConfigInvalid, "bad")))
	assert.Equal(t, 4, exitCodeForError(cerrors.New(cerrors.ErrCodeDisconnected, "stuck")))
	assert.Equal(t, 7, exitCodeForError(withExitCode(errors.New("x"), 7)))
	assert.Nil(t, withExitCode(nil, 7))
}

func TestLoadConfig_AddrOverride(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "session.yaml")
	require.NoError(t, os.WriteFile(path, []byte("automation:\n  enabled: false\n"), 0o644))

	cfg, err := loadConfig(startupOptions{configPath: path, addr: "127.0.0.1:8123"})
	require.NoError(t, err)
	assert.True(t, cfg.Automation.Enabled)
	assert.Equal(t, "127.0.0.1:8123", cfg.Automation.Bind)

	_, err = loadConfig(startupOptions{configPath: filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Equal(t, 3, exitCodeForError(err))
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Viewport.Width, cfg.Viewport.Height = 64, 48
	cfg.Automation.Enabled = false
	cfg.HardFail = true
	cfg.Pipeline.LoadDelay = time.Millisecond
	cfg.Pipeline.AnimationInterval = 5 * time.Millisecond
	cfg.Pipeline.ExitTimeout = time.Second
	cfg.Content.StartTimeout = 2 * time.Second
	return cfg
}

func runFor(t *testing.T, cfg *config.Config, d time.Duration, urls ...string) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- runSession(ctx, cfg, urls, zap.NewNop()) }()
	select {
	case err := <-done:
		return err
	case <-time.After(d + 10*time.Second):
		t.Fatal("session did not return")
		return nil
	}
}

func TestRunSession_SingleProcess(t *testing.T) {
	err := runFor(t, testConfig(), 150*time.Millisecond, "about:blank?iframes=2&animate=1", "about:blank")
	assert.NoError(t, err)
}

func TestRunSession_InProcessContentHosts(t *testing.T) {
	cfg := testConfig()
	cfg.Multiprocess = true
	cfg.Content.Hosts = 2
	err := runFor(t, cfg, 200*time.Millisecond, "about:blank?iframes=1", "about:blank")
	assert.NoError(t, err)
}

func TestRunSession_WithChaos(t *testing.T) {
	cfg := testConfig()
	cfg.HardFail = false
	p, seed := 0.5, uint64(5)
	cfg.Chaos.Probability = &p
	cfg.Chaos.Seed = &seed
	cfg.Chaos.Interval = 5 * time.Millisecond
	err := runFor(t, cfg, 200*time.Millisecond, "about:blank?iframes=2", "about:blank?animate=1")
	assert.NoError(t, err)
}

func TestTraceWriter(t *testing.T) {
	w, closeFn, err := traceWriter(config.TracingConfig{Output: "stderr"})
	require.NoError(t, err)
	assert.Equal(t, os.Stderr, w)
	closeFn()

	w, closeFn, err = traceWriter(config.TracingConfig{Output: "/nonexistent/trace.jsonl"})
	require.NoError(t, err, "disabled tracing never opens the file")
	assert.Equal(t, io.Discard, w)
	closeFn()

	path := filepath.Join(t.TempDir(), "trace.jsonl")
	_, closeFn, err = traceWriter(config.TracingConfig{Enabled: true, Output: path})
	require.NoError(t, err)
	closeFn()
	assert.FileExists(t, path)
}
