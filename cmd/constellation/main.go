package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/odvcencio/constellation/pkg/config"
	"github.com/odvcencio/constellation/pkg/logging"
	"github.com/odvcencio/constellation/pkg/telemetry"
)

// Version information - set via ldflags during build
var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

type urlList []string

func (u *urlList) String() string { return strings.Join(*u, ",") }

func (u *urlList) Set(v string) error {
	v = strings.TrimSpace(v)
	if v == "" {
		return errors.New("empty url")
	}
	*u = append(*u, v)
	return nil
}

type startupOptions struct {
	configPath string
	urls       []string
	addr       string
	duration   time.Duration
	version    bool
}

func parseStartupOptions(args []string, stderr io.Writer) (startupOptions, error) {
	var opts startupOptions
	var urls urlList
	fs := flag.NewFlagSet("constellation", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.configPath, "config", "", "Path to config file (default: ~/.constellation/config.yaml then ./.constellation/config.yaml)")
	fs.Var(&urls, "url", "Open a webview on this URL at start-up (repeatable)")
	fs.StringVar(&opts.addr, "addr", "", "Override automation.bind")
	fs.DurationVar(&opts.duration, "duration", 0, "Exit after this long (0 runs until interrupted)")
	fs.BoolVar(&opts.version, "version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return opts, withExitCode(err, 2)
	}
	if fs.NArg() > 0 {
		return opts, withExitCode(fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " ")), 2)
	}
	opts.urls = urls
	return opts, nil
}

func loadConfig(opts startupOptions) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.configPath != "" {
		cfg, err = config.LoadFromPath(opts.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, withExitCode(err, 3)
	}
	if opts.addr != "" {
		cfg.Automation.Bind = opts.addr
		cfg.Automation.Enabled = true
		if err := cfg.Validate(); err != nil {
			return nil, withExitCode(err, 3)
		}
	}
	return cfg, nil
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	opts, err := parseStartupOptions(args, os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return exitCodeForError(err)
	}
	if opts.version {
		fmt.Printf("constellation %s (%s)\n", version, commit)
		return 0
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitCodeForError(err)
	}

	logOpts := cfg.Logging
	logOpts.Dir = config.ResolveLogDir(cfg)
	log, err := logging.New(logOpts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer func() { _ = log.Sync() }()
	for _, w := range cfg.ValidationWarnings() {
		log.Warn(w)
	}

	traceOut, closeTrace, err := traceWriter(cfg.Tracing)
	if err != nil {
		log.Error("opening trace output failed", zap.Error(err))
		return 1
	}
	defer closeTrace()
	tracer, err := telemetry.NewTracerProvider("constellation", cfg.Tracing.Enabled, traceOut)
	if err != nil {
		log.Error("starting tracer failed", zap.Error(err))
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracer.Shutdown(ctx)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.duration)
		defer cancel()
	}

	log.Info("starting session",
		zap.String("version", version),
		zap.Bool("multiprocess", cfg.Multiprocess),
		zap.Bool("hard_fail", cfg.HardFail),
		zap.Strings("urls", opts.urls),
	)
	if err := runSession(ctx, cfg, opts.urls, log); err != nil {
		log.Error("session failed", zap.Error(err))
		return exitCodeForError(err)
	}
	return 0
}

func traceWriter(cfg config.TracingConfig) (io.Writer, func(), error) {
	switch cfg.Output {
	case "", "stderr":
		return os.Stderr, func() {}, nil
	case "stdout":
		return os.Stdout, func() {}, nil
	}
	if !cfg.Enabled {
		return io.Discard, func() {}, nil
	}
	f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}
