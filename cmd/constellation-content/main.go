// Command constellation-content hosts pipelines for a multiprocess session.
// It is started by the session process with -host and reached over NATS.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/odvcencio/constellation/pkg/bus"
	"github.com/odvcencio/constellation/pkg/config"
	"github.com/odvcencio/constellation/pkg/logging"
	"github.com/odvcencio/constellation/pkg/pipeline"
	"github.com/odvcencio/constellation/pkg/protocol"
)

type hostOptions struct {
	host       string
	natsURL    string
	prefix     string
	configPath string
}

func parseHostOptions(args []string) (hostOptions, error) {
	var opts hostOptions
	fs := flag.NewFlagSet("constellation-content", flag.ContinueOnError)
	fs.StringVar(&opts.host, "host", "", "Host id assigned by the session (required)")
	fs.StringVar(&opts.natsURL, "nats", "", "NATS URL of the session bus (required)")
	fs.StringVar(&opts.prefix, "prefix", "", "Bus subject prefix (default: bus.prefix from config)")
	fs.StringVar(&opts.configPath, "config", "", "Path to config file")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if strings.TrimSpace(opts.host) == "" {
		return opts, errors.New("-host is required")
	}
	if strings.TrimSpace(opts.natsURL) == "" {
		return opts, errors.New("-nats is required")
	}
	return opts, nil
}

func main() {
	if err := run(os.Args[1:]); err != nil && !errors.Is(err, flag.ErrHelp) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	opts, err := parseHostOptions(args)
	if err != nil {
		return err
	}

	var cfg *config.Config
	if opts.configPath != "" {
		cfg, err = config.LoadFromPath(opts.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	cfg.Bus.URL = opts.natsURL
	cfg.Bus.Name = "constellation-content-" + opts.host
	if opts.prefix != "" {
		cfg.Bus.Prefix = opts.prefix
	}

	log, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	log = log.With(zap.String("host", opts.host))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := bus.Open(cfg.Bus)
	if err != nil {
		return fmt.Errorf("connect bus: %w", err)
	}
	defer func() { _ = b.Close() }()

	host := pipeline.NewHost(ctx, b, protocol.Subjects{Prefix: cfg.Bus.Prefix}, opts.host, cfg.Pipeline, log)
	return host.Serve(ctx)
}
