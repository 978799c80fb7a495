package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/constellation/pkg/api"
	"github.com/odvcencio/constellation/pkg/bus"
	"github.com/odvcencio/constellation/pkg/chaos"
	"github.com/odvcencio/constellation/pkg/compositor"
	"github.com/odvcencio/constellation/pkg/config"
	"github.com/odvcencio/constellation/pkg/constellation"
	"github.com/odvcencio/constellation/pkg/errors"
	"github.com/odvcencio/constellation/pkg/pipeline"
	"github.com/odvcencio/constellation/pkg/protocol"
	"github.com/odvcencio/constellation/pkg/rasterizer"
	"github.com/odvcencio/constellation/pkg/telemetry"
)

// session holds the actors of one running browser session.
type session struct {
	constellation *constellation.Constellation
	compositor    *compositor.Compositor
	events        *telemetry.Hub
	closers       []func() error
}

// buildSession wires the orchestrator, the compositor with its software
// rasterizer and the pipeline launcher. Actors stop when ctx is done.
func buildSession(ctx context.Context, cfg *config.Config, log *zap.Logger) (*session, error) {
	hub := telemetry.NewHub()
	constellationBox := protocol.NewMailbox[protocol.ConstellationMsg]()
	compositorBox := protocol.NewMailbox[protocol.CompositorMsg]()

	raster := rasterizer.New(cfg.Viewport, compositorBox, log)
	comp := compositor.New(compositorBox, raster, constellationBox, log, compositor.WithEvents(hub))

	launcher, closers, err := buildLauncher(ctx, cfg, pipeline.Peers{
		Constellation: constellationBox,
		Compositor:    compositorBox,
	}, log)
	if err != nil {
		hub.Close()
		return nil, err
	}

	c := constellation.New(constellationBox, compositorBox, launcher, chaos.New(cfg.Chaos, log), constellation.Options{
		Viewport:    cfg.Viewport,
		ExitTimeout: cfg.Pipeline.ExitTimeout,
		HardFail:    cfg.HardFail,
		Events:      hub,
	}, log)

	return &session{
		constellation: c,
		compositor:    comp,
		events:        hub,
		closers:       closers,
	}, nil
}

// buildLauncher returns goroutine pipelines in single-process mode. In
// multiprocess mode pipelines run in content hosts reached over the bus:
// spawned processes when bus.url is set, in-process hosts on the memory bus
// otherwise. Closers run in order on shutdown.
func buildLauncher(ctx context.Context, cfg *config.Config, peers pipeline.Peers, log *zap.Logger) (pipeline.Launcher, []func() error, error) {
	if !cfg.Multiprocess {
		l := pipeline.NewLocalLauncher(ctx, cfg.Pipeline, peers, log)
		return l, []func() error{l.Close}, nil
	}

	b, err := bus.Open(cfg.Bus)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrCodeDisconnected, "opening bus").WithContext("url", cfg.Bus.URL)
	}
	subjects := protocol.Subjects{Prefix: cfg.Bus.Prefix}
	inProcess := strings.TrimSpace(cfg.Bus.URL) == ""

	hostCtx, stopHosts := context.WithCancel(ctx)
	var (
		spawner   *pipeline.ProcessSpawner
		hosts     sync.WaitGroup
		launchers []pipeline.Launcher
	)
	cleanup := func() []func() error {
		closers := make([]func() error, 0, len(launchers)+3)
		for _, l := range launchers {
			closers = append(closers, l.Close)
		}
		if spawner != nil {
			closers = append(closers, spawner.Close)
		}
		closers = append(closers, func() error {
			stopHosts()
			hosts.Wait()
			return nil
		}, b.Close)
		return closers
	}
	fail := func(err error) (pipeline.Launcher, []func() error, error) {
		runClosers(cleanup(), log)
		return nil, nil, err
	}

	if !inProcess {
		spawner, err = pipeline.NewProcessSpawner(cfg.Content, []string{"-nats", cfg.Bus.URL, "-prefix", cfg.Bus.Prefix}, log)
		if err != nil {
			return fail(errors.Wrap(err, errors.ErrCodeConfigInvalid, "content processes"))
		}
	}

	tag := strings.ToLower(ulid.Make().String())
	for i := range cfg.Content.Hosts {
		id := fmt.Sprintf("host%d-%s", i, tag)
		if inProcess {
			host := pipeline.NewHost(hostCtx, b, subjects, id, cfg.Pipeline, log)
			hosts.Add(1)
			go func() {
				defer hosts.Done()
				if err := host.Serve(hostCtx); err != nil {
					log.Error("content host failed", zap.String("host", id), zap.Error(err))
				}
			}()
		} else if err := spawner.Spawn(ctx, id); err != nil {
			return fail(err)
		}
		l, err := pipeline.NewBusLauncher(ctx, b, subjects, id, peers, cfg.Content.StartTimeout, log)
		if err != nil {
			return fail(err)
		}
		launchers = append(launchers, l)
	}

	pool := pipeline.NewPool(launchers...)
	closers := cleanup()
	// The pool closes every launcher, so it replaces their individual closers.
	return pool, append([]func() error{pool.Close}, closers[len(launchers):]...), nil
}

func runClosers(closers []func() error, log *zap.Logger) {
	for _, c := range closers {
		if err := c(); err != nil {
			log.Warn("cleanup failed", zap.Error(err))
		}
	}
}

// runSession runs a session until ctx is done, then drives the global
// shutdown handshake. Webviews are opened on urls at start-up.
func runSession(ctx context.Context, cfg *config.Config, urls []string, log *zap.Logger) error {
	actorCtx, cancelActors := context.WithCancel(context.Background())
	defer cancelActors()

	s, err := buildSession(actorCtx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		cancelActors()
		runClosers(s.closers, log)
		s.events.Close()
	}()
	events, _ := s.events.Subscribe()
	go logEvents(events, log)

	g, gctx := errgroup.WithContext(actorCtx)
	g.Go(func() error { return ignoreCanceled(s.compositor.Run(gctx)) })
	g.Go(func() error { return ignoreCanceled(s.constellation.Run(gctx)) })

	var srv *api.Server
	if cfg.Automation.Enabled {
		srv = api.NewServer(api.ServerConfig{
			Address:           cfg.Automation.Bind,
			Session:           s.constellation,
			Screenshots:       s.compositor,
			Events:            s.events,
			ScreenshotRate:    cfg.Automation.ScreenshotRate,
			ScreenshotBurst:   cfg.Automation.ScreenshotBurst,
			ScreenshotTimeout: cfg.Automation.ScreenshotTimeout,
			Logger:            log,
		})
		g.Go(srv.Start)
	}

	for _, u := range urls {
		id := s.constellation.NewWebView(u)
		log.Info("opening webview", zap.Stringer("webview", id), zap.String("url", u))
	}

	g.Go(func() error {
		select {
		case <-ctx.Done():
		case <-s.constellation.Done():
		}
		err := shutdown(s, 2*cfg.Pipeline.ExitTimeout+time.Second, cancelActors, log)
		if srv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if serr := srv.Shutdown(shutdownCtx); serr != nil {
				log.Warn("automation api shutdown failed", zap.Error(serr))
			}
		}
		return err
	})
	return g.Wait()
}

// shutdown asks the orchestrator to exit and waits for the handshake to
// finish. Actors still running after grace are cancelled.
func shutdown(s *session, grace time.Duration, cancel context.CancelFunc, log *zap.Logger) error {
	log.Info("shutting down session")
	s.constellation.Exit()
	select {
	case <-s.constellation.Done():
	case <-time.After(grace):
		cancel()
		return errors.New(errors.ErrCodeDisconnected, "session did not shut down in time").
			WithContext("grace", grace.String())
	}
	select {
	case <-s.compositor.Done():
	case <-time.After(grace):
		cancel()
		return errors.New(errors.ErrCodeDisconnected, "compositor did not stop in time")
	}
	log.Info("session shut down")
	return nil
}

// logEvents drains events until the hub closes.
func logEvents(events <-chan telemetry.Event, log *zap.Logger) {
	for ev := range events {
		log.Debug("session event",
			zap.String("type", string(ev.Type)),
			zap.String("webview", ev.WebView),
			zap.String("pipeline", ev.Pipeline),
			zap.Any("data", ev.Data),
		)
	}
}

func ignoreCanceled(err error) error {
	if stderrors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
