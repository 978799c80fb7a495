package pipeline

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/odvcencio/constellation/pkg/logging"
)

// ContentConfig controls how content processes are started in multiprocess
// mode.
type ContentConfig struct {
	// Binary is the content host executable.
	Binary string `yaml:"binary"`
	// Hosts is the number of content processes to start.
	Hosts int `yaml:"hosts"`
	// StartTimeout bounds the wait for a started host to answer.
	StartTimeout time.Duration `yaml:"start_timeout"`
	// StopTimeout is how long a host may take to exit after an interrupt.
	StopTimeout time.Duration `yaml:"stop_timeout"`
}

// DefaultContentConfig returns the content process defaults.
func DefaultContentConfig() ContentConfig {
	return ContentConfig{
		Binary:       "constellation-content",
		Hosts:        1,
		StartTimeout: 5 * time.Second,
		StopTimeout:  3 * time.Second,
	}
}

// Validate checks whether the config is usable.
func (c ContentConfig) Validate() error {
	if strings.TrimSpace(c.Binary) == "" {
		return stderrors.New("content.binary is required")
	}
	if c.Hosts <= 0 {
		return stderrors.New("content.hosts must be greater than zero")
	}
	if c.StartTimeout < 0 || c.StopTimeout < 0 {
		return stderrors.New("content timeouts must be zero or positive")
	}
	return nil
}

// ProcessSpawner starts content host processes and stops them again.
type ProcessSpawner struct {
	cfg  ContentConfig
	args []string
	log  *zap.Logger

	mu    sync.Mutex
	procs map[string]*process
}

type process struct {
	cmd      *exec.Cmd
	waitDone chan struct{}
}

// NewProcessSpawner returns a spawner whose processes receive args after
// their -host flag.
func NewProcessSpawner(cfg ContentConfig, args []string, log *zap.Logger) (*ProcessSpawner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &ProcessSpawner{
		cfg:   cfg,
		args:  args,
		log:   logging.For(log, logging.CategoryPipeline),
		procs: make(map[string]*process),
	}, nil
}

// Spawn starts the content host named host. The process is killed when ctx
// is cancelled.
func (s *ProcessSpawner) Spawn(ctx context.Context, host string) error {
	host = sanitizeHostID(host)
	args := append([]string{"-host", host}, s.args...)
	cmd := exec.CommandContext(ctx, s.cfg.Binary, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start content host: %w", err)
	}
	p := &process{cmd: cmd, waitDone: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		s.log.Info("content host exited", zap.String("host", host), zap.Error(err))
		close(p.waitDone)
	}()

	s.mu.Lock()
	s.procs[host] = p
	s.mu.Unlock()
	s.log.Info("content host started", zap.String("host", host), zap.Int("pid", cmd.Process.Pid))
	return nil
}

// Close interrupts every host and kills those that do not exit in time.
func (s *ProcessSpawner) Close() error {
	s.mu.Lock()
	procs := s.procs
	s.procs = make(map[string]*process)
	s.mu.Unlock()

	var errs []error
	for host, p := range procs {
		if err := p.cmd.Process.Signal(os.Interrupt); err != nil && !stderrors.Is(err, os.ErrProcessDone) {
			errs = append(errs, fmt.Errorf("interrupt %s: %w", host, err))
		}
		select {
		case <-p.waitDone:
		case <-time.After(s.cfg.StopTimeout):
			s.log.Warn("content host did not stop, killing", zap.String("host", host))
			_ = p.cmd.Process.Kill()
			<-p.waitDone
		}
	}
	return stderrors.Join(errs...)
}

// sanitizeHostID keeps host ids usable as a single bus subject token.
func sanitizeHostID(id string) string {
	out := strings.Builder{}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z':
			out.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			out.WriteRune(r)
		case r >= '0' && r <= '9':
			out.WriteRune(r)
		case r == '-' || r == '_':
			out.WriteRune(r)
		default:
			out.WriteRune('_')
		}
	}
	if out.Len() == 0 {
		return "content"
	}
	return out.String()
}
