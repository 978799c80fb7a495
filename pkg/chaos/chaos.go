// Package chaos implements random pipeline closure for exercising the
// failure paths of a browsing session. The injector only chooses victims;
// the orchestrator closes them through the ordinary close handling.
package chaos

import (
	"errors"
	"math/rand/v2"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/odvcencio/constellation/pkg/ids"
	"github.com/odvcencio/constellation/pkg/logging"
)

// Config is read once at start-up. A nil Probability disables injection; a
// nil Seed draws one at random, which is logged so the run can be replayed.
type Config struct {
	Probability   *float64      `yaml:"probability"`
	Seed          *uint64       `yaml:"seed"`
	Interval      time.Duration `yaml:"interval"`
	IncludeHidden bool          `yaml:"include_hidden"`
}

// DefaultConfig returns a disabled configuration.
func DefaultConfig() Config {
	return Config{
		Interval:      time.Second,
		IncludeHidden: true,
	}
}

// Validate checks the probability range and the schedule.
func (c Config) Validate() error {
	if c.Probability == nil {
		return nil
	}
	if p := *c.Probability; p < 0 || p > 1 {
		return errors.New("chaos.probability must be within [0, 1]")
	}
	if c.Interval <= 0 {
		return errors.New("chaos.interval must be greater than zero")
	}
	return nil
}

// Candidate is a live pipeline that may be closed.
type Candidate struct {
	Pipeline ids.PipelineID
	// Pending pipelines were launched but have not become a current entry.
	Pending bool
	// Hidden pipelines belong to a hidden webview or an inactive entry.
	Hidden bool
}

// Injector picks pipelines to close. It is owned by the orchestrator loop and
// is not safe for concurrent use.
type Injector struct {
	enabled       bool
	probability   float64
	seed          uint64
	interval      time.Duration
	includeHidden bool
	rng           *rand.Rand
	log           *zap.Logger
}

// New returns an injector for cfg.
func New(cfg Config, log *zap.Logger) *Injector {
	inj := &Injector{
		interval:      cfg.Interval,
		includeHidden: cfg.IncludeHidden,
		log:           logging.For(log, logging.CategoryChaos),
	}
	if cfg.Probability == nil {
		return inj
	}
	inj.enabled = true
	inj.probability = *cfg.Probability
	if cfg.Seed != nil {
		inj.seed = *cfg.Seed
	} else {
		inj.seed = rand.Uint64()
	}
	inj.rng = rand.New(rand.NewPCG(inj.seed, inj.seed^0x9e3779b97f4a7c15))
	inj.log.Info("chaos enabled",
		zap.Float64("probability", inj.probability),
		zap.Uint64("seed", inj.seed),
		zap.Duration("interval", inj.interval),
		zap.Bool("include_hidden", inj.includeHidden),
	)
	return inj
}

// Enabled reports whether a probability was configured.
func (i *Injector) Enabled() bool { return i.enabled }

// Seed returns the seed in use.
func (i *Injector) Seed() uint64 { return i.seed }

// Interval returns how often the orchestrator should call Pick.
func (i *Injector) Interval() time.Duration { return i.interval }

// Pick rolls once against the probability and, on success, chooses one
// candidate uniformly. Candidates are ordered by id first, so identical
// traffic and seed give identical choices. A pending pipeline survives unless
// a second roll also succeeds; closing pipelines before they did anything
// exercises little.
func (i *Injector) Pick(candidates []Candidate) (ids.PipelineID, bool) {
	if !i.enabled || len(candidates) == 0 {
		return ids.PipelineID{}, false
	}
	eligible := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Hidden && !i.includeHidden {
			continue
		}
		eligible = append(eligible, c)
	}
	if len(eligible) == 0 {
		return ids.PipelineID{}, false
	}
	slices.SortFunc(eligible, func(a, b Candidate) int {
		return ids.ComparePipelines(a.Pipeline, b.Pipeline)
	})

	if i.rng.Float64() >= i.probability {
		return ids.PipelineID{}, false
	}
	victim := eligible[i.rng.IntN(len(eligible))]
	if victim.Pending && i.rng.Float64() >= i.probability {
		i.log.Debug("sparing pending pipeline", zap.Stringer("pipeline", victim.Pipeline))
		return ids.PipelineID{}, false
	}
	i.log.Info("closing random pipeline", zap.Stringer("pipeline", victim.Pipeline))
	return victim.Pipeline, true
}
