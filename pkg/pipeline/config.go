package pipeline

import "time"

// Config tunes the simulated documents and the exit handshake.
type Config struct {
	// LoadDelay is the time between launch and first paint.
	LoadDelay time.Duration `yaml:"load_delay"`
	// AnimationInterval is the display-list period of an animating document.
	AnimationInterval time.Duration `yaml:"animation_interval"`
	// ExitTimeout bounds the exit handshake; a pipeline that has not answered
	// ExitPipeline by then is treated as disconnected.
	ExitTimeout time.Duration `yaml:"exit_timeout"`
}

// DefaultConfig returns the pipeline defaults.
func DefaultConfig() Config {
	return Config{
		LoadDelay:         10 * time.Millisecond,
		AnimationInterval: 50 * time.Millisecond,
		ExitTimeout:       5 * time.Second,
	}
}
