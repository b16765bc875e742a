package host

import (
	"fmt"
	"time"
)

// DefaultPreemptInterval is the slice length enforced by the preemption timer.
const DefaultPreemptInterval = time.Millisecond

// Config groups runtime parameters shared by every instance of an Environment.
type Config struct {
	PreemptInterval time.Duration // preemption timer period (must be > 0)
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{PreemptInterval: DefaultPreemptInterval}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.PreemptInterval <= 0 {
		return fmt.Errorf("PreemptInterval must be > 0, got %v", c.PreemptInterval)
	}
	return nil
}
