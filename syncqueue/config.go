package syncqueue

import (
	"errors"
	"fmt"
	"time"
)

// Config controls retry bookkeeping and the background replay loop.
type Config struct {
	// MaxRetries is the number of failed attempts after which an entry is
	// marked failed and excluded from replay.
	MaxRetries int

	// InitialDelay is the delay after the first failed attempt.
	InitialDelay time.Duration

	// MaxDelay caps the back-off delay.
	MaxDelay time.Duration

	// Multiplier is the factor by which the delay grows per attempt.
	Multiplier float64

	// Jitter randomizes each delay by up to this fraction in either
	// direction. 0 disables jitter.
	Jitter float64

	// Interval is the period of the background replay loop.
	Interval time.Duration

	// BatchSize bounds how many entries one replay pass attempts.
	BatchSize int
}

// DefaultConfig returns the queue defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     5 * time.Minute,
		Multiplier:   2,
		Jitter:       0.2,
		Interval:     30 * time.Second,
		BatchSize:    100,
	}
}

// setDefaults fills zero fields from DefaultConfig. Jitter is left alone
// since zero is meaningful.
func (c *Config) setDefaults() {
	d := DefaultConfig()
	if c.MaxRetries == 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.InitialDelay == 0 {
		c.InitialDelay = d.InitialDelay
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.Multiplier == 0 {
		c.Multiplier = d.Multiplier
	}
	if c.Interval == 0 {
		c.Interval = d.Interval
	}
	if c.BatchSize == 0 {
		c.BatchSize = d.BatchSize
	}
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	var errs []error
	if c.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("max_retries must be at least 1, got %d", c.MaxRetries))
	}
	if c.InitialDelay < 0 || c.MaxDelay < 0 {
		errs = append(errs, errors.New("delays must not be negative"))
	}
	if c.MaxDelay < c.InitialDelay {
		errs = append(errs, fmt.Errorf("max_delay %s is below initial_delay %s", c.MaxDelay, c.InitialDelay))
	}
	if c.Multiplier < 1 {
		errs = append(errs, fmt.Errorf("multiplier must be at least 1, got %g", c.Multiplier))
	}
	if c.Jitter < 0 || c.Jitter >= 1 {
		errs = append(errs, fmt.Errorf("jitter must be in [0, 1), got %g", c.Jitter))
	}
	if c.Interval < 0 {
		errs = append(errs, errors.New("interval must not be negative"))
	}
	if c.BatchSize < 0 {
		errs = append(errs, errors.New("batch_size must not be negative"))
	}
	return errors.Join(errs...)
}
