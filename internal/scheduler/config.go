package scheduler

import (
	"time"
)

// Config controls tick cadence, per-job timeouts and sweep batch size.
type Config struct {
	RunInterval      time.Duration
	DiscoveryTimeout time.Duration
	ReclaimTimeout   time.Duration
	ReclaimBatchSize int
	DisabledJobs     []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:      10 * time.Minute,
		DiscoveryTimeout: 5 * time.Minute,
		ReclaimTimeout:   30 * time.Second,
		ReclaimBatchSize: 100,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.DiscoveryTimeout <= 0 {
		c.DiscoveryTimeout = defaults.DiscoveryTimeout
	}
	if c.ReclaimTimeout <= 0 {
		c.ReclaimTimeout = defaults.ReclaimTimeout
	}
	if c.ReclaimBatchSize <= 0 {
		c.ReclaimBatchSize = defaults.ReclaimBatchSize
	}
	return c
}
