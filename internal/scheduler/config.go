// Package scheduler dispatches pending tasks to device-bound workers.
package scheduler

import (
	"time"

	"github.com/fentz26/uta/internal/config"
)

// Config defines the scheduler configuration.
type Config struct {
	// GlobalMax is the maximum number of concurrent workers across all devices.
	GlobalMax int
	// Devices are the serials tasks may run on. Each runs one task at a time.
	Devices []string
	// PollInterval is how often pending tasks are checked.
	PollInterval time.Duration
}

// DefaultConfig returns the default scheduler configuration: one worker on
// the default device.
func DefaultConfig() *Config {
	return &Config{
		GlobalMax:    4,
		Devices:      []string{""},
		PollInterval: time.Second,
	}
}

// FromConfig builds the scheduler configuration from the application config.
func FromConfig(cfg *config.Config) *Config {
	c := DefaultConfig()
	if cfg.Scheduler.GlobalMax > 0 {
		c.GlobalMax = cfg.Scheduler.GlobalMax
	}
	if cfg.Scheduler.PollInterval > 0 {
		c.PollInterval = cfg.Scheduler.PollInterval
	}
	c.Devices = cfg.DeviceSerials()
	return c
}

// Capacity is the number of workers that may run at once.
func (c *Config) Capacity() int {
	if len(c.Devices) < c.GlobalMax {
		return len(c.Devices)
	}
	return c.GlobalMax
}
