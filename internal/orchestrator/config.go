package orchestrator

import (
	"time"

	"github.com/smallbiznis/cloudkitty/internal/config"
)

// Config controls period sizing and the processing loops. A zero worker
// count disables that role.
type Config struct {
	Period                 time.Duration
	WaitPeriods            int
	ScopeKey               string
	MaxWorkers             int
	MaxWorkersReprocessing int
	MaxThreads             int
	PassInterval           time.Duration
	RestartInitialInterval time.Duration
	RestartMaxInterval     time.Duration
}

func DefaultConfig() Config {
	return Config{
		Period:                 time.Hour,
		WaitPeriods:            2,
		ScopeKey:               "project_id",
		MaxWorkers:             1,
		MaxWorkersReprocessing: 1,
		MaxThreads:             4,
		PassInterval:           time.Second,
		RestartInitialInterval: time.Second,
		RestartMaxInterval:     time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.Period <= 0 {
		c.Period = defaults.Period
	}
	if c.WaitPeriods < 0 {
		c.WaitPeriods = 0
	}
	if c.ScopeKey == "" {
		c.ScopeKey = defaults.ScopeKey
	}
	if c.MaxWorkers < 0 {
		c.MaxWorkers = 0
	}
	if c.MaxWorkersReprocessing < 0 {
		c.MaxWorkersReprocessing = 0
	}
	if c.MaxThreads <= 0 {
		c.MaxThreads = defaults.MaxThreads
	}
	if c.PassInterval <= 0 {
		c.PassInterval = defaults.PassInterval
	}
	if c.RestartInitialInterval <= 0 {
		c.RestartInitialInterval = defaults.RestartInitialInterval
	}
	if c.RestartMaxInterval < c.RestartInitialInterval {
		c.RestartMaxInterval = max(defaults.RestartMaxInterval, c.RestartInitialInterval)
	}
	return c
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		Period:                 cfg.Collect.Period,
		WaitPeriods:            cfg.Collect.WaitPeriods,
		ScopeKey:               cfg.Collect.ScopeKey,
		MaxWorkers:             cfg.Orchestrator.MaxWorkers,
		MaxWorkersReprocessing: cfg.Orchestrator.MaxWorkersReprocessing,
		MaxThreads:             cfg.Orchestrator.MaxThreads,
		PassInterval:           cfg.Orchestrator.PassInterval,
	}.withDefaults()
}
