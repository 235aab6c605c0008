package resilience

import "time"

const (
	DefaultThreshold         = 5
	DefaultResetTimeout      = 30 * time.Second
	DefaultHalfOpenSuccesses = 1

	// An upload makes at most three model calls, so trip early
	AnalysisThreshold    = 3
	AnalysisResetTimeout = 20 * time.Second
)

// Config holds circuit breaker settings. Zero fields take the defaults.
type Config struct {
	Name              string        // reported in state-change logs
	Threshold         int           // consecutive failures before opening
	ResetTimeout      time.Duration // how long to fail fast before trialing
	HalfOpenSuccesses int           // trials that must succeed to close

	// Trips reports whether err counts against the service. Defaults to IsRetryable.
	Trips func(error) bool
}

// AnalysisConfig guards the one-shot portrait analysis calls.
func AnalysisConfig() Config {
	return Config{
		Name:         "analysis",
		Threshold:    AnalysisThreshold,
		ResetTimeout: AnalysisResetTimeout,
	}
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "default"
	}
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = DefaultResetTimeout
	}
	if c.HalfOpenSuccesses <= 0 {
		c.HalfOpenSuccesses = DefaultHalfOpenSuccesses
	}
	if c.Trips == nil {
		c.Trips = IsRetryable
	}
	return c
}
