package resilience

import (
	"time"
)

type RetryConfig struct {
	MaxAttempts       uint
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
}

func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       5,
		InitialDelay:      1 * time.Second,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 2,
	}
}

// Delay computes the backoff delay before the given zero-based attempt,
// capped at MaxDelay.
func (c *RetryConfig) Delay(attempt uint) time.Duration {
	delay := c.InitialDelay
	for i := uint(0); i < attempt; i++ {
		delay = time.Duration(float64(delay) * c.BackoffMultiplier)
		if delay >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	return delay
}
