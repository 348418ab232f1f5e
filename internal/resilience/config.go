package resilience

import (
	"time"
)

// FromRetryBudget builds the exact exponential policy for a budget of R
// retries with base delay B: R+1 attempts, B·2^i before attempt i+1, no jitter
// and no cap, so a fully failing call sleeps B·(2^R − 1) in total.
func FromRetryBudget(retries int, baseDelayMs int) RetryConfig {
	cfg := DefaultRetryConfig()
	if retries >= 0 {
		cfg.MaxAttempts = retries + 1
	}
	if baseDelayMs > 0 {
		cfg.InitialBackoff = time.Duration(baseDelayMs) * time.Millisecond
	}
	return cfg
}

// TotalBackoff returns the cumulative delay spent sleeping when the first k
// attempts fail and attempt k+1 succeeds (or is the last one).
func TotalBackoff(cfg RetryConfig, k int) time.Duration {
	cfg = applyDefaults(cfg)
	cfg.JitterFraction = 0
	var total time.Duration
	for i := 0; i < k && i < cfg.MaxAttempts-1; i++ {
		total += ComputeBackoff(i, cfg)
	}
	return total
}
