package config

import (
	"git.home.luguber.info/inful/satellited/internal/foundation/normalization"
	"git.home.luguber.info/inful/satellited/internal/retry"
)

// RetryBackoffMode enumerates supported backoff strategies for menu writes.
type RetryBackoffMode string

const (
	RetryBackoffFixed       RetryBackoffMode = "fixed"
	RetryBackoffLinear      RetryBackoffMode = "linear"
	RetryBackoffExponential RetryBackoffMode = "exponential"
)

var retryBackoffNormalizer = normalization.NewNormalizer("retry backoff", map[string]RetryBackoffMode{
	"fixed":       RetryBackoffFixed,
	"linear":      RetryBackoffLinear,
	"exponential": RetryBackoffExponential,
}, RetryBackoffExponential)

// WritePolicy returns the retry policy for menu state writes.
func (m MenuConfig) WritePolicy() retry.Policy {
	def := retry.DefaultPolicy()
	retries := def.MaxRetries
	if m.WriteRetries != nil {
		retries = *m.WriteRetries
	}
	return retry.NewPolicy(retry.BackoffMode(m.WriteBackoff), def.Initial, def.Max, retries)
}
