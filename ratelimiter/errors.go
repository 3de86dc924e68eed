package ratelimiter

import "fmt"

// ConfigError is returned by a builder's Build method when the configured
// values violate one of that type's construction-time invariants. No
// PIDController or RateLimiter is ever returned alongside a non-nil
// ConfigError.
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("ratelimiter: invalid %s: %s", e.Field, e.Msg)
}
