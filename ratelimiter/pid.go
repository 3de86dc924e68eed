package ratelimiter

import (
	"math"
	"time"

	"github.com/coriolis-rl/coriolis/internal/util"
)

/*
PIDController is a stateful, single-input single-output PID (proportional,
integral, derivative) controller. Given a measured value and the elapsed
time since the last measurement, ComputeCorrection returns a bounded
correction that would move the measured value toward the configured
setpoint.

The controller adds three guardrails on top of a textbook PID loop:

  - Error bias skews the raw error toward positive or negative excursions
    before it's used, letting a caller react faster to overshoot or
    undershoot without changing the gains.
  - The accumulated (integral) error is clamped to [-errorLimit,
    +errorLimit], and when the output clamp bites, the excess is fed back
    out of the integrator (anti-windup) so a sustained, unachievable demand
    doesn't leave the integrator "loaded" once conditions change.
  - The output is clamped to [-outputLimit, +outputLimit].

A PIDController with all gains zero is a legal, static controller: it
always returns 0. This type is not concurrency safe; a PIDController has a
single owner, same as RateLimiter.
*/
type PIDController struct {
	setpoint    float64
	kp, ki, kd  float64
	errorBias   float64
	errorLimit  float64
	outputLimit float64

	accumulatedError float64
	previousError    float64
}

// Setpoint returns the controller's configured setpoint.
func (c *PIDController) Setpoint() float64 {
	return c.setpoint
}

// AccumulatedError returns the controller's current integral term, always
// within [-errorLimit, +errorLimit].
func (c *PIDController) AccumulatedError() float64 {
	return c.accumulatedError
}

// ComputeCorrection computes a bounded correction for the given measured
// value, having observed dt since the previous call.
//
//   - dt <= 0 contributes zero integral and zero derivative; previousError
//     is still updated so a subsequent call sees a continuous derivative
//     base.
//   - A non-finite measured value leaves all state untouched and returns
//     the integral-derived output from the last valid sample (kp and kd
//     contribute 0, since there is no current error to derive from). This
//     pins spec.md's "reject non-finite inputs at the boundary"
//     recommendation without panicking or returning an error, since
//     ComputeCorrection must always return a usable value.
func (c *PIDController) ComputeCorrection(measured float64, dt time.Duration) float64 {
	if math.IsNaN(measured) || math.IsInf(measured, 0) {
		return c.clampOutput(c.ki * c.accumulatedError)
	}

	dtSeconds := dt.Seconds()
	if dtSeconds < 0 {
		dtSeconds = 0
	}

	error := c.setpoint - measured
	biasedError := c.biasError(error)

	if dtSeconds > 0 {
		c.accumulatedError = util.Clamp(c.accumulatedError+biasedError*dtSeconds, -c.errorLimit, c.errorLimit)
	}

	var derivative float64
	if dtSeconds > 0 {
		derivative = (biasedError - c.previousError) / dtSeconds
	}
	c.previousError = biasedError

	raw := c.kp*biasedError + c.ki*c.accumulatedError + c.kd*derivative
	output := c.clampOutput(raw)

	if raw != output && c.ki != 0 {
		c.accumulatedError = util.Clamp(c.accumulatedError-(raw-output)/c.ki, -c.errorLimit, c.errorLimit)
	}

	return output
}

func (c *PIDController) biasError(e float64) float64 {
	if e > 0 {
		return e * (1 + c.errorBias)
	}
	return e * (1 - c.errorBias)
}

func (c *PIDController) clampOutput(u float64) float64 {
	return util.Clamp(u, -c.outputLimit, c.outputLimit)
}

// PIDControllerBuilder builds PIDController instances, validating gains and
// limits at Build time. This type is not concurrency safe.
type PIDControllerBuilder struct {
	setpoint    float64
	kp, ki, kd  float64
	errorBias   float64
	errorLimit  float64
	outputLimit float64
}

// NewPIDControllerBuilder returns a builder for a PIDController with the
// given setpoint. Gains and error bias default to 0 (a static, always-0
// controller until gains are set); errorLimit and outputLimit default to
// +Inf (unclamped).
func NewPIDControllerBuilder(setpoint float64) *PIDControllerBuilder {
	return &PIDControllerBuilder{
		setpoint:    setpoint,
		errorLimit:  math.Inf(1),
		outputLimit: math.Inf(1),
	}
}

// Kp sets the proportional gain.
func (b *PIDControllerBuilder) Kp(kp float64) *PIDControllerBuilder {
	b.kp = kp
	return b
}

// Ki sets the integral gain.
func (b *PIDControllerBuilder) Ki(ki float64) *PIDControllerBuilder {
	b.ki = ki
	return b
}

// Kd sets the derivative gain.
func (b *PIDControllerBuilder) Kd(kd float64) *PIDControllerBuilder {
	b.kd = kd
	return b
}

// ErrorBias sets the asymmetry factor applied to the raw error before
// integration and output, in [-1, 1]. Positive values bias the controller
// toward reacting faster to positive error (measured below setpoint);
// negative values bias it toward reacting faster to negative error.
func (b *PIDControllerBuilder) ErrorBias(bias float64) *PIDControllerBuilder {
	b.errorBias = bias
	return b
}

// ErrorLimit sets the symmetric clamp bound for the accumulated (integral)
// error. Must be > 0.
func (b *PIDControllerBuilder) ErrorLimit(limit float64) *PIDControllerBuilder {
	b.errorLimit = limit
	return b
}

// OutputLimit sets the symmetric clamp bound for the correction output.
// Must be > 0.
func (b *PIDControllerBuilder) OutputLimit(limit float64) *PIDControllerBuilder {
	b.outputLimit = limit
	return b
}

// Build validates the builder's configuration and returns a new
// PIDController, or a *ConfigError describing the first violation found.
func (b *PIDControllerBuilder) Build() (*PIDController, error) {
	if !isFinite(b.setpoint) {
		return nil, &ConfigError{Field: "setpoint", Msg: "must be finite"}
	}
	if !isFinite(b.kp) || !isFinite(b.ki) || !isFinite(b.kd) {
		return nil, &ConfigError{Field: "kp/ki/kd", Msg: "gains must be finite"}
	}
	if b.errorBias < -1 || b.errorBias > 1 {
		return nil, &ConfigError{Field: "errorBias", Msg: "must be in [-1, 1]"}
	}
	if b.errorLimit <= 0 {
		return nil, &ConfigError{Field: "errorLimit", Msg: "must be > 0"}
	}
	if b.outputLimit <= 0 {
		return nil, &ConfigError{Field: "outputLimit", Msg: "must be > 0"}
	}

	return &PIDController{
		setpoint:    b.setpoint,
		kp:          b.kp,
		ki:          b.ki,
		kd:          b.kd,
		errorBias:   b.errorBias,
		errorLimit:  b.errorLimit,
		outputLimit: b.outputLimit,
	}, nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
