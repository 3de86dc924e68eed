/*
Package ratelimiter provides an adaptive, PID-controlled rate limiter.

RateLimiter tracks the observed request rate over a trailing window and,
on a configurable cadence, feeds that measurement into a PIDController to
recompute a target admission rate. Admission is probabilistic: once the
observed rate exceeds the target, requests are admitted with probability
target/observed rather than being cut off at a hard boundary, which
avoids aliasing with window edges under bursty traffic.

A RateLimiter with no PIDController attached is static: its target rate
never moves from the configured setpoint.

	limiter, err := ratelimiter.NewRateLimiterBuilder(50).
		MinRate(10).
		MaxRate(100).
		Controller(pid).
		UpdateInterval(time.Second).
		Build()
	if err != nil {
		// handle ConfigError
	}
	if limiter.ShouldThrottle() {
		// reject
	}

RateLimiter is not safe for concurrent use by multiple goroutines; callers
that need to share one across goroutines must guard it with their own
mutex, or use the segment package to shard by named segment.
*/
package ratelimiter

import (
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/coriolis-rl/coriolis/clock"
	"github.com/coriolis-rl/coriolis/internal/util"
)

// Source supplies uniform [0, 1) draws for probabilistic admission.
// *rand.Rand satisfies this interface.
type Source interface {
	Float64() float64
}

const admissionHistorySize = 256

// RateLimiter is a sliding-window rate limiter with an optional PID
// controller driving its target admission rate. See the package doc for
// the admission algorithm.
type RateLimiter struct {
	minRate, maxRate float64
	targetRate       float64

	controller     *PIDController
	updateInterval time.Duration
	lastUpdate     time.Time

	requestWindow  *SlidingWindow
	acceptedWindow *SlidingWindow

	externalRequestRate         float64
	externalAcceptedRequestRate float64

	clock  clock.Clock
	source Source
	logger *slog.Logger

	history *admissionStats
}

// TargetRate returns the current target admission rate, in requests/sec.
func (l *RateLimiter) TargetRate() float64 {
	return l.targetRate
}

// RequestRate returns the most recently observed request rate (local plus
// external), in requests/sec.
func (l *RateLimiter) RequestRate() float64 {
	return l.observedRequestRate(l.clock.Now())
}

// AcceptedRequestRate returns the most recently observed accepted-request
// rate (local plus external), in requests/sec.
func (l *RateLimiter) AcceptedRequestRate() float64 {
	return l.observedAcceptedRate(l.clock.Now())
}

// SetExternalRequestRate sets the request rate contributed by peers. It
// affects subsequent decisions only and is idempotent.
func (l *RateLimiter) SetExternalRequestRate(rate float64) {
	l.externalRequestRate = rate
}

// SetExternalAcceptedRequestRate sets the accepted-request rate
// contributed by peers. It affects subsequent decisions only and is
// idempotent.
func (l *RateLimiter) SetExternalAcceptedRequestRate(rate float64) {
	l.externalAcceptedRequestRate = rate
}

// RecentAdmitRate returns the fraction of the last 256 ShouldThrottle
// calls that were admitted, an observability-only statistic that does not
// feed back into the admission decision.
func (l *RateLimiter) RecentAdmitRate() float64 {
	return l.history.rate()
}

// ShouldThrottle records a request arrival, runs a controller update if
// the update interval has elapsed, and returns whether the request must
// be throttled. When it returns false (admit), the acceptance is also
// recorded.
func (l *RateLimiter) ShouldThrottle() bool {
	now := l.clock.Now()

	l.maybeUpdateTarget(now)

	// The observed rate is sampled after recording, so it includes the
	// current request.
	l.requestWindow.Record(now)
	observed := l.observedRequestRate(now)

	admit := l.admissionDecision(observed)
	if admit {
		l.acceptedWindow.Record(now)
	}
	l.history.record(admit)

	return !admit
}

func (l *RateLimiter) maybeUpdateTarget(now time.Time) {
	if l.controller == nil {
		return
	}
	if now.Sub(l.lastUpdate) < l.updateInterval {
		return
	}

	// The guard above already excludes now.Sub(l.lastUpdate) < updateInterval,
	// which covers every negative duration, so dt here is always >=
	// updateInterval > 0. A non-monotonic now still can't rewind state: it
	// just can't reach the controller until now catches back up past
	// lastUpdate + updateInterval, at which point dt is positive again.
	dt := now.Sub(l.lastUpdate)
	l.lastUpdate = now

	measured := l.observedRequestRate(now)
	correction := l.controller.ComputeCorrection(measured, dt)
	oldTarget := l.targetRate
	l.targetRate = util.Clamp(l.targetRate+correction, l.minRate, l.maxRate)

	if l.logger != nil && l.logger.Enabled(nil, slog.LevelDebug) {
		l.logger.Debug("target rate update",
			"measured", measured,
			"correction", correction,
			"oldTarget", oldTarget,
			"newTarget", l.targetRate)
	}
}

// admissionDecision implements spec.md's probabilistic admission: admit
// unconditionally when observed <= target, else admit with probability
// target/observed.
func (l *RateLimiter) admissionDecision(observed float64) bool {
	if observed <= l.targetRate {
		return true
	}
	p := l.targetRate / observed
	return l.source.Float64() < p
}

func (l *RateLimiter) observedRequestRate(now time.Time) float64 {
	return l.requestWindow.Rate(now) + l.externalRequestRate
}

func (l *RateLimiter) observedAcceptedRate(now time.Time) float64 {
	return l.acceptedWindow.Rate(now) + l.externalAcceptedRequestRate
}

// RateLimiterBuilder builds RateLimiter instances, validating configuration
// at Build time. This type is not concurrency safe.
type RateLimiterBuilder struct {
	setpoint float64
	minRate  *float64
	maxRate  *float64

	controller     *PIDController
	updateInterval time.Duration

	externalRequestRate         float64
	externalAcceptedRequestRate float64

	clock  clock.Clock
	source Source
	logger *slog.Logger
}

// NewRateLimiterBuilder returns a builder for a RateLimiter with the given
// setpoint (the initial target rate). Defaults: minRate 0, maxRate +Inf,
// no controller (a static limiter), a 1s update interval, sliding windows
// sized to the update interval, the system clock, and a seeded
// (deterministic) default Source.
func NewRateLimiterBuilder(setpoint float64) *RateLimiterBuilder {
	return &RateLimiterBuilder{
		setpoint:       setpoint,
		updateInterval: time.Second,
	}
}

// MinRate sets the minimum allowed target rate.
func (b *RateLimiterBuilder) MinRate(v float64) *RateLimiterBuilder {
	b.minRate = &v
	return b
}

// MaxRate sets the maximum allowed target rate.
func (b *RateLimiterBuilder) MaxRate(v float64) *RateLimiterBuilder {
	b.maxRate = &v
	return b
}

// Controller attaches a PIDController that drives the target rate. If
// never called, the resulting RateLimiter is static: its target rate is
// invariant and equal to the setpoint.
func (b *RateLimiterBuilder) Controller(c *PIDController) *RateLimiterBuilder {
	b.controller = c
	return b
}

// UpdateInterval sets the cadence at which the controller is invoked.
func (b *RateLimiterBuilder) UpdateInterval(d time.Duration) *RateLimiterBuilder {
	b.updateInterval = d
	return b
}

// ExternalRequestRate sets an initial peer-contributed request rate.
func (b *RateLimiterBuilder) ExternalRequestRate(v float64) *RateLimiterBuilder {
	b.externalRequestRate = v
	return b
}

// ExternalAcceptedRequestRate sets an initial peer-contributed
// accepted-request rate.
func (b *RateLimiterBuilder) ExternalAcceptedRequestRate(v float64) *RateLimiterBuilder {
	b.externalAcceptedRequestRate = v
	return b
}

// Clock overrides the time source. Defaults to clock.System().
func (b *RateLimiterBuilder) Clock(c clock.Clock) *RateLimiterBuilder {
	b.clock = c
	return b
}

// Source overrides the RNG used for probabilistic admission. Defaults to
// a rand.Rand seeded deterministically, for reproducible behavior unless a
// caller opts into a different source.
func (b *RateLimiterBuilder) Source(s Source) *RateLimiterBuilder {
	b.source = s
	return b
}

// Logger configures a logger for debug-level target-rate update logging.
// Nil (the default) disables logging entirely.
func (b *RateLimiterBuilder) Logger(l *slog.Logger) *RateLimiterBuilder {
	b.logger = l
	return b
}

// Build validates the builder's configuration and returns a new
// RateLimiter, or a *ConfigError describing the first violation found.
func (b *RateLimiterBuilder) Build() (*RateLimiter, error) {
	minRate := 0.0
	if b.minRate != nil {
		minRate = *b.minRate
	}
	maxRate := math.Inf(1)
	if b.maxRate != nil {
		maxRate = *b.maxRate
	}

	if minRate > maxRate {
		return nil, &ConfigError{Field: "minRate", Msg: "must be <= maxRate"}
	}
	if b.setpoint < minRate || b.setpoint > maxRate {
		return nil, &ConfigError{Field: "setpoint", Msg: "must lie within [minRate, maxRate]"}
	}
	if b.updateInterval <= 0 {
		return nil, &ConfigError{Field: "updateInterval", Msg: "must be > 0"}
	}

	c := b.clock
	if c == nil {
		c = clock.System()
	}
	src := b.source
	if src == nil {
		src = rand.New(rand.NewSource(1))
	}

	return &RateLimiter{
		minRate:                     minRate,
		maxRate:                     maxRate,
		targetRate:                  b.setpoint,
		controller:                  b.controller,
		updateInterval:              b.updateInterval,
		lastUpdate:                  c.Now(),
		requestWindow:               NewSlidingWindow(b.updateInterval),
		acceptedWindow:              NewSlidingWindow(b.updateInterval),
		externalRequestRate:         b.externalRequestRate,
		externalAcceptedRequestRate: b.externalAcceptedRequestRate,
		clock:                       c,
		source:                      src,
		logger:                      b.logger,
		history:                     newAdmissionStats(admissionHistorySize),
	}, nil
}
