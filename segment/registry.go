/*
Package segment shards an adaptive rate limiter across named traffic
classes. Each segment owns its own ratelimiter.RateLimiter and
configuration; segments are created lazily and concurrent first-creation
of the same name is coalesced so the configured builder runs exactly
once per name.
*/
package segment

import (
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/coriolis-rl/coriolis/ratelimiter"
)

// Config describes a segment's rate-limiting policy at creation time.
type Config struct {
	TargetTPS float64
	MinTPS    *float64
	MaxTPS    *float64

	// Controller, if set, is attached to the segment's limiter to drive
	// its target rate. A nil Controller yields a static segment whose
	// target rate never moves from TargetTPS.
	Controller *ratelimiter.PIDController
}

// Registry holds independently-configured rate limiters keyed by segment
// name. The zero value is not usable; construct with NewRegistry.
type Registry struct {
	mu       sync.RWMutex
	limiters map[string]*ratelimiter.RateLimiter

	group singleflight.Group
}

// NewRegistry returns an empty Registry ready for use.
func NewRegistry() *Registry {
	return &Registry{
		limiters: make(map[string]*ratelimiter.RateLimiter),
	}
}

// EnsureSegment returns the named segment's RateLimiter, creating it from
// cfg on first use. Concurrent calls for the same name that race to
// create it are coalesced: the builder runs once, and every caller
// observes the same *RateLimiter instance. Calls for an already-created
// segment ignore cfg and return the existing limiter.
func (r *Registry) EnsureSegment(name string, cfg Config) (*ratelimiter.RateLimiter, error) {
	if l := r.lookup(name); l != nil {
		return l, nil
	}

	v, err, _ := r.group.Do(name, func() (interface{}, error) {
		// Re-check under the singleflight key: another goroutine may have
		// finished building this segment between our lookup and Do call.
		if l := r.lookup(name); l != nil {
			return l, nil
		}

		l, err := buildLimiter(cfg)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.limiters[name] = l
		r.mu.Unlock()
		return l, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*ratelimiter.RateLimiter), nil
}

func buildLimiter(cfg Config) (*ratelimiter.RateLimiter, error) {
	b := ratelimiter.NewRateLimiterBuilder(cfg.TargetTPS)
	if cfg.MinTPS != nil {
		b = b.MinRate(*cfg.MinTPS)
	}
	if cfg.MaxTPS != nil {
		b = b.MaxRate(*cfg.MaxTPS)
	}
	if cfg.Controller != nil {
		b = b.Controller(cfg.Controller)
	}
	return b.Build()
}

func (r *Registry) lookup(name string) *ratelimiter.RateLimiter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.limiters[name]
}

// ErrUnknownSegment is returned by operations that reference a segment
// name never created via EnsureSegment.
type ErrUnknownSegment struct {
	Name string
}

func (e *ErrUnknownSegment) Error() string {
	return fmt.Sprintf("segment: unknown segment %q", e.Name)
}

// ShouldThrottle delegates to the named segment's RateLimiter.
// ShouldThrottle, returning ErrUnknownSegment if the segment was never
// created.
func (r *Registry) ShouldThrottle(name string) (bool, error) {
	l := r.lookup(name)
	if l == nil {
		return false, &ErrUnknownSegment{Name: name}
	}
	return l.ShouldThrottle(), nil
}

// ApplyPeerMetrics feeds peer-reported rate metrics for each named
// segment into that segment's RateLimiter as its external request and
// accepted-request rates. Segments named in the map that do not exist
// locally are ignored: a peer may track segments this process has not
// yet seen local traffic for.
func (r *Registry) ApplyPeerMetrics(source string, segments map[string]MetricData) {
	for name, data := range segments {
		l := r.lookup(name)
		if l == nil {
			continue
		}
		l.SetExternalRequestRate(data.RequestRate)
		l.SetExternalAcceptedRequestRate(data.AcceptedRequestRate)
	}
}

// Snapshot returns each known segment's current request and accepted
// request rates, the shape a peer would send in ApplyPeerMetrics.
func (r *Registry) Snapshot() map[string]MetricData {
	r.mu.RLock()
	names := make([]string, 0, len(r.limiters))
	limiters := make([]*ratelimiter.RateLimiter, 0, len(r.limiters))
	for name, l := range r.limiters {
		names = append(names, name)
		limiters = append(limiters, l)
	}
	r.mu.RUnlock()

	snapshot := make(map[string]MetricData, len(names))
	for i, name := range names {
		l := limiters[i]
		snapshot[name] = MetricData{
			RequestRate:         l.RequestRate(),
			AcceptedRequestRate: l.AcceptedRequestRate(),
		}
	}
	return snapshot
}
