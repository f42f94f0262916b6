package strategy

import (
	"errors"
	"sync"
	"time"

	cb "github.com/sony/gobreaker"
)

// BreakerSettings tunes the per-family circuit breaker.
type BreakerSettings struct {
	ConsecutiveTimeouts uint32        `yaml:"consecutive_timeouts"` // trip after this many consecutive timeouts
	Window              time.Duration `yaml:"window"`               // rolling window for failure counts
	CoolDown            time.Duration `yaml:"cool_down"`            // open-state duration before probing again
}

// DefaultBreakerSettings matches the soft-failure policy: three consecutive
// timeouts inside a one-minute window open the circuit for a minute.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		ConsecutiveTimeouts: 3,
		Window:              60 * time.Second,
		CoolDown:            60 * time.Second,
	}
}

// BreakerSet holds one circuit breaker per strategy family. A tripped family
// skips subsequent tasks for the cool-down period instead of timing out again.
type BreakerSet struct {
	mu       sync.Mutex
	settings BreakerSettings
	breakers map[Family]*cb.CircuitBreaker
}

// NewBreakerSet creates a breaker set with the given settings.
func NewBreakerSet(settings BreakerSettings) *BreakerSet {
	if settings.ConsecutiveTimeouts == 0 {
		settings = DefaultBreakerSettings()
	}
	return &BreakerSet{
		settings: settings,
		breakers: make(map[Family]*cb.CircuitBreaker),
	}
}

func (bs *BreakerSet) breaker(family Family) *cb.CircuitBreaker {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	if b, ok := bs.breakers[family]; ok {
		return b
	}

	st := cb.Settings{Name: string(family)}
	st.Interval = bs.settings.Window
	st.Timeout = bs.settings.CoolDown
	threshold := bs.settings.ConsecutiveTimeouts
	st.ReadyToTrip = func(counts cb.Counts) bool {
		return counts.ConsecutiveFailures >= threshold
	}

	b := cb.NewCircuitBreaker(st)
	bs.breakers[family] = b
	return b
}

// Execute runs fn under the family's breaker. Only fn errors count as breaker
// failures; callers feed it timeouts and withhold ordinary strategy errors.
func (bs *BreakerSet) Execute(family Family, fn func() (any, error)) (any, error) {
	return bs.breaker(family).Execute(fn)
}

// Open reports whether the family's circuit is currently open.
func (bs *BreakerSet) Open(family Family) bool {
	return bs.breaker(family).State() == cb.StateOpen
}

// States returns the current breaker state per family for diagnostics.
func (bs *BreakerSet) States() map[string]string {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	out := make(map[string]string, len(bs.breakers))
	for family, b := range bs.breakers {
		out[string(family)] = b.State().String()
	}
	return out
}

// IsOpenState reports whether err came from an open circuit rather than the
// wrapped function.
func IsOpenState(err error) bool {
	return errors.Is(err, cb.ErrOpenState) || errors.Is(err, cb.ErrTooManyRequests)
}
