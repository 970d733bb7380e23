package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"tmai-server/observability"
)

// Model provider calls run through a per-provider circuit breaker so a
// degraded provider sheds load instead of stacking timeouts on every
// chat and ingest request.

// BreakerSettings tunes the per-provider circuit breakers.
type BreakerSettings struct {
	// HalfOpenRequests is how many probe requests the half-open state admits.
	HalfOpenRequests uint32
	// CountsInterval is the closed-state period after which counts reset.
	CountsInterval time.Duration
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
	// MinRequests and FailureRatio together decide when to trip: the breaker
	// opens once at least MinRequests were seen and the failure ratio of the
	// current window reaches FailureRatio.
	MinRequests  uint32
	FailureRatio float64
}

// DefaultBreakerSettings fits hosted model APIs: trip at 50% failures over
// at least five requests, probe again after 30 seconds.
var DefaultBreakerSettings = BreakerSettings{
	HalfOpenRequests: 5,
	CountsInterval:   time.Minute,
	OpenTimeout:      30 * time.Second,
	MinRequests:      5,
	FailureRatio:     0.5,
}

// BreakerRegistry lazily creates one breaker per provider name.
type BreakerRegistry struct {
	mu       sync.RWMutex
	settings BreakerSettings
	breakers map[string]*gobreaker.CircuitBreaker[any]
}

func NewBreakerRegistry(settings BreakerSettings) *BreakerRegistry {
	return &BreakerRegistry{
		settings: settings,
		breakers: make(map[string]*gobreaker.CircuitBreaker[any]),
	}
}

func (br *BreakerRegistry) breaker(provider string) *gobreaker.CircuitBreaker[any] {
	br.mu.RLock()
	cb, ok := br.breakers[provider]
	br.mu.RUnlock()
	if ok {
		return cb
	}

	br.mu.Lock()
	defer br.mu.Unlock()
	if cb, ok = br.breakers[provider]; ok {
		return cb
	}

	s := br.settings
	cb = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        provider,
		MaxRequests: s.HalfOpenRequests,
		Interval:    s.CountsInterval,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= s.MinRequests && ratio >= s.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			observability.Warn("circuit breaker state change",
				"provider", name, "from", from.String(), "to", to.String())

			m := observability.GetMetrics()
			m.SetCircuitBreakerState(name, stateGauge(to))
			if to == gobreaker.StateOpen {
				m.RecordCircuitBreakerTrip(name)
			}
		},
	})
	br.breakers[provider] = cb
	return cb
}

// Run executes fn through the provider's breaker. A canceled context fails
// the call (and counts against the breaker) without invoking fn.
func (br *BreakerRegistry) Run(ctx context.Context, provider string, fn func() (any, error)) (any, error) {
	result, err := br.breaker(provider).Execute(func() (any, error) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return fn()
	})

	switch err {
	case gobreaker.ErrOpenState:
		observability.Warn("circuit breaker open, rejecting call", "provider", provider)
		return nil, fmt.Errorf("provider %s unavailable: circuit breaker open", provider)
	case gobreaker.ErrTooManyRequests:
		observability.Warn("circuit breaker half-open, shedding call", "provider", provider)
		return nil, fmt.Errorf("provider %s unavailable: half-open probe limit reached", provider)
	}
	return result, err
}

// BreakerStatus is a point-in-time snapshot of one provider's breaker,
// reported by the health endpoint.
type BreakerStatus struct {
	Provider             string `json:"provider"`
	State                string `json:"state"`
	Requests             uint32 `json:"requests"`
	TotalSuccesses       uint32 `json:"totalSuccesses"`
	TotalFailures        uint32 `json:"totalFailures"`
	ConsecutiveSuccesses uint32 `json:"consecutiveSuccesses"`
	ConsecutiveFailures  uint32 `json:"consecutiveFailures"`
}

// Status snapshots every breaker created so far.
func (br *BreakerRegistry) Status() map[string]BreakerStatus {
	br.mu.RLock()
	defer br.mu.RUnlock()

	out := make(map[string]BreakerStatus, len(br.breakers))
	for provider, cb := range br.breakers {
		counts := cb.Counts()
		out[provider] = BreakerStatus{
			Provider:             provider,
			State:                cb.State().String(),
			Requests:             counts.Requests,
			TotalSuccesses:       counts.TotalSuccesses,
			TotalFailures:        counts.TotalFailures,
			ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
			ConsecutiveFailures:  counts.ConsecutiveFailures,
		}
	}
	return out
}

var (
	globalBreakers *BreakerRegistry
	breakersOnce   sync.Once
)

// Breakers returns the process-wide breaker registry.
func Breakers() *BreakerRegistry {
	breakersOnce.Do(func() {
		globalBreakers = NewBreakerRegistry(DefaultBreakerSettings)
	})
	return globalBreakers
}

// SetBreakerRegistry replaces the process-wide registry. Tests use this to
// start each case from closed breakers.
func SetBreakerRegistry(br *BreakerRegistry) {
	globalBreakers = br
}

// callThroughBreaker adapts Run to a typed result.
func callThroughBreaker[T any](ctx context.Context, provider string, fn func() (T, error)) (T, error) {
	result, err := Breakers().Run(ctx, provider, func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result.(T), nil
}

// Breaker names for the model providers.
const (
	BreakerOpenAI  = "openai"
	BreakerBedrock = "bedrock"
)

// stateGauge maps a breaker state to its metric value:
// 0=closed, 1=half-open, 2=open.
func stateGauge(state gobreaker.State) int {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
