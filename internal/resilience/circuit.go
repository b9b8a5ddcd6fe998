package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// BreakerState is where a Breaker sits in its closed, open and half-open cycle.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	// BreakerHalfOpen admits exactly one call to test whether the dependency
	// has recovered.
	BreakerHalfOpen
)

var breakerStateNames = map[BreakerState]string{
	BreakerClosed:   "closed",
	BreakerOpen:     "open",
	BreakerHalfOpen: "half-open",
}

func (s BreakerState) String() string {
	if n, ok := breakerStateNames[s]; ok {
		return n
	}
	return "unknown"
}

// ErrBreakerOpen is returned without calling the guarded function while the
// breaker is open or a trial call is already in flight.
var ErrBreakerOpen = eris.New("resilience: breaker open")

// BreakerOption tunes a Breaker.
type BreakerOption func(*Breaker)

// WithTripAfter sets how many consecutive failures open the breaker.
func WithTripAfter(n int) BreakerOption {
	return func(b *Breaker) {
		if n > 0 {
			b.tripAfter = n
		}
	}
}

// WithCooldown sets how long an open breaker rejects calls before admitting a trial call.
func WithCooldown(d time.Duration) BreakerOption {
	return func(b *Breaker) {
		if d > 0 {
			b.cooldown = d
		}
	}
}

// Breaker guards one named dependency (an object store bucket, an API host).
// Transitions are logged under the breaker's name.
type Breaker struct {
	name      string
	tripAfter int
	cooldown  time.Duration
	log       *zap.Logger
	clock     func() time.Time

	mu       sync.Mutex
	state    BreakerState
	streak   int
	openedAt time.Time
	inFlight bool
}

// NewBreaker returns a closed breaker: five straight failures open it for 30s.
func NewBreaker(name string, opts ...BreakerOption) *Breaker {
	b := &Breaker{
		name:      name,
		tripAfter: 5,
		cooldown:  30 * time.Second,
		log:       zap.L().With(zap.String("component", "breaker"), zap.String("breaker", name)),
		clock:     time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Name returns the dependency the breaker guards.
func (b *Breaker) Name() string { return b.name }

// Call runs fn through the breaker.
func (b *Breaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	trial, err := b.admit()
	if err != nil {
		return eris.Wrapf(err, "resilience: %s", b.name)
	}
	err = fn(ctx)
	b.settle(trial, err)
	return err
}

// State reports the breaker state, treating an expired cooldown as half-open.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && b.cooledDown() {
		return BreakerHalfOpen
	}
	return b.state
}

func (b *Breaker) cooledDown() bool {
	return b.clock().Sub(b.openedAt) >= b.cooldown
}

func (b *Breaker) admit() (trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return false, nil
	case BreakerOpen:
		if !b.cooledDown() {
			return false, ErrBreakerOpen
		}
		b.moveTo(BreakerHalfOpen)
	}
	if b.inFlight {
		return false, ErrBreakerOpen
	}
	b.inFlight = true
	return true, nil
}

func (b *Breaker) settle(trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if trial {
		b.inFlight = false
	}
	if err == nil {
		b.streak = 0
		if b.state != BreakerClosed {
			b.moveTo(BreakerClosed)
		}
		return
	}

	b.streak++
	if trial || (b.state == BreakerClosed && b.streak >= b.tripAfter) {
		b.openedAt = b.clock()
		b.moveTo(BreakerOpen)
	}
}

func (b *Breaker) moveTo(next BreakerState) {
	if b.state == next {
		return
	}
	b.log.Warn("breaker state changed",
		zap.Stringer("from", b.state),
		zap.Stringer("to", next),
		zap.Int("consecutive_failures", b.streak),
	)
	b.state = next
}
