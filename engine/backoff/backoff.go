package backoff

import (
	"math/rand"
	"sync"
	"time"
)

// maxShift bounds the exponent used by exponential strategies so the
// bit shift cannot overflow int64.
const maxShift = 62

// Strategy computes the delay before a retry attempt.
//
// Implementations must be safe for concurrent use. A fresh Strategy is
// created per task, so stateful strategies track one task's history only.
type Strategy interface {
	// NextDelay returns the pause before retry number attempt. Attempts are
	// 1-based: attempt 1 is the first retry after the initial failure.
	// lastErr is the error that triggered the retry; strategies may ignore it.
	NextDelay(attempt int, lastErr error) time.Duration

	// Reset clears any per-task state, returning the strategy to its
	// initial delay sequence.
	Reset()
}

// linear grows the delay proportionally to the attempt number:
// base, 2*base, 3*base, ... capped at max when max > 0.
type linear struct {
	base time.Duration
	max  time.Duration
}

// NewLinear returns a strategy whose delay is base multiplied by the
// attempt number. A max of zero means uncapped.
func NewLinear(base, max time.Duration) Strategy {
	return &linear{base: base, max: max}
}

func (l *linear) NextDelay(attempt int, _ error) time.Duration {
	if attempt < 1 || l.base <= 0 {
		return 0
	}

	delay := l.base * time.Duration(attempt)
	if delay < 0 {
		// Overflow from a huge attempt count.
		delay = l.max
	}
	return capDelay(delay, l.max)
}

func (l *linear) Reset() {
	// Stateless.
}

// exponential doubles the delay on each attempt:
// base, 2*base, 4*base, ... capped at max when max > 0.
type exponential struct {
	base time.Duration
	max  time.Duration
}

// NewExponential returns a strategy whose delay doubles with each attempt.
// A max of zero means uncapped.
func NewExponential(base, max time.Duration) Strategy {
	return &exponential{base: base, max: max}
}

func (e *exponential) NextDelay(attempt int, _ error) time.Duration {
	return exponentialDelay(attempt, e.base, e.max)
}

func (e *exponential) Reset() {
	// Stateless.
}

// jittered perturbs the exponential delay by a random factor in
// [1-jitter, 1+jitter] to spread out synchronized retries.
type jittered struct {
	base   time.Duration
	max    time.Duration
	jitter float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewJittered returns an exponential strategy with multiplicative jitter.
// jitter is clamped to [0, 1]; 0.2 means each delay varies by up to ±20%.
func NewJittered(base, max time.Duration, jitter float64) Strategy {
	if jitter < 0 {
		jitter = 0
	}
	if jitter > 1 {
		jitter = 1
	}
	return &jittered{
		base:   base,
		max:    max,
		jitter: jitter,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (j *jittered) NextDelay(attempt int, _ error) time.Duration {
	delay := exponentialDelay(attempt, j.base, j.max)
	if delay <= 0 || j.jitter == 0 {
		return delay
	}

	j.mu.Lock()
	factor := 1 + (j.rng.Float64()*2-1)*j.jitter
	j.mu.Unlock()

	jittered := time.Duration(float64(delay) * factor)
	if jittered < 0 {
		jittered = 0
	}
	return capDelay(jittered, j.max)
}

func (j *jittered) Reset() {
	// Stateless apart from the RNG, which needs no reset.
}

// decorrelated implements decorrelated jitter: each delay is drawn from
// [base, 3*prev], so the sequence depends on its own history rather than
// the attempt number. Effective when many tasks fail against the same
// dependency at once.
type decorrelated struct {
	base time.Duration
	max  time.Duration

	mu   sync.Mutex
	prev time.Duration
	rng  *rand.Rand
}

// NewDecorrelated returns a decorrelated jitter strategy.
// A max of zero means uncapped.
func NewDecorrelated(base, max time.Duration) Strategy {
	return &decorrelated{
		base: base,
		max:  max,
		prev: base,
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (d *decorrelated) NextDelay(attempt int, _ error) time.Duration {
	if attempt < 1 || d.base <= 0 {
		return 0
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if attempt == 1 {
		d.prev = d.base
		return d.base
	}

	upper := capDelay(d.prev*3, d.max)
	span := upper - d.base
	if span <= 0 {
		d.prev = d.base
		return d.base
	}

	delay := d.base + time.Duration(d.rng.Int63n(int64(span)))
	d.prev = delay
	return delay
}

func (d *decorrelated) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.prev = d.base
}

func exponentialDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 || base <= 0 {
		return 0
	}

	shift := uint(attempt - 1)
	if shift >= maxShift {
		return capDelay(1<<maxShift, max)
	}

	delay := base << shift
	if delay < 0 || delay/base != 1<<shift {
		// Overflow.
		if max > 0 {
			return max
		}
		return 1 << maxShift
	}
	return capDelay(delay, max)
}

func capDelay(delay, max time.Duration) time.Duration {
	if max > 0 && delay > max {
		return max
	}
	return delay
}
