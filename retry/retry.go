// Package retry provides exponential backoff for transient connection
// failures, used by the bridge when establishing its broker link.
package retry

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/alexanderbartels/marble/errors"
)

var (
	randMu     sync.Mutex
	randSource = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// Policy configures the backoff schedule.
type Policy struct {
	// MaxAttempts bounds the total number of tries. Zero runs the
	// operation once without retrying.
	MaxAttempts int
	// InitialDelay is the wait after the first failure.
	InitialDelay time.Duration
	// MaxDelay caps the growing delay.
	MaxDelay time.Duration
	// Multiplier scales the delay after each failure.
	Multiplier float64
	// Jitter randomizes each delay to avoid synchronized reconnects.
	Jitter bool
}

// DefaultPolicy returns the schedule used for broker connections.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  5,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Do runs op until it succeeds, the attempts are spent, or the context is
// cancelled. Errors classified as invalid input or configuration are never
// retried; waiting will not fix a bad config.
func (p Policy) Do(ctx context.Context, op func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	delay := p.InitialDelay
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if errors.IsInvalid(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "retry.Policy", "Do", "wait for next attempt")
		case <-time.After(p.nextDelay(&delay)):
		}
	}
	return err
}

// nextDelay returns the current delay, then advances the schedule.
func (p Policy) nextDelay(delay *time.Duration) time.Duration {
	current := *delay
	if p.Jitter && current > 0 {
		randMu.Lock()
		// Up to 25% above the scheduled delay.
		current += time.Duration(randSource.Int63n(int64(current)/4 + 1))
		randMu.Unlock()
	}

	next := time.Duration(float64(*delay) * p.Multiplier)
	if p.MaxDelay > 0 && next > p.MaxDelay {
		next = p.MaxDelay
	}
	*delay = next

	if p.MaxDelay > 0 && current > p.MaxDelay {
		current = p.MaxDelay
	}
	return current
}
