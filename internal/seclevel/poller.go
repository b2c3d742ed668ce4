package seclevel

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// KeyReader is the minimal state-store surface the poller needs: a single
// GET. An empty string with nil error means "key missing".
type KeyReader interface {
	Get(ctx context.Context, key string) (string, error)
}

// Poller implements the amortized, single-writer security-level refresh
// described in spec §4.6: it is invoked from request-serving goroutines,
// increments a shared counter on every call, and only issues a state-store
// read when the counter is due, backing off exponentially on failure.
//
// The exponential doubling/capping arithmetic is delegated to
// backoff/v5's ExponentialBackOff. poll_interval is a request COUNT, not a
// duration, so the backoff library's time.Duration return value is reused
// purely as an integer counter with doubling-and-capping semantics — no
// wall-clock time is ever consulted by the poller.
type Poller struct {
	mu sync.Mutex

	store KeyReader
	key   string

	pollMin int64
	pollMax int64

	interval int64
	counter  int64
	level    Level

	bo *backoff.ExponentialBackOff
}

// NewPoller constructs a Poller with poll_interval initialized to pollMin
// and the cached level defaulted to Balanced per spec §3.
func NewPoller(store KeyReader, key string, pollMin, pollMax int64) *Poller {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Duration(pollMin)
	bo.MaxInterval = time.Duration(pollMax)
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0 // never consulted: this poller counts requests, not wall-clock time

	p := &Poller{
		store:   store,
		key:     key,
		pollMin: pollMin,
		pollMax: pollMax,
		level:   LevelBalanced,
		bo:      bo,
	}
	p.resetBackoffLocked()
	return p
}

// CurrentLevel returns a lock-protected snapshot of the cached level, always
// readable by request threads regardless of poll outcome.
func (p *Poller) CurrentLevel() Level {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

// MaybePoll increments the request counter and, if due, performs a single
// GET against the state store under the poller's mutex (at most one
// outstanding poll at a time). It always returns the (possibly just
// refreshed) cached level.
func (p *Poller) MaybePoll(ctx context.Context) Level {
	p.mu.Lock()
	p.counter++
	due := p.interval <= 0 || p.counter%p.interval == 0
	if !due {
		level := p.level
		p.mu.Unlock()
		return level
	}
	p.mu.Unlock()

	val, err := p.store.Get(ctx, p.key)

	p.mu.Lock()
	defer p.mu.Unlock()

	if err != nil {
		p.onFailureLocked(err)
		return p.level
	}

	p.level = Parse(val)
	p.onSuccessLocked()
	return p.level
}

func (p *Poller) onFailureLocked(err error) {
	d := p.bo.NextBackOff()
	next := int64(d)
	if next > p.pollMax {
		next = p.pollMax
	}
	if next < p.pollMin {
		next = p.pollMin
	}
	p.interval = next
	slog.Warn("seclevel: poll failed, retaining last known level",
		"error", err, "level", p.level.String(), "next_interval", p.interval)
}

func (p *Poller) onSuccessLocked() {
	p.resetBackoffLocked()
}

// resetBackoffLocked restores poll_interval to POLL_MIN (spec P7: "on the
// first success it resets to POLL_MIN"). ExponentialBackOff.NextBackOff
// returns the CURRENT interval and only doubles it afterward for the
// following call, so a freshly reset backoff would otherwise hand back
// POLL_MIN itself (undoubled) on the next failure. One throwaway
// NextBackOff call primes the library's internal interval to
// POLL_MIN*Multiplier, so the first real failure correctly observes
// poll_interval = POLL_MIN*2, matching P7.
func (p *Poller) resetBackoffLocked() {
	p.bo.Reset()
	p.bo.NextBackOff()
	p.interval = p.pollMin
}

// Interval exposes the current poll_interval for diagnostics and tests.
func (p *Poller) Interval() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interval
}
