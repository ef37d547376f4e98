// Package pool implements a generic, bounded pool of reusable items with
// waiter coordination, idle expiry, and background teardown. It is the
// resource-agnostic core that every specialised pool in this module
// (database connections, statement wrappers, or anything else satisfying
// Reusable) is built on top of.
package pool

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Reusable is any item that can be returned to a pool for later reuse.
// Recycle restores the item to its default state; a non-nil error means
// the item is no longer fit for reuse and must be destroyed instead.
//
// Implementations are expected to be pointer types so that pool-internal
// used-set tracking (by value identity) behaves as callers expect.
type Reusable interface {
	comparable
	Recycle() error
}

// Factory supplies the create/validate/destroy lifecycle hooks a Pool
// needs for items of type T. Validate is also invoked by the pool on
// idle entries pulled off the free list before they are handed out.
type Factory[T Reusable] interface {
	Create(ctx context.Context) (T, error)
	Validate(item T) bool
	Destroy(item T)
}

// AccessDiscipline selects which free entry check-out hands out first.
type AccessDiscipline int

const (
	// LIFO hands out the most recently returned entry, maximising cache
	// warmth for the hottest item.
	LIFO AccessDiscipline = iota
	// FIFO hands out the oldest returned entry, maximising fairness
	// across entries.
	FIFO
	// RANDOM hands out a uniformly random entry, useful for spreading
	// load across entries in experiments.
	RANDOM
)

// Config holds the tunable parameters of a Pool.
type Config struct {
	// Name identifies the pool in logs and events.
	Name string
	// PoolSize is the soft cap on total entries (free + used). Zero
	// means unbounded.
	PoolSize int
	// MaxSize is the hard cap on simultaneously checked-out entries.
	// Zero means unbounded; if set, it is raised to at least PoolSize.
	MaxSize int
	// Expiry is how long a free entry may sit idle before the reaper
	// destroys it. Zero disables idle expiry.
	Expiry time.Duration
	// Access selects the check-out discipline. Defaults to LIFO.
	Access AccessDiscipline
	// AsyncDestroy runs Destroy on a detached goroutine for entries the
	// pool discards from its free or used sets (check-in, stale free
	// entries, reaper, Flush, Release), for drivers whose Close blocks on
	// network I/O. Items that never entered the pool -- discarded by
	// CheckOut or Init right after Create -- are destroyed synchronously.
	AsyncDestroy bool
	// Logger receives lifecycle and reaper diagnostics. A nil Logger is
	// replaced with a no-op logger.
	Logger *zap.SugaredLogger
}

func (c Config) normalized() Config {
	if c.MaxSize > 0 && c.MaxSize < c.PoolSize {
		c.MaxSize = c.PoolSize
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop().Sugar()
	}
	return c
}

// Stats is a point-in-time snapshot of pool counters.
type Stats struct {
	Name      string
	Free      int
	Used      int
	Requests  uint64
	Hits      uint64
	Released  bool
	Reaping   bool
}

// HitRate returns Hits/Requests, or 0 when there have been no requests.
func (s Stats) HitRate() float64 {
	if s.Requests == 0 {
		return 0
	}
	return float64(s.Hits) / float64(s.Requests)
}

type entry[T Reusable] struct {
	item       T
	deathAt    time.Time // zero value means "never expires"
	lastAccess time.Time
}

func (e entry[T]) expired(now time.Time) bool {
	return !e.deathAt.IsZero() && now.After(e.deathAt)
}

// Pool is a bounded, named pool of Reusable items of type T.
type Pool[T Reusable] struct {
	mu   sync.Mutex
	cond *sync.Cond

	cfg     Config
	factory Factory[T]
	rng     *rand.Rand

	free     []entry[T]
	used     map[T]struct{}
	released bool

	requests uint64
	hits     uint64

	listeners []Listener

	reaperCancel func()
	reaperDone   chan struct{}
	reaping      bool

	initCancel func()
	initDone   chan struct{}
}

// New creates a Pool with the given configuration and factory. The pool
// starts with no entries; call Init to prepopulate it. When cfg.Expiry is
// positive, the idle reaper is started here.
func New[T Reusable](cfg Config, factory Factory[T]) *Pool[T] {
	cfg = cfg.normalized()
	p := &Pool[T]{
		cfg:     cfg,
		factory: factory,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		used:    make(map[T]struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	if cfg.Expiry > 0 {
		p.mu.Lock()
		p.startReaperLocked()
		p.mu.Unlock()
	}
	return p
}

// AddListener registers an advisory event listener. Listeners must
// return quickly; the pool isolates them in their own goroutine so a
// slow or panicking listener cannot stall or roll back a pool-state
// transition.
func (p *Pool[T]) AddListener(l Listener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, l)
}

func (p *Pool[T]) emitLocked(evt Event) {
	evt.Pool = p.cfg.Name
	if evt.At.IsZero() {
		evt.At = time.Now()
	}
	for _, l := range p.listeners {
		l := l
		go func() {
			defer func() {
				if r := recover(); r != nil {
					p.cfg.Logger.Warnw("pool listener panicked", "pool", p.cfg.Name, "recovered", r)
				}
			}()
			l.OnEvent(evt)
		}()
	}
}

// CheckOut attempts a single, non-blocking check-out. If the pool is at
// its hard cap with no valid free entry, it returns ErrPoolFull
// immediately rather than waiting.
func (p *Pool[T]) CheckOut(ctx context.Context) (T, error) {
	return p.checkOutOnce(ctx)
}

// CheckOutTimeout behaves like CheckOut but, if the pool is momentarily
// full, waits up to timeout for a slot to free up, retrying on every
// wake-up. On timeout it returns ErrTimeout, not an error condition the
// caller needs to treat as fatal.
func (p *Pool[T]) CheckOutTimeout(ctx context.Context, timeout time.Duration) (T, error) {
	deadline := time.Now().Add(timeout)
	for {
		item, err := p.checkOutOnce(ctx)
		if err == nil {
			return item, nil
		}
		if !errors.Is(err, ErrPoolFull) {
			var zero T
			return zero, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			var zero T
			return zero, ErrTimeout
		}
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		default:
		}
		p.waitUpTo(remaining)
	}
}

// waitUpTo blocks on the pool condition for at most d, waking early if
// checkIn (or release completion) broadcasts.
func (p *Pool[T]) waitUpTo(d time.Duration) {
	p.mu.Lock()
	timer := time.AfterFunc(d, func() {
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
	})
	defer timer.Stop()

	p.cond.Wait()
	p.mu.Unlock()
}

func (p *Pool[T]) popByDiscipline() entry[T] {
	var idx int
	switch p.cfg.Access {
	case FIFO:
		idx = 0
	case RANDOM:
		idx = p.rng.Intn(len(p.free))
	default: // LIFO
		idx = len(p.free) - 1
	}
	e := p.free[idx]
	p.free = append(p.free[:idx], p.free[idx+1:]...)
	return e
}

func (p *Pool[T]) checkOutOnce(ctx context.Context) (item T, err error) {
	p.mu.Lock()

	if p.released {
		p.mu.Unlock()
		var zero T
		return zero, ErrReleased
	}

	oldTotal := len(p.used) + len(p.free)

	found := false
	for len(p.free) > 0 {
		e := p.popByDiscipline()
		if p.factory.Validate(e.item) {
			item = e.item
			found = true
			p.hits++
			break
		}
		p.emitLocked(Event{Kind: EventValidationError})
		p.destroyLocked(e.item)
	}

	if !found {
		if p.cfg.MaxSize > 0 && len(p.used) >= p.cfg.MaxSize {
			p.emitLocked(Event{Kind: EventMaxSizeLimitError})
			p.mu.Unlock()
			var zero T
			return zero, ErrPoolFull
		}

		// Create runs unlocked -- it may block on network I/O, and
		// holding p.mu here would stall every other CheckOut, CheckIn,
		// and Stats call on the pool for as long as one connection
		// takes to open, the same reasoning Init's background worker
		// already follows.
		p.mu.Unlock()
		created, cerr := p.factory.Create(ctx)
		if cerr != nil {
			var zero T
			return zero, fmt.Errorf("pool: create: %w", cerr)
		}
		if !p.factory.Validate(created) {
			p.factory.Destroy(created)
			var zero T
			return zero, ErrCreateInvalid
		}

		p.mu.Lock()
		if p.released {
			p.mu.Unlock()
			p.factory.Destroy(created)
			var zero T
			return zero, ErrReleased
		}
		if p.cfg.MaxSize > 0 && len(p.used) >= p.cfg.MaxSize {
			// Someone else filled the last slot while Create ran.
			p.emitLocked(Event{Kind: EventMaxSizeLimitError})
			p.mu.Unlock()
			p.factory.Destroy(created)
			var zero T
			return zero, ErrPoolFull
		}
		item = created
	}

	p.used[item] = struct{}{}
	p.requests++
	newTotal := len(p.used) + len(p.free)
	p.emitLocked(Event{Kind: EventCheckout})
	p.emitThresholdsLocked(oldTotal, newTotal)
	p.mu.Unlock()
	return item, nil
}

func (p *Pool[T]) emitThresholdsLocked(oldTotal, newTotal int) {
	if p.cfg.PoolSize > 0 {
		if oldTotal < p.cfg.PoolSize && newTotal >= p.cfg.PoolSize {
			p.emitLocked(Event{Kind: EventMaxPoolLimitReached})
		}
		if oldTotal <= p.cfg.PoolSize && newTotal > p.cfg.PoolSize {
			p.emitLocked(Event{Kind: EventMaxPoolLimitExceeded})
		}
	}
	if p.cfg.MaxSize > 0 && oldTotal < p.cfg.MaxSize && newTotal >= p.cfg.MaxSize {
		p.emitLocked(Event{Kind: EventMaxSizeLimitReached})
	}
}

// CheckIn returns a previously checked-out item to the pool. If the item
// was not obtained from this pool, it returns ErrForeignItem.
func (p *Pool[T]) CheckIn(item T) error {
	p.mu.Lock()

	p.emitLocked(Event{Kind: EventCheckin})

	if _, ok := p.used[item]; !ok {
		p.mu.Unlock()
		return ErrForeignItem
	}
	delete(p.used, item)

	kill := p.shouldKillOnCheckInLocked()
	if kill {
		p.destroyLocked(item)
		p.cond.Broadcast()
		p.mu.Unlock()
		return nil
	}

	if err := item.Recycle(); err != nil {
		p.cfg.Logger.Debugw("recycle failed, destroying", "pool", p.cfg.Name, "error", err)
		p.destroyLocked(item)
		p.cond.Broadcast()
		p.mu.Unlock()
		return nil
	}

	p.free = append(p.free, entry[T]{item: item, deathAt: p.deathAtLocked(), lastAccess: time.Now()})
	p.cond.Broadcast()
	p.mu.Unlock()
	return nil
}

// shouldKillOnCheckInLocked decides whether a returning item must be
// destroyed rather than cached, per spec.md's check-in algorithm. A
// PoolSize of zero means "unbounded soft cap", so it never triggers a
// kill on its own.
func (p *Pool[T]) shouldKillOnCheckInLocked() bool {
	if p.cfg.PoolSize == 0 {
		return false
	}
	total := len(p.used) + len(p.free)
	if p.cfg.MaxSize > 0 {
		return total >= p.cfg.PoolSize
	}
	return len(p.free) >= p.cfg.PoolSize
}

func (p *Pool[T]) deathAtLocked() time.Time {
	if p.cfg.Expiry <= 0 {
		return time.Time{}
	}
	return time.Now().Add(p.cfg.Expiry)
}

func (p *Pool[T]) destroyLocked(item T) {
	if p.cfg.AsyncDestroy {
		go p.factory.Destroy(item)
		return
	}
	p.factory.Destroy(item)
}

// SetParameters atomically changes pool size, hard cap, and idle expiry,
// and resets the hit-rate counters. The reaper is restarted to reflect
// the new expiry.
func (p *Pool[T]) SetParameters(poolSize, maxSize int, expiry time.Duration) {
	p.mu.Lock()
	p.stopReaperLocked()
	p.cfg.PoolSize = poolSize
	p.cfg.MaxSize = maxSize
	if p.cfg.MaxSize > 0 && p.cfg.MaxSize < p.cfg.PoolSize {
		p.cfg.MaxSize = p.cfg.PoolSize
	}
	p.cfg.Expiry = expiry
	p.requests = 0
	p.hits = 0
	if expiry > 0 {
		p.startReaperLocked()
	}
	p.mu.Unlock()
}

// Init prepopulates the pool up to n entries (clamped to [0, PoolSize]),
// running on a one-shot background worker. A second call to Init halts
// the previous one before starting anew.
func (p *Pool[T]) Init(n int) {
	p.mu.Lock()
	if p.initCancel != nil {
		p.initCancel()
		<-p.initDone
	}
	if n < 0 {
		n = 0
	}
	if n > p.cfg.PoolSize {
		n = p.cfg.PoolSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.initCancel = cancel
	done := make(chan struct{})
	p.initDone = done
	target := n
	p.mu.Unlock()

	go func() {
		defer close(done)
		for {
			p.mu.Lock()
			if ctx.Err() != nil || len(p.free)+len(p.used) >= target || p.released {
				p.mu.Unlock()
				return
			}
			p.mu.Unlock()

			item, err := p.factory.Create(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				p.cfg.Logger.Warnw("pool init create failed", "pool", p.cfg.Name, "error", err)
				return
			}

			p.mu.Lock()
			if ctx.Err() != nil || p.released || len(p.free)+len(p.used) >= target {
				p.mu.Unlock()
				p.factory.Destroy(item)
				return
			}
			p.free = append(p.free, entry[T]{item: item, deathAt: p.deathAtLocked(), lastAccess: time.Now()})
			p.cond.Broadcast()
			p.mu.Unlock()
		}
	}()
}

// Flush destroys every currently idle (free) entry without releasing the
// pool; subsequent check-outs create fresh entries as needed.
func (p *Pool[T]) Flush() {
	p.mu.Lock()
	entries := p.free
	p.free = nil
	p.mu.Unlock()

	for _, e := range entries {
		p.destroyLocked(e.item)
	}
}

// Release shuts the pool down. New check-outs fail with ErrReleased. If
// force is false, Release waits for every checked-out item to be
// returned before destroying it; if force is true, outstanding items are
// destroyed immediately regardless of their borrower.
func (p *Pool[T]) Release(force bool) {
	p.mu.Lock()
	p.released = true
	p.stopReaperLocked()

	if !force {
		for len(p.used) > 0 {
			p.cond.Wait()
		}
	} else {
		for item := range p.used {
			delete(p.used, item)
			p.destroyLocked(item)
		}
	}

	for _, e := range p.free {
		p.destroyLocked(e.item)
	}
	p.free = nil

	p.emitLocked(Event{Kind: EventPoolReleased})
	p.listeners = nil
	p.mu.Unlock()
}

// ReleaseAsync runs Release on a detached goroutine and returns
// immediately.
func (p *Pool[T]) ReleaseAsync(force bool) {
	go p.Release(force)
}

// Stats returns a snapshot of the pool's current counters.
func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Name:     p.cfg.Name,
		Free:     len(p.free),
		Used:     len(p.used),
		Requests: p.requests,
		Hits:     p.hits,
		Released: p.released,
		Reaping:  p.reaping,
	}
}
