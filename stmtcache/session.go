package stmtcache

import (
	"context"
	"database/sql/driver"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Config controls which statement families a Session caches.
type Config struct {
	CacheSimple   bool
	CachePrepared bool
	CacheCallable bool
	Debug         bool
	Logger        *zap.SugaredLogger
}

func (c Config) normalized() Config {
	if c.Logger == nil {
		c.Logger = zap.NewNop().Sugar()
	}
	return c
}

// ReleaseFailedError aggregates every teardown failure encountered while
// releasing a session or checking it in for recycling. Every cause
// remains reachable through errors.Is/As via multierr.
type ReleaseFailedError struct {
	Causes error
}

func (e *ReleaseFailedError) Error() string {
	return fmt.Sprintf("stmtcache: release failed: %v", e.Causes)
}

func (e *ReleaseFailedError) Unwrap() error { return e.Causes }

// Session is the caching facade over a raw driver.Conn. It satisfies
// pool.Reusable so a pool.Pool[*Session] can manage sessions directly.
type Session struct {
	conn driver.Conn
	cfg  Config

	// checkin hands the session back to whatever pool vended it; wired
	// up by the caller that constructs the session (sqlconn), since
	// Session itself has no notion of which pool owns it.
	checkin func(*Session) error

	open bool

	simpleMu    sync.Mutex
	simpleCache []*Wrapper
	simpleInUse map[*Wrapper]struct{}
	reqSimple   uint64
	hitSimple   uint64

	preparedMu    sync.Mutex
	preparedCache map[string][]*Wrapper
	preparedInUse map[*Wrapper]struct{}
	reqPrepared   uint64
	hitPrepared   uint64

	callableMu    sync.Mutex
	callableCache map[string][]*Wrapper
	callableInUse map[*Wrapper]struct{}
	reqCallable   uint64
	hitCallable   uint64

	nonCachableMu sync.Mutex
	nonCachable   map[*Wrapper]struct{}
}

// New wraps conn in a caching Session. checkin is invoked by Close to
// return the session to its owning pool; it may be nil for sessions used
// outside a pool (tests, one-off tooling).
func New(conn driver.Conn, cfg Config, checkin func(*Session) error) *Session {
	cfg = cfg.normalized()
	return &Session{
		conn:          conn,
		cfg:           cfg,
		checkin:       checkin,
		open:          true,
		simpleInUse:   make(map[*Wrapper]struct{}),
		preparedCache: make(map[string][]*Wrapper),
		preparedInUse: make(map[*Wrapper]struct{}),
		callableCache: make(map[string][]*Wrapper),
		callableInUse: make(map[*Wrapper]struct{}),
		nonCachable:   make(map[*Wrapper]struct{}),
	}
}

// Conn exposes the raw driver connection, for operations the caching
// layer does not mediate (Begin, Ping, and the like).
func (s *Session) Conn() driver.Conn { return s.conn }

// Borrow marks the session as checked out by a new consumer. Callers
// that vend sessions through a pool.Pool must call this after a
// successful check-out, since pool check-in calls Recycle, not Close.
func (s *Session) Borrow() { s.open = true }

// Close returns the session to its owning pool. A second Close on an
// already-closed session reports ErrDoubleClose rather than corrupting
// pool state.
func (s *Session) Close() error {
	if !s.open {
		return ErrDoubleClose
	}
	s.open = false
	if s.checkin == nil {
		return nil
	}
	return s.checkin(s)
}

// Simple vends a statement whose SQL is supplied per ExecSimple/
// QuerySimple call rather than fixed at creation time.
func (s *Session) Simple(mode Mode) (*Wrapper, error) {
	if !s.open {
		return nil, ErrSessionClosed
	}
	if !s.cfg.CacheSimple {
		w := &Wrapper{session: s, family: Simple, mode: mode, open: true}
		s.simpleMu.Lock()
		s.simpleInUse[w] = struct{}{}
		s.simpleMu.Unlock()
		return w, nil
	}

	s.simpleMu.Lock()
	s.reqSimple++
	idx := -1
	for i, cand := range s.simpleCache {
		if cand.mode == mode {
			idx = i
		}
	}
	if idx >= 0 {
		w := s.simpleCache[idx]
		s.simpleCache = append(s.simpleCache[:idx], s.simpleCache[idx+1:]...)
		s.hitSimple++
		w.open = true
		s.simpleInUse[w] = struct{}{}
		s.simpleMu.Unlock()
		return w, nil
	}
	s.simpleMu.Unlock()

	w := &Wrapper{session: s, family: Simple, mode: mode, open: true}
	s.simpleMu.Lock()
	s.simpleInUse[w] = struct{}{}
	s.simpleMu.Unlock()
	return w, nil
}

// Prepared vends a statement bound to sql for its lifetime. nonCachable
// forces the wrapper out of the idle cache regardless of the session's
// CachePrepared setting, mirroring the JDBC generated-keys/column-list
// variants that are always non-cachable.
func (s *Session) Prepared(ctx context.Context, sql string, mode Mode, nonCachable bool) (*Wrapper, error) {
	return s.prepareFamily(ctx, Prepared, &s.preparedMu, s.preparedCache, s.preparedInUse, &s.reqPrepared, &s.hitPrepared, sql, mode, s.cfg.CachePrepared, nonCachable)
}

// Callable vends a statement for stored-procedure-style calls. It uses
// the same driver.Stmt creation path as Prepared -- database/sql/driver
// has no callable-statement primitive -- but is tracked under its own
// cache, lock, and hit-rate counters.
func (s *Session) Callable(ctx context.Context, sql string, mode Mode, nonCachable bool) (*Wrapper, error) {
	return s.prepareFamily(ctx, Callable, &s.callableMu, s.callableCache, s.callableInUse, &s.reqCallable, &s.hitCallable, sql, mode, s.cfg.CacheCallable, nonCachable)
}

func (s *Session) prepareFamily(ctx context.Context, family Family, mu *sync.Mutex, cache map[string][]*Wrapper, inUse map[*Wrapper]struct{}, reqCounter, hitCounter *uint64, sql string, mode Mode, cacheEnabled, nonCachable bool) (*Wrapper, error) {
	if !s.open {
		return nil, ErrSessionClosed
	}

	if nonCachable {
		raw, err := s.prepare(ctx, sql)
		if err != nil {
			return nil, err
		}
		w := &Wrapper{session: s, family: family, sql: sql, mode: mode, raw: raw, nonCachable: true, open: true}
		s.nonCachableMu.Lock()
		s.nonCachable[w] = struct{}{}
		s.nonCachableMu.Unlock()
		return w, nil
	}

	if !cacheEnabled {
		raw, err := s.prepare(ctx, sql)
		if err != nil {
			return nil, err
		}
		w := &Wrapper{session: s, family: family, sql: sql, mode: mode, raw: raw, open: true}
		mu.Lock()
		inUse[w] = struct{}{}
		mu.Unlock()
		return w, nil
	}

	mu.Lock()
	*reqCounter++
	list := cache[sql]
	idx := -1
	for i, cand := range list {
		if cand.mode == mode {
			idx = i
		}
	}
	if idx >= 0 {
		w := list[idx]
		list = append(list[:idx], list[idx+1:]...)
		if len(list) == 0 {
			delete(cache, sql)
		} else {
			cache[sql] = list
		}
		*hitCounter++
		w.open = true
		inUse[w] = struct{}{}
		mu.Unlock()
		return w, nil
	}
	mu.Unlock()

	raw, err := s.prepare(ctx, sql)
	if err != nil {
		return nil, err
	}
	w := &Wrapper{session: s, family: family, sql: sql, mode: mode, raw: raw, open: true}
	mu.Lock()
	inUse[w] = struct{}{}
	mu.Unlock()
	return w, nil
}

func (s *Session) prepare(ctx context.Context, sql string) (driver.Stmt, error) {
	if preparer, ok := s.conn.(driver.ConnPrepareContext); ok {
		return preparer.PrepareContext(ctx, sql)
	}
	return s.conn.Prepare(sql)
}

// statementClosed is the return path invoked by Wrapper.Close.
func (s *Session) statementClosed(w *Wrapper) error {
	if w.nonCachable {
		s.nonCachableMu.Lock()
		delete(s.nonCachable, w)
		s.nonCachableMu.Unlock()
		return w.release()
	}
	switch w.family {
	case Simple:
		return s.returnSimple(w)
	case Prepared:
		return s.returnFamily(&s.preparedMu, s.preparedCache, s.preparedInUse, w, s.cfg.CachePrepared)
	case Callable:
		return s.returnFamily(&s.callableMu, s.callableCache, s.callableInUse, w, s.cfg.CacheCallable)
	default:
		return w.release()
	}
}

func (s *Session) returnSimple(w *Wrapper) error {
	s.simpleMu.Lock()
	delete(s.simpleInUse, w)
	if !s.cfg.CacheSimple {
		s.simpleMu.Unlock()
		return w.release()
	}
	if err := w.recycle(); err != nil {
		s.simpleMu.Unlock()
		return w.release()
	}
	s.simpleCache = append(s.simpleCache, w)
	s.simpleMu.Unlock()
	return nil
}

func (s *Session) returnFamily(mu *sync.Mutex, cache map[string][]*Wrapper, inUse map[*Wrapper]struct{}, w *Wrapper, cacheEnabled bool) error {
	mu.Lock()
	delete(inUse, w)
	if !cacheEnabled {
		mu.Unlock()
		return w.release()
	}
	if err := w.recycle(); err != nil {
		mu.Unlock()
		return w.release()
	}
	cache[w.sql] = append(cache[w.sql], w)
	mu.Unlock()
	return nil
}

// Recycle restores the session to its default state for reuse. It is
// invoked by the owning pool.Pool on check-in, not by consumer code.
func (s *Session) Recycle() error {
	var errs error
	errs = multierr.Append(errs, s.recycleSimple())
	errs = multierr.Append(errs, s.recyclePreparedOrCallable(&s.preparedMu, s.preparedCache, s.preparedInUse, s.cfg.CachePrepared))
	errs = multierr.Append(errs, s.recyclePreparedOrCallable(&s.callableMu, s.callableCache, s.callableInUse, s.cfg.CacheCallable))
	errs = multierr.Append(errs, s.releaseNonCachable())
	if errs != nil {
		return &ReleaseFailedError{Causes: errs}
	}
	return nil
}

// recycleSimple forces every leaked (never-Closed) in-use Simple wrapper
// shut on session recycle rather than returning it to the idle cache: a
// wrapper the client walked away with is never trustworthy enough to
// hand to the next borrower, cache enabled or not.
func (s *Session) recycleSimple() error {
	s.simpleMu.Lock()
	leaked := make([]*Wrapper, 0, len(s.simpleInUse))
	for w := range s.simpleInUse {
		leaked = append(leaked, w)
	}
	s.simpleInUse = make(map[*Wrapper]struct{})
	var idle []*Wrapper
	if !s.cfg.CacheSimple {
		idle = s.simpleCache
		s.simpleCache = nil
	}
	s.simpleMu.Unlock()

	var errs error
	for _, w := range leaked {
		w.open = false
		errs = multierr.Append(errs, w.release())
	}
	for _, w := range idle {
		errs = multierr.Append(errs, w.release())
	}
	return errs
}

// recyclePreparedOrCallable forces every leaked in-use wrapper of the
// family shut, same as recycleSimple; only genuinely idle entries ever
// stay in the cache across a recycle.
func (s *Session) recyclePreparedOrCallable(mu *sync.Mutex, cache map[string][]*Wrapper, inUse map[*Wrapper]struct{}, cacheEnabled bool) error {
	mu.Lock()
	leaked := make([]*Wrapper, 0, len(inUse))
	for w := range inUse {
		leaked = append(leaked, w)
	}
	for k := range inUse {
		delete(inUse, k)
	}
	var idle []*Wrapper
	if !cacheEnabled {
		for sql, list := range cache {
			idle = append(idle, list...)
			delete(cache, sql)
		}
	}
	mu.Unlock()

	var errs error
	for _, w := range leaked {
		w.open = false
		errs = multierr.Append(errs, w.release())
	}
	for _, w := range idle {
		errs = multierr.Append(errs, w.release())
	}
	return errs
}

func (s *Session) releaseNonCachable() error {
	s.nonCachableMu.Lock()
	leaked := make([]*Wrapper, 0, len(s.nonCachable))
	for w := range s.nonCachable {
		leaked = append(leaked, w)
	}
	s.nonCachable = make(map[*Wrapper]struct{})
	s.nonCachableMu.Unlock()

	var errs error
	for _, w := range leaked {
		errs = multierr.Append(errs, w.release())
	}
	return errs
}

// Release permanently tears the session down: every cached and in-use
// wrapper of every family is released, then the raw connection is
// closed. It is invoked by the owning pool on destroy.
func (s *Session) Release() error {
	var errs error
	errs = multierr.Append(errs, s.releaseAllSimple())
	errs = multierr.Append(errs, s.releaseAllPreparedOrCallable(&s.preparedMu, s.preparedCache, s.preparedInUse))
	errs = multierr.Append(errs, s.releaseAllPreparedOrCallable(&s.callableMu, s.callableCache, s.callableInUse))
	errs = multierr.Append(errs, s.releaseNonCachable())
	if err := s.conn.Close(); err != nil {
		errs = multierr.Append(errs, err)
	}
	if errs != nil {
		return &ReleaseFailedError{Causes: errs}
	}
	return nil
}

func (s *Session) releaseAllSimple() error {
	s.simpleMu.Lock()
	idle := s.simpleCache
	inUse := make([]*Wrapper, 0, len(s.simpleInUse))
	for w := range s.simpleInUse {
		inUse = append(inUse, w)
	}
	s.simpleCache = nil
	s.simpleInUse = make(map[*Wrapper]struct{})
	s.simpleMu.Unlock()

	var errs error
	for _, w := range idle {
		errs = multierr.Append(errs, w.release())
	}
	for _, w := range inUse {
		errs = multierr.Append(errs, w.release())
	}
	return errs
}

func (s *Session) releaseAllPreparedOrCallable(mu *sync.Mutex, cache map[string][]*Wrapper, inUse map[*Wrapper]struct{}) error {
	mu.Lock()
	var idle []*Wrapper
	for sql, list := range cache {
		idle = append(idle, list...)
		delete(cache, sql)
	}
	used := make([]*Wrapper, 0, len(inUse))
	for w := range inUse {
		used = append(used, w)
	}
	for k := range inUse {
		delete(inUse, k)
	}
	mu.Unlock()

	var errs error
	for _, w := range idle {
		errs = multierr.Append(errs, w.release())
	}
	for _, w := range used {
		errs = multierr.Append(errs, w.release())
	}
	return errs
}

// Stats is a point-in-time snapshot of a session's per-family hit-rate
// counters.
type Stats struct {
	ReqSimple, HitSimple     uint64
	ReqPrepared, HitPrepared uint64
	ReqCallable, HitCallable uint64
}

func (s *Session) Stats() Stats {
	s.simpleMu.Lock()
	reqS, hitS := s.reqSimple, s.hitSimple
	s.simpleMu.Unlock()
	s.preparedMu.Lock()
	reqP, hitP := s.reqPrepared, s.hitPrepared
	s.preparedMu.Unlock()
	s.callableMu.Lock()
	reqC, hitC := s.reqCallable, s.hitCallable
	s.callableMu.Unlock()
	return Stats{
		ReqSimple: reqS, HitSimple: hitS,
		ReqPrepared: reqP, HitPrepared: hitP,
		ReqCallable: reqC, HitCallable: hitC,
	}
}
