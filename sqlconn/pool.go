package sqlconn

import (
	"context"
	"database/sql/driver"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/lordbasex/dbpool/pool"
	"github.com/lordbasex/dbpool/stmtcache"
)

// ConnectionPool binds a generic pool.Pool to a database driver,
// vending stmtcache.Session handles instead of raw driver.Conns.
type ConnectionPool struct {
	cfg    Config
	driver driver.Driver
	pool   *pool.Pool[*stmtcache.Session]
}

// Open constructs a ConnectionPool. If cfg.Init is set, it kicks off
// prepopulation in the background before returning.
func Open(cfg Config, drv driver.Driver) *ConnectionPool {
	cfg = cfg.normalized()
	cp := &ConnectionPool{cfg: cfg, driver: drv}
	cp.pool = pool.New(pool.Config{
		Name:         cfg.Name,
		PoolSize:     cfg.PoolSize,
		MaxSize:      cfg.MaxSize,
		Expiry:       cfg.Expiry,
		AsyncDestroy: cfg.Async,
		Logger:       cfg.Logger,
	}, cp)
	if cfg.Init > 0 {
		cp.pool.Init(cfg.Init)
	}
	return cp
}

// Create implements pool.Factory. It tries, in order: a properties bag
// (if configured), credentials with a bare-URL fallback, or the bare
// URL alone, then wraps the resulting driver.Conn in a caching session.
func (cp *ConnectionPool) Create(ctx context.Context) (*stmtcache.Session, error) {
	raw, err := cp.openRaw(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlconn: create: %w", err)
	}
	session := stmtcache.New(raw, stmtcache.Config{
		CacheSimple:   cp.cfg.CacheSimple,
		CachePrepared: cp.cfg.CachePrepared,
		CacheCallable: cp.cfg.CacheCallable,
		Debug:         cp.cfg.Debug,
		Logger:        cp.cfg.Logger,
	}, cp.checkin)
	return session, nil
}

// Validate implements pool.Factory.
func (cp *ConnectionPool) Validate(item *stmtcache.Session) bool {
	v := cp.cfg.Validator
	if v == nil {
		v = DefaultValidator
	}
	return v.Validate(context.Background(), item.Conn())
}

// Destroy implements pool.Factory.
func (cp *ConnectionPool) Destroy(item *stmtcache.Session) {
	if err := item.Release(); err != nil {
		cp.cfg.Logger.Warnw("session release failed", "pool", cp.cfg.Name, "error", err)
	}
}

func (cp *ConnectionPool) checkin(s *stmtcache.Session) error {
	return cp.pool.CheckIn(s)
}

func (cp *ConnectionPool) openRaw(ctx context.Context) (driver.Conn, error) {
	switch {
	case len(cp.cfg.Props) > 0:
		return cp.openWithProps(ctx)
	case cp.cfg.User != "":
		return cp.openWithCredentials(ctx)
	default:
		return cp.openDriver(ctx, cp.cfg.URL)
	}
}

func (cp *ConnectionPool) openWithProps(ctx context.Context) (driver.Conn, error) {
	bag := make(url.Values, len(cp.cfg.Props)+1)
	for k, v := range cp.cfg.Props {
		bag.Set(k, v)
	}
	if cp.cfg.Password != "" {
		pass, err := cp.decodePassword()
		if err != nil {
			return nil, err
		}
		bag.Set("password", pass)
	}
	return cp.openDriver(ctx, dsnWithQuery(cp.cfg.URL, bag))
}

func (cp *ConnectionPool) openWithCredentials(ctx context.Context) (driver.Conn, error) {
	pass, err := cp.decodePassword()
	if err != nil {
		return nil, err
	}
	bag := url.Values{}
	bag.Set("user", cp.cfg.User)
	bag.Set("password", pass)
	conn, err := cp.openDriver(ctx, dsnWithQuery(cp.cfg.URL, bag))
	if err == nil {
		return conn, nil
	}
	cp.cfg.Logger.Warnw("credentialed open failed, falling back to bare url", "pool", cp.cfg.Name, "error", err)
	return cp.openDriver(ctx, cp.cfg.URL)
}

func (cp *ConnectionPool) decodePassword() (string, error) {
	if cp.cfg.Decoder == nil {
		return cp.cfg.Password, nil
	}
	return cp.cfg.Decoder.Decode(cp.cfg.Password)
}

func (cp *ConnectionPool) openDriver(ctx context.Context, dsn string) (driver.Conn, error) {
	if connector, ok := cp.driver.(driver.DriverContext); ok {
		c, err := connector.OpenConnector(dsn)
		if err != nil {
			return nil, err
		}
		return c.Connect(ctx)
	}
	return cp.driver.Open(dsn)
}

func dsnWithQuery(base string, extra url.Values) string {
	if len(extra) == 0 {
		return base
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + extra.Encode()
}

// CheckOut obtains a session from the pool without waiting.
func (cp *ConnectionPool) CheckOut(ctx context.Context) (*stmtcache.Session, error) {
	s, err := cp.pool.CheckOut(ctx)
	if err != nil {
		return nil, err
	}
	s.Borrow()
	return s, nil
}

// CheckOutTimeout behaves like CheckOut but waits up to timeout for a
// slot to free up.
func (cp *ConnectionPool) CheckOutTimeout(ctx context.Context, timeout time.Duration) (*stmtcache.Session, error) {
	s, err := cp.pool.CheckOutTimeout(ctx, timeout)
	if err != nil {
		return nil, err
	}
	s.Borrow()
	return s, nil
}

// AddListener registers an advisory event listener on the underlying pool.
func (cp *ConnectionPool) AddListener(l pool.Listener) { cp.pool.AddListener(l) }

// Stats returns a snapshot of the underlying pool's counters.
func (cp *ConnectionPool) Stats() pool.Stats { return cp.pool.Stats() }

// Flush destroys every idle session without releasing the pool.
func (cp *ConnectionPool) Flush() { cp.pool.Flush() }

// Release shuts the pool down, see pool.Pool.Release.
func (cp *ConnectionPool) Release(force bool) { cp.pool.Release(force) }

// ReleaseAsync releases the pool on a detached goroutine.
func (cp *ConnectionPool) ReleaseAsync(force bool) { cp.pool.ReleaseAsync(force) }

// SetParameters atomically changes pool size, hard cap, and idle expiry.
func (cp *ConnectionPool) SetParameters(poolSize, maxSize int, expiry time.Duration) {
	cp.pool.SetParameters(poolSize, maxSize, expiry)
}
