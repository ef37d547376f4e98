package stmtcache

import (
	"context"
	"database/sql/driver"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStmt struct {
	sql    string
	closed bool
	closeErr error
}

func (s *fakeStmt) Close() error {
	s.closed = true
	return s.closeErr
}
func (s *fakeStmt) NumInput() int { return 0 }
func (s *fakeStmt) Exec(args []driver.Value) (driver.Result, error)  { return nil, nil }
func (s *fakeStmt) Query(args []driver.Value) (driver.Rows, error)   { return nil, nil }

type fakeConn struct {
	mu       sync.Mutex
	prepared []string
	closed   bool
}

func (c *fakeConn) Prepare(query string) (driver.Stmt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prepared = append(c.prepared, query)
	return &fakeStmt{sql: query}, nil
}
func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}
func (c *fakeConn) Begin() (driver.Tx, error) { return nil, errors.New("not supported") }

func (c *fakeConn) prepareCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.prepared)
}

func newTestSession(cfg Config) (*Session, *fakeConn) {
	conn := &fakeConn{}
	return New(conn, cfg, nil), conn
}

func TestPreparedCacheHitAvoidsReprepare(t *testing.T) {
	s, conn := newTestSession(Config{CachePrepared: true})

	w1, err := s.Prepared(context.Background(), "select 1", ModeDefault, false)
	require.NoError(t, err)
	require.NoError(t, w1.Close())

	w2, err := s.Prepared(context.Background(), "select 1", ModeDefault, false)
	require.NoError(t, err)

	assert.Equal(t, 1, conn.prepareCount())
	stats := s.Stats()
	assert.Equal(t, uint64(2), stats.ReqPrepared)
	assert.Equal(t, uint64(1), stats.HitPrepared)
	require.NoError(t, w2.Close())
}

func TestPreparedCacheMissesOnDifferentMode(t *testing.T) {
	s, conn := newTestSession(Config{CachePrepared: true})

	modeA := Mode{ResultSetType: 1}
	modeB := Mode{ResultSetType: 2}

	w1, err := s.Prepared(context.Background(), "select 1", modeA, false)
	require.NoError(t, err)
	require.NoError(t, w1.Close())

	w2, err := s.Prepared(context.Background(), "select 1", modeB, false)
	require.NoError(t, err)
	require.NoError(t, w2.Close())

	assert.Equal(t, 2, conn.prepareCount())
}

func TestNonCachableNeverEntersIdleCache(t *testing.T) {
	s, conn := newTestSession(Config{CachePrepared: true})

	w1, err := s.Prepared(context.Background(), "insert into t values (1)", ModeDefault, true)
	require.NoError(t, err)
	require.NoError(t, w1.Close())

	_, err = s.Prepared(context.Background(), "insert into t values (1)", ModeDefault, false)
	require.NoError(t, err)

	assert.Equal(t, 2, conn.prepareCount(), "non-cachable statement must not satisfy a later cache lookup")
}

func TestWrapperDoubleCloseIsNoOp(t *testing.T) {
	s, _ := newTestSession(Config{CachePrepared: true})

	w, err := s.Prepared(context.Background(), "select 1", ModeDefault, false)
	require.NoError(t, err)

	require.NoError(t, w.Close())
	require.NoError(t, w.Close()) // second close must not panic or double-recycle
}

func TestSessionCloseHandsBackToPoolViaCheckin(t *testing.T) {
	var checkedIn *Session
	checkin := func(s *Session) error {
		checkedIn = s
		return nil
	}
	conn := &fakeConn{}
	s := New(conn, Config{}, checkin)

	require.NoError(t, s.Close())
	assert.Same(t, s, checkedIn)

	err := s.Close()
	assert.ErrorIs(t, err, ErrDoubleClose)
}

func TestReleaseAggregatesFailuresAsReleaseFailed(t *testing.T) {
	s, conn := newTestSession(Config{CachePrepared: true})

	w, err := s.Prepared(context.Background(), "select 1", ModeDefault, false)
	require.NoError(t, err)
	w.raw.(*fakeStmt).closeErr = errors.New("boom")
	require.NoError(t, w.Close())

	_ = conn

	err = s.Release()
	require.Error(t, err)
	var rf *ReleaseFailedError
	require.ErrorAs(t, err, &rf)
}

func TestRecycleForceClosesLeakedInUseStatement(t *testing.T) {
	s, conn := newTestSession(Config{CachePrepared: true})

	leaked, err := s.Prepared(context.Background(), "select 1", ModeDefault, false)
	require.NoError(t, err)
	// caller forgets to Close -- pool-level Recycle must forcibly close it,
	// not cache it, per the "leaked statement is closed and absent from
	// every set" check-in behaviour.

	require.NoError(t, s.Recycle())

	assert.True(t, leaked.raw.(*fakeStmt).closed, "leaked statement must be closed by Recycle")

	w2, err := s.Prepared(context.Background(), "select 1", ModeDefault, false)
	require.NoError(t, err)
	assert.Equal(t, 2, conn.prepareCount(), "a forcibly closed statement must not satisfy the next vend")
	require.NoError(t, w2.Close())
}
