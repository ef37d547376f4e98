// Package pooltest provides shared fakes for exercising pool, sqlconn,
// and stmtcache without a cgo-backed driver or a live database server.
package pooltest

import (
	"context"
	"database/sql/driver"
	"io"
	"sync"
)

// FakeDriver is a driver.Driver whose every Open call is recorded and
// whose failure can be injected, for tests that need to assert on
// create-path behaviour (credential fallback, properties-bag wiring,
// init prepopulation) without a real network database.
type FakeDriver struct {
	mu        sync.Mutex
	OpenCalls []string
	FailOn    map[string]error // dsn -> error to return instead of opening
}

func (d *FakeDriver) Open(dsn string) (driver.Conn, error) {
	d.mu.Lock()
	d.OpenCalls = append(d.OpenCalls, dsn)
	err := d.FailOn[dsn]
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &FakeConn{dsn: dsn}, nil
}

func (d *FakeDriver) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.OpenCalls))
	copy(out, d.OpenCalls)
	return out
}

// FakeConn is a minimal driver.Conn plus driver.Pinger, driver.ExecerContext,
// and driver.QueryerContext so Session's Simple-family and validator paths
// have something to call.
type FakeConn struct {
	dsn    string
	mu     sync.Mutex
	closed bool
	PingErr error
}

func (c *FakeConn) Prepare(query string) (driver.Stmt, error) {
	return &FakeStmt{conn: c, query: query}, nil
}

func (c *FakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *FakeConn) Begin() (driver.Tx, error) { return &FakeTx{}, nil }

func (c *FakeConn) Ping(ctx context.Context) error { return c.PingErr }

func (c *FakeConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	return FakeResult{}, nil
}

func (c *FakeConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	return &FakeRows{}, nil
}

func (c *FakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// FakeStmt is a no-op driver.Stmt.
type FakeStmt struct {
	conn   *FakeConn
	query  string
	closed bool
}

func (s *FakeStmt) Close() error                                     { s.closed = true; return nil }
func (s *FakeStmt) NumInput() int                                    { return -1 }
func (s *FakeStmt) Exec(args []driver.Value) (driver.Result, error)  { return FakeResult{}, nil }
func (s *FakeStmt) Query(args []driver.Value) (driver.Rows, error)   { return &FakeRows{}, nil }

// FakeTx is a no-op driver.Tx.
type FakeTx struct{}

func (FakeTx) Commit() error   { return nil }
func (FakeTx) Rollback() error { return nil }

// FakeResult is a zero-valued driver.Result.
type FakeResult struct{}

func (FakeResult) LastInsertId() (int64, error) { return 0, nil }
func (FakeResult) RowsAffected() (int64, error) { return 0, nil }

// FakeRows is an immediately-exhausted driver.Rows.
type FakeRows struct{ closed bool }

func (r *FakeRows) Columns() []string              { return nil }
func (r *FakeRows) Close() error                   { r.closed = true; return nil }
func (r *FakeRows) Next(dest []driver.Value) error { return io.EOF }
