package stmtcache

import (
	"context"
	"database/sql/driver"
	"sync"
)

// Wrapper is a single vended statement handle. It is single-owner by
// construction: only the goroutine currently holding it touches open or
// lastRows, so neither field needs its own lock (spec: "field updates on
// a statement wrapper happen only on the goroutine currently holding the
// wrapper").
type Wrapper struct {
	session     *Session
	family      Family
	sql         string
	mode        Mode
	raw         driver.Stmt // nil for Simple
	nonCachable bool

	open     bool
	lastRows driver.Rows

	closeOnce sync.Once
}

// NumInput reports the number of placeholders the statement expects, or
// -1 when that count is not known up front (always true for Simple,
// whose SQL is supplied per call).
func (w *Wrapper) NumInput() int {
	if w.raw == nil {
		return -1
	}
	return w.raw.NumInput()
}

// Exec runs a Prepared or Callable statement. Simple statements take
// their SQL at call time via ExecSimple instead.
func (w *Wrapper) Exec(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	if w.raw == nil {
		return nil, errSimpleRequiresSQL
	}
	w.discardLiveRows()
	if execer, ok := w.raw.(driver.StmtExecContext); ok {
		return execer.ExecContext(ctx, args)
	}
	return w.raw.Exec(namedToValues(args))
}

// Query runs a Prepared or Callable statement and tracks the returned
// rows so a later recycle can close any still-open result set.
func (w *Wrapper) Query(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	if w.raw == nil {
		return nil, errSimpleRequiresSQL
	}
	w.discardLiveRows()
	var rows driver.Rows
	var err error
	if queryer, ok := w.raw.(driver.StmtQueryContext); ok {
		rows, err = queryer.QueryContext(ctx, args)
	} else {
		rows, err = w.raw.Query(namedToValues(args))
	}
	if err == nil {
		w.lastRows = rows
	}
	return rows, err
}

// ExecSimple runs ad-hoc SQL on a Simple wrapper through the owning
// session's raw connection.
func (w *Wrapper) ExecSimple(ctx context.Context, sql string, args []driver.NamedValue) (driver.Result, error) {
	if w.raw != nil {
		return nil, errNotSimple
	}
	w.discardLiveRows()
	execer, ok := w.session.conn.(driver.ExecerContext)
	if !ok {
		return nil, errConnNotExecer
	}
	return execer.ExecContext(ctx, sql, args)
}

// QuerySimple runs ad-hoc SQL on a Simple wrapper through the owning
// session's raw connection.
func (w *Wrapper) QuerySimple(ctx context.Context, sql string, args []driver.NamedValue) (driver.Rows, error) {
	if w.raw != nil {
		return nil, errNotSimple
	}
	w.discardLiveRows()
	queryer, ok := w.session.conn.(driver.QueryerContext)
	if !ok {
		return nil, errConnNotQueryer
	}
	rows, err := queryer.QueryContext(ctx, sql, args)
	if err == nil {
		w.lastRows = rows
	}
	return rows, err
}

func (w *Wrapper) discardLiveRows() {
	if w.lastRows != nil {
		_ = w.lastRows.Close()
		w.lastRows = nil
	}
}

// Close returns the wrapper to its owning session. A second Close is a
// no-op, matching the double-close guard spec.md requires.
func (w *Wrapper) Close() error {
	if !w.open {
		return nil
	}
	w.open = false
	return w.session.statementClosed(w)
}

// recycle prepares a wrapper for reuse: closes any live result set and,
// for Prepared/Callable, clears bound parameters. Failures of those
// steps are swallowed (some drivers misbehave on a no-op clear), so it
// always returns nil.
func (w *Wrapper) recycle() error {
	w.discardLiveRows()
	if w.raw == nil {
		return nil
	}
	if clearer, ok := w.raw.(interface{ ClearParameters() error }); ok {
		_ = clearer.ClearParameters()
	}
	return nil
}

// release permanently tears the wrapper down.
func (w *Wrapper) release() error {
	w.discardLiveRows()
	if w.raw == nil {
		return nil
	}
	var err error
	w.closeOnce.Do(func() {
		err = w.raw.Close()
	})
	return err
}

func namedToValues(args []driver.NamedValue) []driver.Value {
	vals := make([]driver.Value, len(args))
	for i, a := range args {
		vals[i] = a.Value
	}
	return vals
}
