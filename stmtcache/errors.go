package stmtcache

import "errors"

var (
	// ErrSessionClosed is returned by any vending call against a
	// session that has already been returned to its pool.
	ErrSessionClosed = errors.New("stmtcache: session closed")
	// ErrDoubleClose is returned by Close on a session that is already
	// closed.
	ErrDoubleClose = errors.New("stmtcache: session already closed")

	errSimpleRequiresSQL = errors.New("stmtcache: Exec/Query on a Simple wrapper require ExecSimple/QuerySimple")
	errNotSimple         = errors.New("stmtcache: ExecSimple/QuerySimple called on a bound statement")
	errConnNotExecer     = errors.New("stmtcache: underlying connection does not implement driver.ExecerContext")
	errConnNotQueryer    = errors.New("stmtcache: underlying connection does not implement driver.QueryerContext")
)
