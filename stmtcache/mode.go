// Package stmtcache implements the caching session: a facade over a raw
// database/sql/driver.Conn that transparently caches prepared statements
// keyed by SQL text and result-set mode, and reconciles the statement
// wrapper's close semantics with the pooled connection's recycle
// semantics.
package stmtcache

// Mode is the Go analogue of the JDBC "mode triple"
// (resultSetType, concurrency, holdability). database/sql/driver has no
// native concept of any of these three, so callers that care about
// cache discrimination beyond plain SQL text pass a non-zero Mode
// alongside the query; everything else uses ModeDefault.
type Mode struct {
	ResultSetType int
	Concurrency   int
	Holdable      bool
}

// ModeDefault is the zero mode used by plain Prepare calls.
var ModeDefault = Mode{}

// Family identifies which of the three independently-locked statement
// caches a wrapper belongs to.
type Family int

const (
	// Simple statements carry no SQL at prepare time; the query is
	// supplied on every ExecSimple/QuerySimple call, mirroring
	// java.sql.Statement.
	// They are cached in a single flat list, not keyed by SQL.
	Simple Family = iota
	// Prepared statements are bound to one SQL string for their
	// lifetime, mirroring java.sql.PreparedStatement.
	Prepared
	// Callable statements are likewise bound to one SQL string.
	// database/sql/driver draws no distinction between a prepared
	// query and a stored-procedure call, so Callable is implemented
	// identically to Prepared at the driver.Stmt level; it exists as
	// its own family purely to give callers an independent cache,
	// lock, and hit-rate counter for stored-procedure traffic.
	Callable
)

func (f Family) String() string {
	switch f {
	case Simple:
		return "simple"
	case Prepared:
		return "prepared"
	case Callable:
		return "callable"
	default:
		return "unknown"
	}
}
