package pool

import "errors"

var (
	// ErrReleased is returned by a check-out attempted against a pool
	// after release.
	ErrReleased = errors.New("pool: released")
	// ErrForeignItem is returned by CheckIn when the item was not
	// checked out from this pool.
	ErrForeignItem = errors.New("pool: foreign item")
	// ErrPoolFull is returned by a non-blocking CheckOut when the hard
	// cap has been reached with no valid free entry available.
	ErrPoolFull = errors.New("pool: max size limit reached")
	// ErrCreateInvalid is returned when a freshly created item fails
	// validation immediately.
	ErrCreateInvalid = errors.New("pool: newly created item failed validation")
	// ErrTimeout is returned by CheckOutTimeout when no entry became
	// available within the requested timeout. It is not a failure
	// condition; callers typically retry or give up gracefully.
	ErrTimeout = errors.New("pool: checkout timed out")
)
