package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeItem struct {
	id        int
	recycleOK bool
}

func (f *fakeItem) Recycle() error {
	if f.recycleOK {
		return nil
	}
	return errors.New("recycle failed")
}

type fakeFactory struct {
	mu        sync.Mutex
	nextID    int
	created   int
	destroyed int
	validateFn func(*fakeItem) bool
}

func (f *fakeFactory) Create(ctx context.Context) (*fakeItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.created++
	return &fakeItem{id: f.nextID, recycleOK: true}, nil
}

func (f *fakeFactory) Validate(item *fakeItem) bool {
	if f.validateFn != nil {
		return f.validateFn(item)
	}
	return true
}

func (f *fakeFactory) Destroy(item *fakeItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed++
}

func TestCheckOutTimeoutReturnsErrTimeoutAtMaxSize(t *testing.T) {
	factory := &fakeFactory{}
	p := New(Config{Name: "s1", PoolSize: 1, MaxSize: 1}, factory)

	first, err := p.CheckOut(context.Background())
	require.NoError(t, err)
	require.NotNil(t, first)

	start := time.Now()
	_, err = p.CheckOutTimeout(context.Background(), 50*time.Millisecond)
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
}

func TestLIFOFavoursMostRecentlyReturnedEntry(t *testing.T) {
	factory := &fakeFactory{}
	p := New(Config{Name: "s2", Access: LIFO}, factory)

	a, err := p.CheckOut(context.Background())
	require.NoError(t, err)
	b, err := p.CheckOut(context.Background())
	require.NoError(t, err)

	require.NoError(t, p.CheckIn(a))
	require.NoError(t, p.CheckIn(b))

	got, err := p.CheckOut(context.Background())
	require.NoError(t, err)
	assert.Equal(t, b.id, got.id, "LIFO should hand back the most recently checked-in item")

	stats := p.Stats()
	assert.Equal(t, uint64(3), stats.Requests)
	assert.Equal(t, uint64(1), stats.Hits)
}

func TestIdleReaperDestroysExpiredFreeEntries(t *testing.T) {
	factory := &fakeFactory{}
	p := New(Config{Name: "s3", Expiry: 30 * time.Millisecond}, factory)

	item, err := p.CheckOut(context.Background())
	require.NoError(t, err)
	require.NoError(t, p.CheckIn(item))

	assert.Eventually(t, func() bool {
		return p.Stats().Free == 0
	}, 2*time.Second, 10*time.Millisecond)

	factory.mu.Lock()
	destroyed := factory.destroyed
	factory.mu.Unlock()
	assert.Equal(t, 1, destroyed)

	p.Release(true)
}

func TestValidationErrorEventFiresOnStaleEntry(t *testing.T) {
	factory := &fakeFactory{}
	p := New(Config{Name: "s4"}, factory)

	var validationErrors int32
	p.AddListener(ListenerFunc(func(e Event) {
		if e.Kind == EventValidationError {
			atomic.AddInt32(&validationErrors, 1)
		}
	}))

	item, err := p.CheckOut(context.Background())
	require.NoError(t, err)
	require.NoError(t, p.CheckIn(item))

	factory.mu.Lock()
	factory.validateFn = func(i *fakeItem) bool { return i.id != item.id }
	factory.mu.Unlock()

	_, err = p.CheckOut(context.Background())
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&validationErrors) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestCheckInForeignItemIsRejected(t *testing.T) {
	factory := &fakeFactory{}
	p := New(Config{Name: "s5"}, factory)

	foreign := &fakeItem{id: 999, recycleOK: true}
	err := p.CheckIn(foreign)
	assert.ErrorIs(t, err, ErrForeignItem)
}

func TestReleaseIsIdempotentAndRejectsNewCheckouts(t *testing.T) {
	factory := &fakeFactory{}
	p := New(Config{Name: "s6"}, factory)

	item, err := p.CheckOut(context.Background())
	require.NoError(t, err)
	require.NoError(t, p.CheckIn(item))

	p.Release(false)
	p.Release(false) // must not double-close or panic

	_, err = p.CheckOut(context.Background())
	assert.ErrorIs(t, err, ErrReleased)
}

func TestMaxSizeLimitErrorEventFiresOnce(t *testing.T) {
	factory := &fakeFactory{}
	p := New(Config{Name: "s7", PoolSize: 1, MaxSize: 1}, factory)

	var limitErrors int32
	p.AddListener(ListenerFunc(func(e Event) {
		if e.Kind == EventMaxSizeLimitError {
			atomic.AddInt32(&limitErrors, 1)
		}
	}))

	_, err := p.CheckOut(context.Background())
	require.NoError(t, err)

	_, err = p.CheckOut(context.Background())
	assert.ErrorIs(t, err, ErrPoolFull)

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&limitErrors) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestConservationNoItemInBothFreeAndUsed(t *testing.T) {
	factory := &fakeFactory{}
	p := New(Config{Name: "s8", Access: FIFO}, factory)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			item, err := p.CheckOutTimeout(context.Background(), time.Second)
			if err != nil {
				return
			}
			time.Sleep(time.Millisecond)
			_ = p.CheckIn(item)
		}()
	}
	wg.Wait()

	stats := p.Stats()
	assert.Equal(t, 0, stats.Used)
}
