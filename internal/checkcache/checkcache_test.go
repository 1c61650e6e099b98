package checkcache_test

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AdguardTeam/LinkCheck/internal/checkcache"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/AdguardTeam/golibs/testutil/faketime"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testTimeout is the common timeout for tests.
const testTimeout = 1 * time.Second

// testKey is the common key for tests.
const testKey = "https://www.example.com/"

// newTestCache returns a new cache for tests.
func newTestCache(clock timeutil.Clock, capacity int) (c *checkcache.Cache[string]) {
	return checkcache.New[string](&checkcache.Config{
		Clock:    clock,
		MaxAge:   1 * time.Minute,
		Capacity: capacity,
	})
}

// newCountingCompute returns a compute function returning v and the pointer to
// the number of its calls.
func newCountingCompute(v string) (f checkcache.ComputeFunc[string], calls *atomic.Int32) {
	calls = &atomic.Int32{}
	f = func(_ context.Context) (res string, err error) {
		calls.Add(1)

		return v, nil
	}

	return f, calls
}

func TestCache_Get(t *testing.T) {
	t.Parallel()

	c := newTestCache(timeutil.SystemClock{}, checkcache.DefaultCapacity)
	compute, calls := newCountingCompute("value")

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	v, cached, err := c.Get(ctx, testKey, compute)
	require.NoError(t, err)

	assert.Equal(t, "value", v)
	assert.False(t, cached)

	v, cached, err = c.Get(ctx, testKey, compute)
	require.NoError(t, err)

	assert.Equal(t, "value", v)
	assert.True(t, cached)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, c.Len())
}

func TestCache_Get_singleFlight(t *testing.T) {
	t.Parallel()

	const numCallers = 10

	c := newTestCache(timeutil.SystemClock{}, checkcache.DefaultCapacity)

	unblock := make(chan struct{})
	started := make(chan struct{}, numCallers)
	calls := &atomic.Int32{}
	compute := func(_ context.Context) (res string, err error) {
		calls.Add(1)
		<-unblock

		return "value", nil
	}

	ctx := testutil.ContextWithTimeout(t, testTimeout)

	wg := &sync.WaitGroup{}
	results := make([]string, numCallers)
	for i := range numCallers {
		wg.Add(1)
		go func() {
			defer wg.Done()

			started <- struct{}{}
			results[i], _, _ = c.Get(ctx, testKey, compute)
		}()
	}

	for range numCallers {
		_, _ = testutil.RequireReceive(t, started, testTimeout)
	}

	// Give the callers the time to join the flight.
	time.Sleep(testTimeout / 10)
	close(unblock)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.Equal(t, "value", r)
	}
}

func TestCache_Get_capacity(t *testing.T) {
	t.Parallel()

	const capacity = 3

	c := newTestCache(timeutil.SystemClock{}, capacity)
	ctx := testutil.ContextWithTimeout(t, testTimeout)

	for i := range capacity + 1 {
		key := strconv.Itoa(i)
		compute, _ := newCountingCompute(key)
		_, _, err := c.Get(ctx, key, compute)
		require.NoError(t, err)
	}

	assert.Equal(t, capacity, c.Len())

	t.Run("oldest_evicted", func(t *testing.T) {
		compute, calls := newCountingCompute("new")
		v, cached, err := c.Get(ctx, "0", compute)
		require.NoError(t, err)

		assert.False(t, cached)
		assert.Equal(t, "new", v)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("newest_kept", func(t *testing.T) {
		compute, calls := newCountingCompute("new")
		v, cached, err := c.Get(ctx, strconv.Itoa(capacity), compute)
		require.NoError(t, err)

		assert.True(t, cached)
		assert.Equal(t, strconv.Itoa(capacity), v)
		assert.Equal(t, int32(0), calls.Load())
	})
}

func TestCache_Get_expired(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	nowMu := &sync.Mutex{}
	clock := &faketime.Clock{
		OnNow: func() (n time.Time) {
			nowMu.Lock()
			defer nowMu.Unlock()

			return now
		},
	}

	advance := func(d time.Duration) {
		nowMu.Lock()
		defer nowMu.Unlock()

		now = now.Add(d)
	}

	c := newTestCache(clock, checkcache.DefaultCapacity)
	ctx := testutil.ContextWithTimeout(t, testTimeout)

	compute, calls := newCountingCompute("value")
	_, _, err := c.Get(ctx, testKey, compute)
	require.NoError(t, err)

	advance(1 * time.Minute)

	_, cached, err := c.Get(ctx, testKey, compute)
	require.NoError(t, err)

	assert.True(t, cached)
	assert.Equal(t, int32(1), calls.Load())

	advance(1 * time.Second)

	_, cached, err = c.Get(ctx, testKey, compute)
	require.NoError(t, err)

	assert.False(t, cached)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCache_Get_errors(t *testing.T) {
	t.Parallel()

	const testError errors.Error = "test error"

	c := newTestCache(timeutil.SystemClock{}, checkcache.DefaultCapacity)
	ctx := testutil.ContextWithTimeout(t, testTimeout)

	calls := 0
	compute := func(_ context.Context) (res string, err error) {
		calls++
		if calls == 1 {
			return "", testError
		}

		return "value", nil
	}

	_, _, err := c.Get(ctx, testKey, compute)
	require.ErrorIs(t, err, testError)

	assert.Equal(t, 0, c.Len())

	v, cached, err := c.Get(ctx, testKey, compute)
	require.NoError(t, err)

	assert.False(t, cached)
	assert.Equal(t, "value", v)
}

func TestCache_Get_panic(t *testing.T) {
	t.Parallel()

	c := newTestCache(timeutil.SystemClock{}, checkcache.DefaultCapacity)
	ctx := testutil.ContextWithTimeout(t, testTimeout)

	_, _, err := c.Get(ctx, testKey, func(_ context.Context) (res string, err error) {
		panic("test panic")
	})
	testutil.AssertErrorMsg(t, `computing "`+testKey+`": panic: test panic`, err)
}

func TestCache_Get_canceled(t *testing.T) {
	t.Parallel()

	c := newTestCache(timeutil.SystemClock{}, checkcache.DefaultCapacity)

	unblock := make(chan struct{})
	done := make(chan struct{})
	compute := func(ctx context.Context) (res string, err error) {
		defer close(done)

		<-unblock

		// The computation context must outlive the caller.
		return "value", ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := c.Get(ctx, testKey, compute)
	require.ErrorIs(t, err, context.Canceled)

	close(unblock)
	_, _ = testutil.RequireReceive(t, done, testTimeout)

	require.Eventually(t, func() (ok bool) {
		return c.Len() == 1
	}, testTimeout, testTimeout/10)

	v, cached, err := c.Get(testutil.ContextWithTimeout(t, testTimeout), testKey, compute)
	require.NoError(t, err)

	assert.True(t, cached)
	assert.Equal(t, "value", v)
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		conf       *checkcache.Config
		name       string
		wantErrMsg string
	}{{
		conf:       nil,
		name:       "nil",
		wantErrMsg: "no value",
	}, {
		conf: &checkcache.Config{
			Clock:    timeutil.SystemClock{},
			MaxAge:   checkcache.DefaultMaxAge,
			Capacity: checkcache.DefaultCapacity,
		},
		name:       "valid",
		wantErrMsg: "",
	}, {
		conf: &checkcache.Config{
			Clock:    timeutil.SystemClock{},
			MaxAge:   0,
			Capacity: -1,
		},
		name: "not_positive",
		wantErrMsg: "max age: not positive: 0s\n" +
			"capacity: not positive: -1",
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			testutil.AssertErrorMsg(t, tc.wantErrMsg, tc.conf.Validate())
		})
	}
}
