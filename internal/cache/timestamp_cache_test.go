package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestGet_ConcurrentCallsOnEmptySlot_FetchesExactlyOnce(t *testing.T) {
	var calls int32
	c := New(func(ctx context.Context, ts int64) (uint64, error) {
		atomic.AddInt32(&calls, 1)
		return 42, nil
	}, testLogger())

	const n = 50
	results := make([]uint64, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			v, err := c.Get(context.Background(), 1_700_000_000)
			require.NoError(t, err)
			results[i] = v
		}(i)
	}
	wg.Wait()

	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
	for _, v := range results {
		require.Equal(t, uint64(42), v)
	}
}

func TestGet_ConcurrentCallsOnFailingFetch_AllReturnSameError(t *testing.T) {
	var calls int32
	fetchErr := errors.New("upstream unavailable")
	release := make(chan struct{})
	c := New(func(ctx context.Context, ts int64) (uint64, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return 0, fetchErr
	}, testLogger())

	const n = 20
	errs := make([]error, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			_, err := c.Get(context.Background(), 5)
			errs[i] = err
		}(i)
	}
	// Hold the fetch open until every caller has reached the slot, so all of
	// them share the one failing fetch instead of arriving after its eviction.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
	for _, err := range errs {
		require.Error(t, err)
		require.ErrorContains(t, err, "upstream unavailable")
	}
}

func TestGet_AfterFailedFetch_RetriesOnNextCall(t *testing.T) {
	var calls int32
	c := New(func(ctx context.Context, ts int64) (uint64, error) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			return 0, errors.New("transient")
		}
		return 99, nil
	}, testLogger())

	_, err := c.Get(context.Background(), 7)
	require.Error(t, err)

	v, err := c.Get(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, uint64(99), v)
	require.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestSet_BeforeGet_OverridesFetch(t *testing.T) {
	var calls int32
	c := New(func(ctx context.Context, ts int64) (uint64, error) {
		atomic.AddInt32(&calls, 1)
		return 1, nil
	}, testLogger())

	c.Set(10, 777)
	v, err := c.Get(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, uint64(777), v)
	require.Zero(t, atomic.LoadInt32(&calls))
}

func TestSet_WhileFetchInFlight_WaitersSeeSetValueNotFetchValue(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	c := New(func(ctx context.Context, ts int64) (uint64, error) {
		close(started)
		<-release
		return 1, nil
	}, testLogger())

	var wg sync.WaitGroup
	var got uint64
	wg.Add(1)
	go func() {
		defer wg.Done()
		v, err := c.Get(context.Background(), 20)
		require.NoError(t, err)
		got = v
	}()

	<-started
	c.Set(20, 555)
	close(release)
	wg.Wait()

	require.Equal(t, uint64(555), got)
}

func TestSet_RacingFailingFetchEviction_ValueSurvives(t *testing.T) {
	var calls int32
	c := New(func(ctx context.Context, ts int64) (uint64, error) {
		atomic.AddInt32(&calls, 1)
		return 0, errors.New("transient")
	}, testLogger())

	prevHook := testHookBeforeEvictionDelete
	defer func() { testHookBeforeEvictionDelete = prevHook }()

	var setWG sync.WaitGroup
	setWG.Add(1)
	testHookBeforeEvictionDelete = func() {
		// Lands a Set in the exact window between the failed fetch marking
		// its slot evicted/unlocking and actually removing it from the map.
		defer setWG.Done()
		c.Set(30, 999)
	}

	_, err := c.Get(context.Background(), 30)
	require.Error(t, err)
	setWG.Wait()

	v, err := c.Get(context.Background(), 30)
	require.NoError(t, err)
	require.Equal(t, uint64(999), v)
	require.EqualValues(t, 1, atomic.LoadInt32(&calls), "Set's value must survive eviction without triggering a refetch")
}

func TestGet_DifferentTimestamps_DoNotSerialize(t *testing.T) {
	release := make(chan struct{})
	c := New(func(ctx context.Context, ts int64) (uint64, error) {
		if ts == 1 {
			<-release
		}
		return uint64(ts), nil
	}, testLogger())

	done := make(chan struct{})
	go func() {
		v, err := c.Get(context.Background(), 1)
		require.NoError(t, err)
		require.Equal(t, uint64(1), v)
		close(done)
	}()

	// A distinct timestamp must not block behind the first slot's mutex.
	v, err := c.Get(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, uint64(2), v)

	close(release)
	<-done
}
