// Package cache implements TimestampCache, a single-flight, timestamp-keyed
// async cache. It is a direct Go translation of the Rust
// DashMap<i64, Arc<RwLock<Option<Result<T, SbError>>>>> cache this worker's
// providers were built around: a value for a given timestamp is resolved at
// most once, concurrent lookups for the same timestamp share the single
// in-flight fetch, and set() can seed or override a slot at any time.
//
// Failed fetches are deliberately not sticky: once a fetch function returns
// an error, the slot is removed so the next Get for that timestamp starts a
// fresh attempt instead of replaying the old error forever.
package cache

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/koshedutech/oracle-worker/internal/oraclerr"
)

// FetchFunc resolves the value for a timestamp. It is called at most once
// per timestamp per cache, unless a prior call errored.
type FetchFunc[T any] func(ctx context.Context, ts int64) (T, error)

type slotState int

const (
	slotEmpty slotState = iota
	slotInFlight
	slotResolved
)

type slot[T any] struct {
	mu    sync.Mutex
	state slotState
	value T
	err   error
	done  chan struct{}
	once  sync.Once

	// evicted marks a slot a failed fetch has decided to remove from the
	// cache. Set checks this under mu before mutating a slot in place, so a
	// concurrent Set racing the eviction installs a fresh slot instead of
	// writing a value into one about to be deleted out from under it.
	evicted bool
}

func newSlot[T any]() *slot[T] {
	return &slot[T]{done: make(chan struct{})}
}

func (s *slot[T]) closeDone() {
	s.once.Do(func() { close(s.done) })
}

// testHookBeforeEvictionDelete runs after a failed fetch marks its slot
// evicted and resolved and unlocks it, but before the slot is removed from
// the map. Production code leaves it a no-op; tests override it to land a
// deterministic Set in that window.
var testHookBeforeEvictionDelete = func() {}

// TimestampCache caches values of type T keyed by an int64 timestamp,
// resolving each key at most once via fetch, with single-flight coalescing
// of concurrent lookups.
type TimestampCache[T any] struct {
	fetch  FetchFunc[T]
	slots  sync.Map // int64 -> *slot[T]
	logger zerolog.Logger
}

// New creates a TimestampCache backed by fetch.
func New[T any](fetch FetchFunc[T], logger zerolog.Logger) *TimestampCache[T] {
	return &TimestampCache[T]{fetch: fetch, logger: logger}
}

func (c *TimestampCache[T]) loadOrCreate(ts int64) *slot[T] {
	if v, ok := c.slots.Load(ts); ok {
		return v.(*slot[T])
	}
	s := newSlot[T]()
	actual, _ := c.slots.LoadOrStore(ts, s)
	return actual.(*slot[T])
}

// Get returns the value for ts, invoking fetch at most once for concurrent
// callers racing on the same timestamp. A failed fetch is reported to every
// caller waiting on this round but does not stick: the slot is evicted so
// the next Get retries from scratch.
func (c *TimestampCache[T]) Get(ctx context.Context, ts int64) (T, error) {
	s := c.loadOrCreate(ts)

	s.mu.Lock()
	switch s.state {
	case slotResolved:
		value, err := s.value, s.err
		s.mu.Unlock()
		return value, err

	case slotInFlight:
		s.mu.Unlock()
		select {
		case <-s.done:
			s.mu.Lock()
			value, err := s.value, s.err
			s.mu.Unlock()
			return value, err
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}

	default: // slotEmpty
		s.state = slotInFlight
		s.mu.Unlock()

		c.logger.Debug().Int64("timestamp", ts).Msg("cache: fetching value")
		value, err := c.fetch(ctx, ts)

		s.mu.Lock()
		select {
		case <-s.done:
			// a concurrent Set() already resolved this slot; its value wins
			// and our fetch result is discarded.
			value, err = s.value, s.err
			s.mu.Unlock()
			return value, err
		default:
		}

		if err != nil {
			c.logger.Error().Err(err).Int64("timestamp", ts).Msg("cache: fetch failed")
			wrapped := fmt.Errorf("%w: %v", oraclerr.ErrCache, err)
			s.err = wrapped
			s.state = slotResolved
			s.evicted = true
			s.closeDone()
			s.mu.Unlock()
			// Failed fetches don't stick: evict so the next Get retries,
			// but only if nobody has replaced this slot already (e.g. via
			// a racing Set). s.evicted, checked by Set under s.mu, keeps a
			// concurrent Set from writing its value into this slot only to
			// have it discarded here.
			testHookBeforeEvictionDelete()
			c.slots.CompareAndDelete(ts, s)
			var zero T
			return zero, wrapped
		}

		s.value = value
		s.state = slotResolved
		s.closeDone()
		s.mu.Unlock()
		return value, nil
	}
}

// Set unconditionally seeds ts with value, overriding any in-flight or
// already-resolved fetch. Callers waiting in Get observe value as soon as
// Set completes. If a failed fetch is concurrently evicting this
// timestamp's slot, Set installs a fresh slot in the map rather than
// mutating the one being removed, so value isn't lost to the eviction.
func (c *TimestampCache[T]) Set(ts int64, value T) {
	s := c.loadOrCreate(ts)
	for {
		s.mu.Lock()
		if s.evicted {
			s.mu.Unlock()
			ns := newSlot[T]()
			if c.slots.CompareAndSwap(ts, s, ns) {
				s = ns
			} else {
				s = c.loadOrCreate(ts)
			}
			continue
		}

		s.value = value
		s.err = nil
		s.state = slotResolved
		s.closeDone()
		s.mu.Unlock()
		c.logger.Debug().Int64("timestamp", ts).Msg("cache: set value")
		return
	}
}
