package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestCache(t *testing.T, size int) (*Cache[int], *fakeClock) {
	t.Helper()
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c, err := New[int]("test", size, WithClock(clk.Now))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(c.Stop)
	return c, clk
}

func counting(n *atomic.Int32, v int) func(context.Context) (int, error) {
	return func(context.Context) (int, error) {
		n.Add(1)
		return v, nil
	}
}

func TestGetOrCompute_TTLBoundary(t *testing.T) {
	c, clk := newTestCache(t, 8)
	ctx := context.Background()
	ttl := 600 * time.Second
	var calls atomic.Int32

	v, cached, err := c.GetOrCompute(ctx, "k", ttl, counting(&calls, 1))
	if err != nil || cached || v != 1 {
		t.Fatalf("first call: v=%d cached=%v err=%v", v, cached, err)
	}

	clk.Advance(599 * time.Second)
	v, cached, err = c.GetOrCompute(ctx, "k", ttl, counting(&calls, 2))
	if err != nil || !cached || v != 1 {
		t.Fatalf("at t0+599: v=%d cached=%v err=%v", v, cached, err)
	}
	if calls.Load() != 1 {
		t.Fatalf("compute invoked on a fresh entry")
	}

	clk.Advance(2 * time.Second)
	v, cached, err = c.GetOrCompute(ctx, "k", ttl, counting(&calls, 3))
	if err != nil || cached || v != 3 {
		t.Fatalf("at t0+601: v=%d cached=%v err=%v", v, cached, err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected recomputation, calls=%d", calls.Load())
	}
}

func TestGetOrCompute_ErrorsAreNotStored(t *testing.T) {
	c, _ := newTestCache(t, 8)
	ctx := context.Background()
	boom := errors.New("boom")

	_, _, err := c.GetOrCompute(ctx, "k", time.Minute, func(context.Context) (int, error) { return 0, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if c.Len() != 0 {
		t.Fatalf("error result was stored")
	}
	v, cached, err := c.GetOrCompute(ctx, "k", time.Minute, func(context.Context) (int, error) { return 7, nil })
	if err != nil || cached || v != 7 {
		t.Fatalf("retry: v=%d cached=%v err=%v", v, cached, err)
	}
}

func TestRefresh_BypassesOnlyItsKey(t *testing.T) {
	c, _ := newTestCache(t, 8)
	ctx := context.Background()
	var calls atomic.Int32

	c.GetOrCompute(ctx, "a", time.Minute, counting(&calls, 1))
	c.GetOrCompute(ctx, "b", time.Minute, counting(&calls, 10))

	v, err := c.Refresh(ctx, "a", time.Minute, counting(&calls, 2))
	if err != nil || v != 2 {
		t.Fatalf("refresh: v=%d err=%v", v, err)
	}
	if v, ok := c.Get("a", time.Minute); !ok || v != 2 {
		t.Fatalf("refreshed value not stored: %d %v", v, ok)
	}
	if v, ok := c.Get("b", time.Minute); !ok || v != 10 {
		t.Fatalf("other key disturbed: %d %v", v, ok)
	}
}

func TestGetOrCompute_SingleFlight(t *testing.T) {
	c, _ := newTestCache(t, 8)
	ctx := context.Background()

	var calls atomic.Int32
	release := make(chan struct{})
	started := make(chan struct{})
	compute := func(context.Context) (int, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return 42, nil
	}

	const n = 16
	var wg sync.WaitGroup
	results := make([]int, n)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _, _ = c.GetOrCompute(ctx, "k", time.Minute, compute)
	}()
	<-started
	for i := 1; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _, _ = c.GetOrCompute(ctx, "k", time.Minute, compute)
		}(i)
	}
	// Let the followers reach the in-flight call before releasing it.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Fatalf("expected one computation, got %d", got)
	}
	for i, v := range results {
		if v != 42 {
			t.Fatalf("result %d = %d", i, v)
		}
	}
}

func TestGetOrCompute_CancelledCallerStillFillsCache(t *testing.T) {
	c, _ := newTestCache(t, 8)
	ctx, cancel := context.WithCancel(context.Background())

	release := make(chan struct{})
	done := make(chan struct{})
	compute := func(cctx context.Context) (int, error) {
		<-release
		defer close(done)
		if cctx.Err() != nil {
			return 0, cctx.Err()
		}
		return 5, nil
	}

	errc := make(chan error, 1)
	go func() {
		_, _, err := c.GetOrCompute(ctx, "k", time.Minute, compute)
		errc <- err
	}()
	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	close(release)
	<-done

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if v, ok := c.Get("k", time.Minute); ok {
			if v != 5 {
				t.Fatalf("cached %d", v)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("detached computation was not stored")
}

func TestSizeBound_EvictsLeastRecentlyUsed(t *testing.T) {
	c, _ := newTestCache(t, 2)
	ctx := context.Background()
	var calls atomic.Int32

	c.GetOrCompute(ctx, "a", time.Minute, counting(&calls, 1))
	c.GetOrCompute(ctx, "b", time.Minute, counting(&calls, 2))
	c.Get("a", time.Minute)
	c.GetOrCompute(ctx, "c", time.Minute, counting(&calls, 3))

	if c.Len() != 2 {
		t.Fatalf("len = %d", c.Len())
	}
	if _, ok := c.Get("b", time.Minute); ok {
		t.Fatalf("b should have been evicted")
	}
	if _, ok := c.Get("a", time.Minute); !ok {
		t.Fatalf("a should have survived")
	}
	if s := c.Stats(); s.Evictions != 1 {
		t.Fatalf("evictions = %d", s.Evictions)
	}
}

func TestDeleteExpired(t *testing.T) {
	c, clk := newTestCache(t, 8)
	ctx := context.Background()
	var calls atomic.Int32

	c.GetOrCompute(ctx, "short", time.Minute, counting(&calls, 1))
	c.GetOrCompute(ctx, "long", time.Hour, counting(&calls, 2))
	clk.Advance(2 * time.Minute)
	c.deleteExpired()

	if c.Len() != 1 {
		t.Fatalf("len = %d", c.Len())
	}
	if _, ok := c.Get("long", time.Hour); !ok {
		t.Fatalf("long-lived entry dropped")
	}
}

func TestStats(t *testing.T) {
	c, _ := newTestCache(t, 8)
	ctx := context.Background()
	var calls atomic.Int32

	c.GetOrCompute(ctx, "k", time.Minute, counting(&calls, 1))
	c.GetOrCompute(ctx, "k", time.Minute, counting(&calls, 1))
	s := c.Stats()
	if s.Hits != 1 || s.Misses != 1 || s.Computes != 1 {
		t.Fatalf("stats: %+v", s)
	}
}

func TestGetOrCompute_PanicBecomesError(t *testing.T) {
	c, _ := newTestCache(t, 8)
	ctx := context.Background()

	_, _, err := c.GetOrCompute(ctx, "k", time.Minute, func(context.Context) (int, error) {
		var m map[string]int
		m["x"] = 1
		return 1, nil
	})
	if err == nil || !strings.Contains(err.Error(), "panicked") {
		t.Fatalf("expected panic error, got %v", err)
	}
	if c.Len() != 0 {
		t.Fatalf("panicking compute stored a value")
	}

	_, err = c.Refresh(ctx, "k", time.Minute, func(context.Context) (int, error) { panic("boom") })
	if err == nil {
		t.Fatalf("expected refresh panic error")
	}
	v, cached, err := c.GetOrCompute(ctx, "k", time.Minute, func(context.Context) (int, error) { return 3, nil })
	if err != nil || cached || v != 3 {
		t.Fatalf("after panic: v=%d cached=%v err=%v", v, cached, err)
	}
}

func TestRefresh_DoesNotJoinInFlightLookup(t *testing.T) {
	c, _ := newTestCache(t, 8)
	ctx := context.Background()

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan int, 1)
	go func() {
		v, _, _ := c.GetOrCompute(ctx, "k", time.Minute, func(context.Context) (int, error) {
			close(started)
			<-release
			return 1, nil
		})
		done <- v
	}()
	<-started

	var calls atomic.Int32
	v, err := c.Refresh(ctx, "k", time.Minute, counting(&calls, 2))
	if err != nil || v != 2 || calls.Load() != 1 {
		t.Fatalf("refresh: v=%d calls=%d err=%v", v, calls.Load(), err)
	}
	close(release)
	if got := <-done; got != 1 {
		t.Fatalf("lookup result = %d", got)
	}
}

func TestJanitor_DropsExpiredEntries(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c, err := New[int]("janitor", 8, WithClock(clk.Now), WithCleanupInterval(5*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Stop()
	ctx := context.Background()
	var calls atomic.Int32

	c.GetOrCompute(ctx, "short", time.Minute, counting(&calls, 1))
	c.GetOrCompute(ctx, "long", time.Hour, counting(&calls, 2))
	clk.Advance(2 * time.Minute)

	deadline := time.Now().Add(time.Second)
	for c.Len() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("janitor did not run, len = %d", c.Len())
		}
		time.Sleep(5 * time.Millisecond)
	}
}
