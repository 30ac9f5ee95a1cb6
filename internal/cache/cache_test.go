package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLRUCache_Eviction(t *testing.T) {
	c := NewLRUCache[int](2, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a") // a becomes most recent
	c.Set("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Errorf("b should have been evicted")
	}
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Errorf("Get(a) = %v, %v", v, ok)
	}
	if c.Size() != 2 {
		t.Errorf("Size() = %d, want 2", c.Size())
	}
}

func TestLRUCache_TTL(t *testing.T) {
	c := NewLRUCache[string](10, 10*time.Millisecond)
	c.Set("k", "v")
	time.Sleep(20 * time.Millisecond)

	if _, ok := c.Get("k"); ok {
		t.Errorf("expired entry returned")
	}
	c.Set("x", "y")
	time.Sleep(20 * time.Millisecond)
	if n := c.CleanExpired(); n != 1 {
		t.Errorf("CleanExpired() = %d, want 1", n)
	}
}

func TestLRUCache_PurgeAndStats(t *testing.T) {
	c := NewLRUCache[int](10, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a")
	c.Get("missing")

	st := c.Stats()
	if st.Size != 2 || st.Hits != 1 || st.Misses != 1 {
		t.Errorf("Stats() = %+v", st)
	}
	if n := c.Purge(); n != 2 {
		t.Errorf("Purge() = %d, want 2", n)
	}
	if c.Size() != 0 {
		t.Errorf("Size() after purge = %d", c.Size())
	}
	c.Set("c", 3)
	if v, ok := c.Get("c"); !ok || v != 3 {
		t.Errorf("cache unusable after purge")
	}
}

func TestManager_PurgeAll(t *testing.T) {
	a := NewLRUCache[int](10, time.Minute)
	b := NewLRUCache[string](10, time.Minute)
	a.Set("1", 1)
	b.Set("1", "one")
	b.Set("2", "two")

	m := NewManager(nil)
	m.Register(a)
	m.Register(b)
	m.StartCleanup(time.Hour)
	defer m.Stop()

	if n := m.PurgeAll(); n != 3 {
		t.Errorf("PurgeAll() = %d, want 3", n)
	}
}

func TestManager_StopWithoutStart(t *testing.T) {
	m := NewManager(nil)
	m.Stop()
	m.Stop()
}

func TestLoader_SingleFlight(t *testing.T) {
	l := NewLoader(NewLRUCache[int](10, time.Minute))
	var calls atomic.Int32
	release := make(chan struct{})

	load := func(context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 42, nil
	}

	var wg sync.WaitGroup
	results := make([]int, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := l.Get(context.Background(), "key", load)
			if err != nil {
				t.Errorf("Get() error = %v", err)
			}
			results[i] = v
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if c := calls.Load(); c != 1 {
		t.Errorf("load called %d times, want 1", c)
	}
	for i, v := range results {
		if v != 42 {
			t.Errorf("result %d = %d", i, v)
		}
	}

	v, err := l.Get(context.Background(), "key", func(context.Context) (int, error) {
		return 0, errors.New("should be cached")
	})
	if err != nil || v != 42 {
		t.Errorf("cached Get() = %d, %v", v, err)
	}
}

func TestLoader_ErrorsNotCached(t *testing.T) {
	l := NewLoader(NewLRUCache[int](10, time.Minute))
	boom := errors.New("boom")

	if _, err := l.Get(context.Background(), "k", func(context.Context) (int, error) { return 0, boom }); !errors.Is(err, boom) {
		t.Fatalf("Get() error = %v, want boom", err)
	}
	v, err := l.Get(context.Background(), "k", func(context.Context) (int, error) { return 7, nil })
	if err != nil || v != 7 {
		t.Errorf("Get() after error = %d, %v", v, err)
	}
}

func TestLoader_ContextCancelled(t *testing.T) {
	l := NewLoader(NewLRUCache[int](10, time.Minute))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	block := make(chan struct{})
	defer close(block)
	_, err := l.Get(ctx, "k", func(context.Context) (int, error) {
		<-block
		return 1, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Get() error = %v, want context.Canceled", err)
	}
}
