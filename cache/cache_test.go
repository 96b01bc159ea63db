package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMemoryBackendSetGet(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend(100)

	if err := m.Set(ctx, "lock:1", 32, time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	bits, ok, err := m.Get(ctx, "lock:1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || bits != 32 {
		t.Errorf("Get = (%d, %v), want (32, true)", bits, ok)
	}
}

func TestMemoryBackendMiss(t *testing.T) {
	_, ok, err := NewMemoryBackend(10).Get(context.Background(), "lock:missing")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Error("expected miss")
	}
}

func TestMemoryBackendTTL(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend(10)

	if err := m.Set(ctx, "lock:2", 4, 10*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	time.Sleep(30 * time.Millisecond)

	_, ok, _ := m.Get(ctx, "lock:2")
	if ok {
		t.Error("expected expired entry to miss")
	}
}

func TestMemoryBackendDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend(10)

	_ = m.Set(ctx, "lock:3", 1, time.Minute)
	if err := m.Delete(ctx, "lock:3"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := m.Get(ctx, "lock:3"); ok {
		t.Error("expected entry removed")
	}

	// Deleting a missing key is not an error.
	if err := m.Delete(ctx, "lock:nope"); err != nil {
		t.Errorf("Delete missing: %v", err)
	}
}

func TestMemoryBackendEviction(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend(2)

	_ = m.Set(ctx, "a", 1, time.Minute)
	_ = m.Set(ctx, "b", 2, time.Minute)
	_, _, _ = m.Get(ctx, "a") // a is now most recently used
	_ = m.Set(ctx, "c", 3, time.Minute)

	if _, ok, _ := m.Get(ctx, "b"); ok {
		t.Error("expected least recently used entry evicted")
	}
	if _, ok, _ := m.Get(ctx, "a"); !ok {
		t.Error("expected recently used entry retained")
	}
	if m.Len() != 2 {
		t.Errorf("Len = %d, want 2", m.Len())
	}
}

func TestGetOrLoadReadThrough(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemoryBackend(10), time.Minute)

	loads := 0
	loader := func(context.Context) (uint64, error) {
		loads++
		return 8, nil
	}

	bits, err := c.GetOrLoad(ctx, "lock:5", loader)
	if err != nil {
		t.Fatalf("GetOrLoad: %v", err)
	}
	if bits != 8 {
		t.Errorf("bits = %d, want 8", bits)
	}

	// Second call hits the cache.
	if _, err := c.GetOrLoad(ctx, "lock:5", loader); err != nil {
		t.Fatal(err)
	}
	if loads != 1 {
		t.Errorf("loader called %d times, want 1", loads)
	}
}

// Concurrent misses for the same key must trigger exactly one load.
func TestGetOrLoadSingleFlight(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemoryBackend(10), time.Minute)

	var loads atomic.Int64
	release := make(chan struct{})
	loader := func(context.Context) (uint64, error) {
		loads.Add(1)
		<-release
		return 16, nil
	}

	const n = 10
	var wg sync.WaitGroup
	results := make([]uint64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			bits, err := c.GetOrLoad(ctx, "lock:6", loader)
			if err != nil {
				t.Errorf("GetOrLoad: %v", err)
			}
			results[i] = bits
		}(i)
	}

	// Give every goroutine time to reach the flight, then release it.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := loads.Load(); got != 1 {
		t.Errorf("loader called %d times under concurrent miss, want 1", got)
	}
	for i, bits := range results {
		if bits != 16 {
			t.Errorf("caller %d got %d, want 16", i, bits)
		}
	}
}

func TestGetOrLoadLoaderError(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemoryBackend(10), time.Minute)

	wantErr := errors.New("storage down")
	_, err := c.GetOrLoad(ctx, "lock:7", func(context.Context) (uint64, error) {
		return 0, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want %v", err, wantErr)
	}

	// A failed load must not populate the cache.
	loads := 0
	if _, err := c.GetOrLoad(ctx, "lock:7", func(context.Context) (uint64, error) {
		loads++
		return 2, nil
	}); err != nil {
		t.Fatal(err)
	}
	if loads != 1 {
		t.Error("expected the loader to run after a failed load")
	}
}

func TestInvalidate(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemoryBackend(10), time.Minute)

	if _, err := c.GetOrLoad(ctx, "lock:8", func(context.Context) (uint64, error) { return 1, nil }); err != nil {
		t.Fatal(err)
	}
	if err := c.Invalidate(ctx, "lock:8"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}

	loads := 0
	if _, err := c.GetOrLoad(ctx, "lock:8", func(context.Context) (uint64, error) {
		loads++
		return 2, nil
	}); err != nil {
		t.Fatal(err)
	}
	if loads != 1 {
		t.Error("expected a reload after invalidation")
	}

	// Invalidating a missing key is not an error.
	if err := c.Invalidate(ctx, "lock:absent"); err != nil {
		t.Errorf("Invalidate missing: %v", err)
	}
}

// An invalidation landing while a load is in flight must not be undone
// by the flight writing its pre-change value back into the cache.
func TestInvalidateDuringLoad(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemoryBackend(10), time.Minute)

	started := make(chan struct{})
	release := make(chan struct{})
	stale := func(context.Context) (uint64, error) {
		close(started)
		<-release
		return 32, nil
	}

	done := make(chan uint64, 1)
	go func() {
		bits, err := c.GetOrLoad(ctx, "lock:9", stale)
		if err != nil {
			t.Errorf("GetOrLoad: %v", err)
		}
		done <- bits
	}()

	// Wait for the flight to be mid-load, then invalidate and let the
	// load complete with its now-outdated value.
	<-started
	if err := c.Invalidate(ctx, "lock:9"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	close(release)
	if bits := <-done; bits != 32 {
		t.Errorf("in-flight caller got %d, want the value it loaded (32)", bits)
	}

	// The next read must miss and load current state, not see 32.
	bits, err := c.GetOrLoad(ctx, "lock:9", func(context.Context) (uint64, error) {
		return 2, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if bits != 2 {
		t.Errorf("read after invalidation = %d, want 2 (reload, not the pre-change value)", bits)
	}
}
