package cache

import (
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newLRU(t *testing.T, max int) *LRU[string] {
	t.Helper()
	c, err := NewLRU[string](max)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	return c
}

func TestLRU_GetOrCompute_DeduplicatesConcurrentSameKey(t *testing.T) {
	c := newLRU(t, 16)
	var calls atomic.Int32

	fn := func() (string, error) {
		calls.Add(1)
		time.Sleep(30 * time.Millisecond)
		return "compiled", nil
	}

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.GetOrCompute("same-key", fn)
			if err == nil && v != "compiled" {
				err = errors.New("wrong value " + v)
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if got := calls.Load(); got != 1 {
		t.Fatalf("expected fn to run once, got %d", got)
	}
}

func TestLRU_GetOrCompute_ErrorIsNotCached(t *testing.T) {
	c := newLRU(t, 16)
	var calls atomic.Int32

	_, err := c.GetOrCompute("k", func() (string, error) {
		calls.Add(1)
		return "", errors.New("boom")
	})
	if err == nil {
		t.Fatalf("expected error")
	}

	_, err = c.GetOrCompute("k", func() (string, error) {
		calls.Add(1)
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := calls.Load(); got != 2 {
		t.Fatalf("expected fn to run twice (error should not be cached), got %d", got)
	}
}

func TestLRU_GetOrCompute_PanicDoesNotBlockWaiters(t *testing.T) {
	c := newLRU(t, 16)
	var calls atomic.Int32

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	release := make(chan struct{})

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.GetOrCompute("panic-key", func() (string, error) {
				calls.Add(1)
				<-release
				panic("boom")
			})
			errs <- err
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)

	wg.Wait()
	close(errs)

	for err := range errs {
		if err == nil {
			t.Fatalf("expected panic converted into error")
		}
	}
	if c.Len() != 0 {
		t.Fatalf("expected nothing cached after panic, got %d", c.Len())
	}
}

func TestLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	c := newLRU(t, 2)
	var calls atomic.Int32
	get := func(k string) {
		if _, err := c.GetOrCompute(k, func() (string, error) {
			calls.Add(1)
			return k, nil
		}); err != nil {
			t.Fatalf("get %s: %v", k, err)
		}
	}

	get("a")
	get("b")
	get("a") // hit, a is now most recent
	get("c") // evicts b
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected 3 computations, got %d", got)
	}
	get("a")
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected a to stay cached, got %d computations", got)
	}
	get("b")
	if got := calls.Load(); got != 4 {
		t.Fatalf("expected b to be recomputed, got %d computations", got)
	}
	if c.Len() != 2 {
		t.Fatalf("expected 2 items, got %d", c.Len())
	}
}

func TestNewLRU_ClampsSize(t *testing.T) {
	c := newLRU(t, 0)
	for i := 0; i < 3; i++ {
		k := strconv.Itoa(i)
		if _, err := c.GetOrCompute(k, func() (string, error) { return k, nil }); err != nil {
			t.Fatalf("get: %v", err)
		}
	}
	if c.Len() != 1 {
		t.Fatalf("expected 1 item, got %d", c.Len())
	}
}
