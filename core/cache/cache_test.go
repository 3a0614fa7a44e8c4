package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestLRU_GetPut(t *testing.T) {
	c := New[string, int](Config{MaxSize: 3})
	c.Put("P1", 1)
	c.Put("P2", 2)
	c.Put("P3", 3)

	for key, want := range map[string]int{"P1": 1, "P2": 2, "P3": 3} {
		if v, ok := c.Get(key); !ok || v != want {
			t.Errorf("Get(%s) = %d, %v; want %d, true", key, v, ok, want)
		}
	}
	if _, ok := c.Get("P4"); ok {
		t.Error("Get(P4) should return false")
	}
	if n := c.Len(); n != 3 {
		t.Errorf("Len() = %d; want 3", n)
	}
}

func TestLRU_Eviction(t *testing.T) {
	c := New[string, int](Config{MaxSize: 2})
	c.Put("P1", 1)
	c.Put("P2", 2)
	c.Get("P1")    // P2 is now least recently used
	c.Put("P3", 3) // evicts P2

	if _, ok := c.Get("P2"); ok {
		t.Error("Get(P2) should return false after eviction")
	}
	if _, ok := c.Get("P1"); !ok {
		t.Error("Get(P1) should survive eviction")
	}
	if s := c.Stats(); s.Evictions != 1 || s.Size != 2 || s.MaxSize != 2 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestLRU_UpdateAndRemove(t *testing.T) {
	c := New[string, int](Config{MaxSize: 2})
	c.Put("P1", 1)
	c.Put("P1", 10)
	if v, _ := c.Get("P1"); v != 10 || c.Len() != 1 {
		t.Errorf("Get(P1) = %d, Len() = %d; want 10, 1", v, c.Len())
	}
	c.Remove("P1")
	c.Remove("missing")
	if c.Len() != 0 {
		t.Errorf("Len() = %d after Remove; want 0", c.Len())
	}
}

func TestLRU_TTL(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := New[string, int](Config{TTL: time.Minute})
	c.now = func() time.Time { return now }

	c.Put("P1", 1)
	if _, ok := c.Get("P1"); !ok {
		t.Fatal("Get(P1) should hit before expiry")
	}
	now = now.Add(2 * time.Minute)
	if _, ok := c.Get("P1"); ok {
		t.Error("Get(P1) should miss after expiry")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry kept: Len() = %d", c.Len())
	}
}

func TestLRU_GetOrLoad(t *testing.T) {
	c := New[string, string](DefaultConfig())
	loads := 0
	load := func() (string, error) {
		loads++
		return "pecha", nil
	}
	for range 3 {
		v, err := c.GetOrLoad("P1", load)
		if err != nil || v != "pecha" {
			t.Fatalf("GetOrLoad() = %q, %v", v, err)
		}
	}
	if loads != 1 {
		t.Errorf("loads = %d; want 1", loads)
	}

	fail := fmt.Errorf("clone failed")
	if _, err := c.GetOrLoad("P2", func() (string, error) { return "", fail }); err != fail {
		t.Errorf("GetOrLoad() error = %v; want %v", err, fail)
	}
	if _, ok := c.Get("P2"); ok {
		t.Error("failed load was cached")
	}

	s := c.Stats()
	if s.Loads != 1 || s.Hits != 2 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestLRU_Unlimited(t *testing.T) {
	c := New[int, int](Config{MaxSize: -1})
	for i := range 500 {
		c.Put(i, i)
	}
	if n := c.Len(); n != 500 {
		t.Errorf("Len() = %d; want 500", n)
	}
}

func TestLRU_Concurrency(t *testing.T) {
	c := New[string, int](Config{MaxSize: 16})
	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 100 {
				key := fmt.Sprintf("P%d", (g*100+i)%32)
				c.GetOrLoad(key, func() (int, error) { return i, nil })
				c.Get(key)
			}
		}()
	}
	wg.Wait()
	if n := c.Len(); n > 16 {
		t.Errorf("Len() = %d; want <= 16", n)
	}
}

func BenchmarkLRU_GetOrLoad(b *testing.B) {
	c := New[int, int](DefaultConfig())
	for i := 0; i < b.N; i++ {
		c.GetOrLoad(i%64, func() (int, error) { return i, nil })
	}
}
