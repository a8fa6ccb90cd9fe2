package cache

import "testing"

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	var evicted []string
	c := NewCache[string, int](2, func(k string, v int) {
		evicted = append(evicted, k)
	})
	c.Set("a", 1)
	c.Set("b", 2)
	// Touch "a" so "b" is the eviction candidate.
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("get a=%d ok=%v", v, ok)
	}
	c.Set("c", 3)
	if len(evicted) != 1 || evicted[0] != "b" {
		t.Fatalf("evicted=%v want [b]", evicted)
	}
	if _, ok := c.Get("b"); ok {
		t.Fatalf("b must be gone")
	}
	if c.Len() != 2 {
		t.Fatalf("len=%d want 2", c.Len())
	}
}

func TestCacheDeleteSkipsCallback(t *testing.T) {
	calls := 0
	c := NewCache[string, int](4, func(string, int) { calls++ })
	c.Set("a", 1)
	if v, ok := c.Delete("a"); !ok || v != 1 {
		t.Fatalf("delete=%d ok=%v", v, ok)
	}
	if calls != 0 {
		t.Fatalf("delete must not invoke the eviction callback")
	}
	if _, ok := c.Delete("a"); ok {
		t.Fatalf("double delete must miss")
	}
}

func TestCacheClearEvictsAll(t *testing.T) {
	var evicted []string
	c := NewCache[string, int](4, func(k string, v int) { evicted = append(evicted, k) })
	c.Set("a", 1)
	c.Set("b", 2)
	c.Clear()
	if len(evicted) != 2 || c.Len() != 0 {
		t.Fatalf("evicted=%v len=%d", evicted, c.Len())
	}
}

func TestCacheSetUpdatesInPlace(t *testing.T) {
	c := NewCache[string, int](2, nil)
	c.Set("a", 1)
	c.Set("a", 9)
	if c.Len() != 1 {
		t.Fatalf("len=%d want 1", c.Len())
	}
	if v, _ := c.Get("a"); v != 9 {
		t.Fatalf("get=%d want 9", v)
	}
}
