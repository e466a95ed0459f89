package sharded

import (
	"fmt"
	"reflect"
	"sync"
	"testing"
)

func TestShardedSet_Basic(t *testing.T) {
	s := NewShardedSet()
	key := "docs/report.txt"

	if s.Has(key) {
		t.Errorf("Has(%q) = true; want false for non-existent key", key)
	}
	s.Store(key)
	if !s.Has(key) {
		t.Errorf("Has(%q) = false; want true after storing", key)
	}
	s.Delete(key)
	if s.Has(key) {
		t.Errorf("Has(%q) = true; want false after deleting", key)
	}
	s.Delete(key) // deleting twice is a no-op
	if s.Count() != 0 {
		t.Errorf("Count() = %d; want 0", s.Count())
	}
}

func TestShardedSet_LoadOrStoreConcurrent(t *testing.T) {
	s := NewShardedSet()
	const goroutines = 50
	const keys = 100

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := make(map[string]int)

	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for k := 0; k < keys; k++ {
				key := fmt.Sprintf("key-%d", k)
				if !s.LoadOrStore(key) {
					mu.Lock()
					winners[key]++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	if s.Count() != keys {
		t.Errorf("Count() = %d; want %d", s.Count(), keys)
	}
	for key, n := range winners {
		if n != 1 {
			t.Errorf("key %q was newly stored %d times; want exactly 1", key, n)
		}
	}
}

func TestShardedMap(t *testing.T) {
	m := NewShardedMap[error]()
	errA := fmt.Errorf("a failed")

	if _, ok := m.Load("a"); ok {
		t.Error("expected Load on empty map to report missing")
	}
	m.Store("b", nil)
	m.Store("a", errA)
	m.Store("c/d", nil)

	if v, ok := m.Load("a"); !ok || v != errA {
		t.Errorf("Load(a) = %v, %v; want %v, true", v, ok, errA)
	}
	if got, want := m.SortedKeys(), []string{"a", "b", "c/d"}; !reflect.DeepEqual(got, want) {
		t.Errorf("SortedKeys() = %v; want %v", got, want)
	}
	if len(m.Items()) != 3 {
		t.Errorf("Items() has %d entries; want 3", len(m.Items()))
	}
}

func TestShardedMap_ConcurrentStore(t *testing.T) {
	m := NewShardedMap[int]()
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.Store(fmt.Sprintf("file-%03d", i), i)
		}(i)
	}
	wg.Wait()
	if m.Count() != 200 {
		t.Errorf("Count() = %d; want 200", m.Count())
	}
}
