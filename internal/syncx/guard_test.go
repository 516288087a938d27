package syncx

import (
	"sync"
	"testing"
)

func TestGuardGetSet(t *testing.T) {
	g := NewGuard(10)
	if got := g.Get(); got != 10 {
		t.Errorf("Get() = %d, want 10", got)
	}
	g.Set(20)
	if got := g.Get(); got != 20 {
		t.Errorf("Get() = %d, want 20", got)
	}
}

func TestGuardWrite(t *testing.T) {
	g := NewGuard(map[string]int{})
	g.Write(func(m *map[string]int) {
		(*m)["a"] = 1
	})
	g.Read(func(m map[string]int) {
		if m["a"] != 1 {
			t.Errorf("m[a] = %d, want 1", m["a"])
		}
	})
}

func TestReadValue(t *testing.T) {
	g := NewGuard([]string{"x", "y"})
	n := ReadValue(g, func(s []string) int { return len(s) })
	if n != 2 {
		t.Errorf("ReadValue = %d, want 2", n)
	}
}

func TestUpdateValue(t *testing.T) {
	g := NewGuard(map[int]string{1: "one"})
	old := UpdateValue(g, func(m *map[int]string) string {
		prev := (*m)[1]
		(*m)[1] = "uno"
		return prev
	})
	if old != "one" {
		t.Errorf("UpdateValue returned %q, want %q", old, "one")
	}
	if got := g.Get()[1]; got != "uno" {
		t.Errorf("value after update = %q, want %q", got, "uno")
	}
}

func TestGuardConcurrent(t *testing.T) {
	g := NewGuard(0)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Write(func(n *int) { *n++ })
		}()
	}
	wg.Wait()
	if got := g.Get(); got != 50 {
		t.Errorf("Get() = %d, want 50", got)
	}
}
