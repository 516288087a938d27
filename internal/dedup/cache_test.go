package dedup

import (
	"fmt"
	"testing"
)

func TestCheckAdmitsNewText(t *testing.T) {
	c := New(10)
	if !c.Check("hello world") {
		t.Error("Check() = false for new text, want true")
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}

func TestCheckRejectsRepeat(t *testing.T) {
	c := New(10)
	c.Check("hello world")
	if c.Check("hello world") {
		t.Error("Check() = true for repeat, want false")
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}

func TestCheckNormalizes(t *testing.T) {
	c := New(10)
	c.Check("  Hello World  ")
	if c.Check("hello world") {
		t.Error("Check() = true for case/space variant, want false")
	}
	if c.Check("HELLO WORLD\n") {
		t.Error("Check() = true for upper variant, want false")
	}
}

func TestCheckRejectsEmpty(t *testing.T) {
	c := New(10)
	if c.Check("") {
		t.Error("Check(\"\") = true, want false")
	}
	if c.Check("   \t\n") {
		t.Error("Check(whitespace) = true, want false")
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0", c.Len())
	}
}

func TestEvictsOldestAtCapacity(t *testing.T) {
	c := New(3)
	c.Check("one")
	c.Check("two")
	c.Check("three")

	if !c.Check("four") {
		t.Error("Check(four) = false, want true")
	}
	if c.Len() != 3 {
		t.Errorf("Len() = %d, want 3", c.Len())
	}
	if c.Contains("one") {
		t.Error("oldest item should have been evicted")
	}
	if !c.Contains("two") || !c.Contains("three") || !c.Contains("four") {
		t.Errorf("entries = %v", c.Entries())
	}
}

func TestEvictionIsFIFONotLRU(t *testing.T) {
	c := New(3)
	c.Check("one")
	c.Check("two")
	c.Check("three")

	// Re-checks of the oldest item must not refresh its position
	c.Check("one")
	c.Check("one")

	c.Check("four")
	if c.Contains("one") {
		t.Error("re-checked oldest item should still be evicted first")
	}
	if !c.Contains("two") {
		t.Error("second item should survive")
	}
}

func TestNeverExceedsCapacity(t *testing.T) {
	c := New(5)
	for i := 0; i < 100; i++ {
		c.Check(fmt.Sprintf("text %d", i))
	}
	if c.Len() != 5 {
		t.Errorf("Len() = %d, want 5", c.Len())
	}
	got := c.Entries()
	want := []string{"text 95", "text 96", "text 97", "text 98", "text 99"}
	for i, w := range want {
		if got[i] != w {
			t.Errorf("Entries()[%d] = %q, want %q", i, got[i], w)
		}
	}
}

func TestReset(t *testing.T) {
	c := New(10)
	c.Check("one")
	c.Check("two")
	c.Reset()

	if c.Len() != 0 {
		t.Errorf("Len() after Reset = %d, want 0", c.Len())
	}
	if !c.Check("one") {
		t.Error("Check() after Reset = false, want true")
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Hello", "hello"},
		{"  spaced  ", "spaced"},
		{"MiXeD Case", "mixed case"},
		{"\ttabs\n", "tabs"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
