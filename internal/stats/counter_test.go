package stats

import (
	"strings"
	"testing"
)

// =============================================================================
// Tests: StateCounter
// =============================================================================

func TestStateCounter_BucketsAlwaysPresent(t *testing.T) {
	c := NewStateCounter("nothing", "waiting", "sendrecv")
	c.Incr("sendrecv")
	c.Incr("sendrecv")
	c.Incr("teleporting")

	want := []string{"nothing", "waiting", "sendrecv", "teleporting"}
	got := c.Keys()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Keys() = %v, want %v", got, want)
	}
	if c.Total() != 3 {
		t.Errorf("Total() = %d, want 3", c.Total())
	}
	if c.Count("sendrecv") != 2 || c.Count("waiting") != 0 {
		t.Errorf("counts = %v", c.AsMap())
	}
}

func TestStateCounter_Sorted(t *testing.T) {
	c := NewSortedCounter[int]()
	for _, v := range []int{12, 3, 7, 3} {
		c.Incr(v)
	}
	got := c.Keys()
	want := []int{3, 7, 12}
	if len(got) != len(want) {
		t.Fatalf("Keys() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Keys()[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestStateCounter_Add(t *testing.T) {
	a := NewStateCounter("x", "y")
	a.Incr("x")
	b := NewStateCounter("y", "z")
	b.Incr("y")
	b.Incr("z")
	b.Incr("z")

	a.Add(b)
	a.Add(nil)

	if a.Total() != 4 {
		t.Errorf("Total() = %d, want 4", a.Total())
	}
	if a.Count("z") != 2 || a.Count("y") != 1 || a.Count("x") != 1 {
		t.Errorf("AsMap() = %v", a.AsMap())
	}
	if keys := a.Keys(); strings.Join(keys, "") != "xyz" {
		t.Errorf("Keys() = %v", keys)
	}
}

func TestStateCounter_Histogram(t *testing.T) {
	c := NewStateCounter("a", "b")
	c.Incr("a")
	c.Incr("b")
	c.Incr("b")
	c.Incr("b")

	lines := strings.Split(c.Histogram(8), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if want := "        a ** 1"; lines[0] != want {
		t.Errorf("line 0 = %q, want %q", lines[0], want)
	}
	if want := "        b ****** 3"; lines[1] != want {
		t.Errorf("line 1 = %q, want %q", lines[1], want)
	}
}

func TestStateCounter_EmptyHistogram(t *testing.T) {
	c := NewStateCounter("a")
	if !c.Empty() {
		t.Error("new counter should be empty")
	}
	if got := c.String(); got != "        a  0" {
		t.Errorf("String() = %q", got)
	}
}
