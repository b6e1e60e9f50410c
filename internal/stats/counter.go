// Package stats turns closed segments into per-day and per-period summaries:
// furthest-state histograms, connection and exception time distributions,
// and the day records published to the dashboard.
package stats

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
)

// DefaultStars is the width of a full histogram bar.
const DefaultStars = 100

// StateCounter is an ordered histogram. Buckets passed to NewStateCounter
// always appear, in the given order; other keys are added as they are seen.
// A sorted counter reports keys in ascending order instead.
type StateCounter[K cmp.Ordered] struct {
	keys   []K
	counts map[K]int64
	total  int64
	sorted bool
}

// NewStateCounter creates a counter with the given buckets pre-seeded at zero.
func NewStateCounter[K cmp.Ordered](buckets ...K) *StateCounter[K] {
	c := &StateCounter[K]{counts: make(map[K]int64, len(buckets))}
	for _, b := range buckets {
		c.ensure(b)
	}
	return c
}

// NewSortedCounter creates a counter that reports keys in ascending order.
func NewSortedCounter[K cmp.Ordered]() *StateCounter[K] {
	c := NewStateCounter[K]()
	c.sorted = true
	return c
}

func (c *StateCounter[K]) ensure(k K) {
	if _, ok := c.counts[k]; !ok {
		c.counts[k] = 0
		c.keys = append(c.keys, k)
	}
}

// Incr counts one occurrence of k.
func (c *StateCounter[K]) Incr(k K) {
	c.ensure(k)
	c.counts[k]++
	c.total++
}

// Add merges another counter's totals into this one.
func (c *StateCounter[K]) Add(other *StateCounter[K]) {
	if other == nil {
		return
	}
	for _, k := range other.keys {
		c.ensure(k)
		c.counts[k] += other.counts[k]
		c.total += other.counts[k]
	}
}

// Total returns the number of occurrences counted.
func (c *StateCounter[K]) Total() int64 {
	return c.total
}

// Count returns the occurrences of k.
func (c *StateCounter[K]) Count(k K) int64 {
	return c.counts[k]
}

// Empty reports whether nothing has been counted.
func (c *StateCounter[K]) Empty() bool {
	return c.total == 0
}

// Keys returns the bucket keys in reporting order.
func (c *StateCounter[K]) Keys() []K {
	keys := slices.Clone(c.keys)
	if c.sorted {
		slices.Sort(keys)
	}
	return keys
}

// AsMap returns a copy of the counts by key.
func (c *StateCounter[K]) AsMap() map[K]int64 {
	out := make(map[K]int64, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out
}

// Histogram renders one line per bucket with stars distributed over the
// total (modulo rounding).
func (c *StateCounter[K]) Histogram(stars int) string {
	total := max(c.total, 1)
	lines := make([]string, 0, len(c.keys))
	for _, k := range c.Keys() {
		n := c.counts[k]
		bar := strings.Repeat("*", int(int64(stars)*n/total))
		lines = append(lines, fmt.Sprintf("%9v %s %d", k, bar, n))
	}
	return strings.Join(lines, "\n")
}

// String renders the histogram at DefaultStars.
func (c *StateCounter[K]) String() string {
	return c.Histogram(DefaultStars)
}
