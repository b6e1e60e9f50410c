package stats

import (
	"iter"

	"github.com/randomizedcoder/go-room-progress/internal/events"
	"github.com/randomizedcoder/go-room-progress/internal/session"
)

// SuccessDurations yields, for each segment that reached the best
// link-clicker-only milestone, the whole seconds from the start of overlap
// to the first report of it.
func SuccessDurations(segments iter.Seq[*session.Segment], order *events.MilestoneOrder) iter.Seq[int] {
	best := order.LinkClickerBest()
	return func(yield func(int) bool) {
		for seg := range segments {
			sec, ok := seg.TimeTo(best)
			if !ok {
				continue
			}
			if !yield(sec) {
				return
			}
		}
	}
}

// FailureDurations yields, for each segment that never connected, how long
// the overlap lasted in whole seconds. Many zeros suggest the participants
// did not stay long enough to negotiate a connection.
func FailureDurations(segments iter.Seq[*session.Segment], order *events.MilestoneOrder) iter.Seq[int] {
	return func(yield func(int) bool) {
		for seg := range segments {
			if order.IsConnected(seg.FurthestState(order)) {
				continue
			}
			if !yield(int(seg.Duration().Seconds())) {
				return
			}
		}
	}
}
