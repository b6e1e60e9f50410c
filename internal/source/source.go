// Package source fetches one day of raw signaling records, either from the
// search backend the events are indexed in or from local NDJSON exports.
package source

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/randomizedcoder/go-room-progress/internal/events"
)

// ErrDayNotFound is returned when no index or file exists for a day. The
// caller skips the day.
var ErrDayNotFound = errors.New("no events for day")

// DateLayout is the day suffix used in index and file names.
const DateLayout = "2006-01-02"

// Source yields the records of one UTC day in timestamp order.
//
// A yielded error wrapping events.ErrMalformedEvent concerns a single record
// and the sequence continues. Any other error ends the sequence.
type Source interface {
	Day(ctx context.Context, day time.Time) iter.Seq2[events.Record, error]
}

// IndexName returns the per-day index name, e.g. "loop-app-2015-08-13".
func IndexName(prefix string, day time.Time) string {
	return prefix + day.UTC().Format(DateLayout)
}

// fail returns a sequence that yields a single error.
func fail(err error) iter.Seq2[events.Record, error] {
	return func(yield func(events.Record, error) bool) {
		yield(events.Record{}, err)
	}
}
