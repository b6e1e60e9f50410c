package source

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/randomizedcoder/go-room-progress/internal/events"
)

// maxLineBytes bounds a single NDJSON record.
const maxLineBytes = 1 << 20

// FileSource reads exported days from <Dir>/<YYYY-MM-DD>.ndjson, or the
// gzip-compressed <YYYY-MM-DD>.ndjson.gz. Records are stably sorted by
// timestamp, since exports are not guaranteed to be ordered.
type FileSource struct {
	Dir string
}

// NewFileSource creates a FileSource rooted at dir.
func NewFileSource(dir string) *FileSource {
	return &FileSource{Dir: dir}
}

type line struct {
	rec events.Record
	ts  time.Time
	err error
}

// Day implements Source.
func (f *FileSource) Day(ctx context.Context, day time.Time) iter.Seq2[events.Record, error] {
	path, err := f.path(day)
	if err != nil {
		return fail(err)
	}

	return func(yield func(events.Record, error) bool) {
		lines, err := readLines(ctx, path)
		if err != nil {
			yield(events.Record{}, err)
			return
		}
		slices.SortStableFunc(lines, func(a, b line) int {
			return a.ts.Compare(b.ts)
		})
		for _, l := range lines {
			if !yield(l.rec, l.err) {
				return
			}
		}
	}
}

// path returns the first existing candidate for the day.
func (f *FileSource) path(day time.Time) (string, error) {
	name := day.UTC().Format(DateLayout) + ".ndjson"
	for _, candidate := range []string{name, name + ".gz"} {
		p := filepath.Join(f.Dir, candidate)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("checking %s: %w", p, err)
		}
	}
	return "", fmt.Errorf("%s: %w", filepath.Join(f.Dir, name), ErrDayNotFound)
}

func readLines(ctx context.Context, path string) ([]line, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer file.Close()

	var r io.Reader = file
	if filepath.Ext(path) == ".gz" {
		gz, err := gzip.NewReader(file)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}

	var lines []line
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	n := 0
	for scanner.Scan() {
		n++
		if n%10_000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var l line
		if err := json.Unmarshal(raw, &l.rec); err != nil {
			l.err = fmt.Errorf("%s line %d: %w: %v", path, n, events.ErrMalformedEvent, err)
		} else if ts, err := events.ParseTimestamp(string(l.rec.Timestamp)); err == nil {
			l.ts = ts
		}
		lines = append(lines, l)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return lines, nil
}
