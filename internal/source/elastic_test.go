package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/randomizedcoder/go-room-progress/internal/events"
)

var testDay = time.Date(2015, 8, 13, 0, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func hit(room string, ts int64) map[string]any {
	return map[string]any{"_source": map[string]any{
		"roomToken": room,
		"action":    "join",
		"userType":  "Link-clicker",
		"Timestamp": ts,
	}}
}

func page(scrollID string, hits ...map[string]any) map[string]any {
	if hits == nil {
		hits = []map[string]any{}
	}
	return map[string]any{"_scroll_id": scrollID, "hits": map[string]any{"hits": hits}}
}

// fakeSearch serves a two-page scroll for testDay's index.
type fakeSearch struct {
	failFirst atomic.Int32
	cleared   atomic.Int32
	scrolls   atomic.Int32
	sawAuth   atomic.Bool
}

func (f *fakeSearch) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if user, pass, ok := r.BasicAuth(); ok && user == "reader" && pass == "secret" {
		f.sawAuth.Store(true)
	}
	if f.failFirst.Load() > 0 {
		f.failFirst.Add(-1)
		http.Error(w, "busy", http.StatusServiceUnavailable)
		return
	}

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/loop-app-2015-08-13/_search":
		var q map[string]any
		json.NewDecoder(r.Body).Decode(&q)
		if !strings.Contains(fmt.Sprint(q["sort"]), "Timestamp") {
			http.Error(w, "unsorted", http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(page("s1", hit("a", 1), hit("b", 2)))
	case r.Method == http.MethodPost && r.URL.Path == "/_search/scroll":
		if f.scrolls.Add(1) == 1 {
			json.NewEncoder(w).Encode(page("s2", hit("c", 3)))
			return
		}
		json.NewEncoder(w).Encode(page("s2"))
	case r.Method == http.MethodDelete && r.URL.Path == "/_search/scroll":
		f.cleared.Add(1)
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodHead && r.URL.Path == "/":
		w.WriteHeader(http.StatusOK)
	default:
		http.Error(w, `{"error":"index_not_found_exception"}`, http.StatusNotFound)
	}
}

func newTestElastic(t *testing.T, fake *fakeSearch) *ElasticSource {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	cfg := DefaultElasticConfig()
	cfg.URL = srv.URL
	cfg.Username = "reader"
	cfg.Password = "secret"
	cfg.Timeout = 5 * time.Second
	cfg.Backoff = BackoffConfig{Initial: time.Millisecond, Max: time.Millisecond, Multiplier: 1}

	src, err := NewElasticSource(cfg, quietLogger())
	if err != nil {
		t.Fatalf("NewElasticSource: %v", err)
	}
	return src
}

// =============================================================================
// Tests: ElasticSource
// =============================================================================

func TestElasticSource_Day(t *testing.T) {
	fake := &fakeSearch{}
	src := newTestElastic(t, fake)

	var rooms []string
	for rec, err := range src.Day(context.Background(), testDay) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		rooms = append(rooms, rec.RoomToken)
	}

	if strings.Join(rooms, "") != "abc" {
		t.Errorf("rooms = %v, want [a b c]", rooms)
	}
	if !fake.sawAuth.Load() {
		t.Error("basic auth was not sent")
	}
	if fake.cleared.Load() != 1 {
		t.Errorf("scroll cleared %d times, want 1", fake.cleared.Load())
	}
}

func TestElasticSource_MissingIndex(t *testing.T) {
	src := newTestElastic(t, &fakeSearch{})

	var got error
	for _, err := range src.Day(context.Background(), testDay.AddDate(0, 0, 1)) {
		got = err
	}
	if !errors.Is(got, ErrDayNotFound) {
		t.Errorf("err = %v, want ErrDayNotFound", got)
	}
}

func TestElasticSource_RetriesTransient(t *testing.T) {
	fake := &fakeSearch{}
	fake.failFirst.Store(2)
	src := newTestElastic(t, fake)

	n := 0
	for _, err := range src.Day(context.Background(), testDay) {
		if err != nil {
			t.Fatalf("unexpected error after retries: %v", err)
		}
		n++
	}
	if n != 3 {
		t.Errorf("records = %d, want 3", n)
	}
}

func TestElasticSource_GivesUp(t *testing.T) {
	fake := &fakeSearch{}
	fake.failFirst.Store(100)
	src := newTestElastic(t, fake)
	src.cfg.MaxRetries = 2

	var got error
	for _, err := range src.Day(context.Background(), testDay) {
		got = err
	}
	if got == nil || errors.Is(got, ErrDayNotFound) {
		t.Errorf("err = %v, want a fetch failure", got)
	}
	if remaining := fake.failFirst.Load(); remaining != 97 {
		t.Errorf("requests made = %d, want 3", 100-remaining)
	}
}

func TestElasticSource_StopEarly(t *testing.T) {
	fake := &fakeSearch{}
	src := newTestElastic(t, fake)

	for range src.Day(context.Background(), testDay) {
		break
	}
	if fake.scrolls.Load() != 0 {
		t.Error("scrolled after the consumer stopped")
	}
	if fake.cleared.Load() != 1 {
		t.Error("scroll context not released on early stop")
	}
}

func TestElasticSource_Ping(t *testing.T) {
	src := newTestElastic(t, &fakeSearch{})
	if err := src.Ping(context.Background()); err != nil {
		t.Errorf("Ping() = %v", err)
	}
}

func TestNewElasticSource_InvalidURL(t *testing.T) {
	for _, u := range []string{"", "not a url", "localhost:9200"} {
		cfg := DefaultElasticConfig()
		cfg.URL = u
		if _, err := NewElasticSource(cfg, nil); err == nil {
			t.Errorf("NewElasticSource(%q) succeeded", u)
		}
	}
}

func TestIndexName(t *testing.T) {
	day := time.Date(2015, 8, 13, 23, 30, 0, 0, time.FixedZone("x", -3600))
	if got := IndexName("loop-app-", day); got != "loop-app-2015-08-14" {
		t.Errorf("IndexName = %q", got)
	}
}

func TestRecordsClassify(t *testing.T) {
	src := newTestElastic(t, &fakeSearch{})
	c := events.NewClassifier(events.DefaultMilestoneOrder(), nil)
	for rec, err := range src.Day(context.Background(), testDay) {
		if err != nil {
			t.Fatal(err)
		}
		if _, err := c.Classify(rec); err != nil {
			t.Errorf("Classify(%+v) = %v", rec, err)
		}
	}
}
