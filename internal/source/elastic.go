package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/randomizedcoder/go-room-progress/internal/events"
)

// ElasticConfig configures the search backend client.
type ElasticConfig struct {
	URL         string
	Username    string
	Password    string
	IndexPrefix string

	PageSize   int           // hits per scroll page (default: 1000)
	KeepAlive  time.Duration // scroll context lifetime (default: 2m)
	Timeout    time.Duration // per-request timeout (default: 10m)
	MaxRetries int           // retries per request for transient failures (default: 5)
	Backoff    BackoffConfig
}

// DefaultElasticConfig returns defaults for everything except the endpoint
// and credentials.
func DefaultElasticConfig() ElasticConfig {
	return ElasticConfig{
		IndexPrefix: "loop-app-",
		PageSize:    1000,
		KeepAlive:   2 * time.Minute,
		Timeout:     10 * time.Minute,
		MaxRetries:  5,
		Backoff:     DefaultBackoffConfig(),
	}
}

// ElasticSource reads a day's index with the scroll API, sorted by
// Timestamp ascending.
type ElasticSource struct {
	cfg        ElasticConfig
	base       *url.URL
	httpClient *http.Client
	logger     *slog.Logger
}

// NewElasticSource validates the endpoint and creates a source.
func NewElasticSource(cfg ElasticConfig, logger *slog.Logger) (*ElasticSource, error) {
	base, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid search URL %q", cfg.URL)
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 1000
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 2 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ElasticSource{
		cfg:  cfg,
		base: base,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}, nil
}

// statusError is a non-2xx response.
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("http status %d: %s", e.Code, e.Body)
}

// transient reports whether a request should be retried.
func transient(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var ue *url.Error
	return errors.As(err, &ue)
}

type searchResponse struct {
	ScrollID string `json:"_scroll_id"`
	Hits     struct {
		Hits []struct {
			Source json.RawMessage `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Day implements Source.
func (s *ElasticSource) Day(ctx context.Context, day time.Time) iter.Seq2[events.Record, error] {
	index := IndexName(s.cfg.IndexPrefix, day)
	keepAlive := fmt.Sprintf("%ds", int(s.cfg.KeepAlive.Seconds()))

	return func(yield func(events.Record, error) bool) {
		query := map[string]any{
			"size":  s.cfg.PageSize,
			"sort":  []any{map[string]any{"Timestamp": map[string]string{"order": "asc"}}},
			"query": map[string]any{"match_all": map[string]any{}},
		}
		path := "/" + url.PathEscape(index) + "/_search?scroll=" + keepAlive

		var page searchResponse
		err := s.call(ctx, http.MethodPost, path, query, &page)
		var se *statusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			yield(events.Record{}, fmt.Errorf("index %s: %w", index, ErrDayNotFound))
			return
		}
		if err != nil {
			yield(events.Record{}, fmt.Errorf("searching %s: %w", index, err))
			return
		}

		scrollID := page.ScrollID
		defer func() { s.clearScroll(scrollID) }()

		pages := 0
		for len(page.Hits.Hits) > 0 {
			pages++
			for _, hit := range page.Hits.Hits {
				var rec events.Record
				if err := json.Unmarshal(hit.Source, &rec); err != nil {
					err = fmt.Errorf("index %s: %w: %v", index, events.ErrMalformedEvent, err)
					if !yield(events.Record{}, err) {
						return
					}
					continue
				}
				if !yield(rec, nil) {
					return
				}
			}

			if page.ScrollID != "" {
				scrollID = page.ScrollID
			}
			page = searchResponse{}
			body := map[string]string{"scroll": keepAlive, "scroll_id": scrollID}
			if err := s.call(ctx, http.MethodPost, "/_search/scroll", body, &page); err != nil {
				yield(events.Record{}, fmt.Errorf("scrolling %s: %w", index, err))
				return
			}
		}

		s.logger.Debug("index_read", "index", index, "pages", pages)
	}
}

// clearScroll releases the server-side scroll context. Failures only cost
// server memory until the keep-alive expires.
func (s *ElasticSource) clearScroll(id string) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.do(ctx, http.MethodDelete, "/_search/scroll", map[string]any{"scroll_id": []string{id}}, nil); err != nil {
		s.logger.Debug("clear_scroll_failed", "error", err)
	}
}

// Ping checks that the backend answers.
func (s *ElasticSource) Ping(ctx context.Context) error {
	return s.do(ctx, http.MethodHead, "/", nil, nil)
}

// call performs a request with retries for transient failures.
func (s *ElasticSource) call(ctx context.Context, method, path string, body, out any) error {
	backoff := NewBackoff(time.Now().UnixNano(), s.cfg.Backoff)
	for {
		err := s.do(ctx, method, path, body, out)
		if err == nil || !transient(err) || backoff.Attempts() >= s.cfg.MaxRetries {
			return err
		}
		s.logger.Warn("search_retry",
			"path", path,
			"attempt", backoff.Attempts()+1,
			"error", err,
		)
		if werr := backoff.Wait(ctx); werr != nil {
			return errors.Join(err, werr)
		}
	}
}

func (s *ElasticSource) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.base.String()+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.cfg.Username != "" {
		req.SetBasicAuth(s.cfg.Username, s.cfg.Password)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
