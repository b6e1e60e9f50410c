package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/randomizedcoder/go-room-progress/internal/stats"
)

// MetricsVersion is bumped whenever the meaning of the published counts
// changes. A stored list with an older version is recomputed from the
// beginning of time.
const MetricsVersion = 1

type metricsDocument struct {
	Version int                `json:"version"`
	Metrics []stats.DayMetrics `json:"metrics"`
}

// MetricsStore reads and writes the versioned list of day records the
// dashboard loads.
type MetricsStore struct {
	bucket Bucket
}

// NewMetricsStore wraps a bucket.
func NewMetricsStore(b Bucket) *MetricsStore {
	return &MetricsStore{bucket: b}
}

// Read returns the stored version and records. A missing object yields
// version 0 and no records.
func (s *MetricsStore) Read(ctx context.Context) (int, []stats.DayMetrics, error) {
	data, err := s.bucket.Read(ctx)
	if errors.Is(err, ErrNotFound) {
		return 0, nil, nil
	}
	if err != nil {
		return 0, nil, err
	}

	var doc metricsDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return 0, nil, fmt.Errorf("decoding metrics from %s: %w", s.bucket, err)
	}
	return doc.Version, doc.Metrics, nil
}

// Write stores the records under the current MetricsVersion.
func (s *MetricsStore) Write(ctx context.Context, metrics []stats.DayMetrics) error {
	if metrics == nil {
		metrics = []stats.DayMetrics{}
	}
	data, err := json.Marshal(metricsDocument{Version: MetricsVersion, Metrics: metrics})
	if err != nil {
		return fmt.Errorf("encoding metrics: %w", err)
	}
	return s.bucket.Write(ctx, data)
}
