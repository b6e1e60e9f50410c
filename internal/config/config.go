// Package config provides configuration management for room-progress.
package config

import "time"

// Source kinds.
const (
	SourceElastic = "elastic"
	SourceFile    = "file"
)

// Storage kinds.
const (
	StorageS3   = "s3"
	StorageFile = "file"
)

// DefaultBeginningOfTime is the first day ever processed on a cold start.
const DefaultBeginningOfTime = "2015-08-01"

// Config holds all configuration options for a run.
type Config struct {
	// Period
	BeginningOfTime string `json:"beginning_of_time"` // YYYY-MM-DD
	Until           string `json:"until"`             // YYYY-MM-DD, exclusive; "" = today (UTC)
	NoPublish       bool   `json:"no_publish"`
	Durations       bool   `json:"durations"`

	// Event source
	Source      string        `json:"source"` // elastic, file
	ESURL       string        `json:"es_url"`
	ESUsername  string        `json:"es_username"`
	ESPassword  string        `json:"-"`
	IndexPrefix string        `json:"index_prefix"`
	PageSize    int           `json:"page_size"`
	ESTimeout   time.Duration `json:"es_timeout"`
	MaxRetries  int           `json:"max_retries"`
	SourceDir   string        `json:"source_dir"`

	// Persisted state
	Storage  string `json:"storage"` // s3, file
	StateDir string `json:"state_dir"`

	S3Region               string `json:"s3_region"`
	S3Endpoint             string `json:"s3_endpoint"`
	MetricsBucket          string `json:"metrics_bucket"`
	MetricsKey             string `json:"metrics_key"`
	MetricsAccessKeyID     string `json:"-"`
	MetricsSecretAccessKey string `json:"-"`
	StateBucket            string `json:"state_bucket"`
	StateKey               string `json:"state_key"`
	StateAccessKeyID       string `json:"-"`
	StateSecretAccessKey   string `json:"-"`

	// Milestone order, channels and role map (YAML)
	MilestonesFile string `json:"milestones_file"`

	// Observability
	MetricsAddr    string `json:"metrics_addr"` // "" = no server
	TextfilePath   string `json:"textfile_path"`
	PushgatewayURL string `json:"pushgateway_url"`
	Verbose        bool   `json:"verbose"`
	LogFormat      string `json:"log_format"` // json, text
	TUIEnabled     bool   `json:"tui_enabled"`

	// Diagnostics
	SkipPreflight bool `json:"skip_preflight"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		// Period
		BeginningOfTime: DefaultBeginningOfTime,

		// Event source
		Source:      SourceElastic,
		IndexPrefix: "loop-app-",
		PageSize:    1000,
		ESTimeout:   10 * time.Minute,
		MaxRetries:  5,

		// Persisted state
		Storage:       StorageS3,
		StateDir:      "./state",
		S3Region:      "us-east-1",
		MetricsBucket: "net-mozaws-prod-metrics-data",
		MetricsKey:    "loop-server-dashboard/loop_full_room_progress.json",
		StateBucket:   "mozilla-loop-metrics-state",
		StateKey:      "session-progress.json",

		// Observability
		Verbose:   false,
		LogFormat: "json",
	}
}

// StartDate parses BeginningOfTime.
func (c *Config) StartDate() (time.Time, error) {
	return time.Parse(DateLayout, c.BeginningOfTime)
}

// EndDate parses Until, defaulting to today's UTC date.
func (c *Config) EndDate(now time.Time) (time.Time, error) {
	if c.Until == "" {
		y, m, d := now.UTC().Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	}
	return time.Parse(DateLayout, c.Until)
}

// DateLayout is the day format used by date flags.
const DateLayout = "2006-01-02"
