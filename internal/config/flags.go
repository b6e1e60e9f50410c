package config

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// ParseFlags parses os.Args and the environment and returns a Config.
func ParseFlags() (*Config, error) {
	return ParseArgs(os.Args[1:], os.Getenv, os.Stderr)
}

// ParseArgs parses command-line arguments into a Config, then fills
// credentials and endpoints left unset from getenv.
func ParseArgs(args []string, getenv func(string) string, usageOut io.Writer) (*Config, error) {
	cfg := DefaultConfig()
	fs := flag.NewFlagSet("room-progress", flag.ContinueOnError)
	fs.SetOutput(usageOut)

	// Custom usage message
	fs.Usage = func() {
		fmt.Fprintf(usageOut, `room-progress - how often do two people who try to meet actually connect?

Usage:
  room-progress [flags]

Period:
`)
		printFlagCategory(fs, usageOut, []string{"beginning-of-time", "until", "no-publish", "durations"})

		fmt.Fprintf(usageOut, "\nEvent Source:\n")
		printFlagCategory(fs, usageOut, []string{"source", "es-url", "es-username", "index-prefix", "page-size", "es-timeout", "max-retries", "source-dir"})

		fmt.Fprintf(usageOut, "\nPersisted State:\n")
		printFlagCategory(fs, usageOut, []string{"storage", "state-dir", "s3-region", "s3-endpoint", "metrics-bucket", "metrics-key", "state-bucket", "state-key"})

		fmt.Fprintf(usageOut, "\nMilestones:\n")
		printFlagCategory(fs, usageOut, []string{"milestones"})

		fmt.Fprintf(usageOut, "\nObservability:\n")
		printFlagCategory(fs, usageOut, []string{"metrics", "textfile", "pushgateway", "v", "log-format", "tui"})

		fmt.Fprintf(usageOut, "\nSafety & Diagnostics:\n")
		printFlagCategory(fs, usageOut, []string{"skip-preflight"})

		fmt.Fprintf(usageOut, `
Environment:
  ES_URL, ES_USERNAME, ES_PASSWORD            search backend
  METRICS_ACCESS_KEY_ID, METRICS_SECRET_ACCESS_KEY   metrics bucket
  STATE_ACCESS_KEY_ID, STATE_SECRET_ACCESS_KEY       world state bucket

Examples:
  # Daily cron: catch up from the last published day
  room-progress

  # Recompute locally from exported days without touching the buckets
  room-progress --no-publish -source file -source-dir ./exports -beginning-of-time 2015-08-13

`)
	}

	// Period
	fs.StringVar(&cfg.BeginningOfTime, "beginning-of-time", cfg.BeginningOfTime, "First day processed on a cold start (YYYY-MM-DD)")
	fs.StringVar(&cfg.BeginningOfTime, "b", cfg.BeginningOfTime, "Shorthand for -beginning-of-time")
	fs.StringVar(&cfg.Until, "until", cfg.Until, "Stop before this day (YYYY-MM-DD, default today UTC)")
	fs.BoolVar(&cfg.NoPublish, "no-publish", cfg.NoPublish, "Start cold and do not read or write any bucket")
	fs.BoolVar(&cfg.Durations, "durations", cfg.Durations, "Print success/failure duration histograms")

	// Event source
	fs.StringVar(&cfg.Source, "source", cfg.Source, `Event source: "elastic" or "file"`)
	fs.StringVar(&cfg.ESURL, "es-url", cfg.ESURL, "Search backend URL (env ES_URL)")
	fs.StringVar(&cfg.ESUsername, "es-username", cfg.ESUsername, "Search backend user (env ES_USERNAME)")
	fs.StringVar(&cfg.IndexPrefix, "index-prefix", cfg.IndexPrefix, "Per-day index name prefix")
	fs.IntVar(&cfg.PageSize, "page-size", cfg.PageSize, "Hits per scroll page")
	fs.DurationVar(&cfg.ESTimeout, "es-timeout", cfg.ESTimeout, "Per-request timeout")
	fs.IntVar(&cfg.MaxRetries, "max-retries", cfg.MaxRetries, "Retries for transient search failures")
	fs.StringVar(&cfg.SourceDir, "source-dir", cfg.SourceDir, "Directory of <YYYY-MM-DD>.ndjson[.gz] exports")

	// Persisted state
	fs.StringVar(&cfg.Storage, "storage", cfg.Storage, `State storage: "s3" or "file"`)
	fs.StringVar(&cfg.StateDir, "state-dir", cfg.StateDir, "Directory for file storage")
	fs.StringVar(&cfg.S3Region, "s3-region", cfg.S3Region, "AWS region")
	fs.StringVar(&cfg.S3Endpoint, "s3-endpoint", cfg.S3Endpoint, "S3 endpoint override (MinIO, LocalStack)")
	fs.StringVar(&cfg.MetricsBucket, "metrics-bucket", cfg.MetricsBucket, "Bucket holding the dashboard metrics")
	fs.StringVar(&cfg.MetricsKey, "metrics-key", cfg.MetricsKey, "Key of the dashboard metrics object")
	fs.StringVar(&cfg.StateBucket, "state-bucket", cfg.StateBucket, "Bucket holding the open-room state")
	fs.StringVar(&cfg.StateKey, "state-key", cfg.StateKey, "Key of the open-room state object")

	// Milestones
	fs.StringVar(&cfg.MilestonesFile, "milestones", cfg.MilestonesFile, "YAML file with milestone order, channels and roles")

	// Observability
	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "Serve Prometheus metrics on this address while running")
	fs.StringVar(&cfg.TextfilePath, "textfile", cfg.TextfilePath, "Write node_exporter textfile metrics here at exit")
	fs.StringVar(&cfg.PushgatewayURL, "pushgateway", cfg.PushgatewayURL, "Push metrics to this Pushgateway at exit")
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Verbose logging")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, `Log format: "json" or "text"`)
	fs.BoolVar(&cfg.TUIEnabled, "tui", cfg.TUIEnabled, "Show a live progress dashboard")

	// Safety & Diagnostics
	fs.BoolVar(&cfg.SkipPreflight, "skip-preflight", cfg.SkipPreflight, "Skip preflight checks")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	ApplyEnv(cfg, getenv)
	return cfg, nil
}

// printFlagCategory prints flags matching the given names (helper for usage).
func printFlagCategory(fs *flag.FlagSet, w io.Writer, names []string) {
	fs.VisitAll(func(f *flag.Flag) {
		for _, name := range names {
			if f.Name == name {
				fmt.Fprintf(w, "  -%s %s\n    \t%s", f.Name, flagType(f), f.Usage)
				if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "0" && f.DefValue != "0s" {
					fmt.Fprintf(w, " (default %s)", f.DefValue)
				}
				fmt.Fprintln(w)
				return
			}
		}
	})
}

// flagType returns a type hint for the flag value.
func flagType(f *flag.Flag) string {
	switch f.DefValue {
	case "true", "false":
		return ""
	}

	if _, err := time.Parse(DateLayout, f.DefValue); err == nil {
		return "date"
	}

	if strings.HasSuffix(f.DefValue, "s") || strings.HasSuffix(f.DefValue, "m") || strings.HasSuffix(f.DefValue, "h") {
		if _, err := fmt.Sscanf(f.DefValue, "%d", new(int)); err == nil {
			return "duration"
		}
	}

	if _, err := fmt.Sscanf(f.DefValue, "%d", new(int)); err == nil {
		return "int"
	}

	return "string"
}
