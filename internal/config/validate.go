package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the configuration for errors and inconsistencies.
// Returns nil if valid, or every problem joined with errors.Join.
func Validate(cfg *Config) error {
	var errs []error

	// Period
	start, err := cfg.StartDate()
	if err != nil {
		errs = append(errs, ValidationError{
			Field:   "beginning_of_time",
			Message: fmt.Sprintf("not a valid date (YYYY-MM-DD): %q", cfg.BeginningOfTime),
		})
	}
	if cfg.Until != "" {
		until, err := time.Parse(DateLayout, cfg.Until)
		switch {
		case err != nil:
			errs = append(errs, ValidationError{
				Field:   "until",
				Message: fmt.Sprintf("not a valid date (YYYY-MM-DD): %q", cfg.Until),
			})
		case !start.IsZero() && !until.After(start):
			errs = append(errs, ValidationError{
				Field:   "until",
				Message: "must be after beginning_of_time",
			})
		}
	}

	// Event source
	switch cfg.Source {
	case SourceElastic:
		if cfg.ESURL == "" {
			errs = append(errs, ValidationError{
				Field:   "es_url",
				Message: "search backend URL is required (-es-url or ES_URL)",
			})
		} else if err := validateURL(cfg.ESURL); err != nil {
			errs = append(errs, ValidationError{Field: "es_url", Message: err.Error()})
		}
		if cfg.PageSize < 1 || cfg.PageSize > 10_000 {
			errs = append(errs, ValidationError{
				Field:   "page_size",
				Message: fmt.Sprintf("must be between 1 and 10000 (got %d)", cfg.PageSize),
			})
		}
		if cfg.ESTimeout <= 0 {
			errs = append(errs, ValidationError{Field: "es_timeout", Message: "must be positive"})
		}
		if cfg.MaxRetries < 0 {
			errs = append(errs, ValidationError{Field: "max_retries", Message: "must not be negative"})
		}
	case SourceFile:
		if cfg.SourceDir == "" {
			errs = append(errs, ValidationError{
				Field:   "source_dir",
				Message: "is required with -source file",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "source",
			Message: fmt.Sprintf("must be 'elastic' or 'file' (got %q)", cfg.Source),
		})
	}

	// Persisted state (irrelevant with --no-publish)
	if !cfg.NoPublish {
		switch cfg.Storage {
		case StorageS3:
			for field, v := range map[string]string{
				"metrics_bucket": cfg.MetricsBucket,
				"metrics_key":    cfg.MetricsKey,
				"state_bucket":   cfg.StateBucket,
				"state_key":      cfg.StateKey,
			} {
				if v == "" {
					errs = append(errs, ValidationError{Field: field, Message: "is required with -storage s3"})
				}
			}
			if cfg.S3Endpoint != "" {
				if err := validateURL(cfg.S3Endpoint); err != nil {
					errs = append(errs, ValidationError{Field: "s3_endpoint", Message: err.Error()})
				}
			}
		case StorageFile:
			if cfg.StateDir == "" {
				errs = append(errs, ValidationError{Field: "state_dir", Message: "is required with -storage file"})
			}
		default:
			errs = append(errs, ValidationError{
				Field:   "storage",
				Message: fmt.Sprintf("must be 's3' or 'file' (got %q)", cfg.Storage),
			})
		}
	}

	// Log format must be valid
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.LogFormat] {
		errs = append(errs, ValidationError{
			Field:   "log_format",
			Message: fmt.Sprintf("must be 'json' or 'text' (got %q)", cfg.LogFormat),
		})
	}

	if cfg.PushgatewayURL != "" {
		if err := validateURL(cfg.PushgatewayURL); err != nil {
			errs = append(errs, ValidationError{Field: "pushgateway_url", Message: err.Error()})
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// validateURL checks that the URL is absolute http(s) with a host.
func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https (got %q)", u.Scheme)
	}

	if u.Host == "" {
		return errors.New("URL must have a host")
	}

	return nil
}
