// Package preflight provides startup validation checks.
package preflight

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// DefaultTimeout bounds each check that touches the network.
const DefaultTimeout = 10 * time.Second

// Check represents the result of a single preflight check.
type Check struct {
	Name    string // Name of the check
	Passed  bool   // Whether the check passed
	Warning bool   // True if it's a warning (non-fatal)
	Message string // Additional context
}

// Result holds the results of all preflight checks.
type Result struct {
	Checks []Check
	Passed bool
}

// String returns a human-readable summary of the check.
func (c Check) String() string {
	status := "✓"
	if !c.Passed {
		status = "✗"
	} else if c.Warning {
		status = "⚠"
	}
	return fmt.Sprintf("  %s %s: %s", status, c.Name, c.Message)
}

// Pinger is a source that can be probed without fetching a day.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Credentials are the static keys configured for one S3 object.
type Credentials struct {
	Name            string // metrics or state
	AccessKeyID     string
	SecretAccessKey string
}

// Options selects which checks run. Zero fields skip their check.
type Options struct {
	// Pinger is probed when the source is remote.
	Pinger Pinger
	// SourceDir must exist when the source is a directory of exports.
	SourceDir string
	// StateDir must be writable when state is kept on disk.
	StateDir string
	// S3 lists the credentials used to publish to S3.
	S3 []Credentials

	Timeout time.Duration
}

// RunAll executes all preflight checks selected by opts.
func RunAll(ctx context.Context, opts Options) *Result {
	result := &Result{
		Checks: make([]Check, 0, 4),
		Passed: true,
	}
	add := func(c Check) {
		result.Checks = append(result.Checks, c)
		if !c.Passed {
			result.Passed = false
		}
	}

	if opts.Pinger != nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		add(checkSourceReachable(ctx, opts.Pinger, timeout))
	}
	if opts.SourceDir != "" {
		add(checkSourceDir(opts.SourceDir))
	}
	if opts.StateDir != "" {
		add(checkStateDir(opts.StateDir))
	}
	for _, creds := range opts.S3 {
		add(checkCredentials(creds))
	}

	return result
}

// checkSourceReachable verifies the search backend answers.
func checkSourceReachable(ctx context.Context, p Pinger, timeout time.Duration) Check {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	if err := p.Ping(ctx); err != nil {
		return Check{
			Name:    "source",
			Passed:  false,
			Message: fmt.Sprintf("unreachable: %v", err),
		}
	}
	return Check{
		Name:    "source",
		Passed:  true,
		Message: fmt.Sprintf("reachable (%s)", time.Since(start).Round(time.Millisecond)),
	}
}

// checkSourceDir verifies the export directory exists.
func checkSourceDir(dir string) Check {
	info, err := os.Stat(dir)
	switch {
	case err != nil:
		return Check{Name: "source_dir", Passed: false, Message: err.Error()}
	case !info.IsDir():
		return Check{Name: "source_dir", Passed: false, Message: dir + " is not a directory"}
	}
	return Check{Name: "source_dir", Passed: true, Message: dir}
}

// checkStateDir verifies state can be written, creating the directory if
// needed.
func checkStateDir(dir string) Check {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Check{Name: "state_dir", Passed: false, Message: err.Error()}
	}
	f, err := os.CreateTemp(dir, ".preflight-*")
	if err != nil {
		return Check{Name: "state_dir", Passed: false, Message: fmt.Sprintf("not writable: %v", err)}
	}
	name := f.Name()
	f.Close()
	os.Remove(name)

	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	return Check{Name: "state_dir", Passed: true, Message: abs + " is writable"}
}

// checkCredentials verifies a key pair is complete. Without static keys
// the default AWS chain is used, which only resolves at first request.
func checkCredentials(c Credentials) Check {
	name := c.Name + "_credentials"
	switch {
	case c.AccessKeyID == "" && c.SecretAccessKey == "":
		return Check{
			Name:    name,
			Passed:  true,
			Warning: true,
			Message: "no static keys, using the default AWS credential chain",
		}
	case c.AccessKeyID == "" || c.SecretAccessKey == "":
		return Check{
			Name:    name,
			Passed:  false,
			Message: "access key id and secret must be set together",
		}
	}
	return Check{Name: name, Passed: true, Message: "static keys " + maskKey(c.AccessKeyID)}
}

// maskKey keeps the last four characters of a key id.
func maskKey(id string) string {
	if len(id) <= 4 {
		return "****"
	}
	return "****" + id[len(id)-4:]
}

// PrintResults prints the preflight check results.
func PrintResults(w io.Writer, result *Result) {
	fmt.Fprintln(w, "Preflight checks:")
	for _, check := range result.Checks {
		fmt.Fprintln(w, check.String())
		if !check.Passed {
			fmt.Fprintf(w, "    Fix: %s\n", suggestFix(check.Name))
		}
	}
	fmt.Fprintln(w)
}

// suggestFix returns a suggestion for fixing a failed check.
func suggestFix(name string) string {
	switch name {
	case "source":
		return "check -es-url and ES_USERNAME/ES_PASSWORD, or use -source file"
	case "source_dir":
		return "point -source-dir at a directory of YYYY-MM-DD.ndjson exports"
	case "state_dir":
		return "choose a writable -state-dir"
	case "metrics_credentials":
		return "set both METRICS_ACCESS_KEY_ID and METRICS_SECRET_ACCESS_KEY"
	case "state_credentials":
		return "set both STATE_ACCESS_KEY_ID and STATE_SECRET_ACCESS_KEY"
	default:
		return "rerun with -skip-preflight to bypass"
	}
}
