package preflight

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type fakePinger struct {
	err   error
	delay time.Duration
}

func (p fakePinger) Ping(ctx context.Context) error {
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return p.err
}

func TestCheck_String(t *testing.T) {
	tests := []struct {
		name  string
		check Check
		want  []string
	}{
		{"passed", Check{Name: "source", Passed: true, Message: "reachable"}, []string{"✓", "source", "reachable"}},
		{"failed", Check{Name: "source", Message: "refused"}, []string{"✗", "refused"}},
		{"warning", Check{Name: "state_credentials", Passed: true, Warning: true, Message: "default chain"}, []string{"⚠", "default chain"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.check.String()
			for _, want := range tt.want {
				if !strings.Contains(s, want) {
					t.Errorf("String() = %q, want to contain %q", s, want)
				}
			}
		})
	}
}

// =============================================================================
// Tests: RunAll
// =============================================================================

func TestRunAll_NothingSelected(t *testing.T) {
	result := RunAll(context.Background(), Options{})
	if !result.Passed || len(result.Checks) != 0 {
		t.Errorf("empty options should pass with no checks: %+v", result)
	}
}

func TestRunAll(t *testing.T) {
	dir := t.TempDir()
	notDir := filepath.Join(dir, "file")
	if err := os.WriteFile(notDir, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		opts   Options
		passed bool
		checks []string
	}{
		{
			name:   "reachable source",
			opts:   Options{Pinger: fakePinger{}},
			passed: true,
			checks: []string{"source"},
		},
		{
			name:   "unreachable source",
			opts:   Options{Pinger: fakePinger{err: errors.New("connection refused")}},
			passed: false,
			checks: []string{"source"},
		},
		{
			name:   "slow source times out",
			opts:   Options{Pinger: fakePinger{delay: time.Second}, Timeout: 10 * time.Millisecond},
			passed: false,
			checks: []string{"source"},
		},
		{
			name:   "source dir exists",
			opts:   Options{SourceDir: dir},
			passed: true,
			checks: []string{"source_dir"},
		},
		{
			name:   "source dir missing",
			opts:   Options{SourceDir: filepath.Join(dir, "missing")},
			passed: false,
			checks: []string{"source_dir"},
		},
		{
			name:   "source dir is a file",
			opts:   Options{SourceDir: notDir},
			passed: false,
			checks: []string{"source_dir"},
		},
		{
			name:   "state dir created",
			opts:   Options{StateDir: filepath.Join(dir, "state", "nested")},
			passed: true,
			checks: []string{"state_dir"},
		},
		{
			name:   "state dir under a file",
			opts:   Options{StateDir: filepath.Join(notDir, "state")},
			passed: false,
			checks: []string{"state_dir"},
		},
		{
			name: "credentials",
			opts: Options{S3: []Credentials{
				{Name: "metrics", AccessKeyID: "AKIAEXAMPLE1234", SecretAccessKey: "s"},
				{Name: "state"},
			}},
			passed: true,
			checks: []string{"metrics_credentials", "state_credentials"},
		},
		{
			name:   "half a key pair",
			opts:   Options{S3: []Credentials{{Name: "state", AccessKeyID: "AKIA"}}},
			passed: false,
			checks: []string{"state_credentials"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := RunAll(context.Background(), tt.opts)
			if result.Passed != tt.passed {
				t.Errorf("Passed = %v, want %v (%+v)", result.Passed, tt.passed, result.Checks)
			}
			if len(result.Checks) != len(tt.checks) {
				t.Fatalf("got %d checks, want %d", len(result.Checks), len(tt.checks))
			}
			for i, name := range tt.checks {
				if result.Checks[i].Name != name {
					t.Errorf("Checks[%d] = %s, want %s", i, result.Checks[i].Name, name)
				}
			}
		})
	}
}

func TestCheckStateDir_LeavesNothingBehind(t *testing.T) {
	dir := t.TempDir()
	if c := checkStateDir(dir); !c.Passed {
		t.Fatalf("checkStateDir failed: %s", c.Message)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("probe file left behind: %v", entries)
	}
}

func TestCheckCredentials(t *testing.T) {
	tests := []struct {
		name    string
		creds   Credentials
		passed  bool
		warning bool
		message string
	}{
		{"static", Credentials{Name: "metrics", AccessKeyID: "AKIAEXAMPLE1234", SecretAccessKey: "x"}, true, false, "****1234"},
		{"short id", Credentials{Name: "metrics", AccessKeyID: "AK", SecretAccessKey: "x"}, true, false, "****"},
		{"default chain", Credentials{Name: "metrics"}, true, true, "default AWS credential chain"},
		{"secret only", Credentials{Name: "metrics", SecretAccessKey: "x"}, false, false, "together"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := checkCredentials(tt.creds)
			if c.Passed != tt.passed || c.Warning != tt.warning {
				t.Errorf("Passed=%v Warning=%v, want %v/%v", c.Passed, c.Warning, tt.passed, tt.warning)
			}
			if !strings.Contains(c.Message, tt.message) {
				t.Errorf("Message = %q, want to contain %q", c.Message, tt.message)
			}
			if strings.Contains(c.Message, "AKIAEXAMPLE") {
				t.Error("key id should be masked")
			}
		})
	}
}

func TestSuggestFix(t *testing.T) {
	for _, name := range []string{"source", "source_dir", "state_dir", "metrics_credentials", "state_credentials", "unknown"} {
		t.Run(name, func(t *testing.T) {
			if suggestFix(name) == "" {
				t.Error("suggestFix should never be empty")
			}
		})
	}
}

func TestPrintResults(t *testing.T) {
	var b bytes.Buffer
	PrintResults(&b, &Result{
		Checks: []Check{
			{Name: "source", Passed: true, Message: "reachable"},
			{Name: "state_dir", Message: "permission denied"},
		},
	})

	out := b.String()
	for _, want := range []string{"Preflight checks:", "✓ source", "✗ state_dir", "Fix: choose a writable -state-dir"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Count(out, "Fix:") != 1 {
		t.Error("only failed checks get a fix")
	}
}
