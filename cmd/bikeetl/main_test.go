package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"bikeetl/internal/config"
	"bikeetl/internal/ingest"
	"bikeetl/internal/metrics"
	"bikeetl/internal/metrics/datadog"
	"bikeetl/internal/parser/csv"
	"bikeetl/internal/pipeline"
)

// fakeRunner records the last pipeline it received.
type fakeRunner struct {
	err   error
	calls atomic.Int64
	last  config.Pipeline
}

func (r *fakeRunner) Run(_ context.Context, cfg config.Pipeline) (*pipeline.Summary, error) {
	r.calls.Add(1)
	r.last = cfg
	return &pipeline.Summary{Report: &ingest.Report{}}, r.err
}

type fakeMetricsBackend struct {
	closeErr error
	closed   atomic.Int64
	flushed  atomic.Int64
}

func (*fakeMetricsBackend) IncCounter(string, float64, metrics.Labels)       {}
func (*fakeMetricsBackend) ObserveHistogram(string, float64, metrics.Labels) {}

func (b *fakeMetricsBackend) Close() error {
	b.closed.Add(1)
	return b.closeErr
}

func (b *fakeMetricsBackend) Flush() error {
	b.flushed.Add(1)
	return b.closeErr
}

func noSideEffects(t *testing.T) appDeps {
	return appDeps{
		readFile: func(string) ([]byte, error) {
			t.Fatalf("readFile must not be called on usage errors")
			return nil, nil
		},
		loadDotEnv: func() error {
			t.Fatalf("loadDotEnv must not be called on usage errors")
			return nil
		},
		applyEnv: func(*config.Pipeline) error { return nil },
		newRunner: func(bool) runner {
			t.Fatalf("newRunner must not be called on usage errors")
			return &fakeRunner{}
		},
		initMetrics: func(context.Context, string, config.Metrics) (func(), error) {
			t.Fatalf("initMetrics must not be called on usage errors")
			return func() {}, nil
		},
		probe: func(context.Context, string, csv.Options, io.Writer) error {
			t.Fatalf("probe must not be called on usage errors")
			return nil
		},
	}
}

func TestRunMain_UsageErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		args          []string
		wantStderrSub string
	}{
		{name: "no_input_or_config", args: []string{}, wantStderrSub: "usage: bikeetl -input"},
		{name: "blank_values", args: []string{"-config", "  ", "-input", " "}, wantStderrSub: "usage: bikeetl -input"},
		{name: "unknown_flag", args: []string{"-nope"}, wantStderrSub: "flag provided but not defined"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var stdout, stderr bytes.Buffer
			code := runMain(context.Background(), tc.args, &stdout, &stderr, noSideEffects(t))
			if code != 2 {
				t.Fatalf("exit code=%d, want 2; stderr=%q", code, stderr.String())
			}
			if !strings.Contains(stderr.String(), tc.wantStderrSub) {
				t.Fatalf("stderr=%q, want contains %q", stderr.String(), tc.wantStderrSub)
			}
			if stdout.Len() != 0 {
				t.Fatalf("stdout=%q, want empty", stdout.String())
			}
		})
	}
}

const validConfig = `{"job":"job1","input":{"dir":"in"},"storage":{"kind":"memory"}}`

func TestRunMain_FullFlow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name             string
		args             []string
		readErr          error
		raw              string
		initMetricsErr   error
		runErr           error
		wantCode         int
		wantStderrSub    string
		wantStdout       string
		wantRunnerCalls  int64
		wantCleanupCalls int64
	}{
		{
			name:          "read_config_error",
			readErr:       errors.New("no such file"),
			wantCode:      2,
			wantStderrSub: "read config:",
		},
		{
			name:          "parse_config_error",
			raw:           `{"job":`,
			wantCode:      2,
			wantStderrSub: "parse config:",
		},
		{
			name:          "invalid_config",
			raw:           `{"job":"job1","input":{"dir":"in"},"storage":{"kind":"oracle","dsn":"x"}}`,
			wantCode:      2,
			wantStderrSub: "storage.kind",
		},
		{
			name:       "validate_only",
			args:       []string{"-validate"},
			wantCode:   0,
			wantStdout: "configuration is valid\n",
		},
		{
			name:           "init_metrics_error",
			initMetricsErr: errors.New("metrics unavailable"),
			wantCode:       1,
			wantStderrSub:  "init metrics:",
		},
		{
			name:             "runner_error_runs_cleanup",
			runErr:           errors.New("1 of 3 files not staged"),
			wantCode:         1,
			wantStderrSub:    "run: 1 of 3 files not staged",
			wantRunnerCalls:  1,
			wantCleanupCalls: 1,
		},
		{
			name:             "success",
			wantCode:         0,
			wantStdout:       "ok\n",
			wantRunnerCalls:  1,
			wantCleanupCalls: 1,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var stdout, stderr bytes.Buffer
			fr := &fakeRunner{err: tc.runErr}
			var cleanupCalls atomic.Int64

			raw := tc.raw
			if raw == "" {
				raw = validConfig
			}
			deps := appDeps{
				readFile: func(path string) ([]byte, error) {
					if path != "cfg.json" {
						t.Fatalf("readFile path=%q, want %q", path, "cfg.json")
					}
					if tc.readErr != nil {
						return nil, tc.readErr
					}
					return []byte(raw), nil
				},
				loadDotEnv: func() error { return nil },
				applyEnv:   func(*config.Pipeline) error { return nil },
				initMetrics: func(_ context.Context, job string, m config.Metrics) (func(), error) {
					if job != "job1" {
						t.Fatalf("job=%q, want %q", job, "job1")
					}
					if m.Backend != "none" {
						t.Fatalf("backend=%q, want flag value %q", m.Backend, "none")
					}
					if tc.initMetricsErr != nil {
						return func() {}, tc.initMetricsErr
					}
					return func() { cleanupCalls.Add(1) }, nil
				},
				newRunner: func(bool) runner { return fr },
			}

			args := append([]string{"-config", "cfg.json", "-metrics-backend", "none"}, tc.args...)
			code := runMain(context.Background(), args, &stdout, &stderr, deps)

			if code != tc.wantCode {
				t.Fatalf("exit code=%d, want %d; stderr=%q", code, tc.wantCode, stderr.String())
			}
			if tc.wantStderrSub != "" && !strings.Contains(stderr.String(), tc.wantStderrSub) {
				t.Fatalf("stderr=%q, want contains %q", stderr.String(), tc.wantStderrSub)
			}
			if got := stdout.String(); got != tc.wantStdout {
				t.Fatalf("stdout=%q, want %q", got, tc.wantStdout)
			}
			if got := fr.calls.Load(); got != tc.wantRunnerCalls {
				t.Fatalf("runner calls=%d, want %d", got, tc.wantRunnerCalls)
			}
			if got := cleanupCalls.Load(); got != tc.wantCleanupCalls {
				t.Fatalf("cleanup calls=%d, want %d", got, tc.wantCleanupCalls)
			}
		})
	}
}

func TestRunMain_FlagsOverrideConfigAndEnv(t *testing.T) {
	t.Parallel()

	fr := &fakeRunner{}
	deps := appDeps{
		readFile:   func(string) ([]byte, error) { return []byte(validConfig), nil },
		loadDotEnv: func() error { return nil },
		applyEnv: func(p *config.Pipeline) error {
			p.Input.Dir = "from-env"
			p.Storage.TruncateBeforeRun = true
			return nil
		},
		initMetrics: func(context.Context, string, config.Metrics) (func(), error) { return func() {}, nil },
		newRunner:   func(bool) runner { return fr },
	}

	var stdout, stderr bytes.Buffer
	code := runMain(context.Background(), []string{"-config", "cfg.json", "-input", "from-flag"}, &stdout, &stderr, deps)
	if code != 0 {
		t.Fatalf("exit code=%d; stderr=%q", code, stderr.String())
	}
	if fr.last.Input.Dir != "from-flag" {
		t.Fatalf("input.dir=%q, want flag value", fr.last.Input.Dir)
	}
	if !fr.last.Storage.TruncateBeforeRun {
		t.Fatalf("env override lost")
	}
	if fr.last.Storage.Kind != "memory" {
		t.Fatalf("storage.kind=%q, want value from config", fr.last.Storage.Kind)
	}
}

func TestRunMain_InputOnlyUsesDefaults(t *testing.T) {
	t.Parallel()

	fr := &fakeRunner{}
	deps := noSideEffects(t)
	deps.loadDotEnv = func() error { return nil }
	deps.initMetrics = func(context.Context, string, config.Metrics) (func(), error) { return func() {}, nil }
	deps.newRunner = func(bool) runner { return fr }

	var stdout, stderr bytes.Buffer
	if code := runMain(context.Background(), []string{"-input", "rentals"}, &stdout, &stderr, deps); code != 0 {
		t.Fatalf("exit code=%d; stderr=%q", code, stderr.String())
	}
	if fr.last.Storage.Kind != "sqlite" || fr.last.Output.DurationCSV != "duration.csv" {
		t.Fatalf("unexpected defaults: %+v", fr.last)
	}
}

// The initMetrics tests swap package-level seams and must not run in parallel.

func TestInitMetrics_NoneDoesNotMutateGlobalState(t *testing.T) {
	oldSet := setMetricsBackend
	defer func() { setMetricsBackend = oldSet }()
	setMetricsBackend = func(metrics.Backend) {
		t.Fatalf("setMetricsBackend must not be called for none")
	}

	for _, name := range []string{"", "none", "NONE"} {
		cleanup, err := initMetrics(context.Background(), "job", config.Metrics{Backend: name})
		if err != nil {
			t.Fatalf("initMetrics(%q) err=%v", name, err)
		}
		cleanup()
	}
}

func TestInitMetrics_DatadogWiresBackendAndCloses(t *testing.T) {
	b := &fakeMetricsBackend{}
	var gotOpts datadog.Options
	var setCalls atomic.Int64

	oldNew, oldSet, oldLog := newDatadogBackend, setMetricsBackend, logPrintf
	defer func() { newDatadogBackend, setMetricsBackend, logPrintf = oldNew, oldSet, oldLog }()

	newDatadogBackend = func(_ context.Context, opts datadog.Options) (metricsBackend, error) {
		gotOpts = opts
		return b, nil
	}
	setMetricsBackend = func(metrics.Backend) { setCalls.Add(1) }
	var logged bytes.Buffer
	logPrintf = func(format string, v ...any) { fmt.Fprintf(&logged, format, v...) }

	cleanup, err := initMetrics(context.Background(), "jobA", config.Metrics{Backend: "datadog", Tags: "team:data, region:eu"})
	if err != nil {
		t.Fatalf("initMetrics err=%v", err)
	}
	if gotOpts.JobName != "jobA" {
		t.Fatalf("JobName=%q, want jobA", gotOpts.JobName)
	}
	if strings.Join(gotOpts.Tags, ",") != "team:data,region:eu" {
		t.Fatalf("Tags=%v", gotOpts.Tags)
	}
	if setCalls.Load() != 1 {
		t.Fatalf("setMetricsBackend calls=%d, want 1", setCalls.Load())
	}

	cleanup()
	if b.closed.Load() != 1 {
		t.Fatalf("closed=%d, want 1", b.closed.Load())
	}
	if logged.Len() != 0 {
		t.Fatalf("unexpected log output: %q", logged.String())
	}
}

func TestInitMetrics_DatadogCloseErrorIsLogged(t *testing.T) {
	b := &fakeMetricsBackend{closeErr: errors.New("flush failed")}

	oldNew, oldSet, oldLog := newDatadogBackend, setMetricsBackend, logPrintf
	defer func() { newDatadogBackend, setMetricsBackend, logPrintf = oldNew, oldSet, oldLog }()

	newDatadogBackend = func(context.Context, datadog.Options) (metricsBackend, error) { return b, nil }
	setMetricsBackend = func(metrics.Backend) {}
	var logged bytes.Buffer
	logPrintf = func(format string, v ...any) { fmt.Fprintf(&logged, format, v...) }

	cleanup, err := initMetrics(context.Background(), "job", config.Metrics{Backend: "dd"})
	if err != nil {
		t.Fatalf("initMetrics err=%v", err)
	}
	cleanup()

	if !strings.Contains(logged.String(), "metrics: datadog close error") || !strings.Contains(logged.String(), "flush failed") {
		t.Fatalf("log=%q", logged.String())
	}
}

func TestInitMetrics_PushgatewayDefaultsURLAndFlushes(t *testing.T) {
	t.Setenv("PUSHGATEWAY_URL", "")

	b := &fakeMetricsBackend{}
	var gotJob, gotURL string

	oldNew, oldSet := newPushBackend, setMetricsBackend
	defer func() { newPushBackend, setMetricsBackend = oldNew, oldSet }()

	newPushBackend = func(job, url string) (flushingBackend, error) {
		gotJob, gotURL = job, url
		return b, nil
	}
	setMetricsBackend = func(metrics.Backend) {}

	cleanup, err := initMetrics(context.Background(), "", config.Metrics{Backend: "pushgateway"})
	if err != nil {
		t.Fatalf("initMetrics err=%v", err)
	}
	if gotJob != "bikeetl" || gotURL != defaultPushgatewayURL {
		t.Fatalf("job=%q url=%q", gotJob, gotURL)
	}
	cleanup()
	if b.flushed.Load() != 1 {
		t.Fatalf("flushed=%d, want 1", b.flushed.Load())
	}
}

func TestInitMetrics_UnknownBackendErrors(t *testing.T) {
	t.Parallel()

	cleanup, err := initMetrics(context.Background(), "job", config.Metrics{Backend: "statsd"})
	if err == nil {
		t.Fatalf("initMetrics err=nil, want error")
	}
	if cleanup == nil {
		t.Fatalf("cleanup=nil, want non-nil")
	}
	cleanup()
	if !strings.Contains(err.Error(), "none|datadog|pushgateway") {
		t.Fatalf("err=%q", err.Error())
	}
}

func TestRunMain_ProbeSkipsRunAndMetrics(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	body := "Number,Start station number,End station number,Bike number,Total duration (ms)\n"
	if err := os.WriteFile(filepath.Join(dir, "2022.csv"), []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	deps := noSideEffects(t)
	deps.loadDotEnv = func() error { return nil }
	deps.probe = probeDir

	var stdout, stderr bytes.Buffer
	code := runMain(context.Background(), []string{"-input", dir, "-probe"}, &stdout, &stderr, deps)
	if code != 0 {
		t.Fatalf("exit code=%d; stderr=%q", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "2022.csv") || !strings.Contains(stdout.String(), "schema2") {
		t.Fatalf("stdout=%q", stdout.String())
	}
	if !strings.Contains(stdout.String(), "missing columns") {
		t.Fatalf("stdout=%q, want missing column detail", stdout.String())
	}
}
