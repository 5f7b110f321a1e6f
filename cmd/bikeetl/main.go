// Command bikeetl stages a directory of rental exports, merges them into the
// unified dataset and writes duration.csv (plus the optional unified exports).
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"bikeetl/internal/catalog"
	"bikeetl/internal/config"
	"bikeetl/internal/metrics"
	"bikeetl/internal/metrics/datadog"
	"bikeetl/internal/metrics/prompush"
	"bikeetl/internal/parser/csv"
	"bikeetl/internal/pipeline"
	"bikeetl/internal/probe"

	// register every sink backend; the pipeline config picks one.
	_ "bikeetl/internal/storage/all"
)

const usage = "usage: bikeetl -input DIR [-config pipeline.json] [-validate | -probe] [-v] [-metrics-backend none|datadog|pushgateway]"

type runner interface {
	Run(ctx context.Context, cfg config.Pipeline) (*pipeline.Summary, error)
}

type appDeps struct {
	readFile    func(string) ([]byte, error)
	loadDotEnv  func() error
	applyEnv    func(*config.Pipeline) error
	newRunner   func(verbose bool) runner
	initMetrics func(ctx context.Context, job string, m config.Metrics) (func(), error)
	probe       func(ctx context.Context, dir string, opt csv.Options, w io.Writer) error
}

func defaultDeps() appDeps {
	return appDeps{
		readFile:   os.ReadFile,
		loadDotEnv: func() error { return config.LoadDotEnv() },
		applyEnv:   config.ApplyEnv,
		newRunner: func(verbose bool) runner {
			r := pipeline.NewDefaultRunner()
			if !verbose {
				r.NewLogger = func(io.Writer) pipeline.Logger { return quietLogger{} }
			}
			return r
		},
		initMetrics: initMetrics,
		probe:       probeDir,
	}
}

func probeDir(ctx context.Context, dir string, opt csv.Options, w io.Writer) error {
	files, err := probe.Dir(ctx, dir, catalog.Default(), probe.Options{CSV: opt})
	if err != nil {
		return err
	}
	return probe.WriteReport(w, files)
}

// quietLogger keeps only warnings and failures.
type quietLogger struct{}

func (quietLogger) Printf(format string, v ...any) {
	msg := fmt.Sprintf(format, v...)
	if strings.Contains(msg, "warn=") || strings.Contains(msg, "err=") {
		logPrintf("%s", msg)
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, defaultDeps())
	stop()
	os.Exit(code)
}

// runMain returns the process exit code: 0 on success, 1 when the run fails
// (including any file that could not be staged), 2 for usage or configuration
// errors.
func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	fs := flag.NewFlagSet("bikeetl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		cfgPath        string
		inputDir       string
		metricsBackend string
		pushgatewayURL string
		validateOnly   bool
		probeOnly      bool
		verbose        bool
	)
	fs.StringVar(&cfgPath, "config", "", "pipeline config JSON path (optional)")
	fs.StringVar(&inputDir, "input", "", "directory of rental CSV exports (overrides input.dir)")
	fs.StringVar(&metricsBackend, "metrics-backend", "", "metrics backend: none, datadog or pushgateway (overrides metrics.backend)")
	fs.StringVar(&pushgatewayURL, "pushgateway-url", "", "Pushgateway base URL (overrides metrics.pushgateway_url)")
	fs.BoolVar(&validateOnly, "validate", false, "validate the configuration and exit")
	fs.BoolVar(&probeOnly, "probe", false, "inspect the input files without staging anything and exit")
	fs.BoolVar(&verbose, "v", false, "enable verbose logs")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	cfgPath = strings.TrimSpace(cfgPath)
	inputDir = strings.TrimSpace(inputDir)
	if cfgPath == "" && inputDir == "" {
		fmt.Fprintln(stderr, usage)
		return 2
	}

	if err := deps.loadDotEnv(); err != nil {
		fmt.Fprintf(stderr, "load .env: %v\n", err)
		return 2
	}

	p := config.Default()
	if cfgPath != "" {
		raw, err := deps.readFile(cfgPath)
		if err != nil {
			fmt.Fprintf(stderr, "read config: %v\n", err)
			return 2
		}
		if p, err = config.Decode(raw); err != nil {
			fmt.Fprintf(stderr, "parse config: %v\n", err)
			return 2
		}
	}
	if err := deps.applyEnv(&p); err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 2
	}
	if inputDir != "" {
		p.Input.Dir = inputDir
	}
	if metricsBackend != "" {
		p.Metrics.Backend = metricsBackend
	}
	if pushgatewayURL != "" {
		p.Metrics.PushgatewayURL = pushgatewayURL
	}

	issues := config.ValidatePipeline(p)
	for _, iss := range issues {
		fmt.Fprintln(stderr, iss.String())
	}
	if config.HasErrors(issues) {
		fmt.Fprintf(stderr, "configuration is invalid\n")
		return 2
	}
	if validateOnly {
		fmt.Fprintln(stdout, "configuration is valid")
		return 0
	}
	if probeOnly {
		opt := csv.Options{Comma: p.Input.CommaRune(), LazyQuotes: p.Input.LazyQuotes}
		if err := deps.probe(ctx, p.Input.Dir, opt, stdout); err != nil {
			fmt.Fprintf(stderr, "probe: %v\n", err)
			return 1
		}
		return 0
	}

	cleanup, err := deps.initMetrics(ctx, p.Job, p.Metrics)
	if err != nil {
		fmt.Fprintf(stderr, "init metrics: %v\n", err)
		return 1
	}
	defer cleanup()

	if verbose {
		logPrintf("pipeline: job=%s input=%s storage=%s truncate=%t",
			p.Job, p.Input.Dir, p.Storage.Kind, p.Storage.TruncateBeforeRun)
	}

	sum, err := deps.newRunner(verbose).Run(ctx, p)
	if sum != nil && sum.Report != nil {
		fmt.Fprintf(stderr, "files=%d records=%d malformed=%d\n", len(sum.Report.Files), sum.Records, sum.Malformed)
	}
	if err != nil {
		fmt.Fprintf(stderr, "run: %v\n", err)
		return 1
	}

	fmt.Fprintln(stdout, "ok")
	return 0
}

// metricsBackend is what the datadog constructor seam returns.
type metricsBackend interface {
	metrics.Backend
	Close() error
}

type flushingBackend interface {
	metrics.Backend
	Flush() error
}

// Seams for tests.
var (
	setMetricsBackend = metrics.SetBackend
	newDatadogBackend = func(ctx context.Context, opts datadog.Options) (metricsBackend, error) {
		return datadog.NewBackend(ctx, opts)
	}
	newPushBackend = func(job, url string) (flushingBackend, error) {
		return prompush.NewBackend(job, url)
	}
	logPrintf = log.Printf
)

const defaultPushgatewayURL = "http://localhost:9091"

// initMetrics wires the selected backend into the metrics package. The
// returned cleanup is never nil and flushes whatever was buffered.
func initMetrics(ctx context.Context, job string, m config.Metrics) (func(), error) {
	noop := func() {}
	if job == "" {
		job = "bikeetl"
	}

	switch strings.ToLower(strings.TrimSpace(m.Backend)) {
	case "", "none", "noop":
		return noop, nil

	case "datadog", "dd":
		tags := datadog.ParseTagsCSV(m.Tags)
		b, err := newDatadogBackend(ctx, datadog.Options{JobName: job, Tags: tags})
		if err != nil {
			return noop, err
		}
		setMetricsBackend(b)
		return func() {
			if err := b.Close(); err != nil {
				logPrintf("metrics: datadog close error: %v", err)
			}
		}, nil

	case "pushgateway":
		url := m.PushgatewayURL
		if url == "" {
			url = os.Getenv("PUSHGATEWAY_URL")
		}
		if url == "" {
			url = defaultPushgatewayURL
		}
		b, err := newPushBackend(job, url)
		if err != nil {
			return noop, err
		}
		setMetricsBackend(b)
		return func() {
			if err := b.Flush(); err != nil {
				logPrintf("metrics: pushgateway flush error: %v", err)
			}
		}, nil

	default:
		return noop, fmt.Errorf("unknown metrics backend %q (expected none|datadog|pushgateway)", m.Backend)
	}
}
