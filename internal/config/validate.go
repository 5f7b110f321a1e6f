package config

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"bikeetl/internal/storage"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one finding of ValidatePipeline. Path is a dotted JSON path.
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string { return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message) }

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

var metricsBackends = map[string]bool{"": true, "none": true, "datadog": true, "dd": true, "pushgateway": true}

// ValidatePipeline checks p without touching the filesystem or the database.
// Storage kinds are checked against the registered sink backends.
func ValidatePipeline(p Pipeline) []Issue {
	var out []Issue
	errf := func(path, format string, a ...any) {
		out = append(out, Issue{Severity: SeverityError, Path: path, Message: fmt.Sprintf(format, a...)})
	}
	warnf := func(path, format string, a ...any) {
		out = append(out, Issue{Severity: SeverityWarning, Path: path, Message: fmt.Sprintf(format, a...)})
	}

	if strings.TrimSpace(p.Job) == "" {
		warnf("job", "empty job name; metrics will use the default")
	}

	if strings.TrimSpace(p.Input.Dir) == "" {
		errf("input.dir", "input directory is required")
	}
	if p.Input.Comma != "" && utf8.RuneCountInString(p.Input.Comma) != 1 {
		errf("input.comma", "delimiter must be a single character, got %q", p.Input.Comma)
	}
	if p.Input.Comma == "\"" || p.Input.Comma == "\n" || p.Input.Comma == "\r" {
		errf("input.comma", "invalid delimiter %q", p.Input.Comma)
	}

	kind := strings.TrimSpace(p.Storage.Kind)
	switch {
	case kind == "":
		errf("storage.kind", "storage kind is required")
	case !isRegistered(kind):
		errf("storage.kind", "unsupported storage kind %q (registered: %s)", kind, strings.Join(storage.Kinds(), ", "))
	}
	if kind != "memory" && strings.TrimSpace(p.Storage.DSN) == "" {
		errf("storage.dsn", "dsn is required for storage kind %q", kind)
	}
	if kind != "memory" && kind != "" && strings.Contains(p.Storage.DSN, "$") && strings.TrimSpace(p.ExpandedDSN()) == "" {
		errf("storage.dsn", "dsn expands to an empty string")
	}
	if p.Storage.BatchSize < 0 {
		errf("storage.batch_size", "must be >= 0, got %d", p.Storage.BatchSize)
	}

	if p.Output.DurationCSV == "" && p.Output.UnifiedCSV == "" && p.Output.XLSX == "" {
		warnf("output", "no output configured; data is only staged and merged")
	}
	if p.Output.XLSX != "" && !strings.HasSuffix(strings.ToLower(p.Output.XLSX), ".xlsx") {
		warnf("output.xlsx", "path %q does not end in .xlsx", p.Output.XLSX)
	}

	backend := strings.ToLower(strings.TrimSpace(p.Metrics.Backend))
	if !metricsBackends[backend] {
		errf("metrics.backend", "unknown metrics backend %q (expected none|datadog|pushgateway)", p.Metrics.Backend)
	}
	if backend == "pushgateway" && p.Metrics.PushgatewayURL != "" {
		if u, err := url.Parse(p.Metrics.PushgatewayURL); err != nil || u.Scheme == "" || u.Host == "" {
			errf("metrics.pushgateway_url", "invalid url %q", p.Metrics.PushgatewayURL)
		}
	}
	return out
}

func isRegistered(kind string) bool {
	for _, k := range storage.Kinds() {
		if k == kind {
			return true
		}
	}
	return false
}
