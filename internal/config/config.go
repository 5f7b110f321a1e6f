// Package config holds the JSON pipeline description of a bikeetl run and the
// BIKEETL_* environment overrides applied on top of it.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "BIKEETL"

// Pipeline is the top-level config document.
type Pipeline struct {
	Job     string  `json:"job"`
	Input   Input   `json:"input"`
	Storage Storage `json:"storage"`
	Output  Output  `json:"output"`
	Metrics Metrics `json:"metrics"`
}

type Input struct {
	// Dir is the directory scanned for *.csv exports.
	Dir string `json:"dir"`
	// Comma overrides the field delimiter; a single character.
	Comma      string `json:"comma,omitempty"`
	LazyQuotes bool   `json:"lazy_quotes,omitempty"`
}

type Storage struct {
	// Kind: "sqlite" | "postgres" | "mssql" | "memory"
	Kind string `json:"kind"`
	// DSN may reference environment variables ($VAR / ${VAR}).
	DSN               string `json:"dsn"`
	TruncateBeforeRun bool   `json:"truncate_before_run"`
	BatchSize         int    `json:"batch_size,omitempty"`
}

// Output paths; an empty path disables that artifact.
type Output struct {
	DurationCSV string `json:"duration_csv"`
	UnifiedCSV  string `json:"unified_csv,omitempty"`
	XLSX        string `json:"xlsx,omitempty"`
}

type Metrics struct {
	// Backend: "none" | "datadog" | "pushgateway"
	Backend        string `json:"backend,omitempty"`
	PushgatewayURL string `json:"pushgateway_url,omitempty"`
	// Tags is a comma separated list of extra datadog tags.
	Tags string `json:"tags,omitempty"`
}

// Env is the set of BIKEETL_* overrides. Unset variables leave the pipeline
// value untouched.
type Env struct {
	Job               *string `envconfig:"JOB"`
	InputDir          *string `envconfig:"INPUT_DIR"`
	StorageKind       *string `envconfig:"STORAGE_KIND"`
	StorageDSN        *string `envconfig:"STORAGE_DSN"`
	TruncateBeforeRun *bool   `envconfig:"TRUNCATE_BEFORE_RUN"`
	BatchSize         *int    `envconfig:"BATCH_SIZE"`
	DurationCSV       *string `envconfig:"DURATION_CSV"`
	UnifiedCSV        *string `envconfig:"UNIFIED_CSV"`
	XLSX              *string `envconfig:"XLSX"`
	MetricsBackend    *string `envconfig:"METRICS_BACKEND"`
	PushgatewayURL    *string `envconfig:"PUSHGATEWAY_URL"`
	MetricsTags       *string `envconfig:"METRICS_TAGS"`
}

// Default is the pipeline used when no config file is given: a local SQLite
// staging database and duration.csv in the working directory.
func Default() Pipeline {
	return Pipeline{
		Job:     "bikeetl",
		Input:   Input{Dir: "data"},
		Storage: Storage{Kind: "sqlite", DSN: "bike_rentals.db"},
		Output:  Output{DurationCSV: "duration.csv"},
		Metrics: Metrics{Backend: "none"},
	}
}

// LoadDotEnv loads variables from the given .env files (".env" when none) into
// the process environment. Missing files are ignored; existing variables win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Decode parses a pipeline document over Default. Unknown fields are rejected.
func Decode(data []byte) (Pipeline, error) {
	p := Default()
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return Pipeline{}, fmt.Errorf("decode pipeline: %w", err)
	}
	return p, nil
}

// Load reads and decodes a pipeline file.
func Load(path string) (Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Pipeline{}, fmt.Errorf("read config: %w", err)
	}
	return Decode(data)
}

// ApplyEnv overlays BIKEETL_* variables onto p.
func ApplyEnv(p *Pipeline) error {
	var env Env
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("env overrides: %w", err)
	}
	env.apply(p)
	return nil
}

func (e Env) apply(p *Pipeline) {
	setString(&p.Job, e.Job)
	setString(&p.Input.Dir, e.InputDir)
	setString(&p.Storage.Kind, e.StorageKind)
	setString(&p.Storage.DSN, e.StorageDSN)
	if e.TruncateBeforeRun != nil {
		p.Storage.TruncateBeforeRun = *e.TruncateBeforeRun
	}
	if e.BatchSize != nil {
		p.Storage.BatchSize = *e.BatchSize
	}
	setString(&p.Output.DurationCSV, e.DurationCSV)
	setString(&p.Output.UnifiedCSV, e.UnifiedCSV)
	setString(&p.Output.XLSX, e.XLSX)
	setString(&p.Metrics.Backend, e.MetricsBackend)
	setString(&p.Metrics.PushgatewayURL, e.PushgatewayURL)
	setString(&p.Metrics.Tags, e.MetricsTags)
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

// ExpandedDSN returns the storage DSN with environment references resolved.
func (p Pipeline) ExpandedDSN() string { return os.ExpandEnv(p.Storage.DSN) }

// CommaRune returns the configured delimiter, or zero for the default.
func (in Input) CommaRune() rune {
	r := []rune(in.Comma)
	if len(r) != 1 {
		return 0
	}
	return r[0]
}
