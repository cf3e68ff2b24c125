package model

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"
	"github.com/spf13/viper"

	_ "embed"
)

const (
	LogFormatJSON = "json"
	LogFormatText = "text"

	DefaultShell = "/bin/sh"
)

//go:embed config.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource)
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	if err := compiled.Validate(); err != nil {
		panic(err)
	}

	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
	if err := schema.Validate(); err != nil {
		panic(err)
	}
}

type Config struct {
	Version int  `json:"version" yaml:"version"` // fixed 0 for now
	Log     Log  `json:"log" yaml:"log"`
	Jobs    Jobs `json:"jobs" yaml:"jobs"`
}

type Log struct {
	Verbose bool   `json:"verbose" yaml:"verbose"`
	Format  string `json:"format" yaml:"format"` // "json" | "text"
}

// Jobs configures the background job supervisor.
type Jobs struct {
	Shell           string `json:"shell" yaml:"shell"`
	FastRun         bool   `json:"fast_run" yaml:"fast_run"`
	DrainTimeout    string `json:"drain_timeout" yaml:"drain_timeout"` // Go duration, e.g. "1ms"
	ExitGrace       string `json:"exit_grace" yaml:"exit_grace"`
	MaxWorkers      int    `json:"max_workers" yaml:"max_workers"` // 0 => unlimited
	MaxErrorBytes   int    `json:"max_error_bytes" yaml:"max_error_bytes"`
	SuppressRepeats bool   `json:"suppress_repeats" yaml:"suppress_repeats"`
}

// DefaultConfig mirrors the defaults of config.cue.
func DefaultConfig(_ context.Context) Config {
	return Config{
		Version: 0,
		Log: Log{
			Format: LogFormatJSON,
		},
		Jobs: DefaultJobs(),
	}
}

func DefaultJobs() Jobs {
	return Jobs{
		Shell:         DefaultShell,
		DrainTimeout:  "1ms",
		ExitGrace:     "100ms",
		MaxErrorBytes: 8192,
	}
}

// LoadConfig validates YAML from r against CUE schema and decodes to Config.
func LoadConfig(r io.Reader) (Config, error) {
	yamlFile, err := yaml.Extract("config.yaml", r)
	if err != nil {
		return Config{}, err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := schema.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),
		cue.Concrete(true),
	); err != nil {
		return Config{}, err
	}

	var out Config
	if err := unified.Decode(&out); err != nil {
		return Config{}, err
	}
	return out, nil
}

// Override applies values explicitly set in v (flags or FMJOBS_* env vars)
// on top of the configuration file.
func (c *Config) Override(v *viper.Viper) {
	if v == nil {
		return
	}
	if v.IsSet("verbose") {
		c.Log.Verbose = v.GetBool("verbose")
	}
	if v.IsSet("log_format") {
		c.Log.Format = v.GetString("log_format")
	}
	if v.IsSet("shell") {
		if shell := v.GetString("shell"); shell != "" {
			c.Jobs.Shell = shell
		}
	}
	if v.IsSet("fast_run") {
		c.Jobs.FastRun = v.GetBool("fast_run")
	}
	if v.IsSet("max_workers") {
		c.Jobs.MaxWorkers = v.GetInt("max_workers")
	}
}

// Durations parses the duration strings of the configuration.
func (j Jobs) Durations() (drain, grace time.Duration, err error) {
	drain, err = time.ParseDuration(j.DrainTimeout)
	if err != nil {
		return 0, 0, fmt.Errorf("parsing jobs.drain_timeout: %w", err)
	}
	grace, err = time.ParseDuration(j.ExitGrace)
	if err != nil {
		return 0, 0, fmt.Errorf("parsing jobs.exit_grace: %w", err)
	}
	return drain, grace, nil
}

func (j Jobs) LogAttr() slog.Attr {
	return slog.GroupAttrs("jobs",
		slog.String("shell", j.Shell),
		slog.Bool("fast_run", j.FastRun),
		slog.String("drain_timeout", j.DrainTimeout),
		slog.Int("max_workers", j.MaxWorkers),
	)
}
