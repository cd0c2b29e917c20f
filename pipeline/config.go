// Package pipeline wires the stages of a forecasting run together and owns the run boundary
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"slices"
	"time"

	"github.com/aouyang1/go-ensembler/credentials"
	"github.com/aouyang1/go-ensembler/ensemble"
	"github.com/aouyang1/go-ensembler/failure"
	"github.com/aouyang1/go-ensembler/feature"
	"github.com/aouyang1/go-ensembler/metrics"
	"github.com/aouyang1/go-ensembler/models"
	"github.com/aouyang1/go-ensembler/objectstore"
	"github.com/aouyang1/go-ensembler/panel"
	"github.com/aouyang1/go-ensembler/postprocess"
	"github.com/aouyang1/go-ensembler/quantile"
	"github.com/aouyang1/go-ensembler/split"
	"gopkg.in/yaml.v3"
)

var (
	ErrNoModels        = failure.New(failure.ErrValidation, "no models configured")
	ErrNoInput         = failure.New(failure.ErrValidation, "no input path configured")
	ErrUnknownMetric   = failure.New(failure.ErrValidation, "unknown uplift metric")
	ErrUnknownGroup    = failure.New(failure.ErrValidation, "unknown feature group")
	ErrUnknownBackend  = failure.New(failure.ErrValidation, "unknown backend")
	ErrInvalidRunTime  = failure.New(failure.ErrValidation, "run time must be RFC 3339 or a date")
	ErrMissingPostgres = failure.New(failure.ErrValidation, "postgres backend configured without a dsn")
)

// Backends
const (
	BackendLog      = "log"
	BackendObject   = "object"
	BackendPostgres = "postgres"
	BackendLocal    = "local"
	BackendRedis    = "redis"
)

// credential tag and scopes the connection settings are resolved under
const (
	CredentialTag  = "ensembler"
	ScopePostgres  = "pg"
	ScopeRedis     = "redis"
	DefaultDotenv  = ".env"
	DefaultTimeout = 30 * time.Second
)

// Config is a complete run description
type Config struct {
	RunID   string `yaml:"run_id"`
	Name    string `yaml:"name"`
	RunTime string `yaml:"run_time"`

	Frequency panel.Frequency `yaml:"frequency"`
	Horizon   int             `yaml:"horizon"`

	Input     InputConfig         `yaml:"input"`
	Splits    split.Options       `yaml:"splits"`
	Models    []models.Spec       `yaml:"models"`
	Ensemble  ensemble.Options    `yaml:"ensemble"`
	Features  *feature.Options    `yaml:"features"`
	Ablation  AblationConfig      `yaml:"ablation"`
	Quantiles []float64           `yaml:"quantiles"`
	Process   postprocess.Options `yaml:"postprocess"`
	Uplift    UpliftConfig        `yaml:"uplift"`
	Artifacts ArtifactConfig      `yaml:"artifacts"`
	Storage   StorageConfig       `yaml:"storage"`
	Status    StatusConfig        `yaml:"status"`
	Postgres  PostgresConfig      `yaml:"postgres"`
	Redis     RedisConfig         `yaml:"redis"`

	Parallelism     int    `yaml:"parallelism"`
	MetricsTextfile string `yaml:"metrics_textfile"`
}

type InputConfig struct {
	Path    string                  `yaml:"path"`
	Format  string                  `yaml:"format"`
	Columns objectstore.ReadOptions `yaml:"columns"`

	// FutureReferencePath optionally holds the reference forecast over the horizon as
	// entity, time and reference columns
	FutureReferencePath string `yaml:"future_reference_path"`
}

type AblationConfig struct {
	Disabled bool     `yaml:"disabled"`
	Groups   []string `yaml:"groups"`
}

type UpliftConfig struct {
	Disabled bool   `yaml:"disabled"`
	Metric   string `yaml:"metric"`
	Store    string `yaml:"store"`
	Path     string `yaml:"path"`
	Lock     string `yaml:"lock"`
}

type ArtifactConfig struct {
	Prefix string            `yaml:"prefix"`
	Format string            `yaml:"format"`
	Paths  map[string]string `yaml:"paths"`
	Plot   bool              `yaml:"plot"`
}

type StorageConfig struct {
	Root  string                   `yaml:"root"`
	Guard objectstore.GuardOptions `yaml:"guard"`
}

type StatusConfig struct {
	Sink string `yaml:"sink"`
}

type PostgresConfig struct {
	DSN     string        `yaml:"dsn"`
	Timeout time.Duration `yaml:"timeout"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LoadConfig decodes a YAML run configuration. Unknown fields are rejected.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %v, %w", filename, err, failure.ErrValidation)
	}
	return ParseConfig(data)
}

func ParseConfig(data []byte) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %v, %w", err, failure.ErrValidation)
	}
	return cfg, nil
}

// ApplyCredentials fills connection settings from the credential provider. Settings already
// present in the config are overridden, missing credentials are not an error.
func (c *Config) ApplyCredentials(ctx context.Context, p credentials.Provider) error {
	pg, err := p.Get(ctx, CredentialTag, ScopePostgres, "")
	if err != nil && !errors.Is(err, credentials.ErrNotFound) {
		return err
	}
	if dsn, exists := pg["dsn"]; exists {
		c.Postgres.DSN = dsn
	}

	rd, err := p.Get(ctx, CredentialTag, ScopeRedis, "")
	if err != nil && !errors.Is(err, credentials.ErrNotFound) {
		return err
	}
	if addr, exists := rd["addr"]; exists {
		c.Redis.Addr = addr
	}
	if pw, exists := rd["password"]; exists {
		c.Redis.Password = pw
	}
	return nil
}

// Validate normalises the config in place and fills defaults
func (c *Config) Validate() error {
	freq, err := panel.ParseFrequency(string(c.Frequency))
	if err != nil {
		return err
	}
	c.Frequency = freq
	c.Input.Columns.Freq = freq

	if c.Input.Path == "" {
		return ErrNoInput
	}
	format, err := objectstore.ParseFormat(c.Input.Format, c.Input.Path)
	if err != nil {
		return err
	}
	c.Input.Format = string(format)

	if c.Name == "" {
		c.Name = "default"
	}
	if c.RunTime != "" {
		if _, err := c.parseRunTime(); err != nil {
			return err
		}
	}
	if c.Horizon == 0 {
		c.Horizon = freq.DefaultHorizon()
	}
	if c.Horizon < 0 {
		return fmt.Errorf("horizon %d, %w", c.Horizon, quantile.ErrNonPositiveHorizon)
	}

	splits, err := c.Splits.Validate(freq)
	if err != nil {
		return err
	}
	c.Splits = *splits

	if len(c.Models) == 0 {
		return ErrNoModels
	}
	for i, m := range c.Models {
		m = m.WithDefaults(freq)
		if err := m.Validate(); err != nil {
			return err
		}
		c.Models[i] = m
	}

	if c.Ensemble.MinMembers == 0 {
		c.Ensemble.MinMembers = ensemble.DefaultMinMembers
	}
	if c.Ensemble.MaxMembers == 0 {
		c.Ensemble.MaxMembers = ensemble.DefaultMaxMembers
	}
	c.Ensemble.MaxMembers = min(c.Ensemble.MaxMembers, len(c.Models))
	c.Ensemble.MinMembers = min(c.Ensemble.MinMembers, c.Ensemble.MaxMembers)
	c.Ensemble.PostProcess = c.Process

	if c.Features == nil {
		c.Features = feature.NewDefaultOptions()
	}
	if err := c.Features.Validate(); err != nil {
		return err
	}
	for _, g := range c.Ablation.Groups {
		if _, exists := feature.GroupByName(g); !exists {
			return fmt.Errorf("%q, %w", g, ErrUnknownGroup)
		}
	}

	q, err := (&quantile.Options{Ladder: c.Quantiles}).Validate()
	if err != nil {
		return err
	}
	c.Quantiles = q.Ladder

	if c.Uplift.Metric == "" {
		c.Uplift.Metric = metrics.MAE
	}
	if !slices.Contains(metrics.Names(), c.Uplift.Metric) {
		return fmt.Errorf("%q, %w", c.Uplift.Metric, ErrUnknownMetric)
	}
	if c.Uplift.Store == "" {
		c.Uplift.Store = BackendObject
	}
	if c.Uplift.Path == "" {
		c.Uplift.Path = path.Join("uplift", c.Name+".json")
	}
	if c.Uplift.Lock == "" {
		c.Uplift.Lock = BackendLocal
	}
	if c.Status.Sink == "" {
		c.Status.Sink = BackendLog
	}
	if err := checkBackend("uplift store", c.Uplift.Store, BackendObject, BackendPostgres); err != nil {
		return err
	}
	if err := checkBackend("uplift lock", c.Uplift.Lock, BackendLocal, BackendRedis); err != nil {
		return err
	}
	if err := checkBackend("status sink", c.Status.Sink, BackendLog, BackendPostgres); err != nil {
		return err
	}

	if c.Artifacts.Format == "" {
		c.Artifacts.Format = string(objectstore.FormatCSV)
	}
	if _, err := objectstore.ParseFormat(c.Artifacts.Format, ""); err != nil {
		return err
	}
	if c.Artifacts.Prefix == "" {
		c.Artifacts.Prefix = "runs"
	}
	if c.Storage.Root == "" {
		c.Storage.Root = "."
	}
	if c.Postgres.Timeout == 0 {
		c.Postgres.Timeout = DefaultTimeout
	}
	return nil
}

// NeedsPostgres reports whether any backend stores to postgres
func (c *Config) NeedsPostgres() bool {
	return c.Uplift.Store == BackendPostgres || c.Status.Sink == BackendPostgres
}

func (c *Config) parseRunTime() (time.Time, error) {
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, c.RunTime); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%q, %w", c.RunTime, ErrInvalidRunTime)
}

// AblationGroups resolves the configured group names, all default groups when none are set
func (c *Config) AblationGroups() []feature.Group {
	if len(c.Ablation.Groups) == 0 {
		return feature.DefaultGroups()
	}
	groups := make([]feature.Group, 0, len(c.Ablation.Groups))
	for _, name := range c.Ablation.Groups {
		g, _ := feature.GroupByName(name)
		groups = append(groups, g)
	}
	return groups
}

func checkBackend(what, got string, allowed ...string) error {
	if slices.Contains(allowed, got) {
		return nil
	}
	return fmt.Errorf("%s %q, %w", what, got, ErrUnknownBackend)
}
