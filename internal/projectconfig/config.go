// Package projectconfig provides the ProjectConfig struct and loader for
// .promptloop.yaml project-level configuration files.
package projectconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spboyer/promptloop/internal/utils"
	"gopkg.in/yaml.v3"
)

// FileName is the config file looked up from the working directory upwards.
const FileName = ".promptloop.yaml"

// Default values for project configuration. New() references them and no other code should
// duplicate them.
const (
	DefaultProvider        = "openai"
	DefaultGenerationModel = "gpt-4o-mini"
	DefaultJudgeModel      = "gpt-4"
	DefaultOllamaURL       = "http://localhost:11434"

	DefaultWorkers            = 4
	DefaultTimeout            = 60
	DefaultEntryPassThreshold = 0.7
	DefaultTemperature        = 0.7

	DefaultImprovementThreshold = 0.05
	DefaultMinFormatPassRate    = 0.95
	DefaultRegressionGuardrail  = 0.02
	DefaultMaxCandidates        = 3
	DefaultCandidateWorkers     = 2

	DefaultCacheMaxEntries = 1000
	DefaultCacheTTLSeconds = 3600

	DefaultStoreDriver  = "memory"
	DefaultTemplatesDir = "prompts/"
	DefaultDatasetsDir  = "datasets/"
	DefaultResultsDir   = "results/"
)

// ProviderConfig selects the generation backend.
type ProviderConfig struct {
	Name              string  `yaml:"name,omitempty" validate:"oneof=openai ollama groq huggingface anthropic copilot mock"`
	GenerationModel   string  `yaml:"generation_model,omitempty" validate:"required"`
	JudgeModel        string  `yaml:"judge_model,omitempty" validate:"required"`
	OllamaURL         string  `yaml:"ollama_url,omitempty" validate:"omitempty,url"`
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty" validate:"gte=0"`
	Burst             int     `yaml:"burst,omitempty" validate:"gte=0"`
	// MaxConcurrent caps in-flight calls per backend, shared by all candidate runs. Zero means
	// the entry worker count.
	MaxConcurrent int `yaml:"max_concurrent,omitempty" validate:"gte=0"`
}

// DefaultsConfig holds per-run evaluation settings.
type DefaultsConfig struct {
	Workers            int      `yaml:"workers,omitempty" validate:"gte=1,lte=256"`
	Timeout            int      `yaml:"timeout,omitempty" validate:"gte=1"`
	Temperature        *float64 `yaml:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	Dimensions         []string `yaml:"dimensions,omitempty" validate:"dive,oneof=correctness format verbosity safety consistency"`
	EntryPassThreshold float64  `yaml:"entry_pass_threshold,omitempty" validate:"gte=0,lte=1"`
	StrictFormat       *bool    `yaml:"strict_format,omitempty"`
}

// ImproveConfig holds the promotion gates and candidate settings.
type ImproveConfig struct {
	ImprovementThreshold float64 `yaml:"improvement_threshold,omitempty" validate:"gte=-1,lte=1"`
	MinFormatPassRate    float64 `yaml:"min_format_pass_rate,omitempty" validate:"gte=0,lte=1"`
	RegressionGuardrail  float64 `yaml:"regression_guardrail,omitempty" validate:"gte=0,lte=1"`
	MaxCandidates        int     `yaml:"max_candidates,omitempty" validate:"gte=1,lte=20"`
	CandidateWorkers     int     `yaml:"candidate_workers,omitempty" validate:"gte=1"`
}

// CacheConfig holds judge cache settings.
type CacheConfig struct {
	Enabled    *bool  `yaml:"enabled,omitempty"`
	MaxEntries int    `yaml:"max_entries,omitempty" validate:"gte=1"`
	TTLSeconds int    `yaml:"ttl_seconds,omitempty" validate:"gte=1"`
	BadgerDir  string `yaml:"badger_dir,omitempty"`
}

// StoreConfig selects the template store.
type StoreConfig struct {
	Driver       string `yaml:"driver,omitempty" validate:"oneof=memory postgres"`
	DSN          string `yaml:"dsn,omitempty" validate:"required_if=Driver postgres"`
	TemplatesDir string `yaml:"templates_dir,omitempty"`
}

// PathsConfig holds directory paths for datasets and results.
type PathsConfig struct {
	Datasets string `yaml:"datasets,omitempty"`
	Results  string `yaml:"results,omitempty"`
}

// ResultsConfig controls where results are written.
type ResultsConfig struct {
	Compress      *bool  `yaml:"compress,omitempty"`
	BlobAccount   string `yaml:"blob_account_url,omitempty" validate:"omitempty,url"`
	BlobContainer string `yaml:"blob_container,omitempty" validate:"required_with=BlobAccount"`
}

// MetricsConfig holds the Prometheus listener.
type MetricsConfig struct {
	Addr string `yaml:"addr,omitempty" validate:"omitempty,hostname_port"`
}

// ProjectConfig is the top-level configuration loaded from .promptloop.yaml.
type ProjectConfig struct {
	Provider ProviderConfig `yaml:"provider,omitempty"`
	Defaults DefaultsConfig `yaml:"defaults,omitempty"`
	Improve  ImproveConfig  `yaml:"improve,omitempty"`
	Cache    CacheConfig    `yaml:"cache,omitempty"`
	Store    StoreConfig    `yaml:"store,omitempty"`
	Paths    PathsConfig    `yaml:"paths,omitempty"`
	Results  ResultsConfig  `yaml:"results,omitempty"`
	Metrics  MetricsConfig  `yaml:"metrics,omitempty"`

	// Dir is the directory the config file was found in, or the start dir when none was found.
	Dir string `yaml:"-"`
}

// New returns a ProjectConfig with all hard-coded defaults populated.
func New() *ProjectConfig {
	return &ProjectConfig{
		Provider: ProviderConfig{
			Name:            DefaultProvider,
			GenerationModel: DefaultGenerationModel,
			JudgeModel:      DefaultJudgeModel,
			OllamaURL:       DefaultOllamaURL,
		},
		Defaults: DefaultsConfig{
			Workers:            DefaultWorkers,
			Timeout:            DefaultTimeout,
			Temperature:        float64Ptr(DefaultTemperature),
			Dimensions:         []string{"correctness", "format"},
			EntryPassThreshold: DefaultEntryPassThreshold,
			StrictFormat:       boolPtr(false),
		},
		Improve: ImproveConfig{
			ImprovementThreshold: DefaultImprovementThreshold,
			MinFormatPassRate:    DefaultMinFormatPassRate,
			RegressionGuardrail:  DefaultRegressionGuardrail,
			MaxCandidates:        DefaultMaxCandidates,
			CandidateWorkers:     DefaultCandidateWorkers,
		},
		Cache: CacheConfig{
			Enabled:    boolPtr(true),
			MaxEntries: DefaultCacheMaxEntries,
			TTLSeconds: DefaultCacheTTLSeconds,
		},
		Store: StoreConfig{
			Driver:       DefaultStoreDriver,
			TemplatesDir: DefaultTemplatesDir,
		},
		Paths: PathsConfig{
			Datasets: DefaultDatasetsDir,
			Results:  DefaultResultsDir,
		},
		Results: ResultsConfig{
			Compress: boolPtr(false),
		},
	}
}

// Load finds .promptloop.yaml by walking up from startDir (max 10 levels),
// unmarshals it, fills in missing fields with defaults and validates the result.
// If no config file is found, returns defaults with a nil error.
func Load(startDir string) (*ProjectConfig, error) {
	cfg := New()

	data, dir, err := findConfigFile(startDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg.Dir = startDir
			return cfg, nil
		}
		return nil, fmt.Errorf("loading %s: %w", FileName, err)
	}

	var fileCfg ProjectConfig
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", FileName, err)
	}

	mergeConfig(cfg, &fileCfg)
	cfg.Dir = dir

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints. Callers that override values from flags should call it again.
func (c *ProjectConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config: %s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// CallTimeout is the per-call limit for backend requests.
func (c *ProjectConfig) CallTimeout() time.Duration {
	return time.Duration(c.Defaults.Timeout) * time.Second
}

// MaxConcurrentCalls is the per-backend call cap: provider.max_concurrent when set, otherwise
// workers.
func (c *ProjectConfig) MaxConcurrentCalls(workers int) int {
	if c.Provider.MaxConcurrent > 0 {
		return c.Provider.MaxConcurrent
	}
	return workers
}

// CacheTTL is the judge cache entry lifetime.
func (c *ProjectConfig) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// Path resolves p relative to the config directory.
func (c *ProjectConfig) Path(p string) string {
	return utils.ResolvePath(p, c.Dir)
}

// findConfigFile walks up from dir looking for the config file (max 10 levels).
// Returns os.ErrNotExist if no config file is found. Propagates real I/O
// errors (e.g. permission denied) instead of silently swallowing them.
func findConfigFile(dir string) ([]byte, string, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, "", fmt.Errorf("resolving path %q: %w", dir, err)
	}
	dir = absDir

	for i := 0; i < 10; i++ {
		p := filepath.Join(dir, FileName)
		data, err := os.ReadFile(p)
		if err == nil {
			return data, dir, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, "", fmt.Errorf("reading %q: %w", p, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return nil, "", os.ErrNotExist
}

// mergeConfig overlays non-zero values from src onto dst.
func mergeConfig(dst, src *ProjectConfig) {
	// Provider
	if src.Provider.Name != "" {
		dst.Provider.Name = src.Provider.Name
	}
	if src.Provider.GenerationModel != "" {
		dst.Provider.GenerationModel = src.Provider.GenerationModel
	}
	if src.Provider.JudgeModel != "" {
		dst.Provider.JudgeModel = src.Provider.JudgeModel
	}
	if src.Provider.OllamaURL != "" {
		dst.Provider.OllamaURL = src.Provider.OllamaURL
	}
	if src.Provider.RequestsPerSecond != 0 {
		dst.Provider.RequestsPerSecond = src.Provider.RequestsPerSecond
	}
	if src.Provider.Burst != 0 {
		dst.Provider.Burst = src.Provider.Burst
	}
	if src.Provider.MaxConcurrent != 0 {
		dst.Provider.MaxConcurrent = src.Provider.MaxConcurrent
	}

	// Defaults
	if src.Defaults.Workers != 0 {
		dst.Defaults.Workers = src.Defaults.Workers
	}
	if src.Defaults.Timeout != 0 {
		dst.Defaults.Timeout = src.Defaults.Timeout
	}
	if src.Defaults.Temperature != nil {
		dst.Defaults.Temperature = src.Defaults.Temperature
	}
	if len(src.Defaults.Dimensions) > 0 {
		dst.Defaults.Dimensions = src.Defaults.Dimensions
	}
	if src.Defaults.EntryPassThreshold != 0 {
		dst.Defaults.EntryPassThreshold = src.Defaults.EntryPassThreshold
	}
	if src.Defaults.StrictFormat != nil {
		dst.Defaults.StrictFormat = src.Defaults.StrictFormat
	}

	// Improve
	if src.Improve.ImprovementThreshold != 0 {
		dst.Improve.ImprovementThreshold = src.Improve.ImprovementThreshold
	}
	if src.Improve.MinFormatPassRate != 0 {
		dst.Improve.MinFormatPassRate = src.Improve.MinFormatPassRate
	}
	if src.Improve.RegressionGuardrail != 0 {
		dst.Improve.RegressionGuardrail = src.Improve.RegressionGuardrail
	}
	if src.Improve.MaxCandidates != 0 {
		dst.Improve.MaxCandidates = src.Improve.MaxCandidates
	}
	if src.Improve.CandidateWorkers != 0 {
		dst.Improve.CandidateWorkers = src.Improve.CandidateWorkers
	}

	// Cache
	if src.Cache.Enabled != nil {
		dst.Cache.Enabled = src.Cache.Enabled
	}
	if src.Cache.MaxEntries != 0 {
		dst.Cache.MaxEntries = src.Cache.MaxEntries
	}
	if src.Cache.TTLSeconds != 0 {
		dst.Cache.TTLSeconds = src.Cache.TTLSeconds
	}
	if src.Cache.BadgerDir != "" {
		dst.Cache.BadgerDir = src.Cache.BadgerDir
	}

	// Store
	if src.Store.Driver != "" {
		dst.Store.Driver = src.Store.Driver
	}
	if src.Store.DSN != "" {
		dst.Store.DSN = src.Store.DSN
	}
	if src.Store.TemplatesDir != "" {
		dst.Store.TemplatesDir = src.Store.TemplatesDir
	}

	// Paths
	if src.Paths.Datasets != "" {
		dst.Paths.Datasets = src.Paths.Datasets
	}
	if src.Paths.Results != "" {
		dst.Paths.Results = src.Paths.Results
	}

	// Results
	if src.Results.Compress != nil {
		dst.Results.Compress = src.Results.Compress
	}
	if src.Results.BlobAccount != "" {
		dst.Results.BlobAccount = src.Results.BlobAccount
	}
	if src.Results.BlobContainer != "" {
		dst.Results.BlobContainer = src.Results.BlobContainer
	}

	// Metrics
	if src.Metrics.Addr != "" {
		dst.Metrics.Addr = src.Metrics.Addr
	}
}

func boolPtr(b bool) *bool {
	return &b
}

func float64Ptr(f float64) *float64 {
	return &f
}
