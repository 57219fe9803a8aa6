package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spboyer/promptloop/internal/cache"
	"github.com/spboyer/promptloop/internal/dataset"
	"github.com/spboyer/promptloop/internal/execution"
	"github.com/spboyer/promptloop/internal/judge"
	"github.com/spboyer/promptloop/internal/models"
	"github.com/spboyer/promptloop/internal/orchestration"
	"github.com/spboyer/promptloop/internal/projectconfig"
	"github.com/spboyer/promptloop/internal/sink"
	"github.com/spboyer/promptloop/internal/store"
	"github.com/spboyer/promptloop/internal/utils"
	"github.com/spf13/cobra"
)

// app is the per-command wiring: config, template store and everything that must be closed
// when the command returns.
type app struct {
	g         *globalOptions
	cfg       *projectconfig.ProjectConfig
	templates store.TemplateStore
	closers   []func(context.Context) error
}

// openApp loads the config and opens the template store.
func openApp(cmd *cobra.Command, g *globalOptions) (*app, error) {
	cfg, err := loadConfig(g)
	if err != nil {
		return nil, err
	}
	if err := execution.LoadDotEnv(cfg.Dir); err != nil {
		return nil, err
	}

	a := &app{g: g, cfg: cfg}

	addr := cfg.Metrics.Addr
	if g.metricsAddr != "" {
		addr = g.metricsAddr
	}
	if addr != "" {
		stop, err := serveMetrics(addr)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, stop)
	}

	templates, err := store.Open(cmd.Context(), cfg)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("opening template store: %w", err)
	}
	a.templates = templates
	a.closers = append(a.closers, func(context.Context) error { return templates.Close() })

	return a, nil
}

// loadConfig resolves --config to a search directory and applies --provider.
func loadConfig(g *globalOptions) (*projectconfig.ProjectConfig, error) {
	startDir := g.configPath
	if startDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("getting working directory: %w", err)
		}
		startDir = wd
	} else if info, err := os.Stat(startDir); err != nil {
		return nil, fmt.Errorf("config path: %w", err)
	} else if !info.IsDir() {
		if filepath.Base(startDir) != projectconfig.FileName {
			return nil, fmt.Errorf("config file must be named %s, got %s", projectconfig.FileName, startDir)
		}
		startDir = filepath.Dir(startDir)
	}

	cfg, err := projectconfig.Load(startDir)
	if err != nil {
		return nil, err
	}
	if g.provider != "" {
		cfg.Provider.Name = strings.ToLower(g.provider)
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	slog.Debug("Loaded config", "dir", cfg.Dir, "provider", cfg.Provider.Name, "store", cfg.Store.Driver)
	return cfg, nil
}

// Close releases everything opened by the app in reverse order and flushes tracing.
func (a *app) Close() error {
	ctx := context.Background()
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := a.g.shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *app) closeAndLog() {
	if err := a.Close(); err != nil {
		slog.Warn("Cleanup failed", "error", err)
	}
}

// evalSettings are the per-command overrides of the defaults section.
type evalSettings struct {
	dimensions []string
	workers    int
	noCache    bool
}

// newEvaluator wires the executor, the judge and the judge cache. The judge backend is only
// resolved when a judged dimension is requested.
func (a *app) newEvaluator(s evalSettings) (*orchestration.Evaluator, error) {
	cfg := a.cfg

	names := s.dimensions
	if len(names) == 0 {
		names = cfg.Defaults.Dimensions
	}
	dims, err := models.ParseDimensions(names)
	if err != nil {
		return nil, err
	}

	workers := cfg.Defaults.Workers
	if s.workers > 0 {
		workers = s.workers
	}
	// one cap per backend, shared by every run using this evaluator
	callCap := execution.WithMaxConcurrent(cfg.MaxConcurrentCalls(workers))

	execBackend, err := execution.NewBackend(cfg, execution.RoleExecutor, callCap)
	if err != nil {
		return nil, fmt.Errorf("creating executor backend: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return execBackend.Close() })

	temperature := -1.0
	if cfg.Defaults.Temperature != nil {
		temperature = *cfg.Defaults.Temperature
	}
	executor := execution.NewExecutor(execBackend, execution.Model(cfg, execution.RoleExecutor), temperature)

	opts := []orchestration.EvaluatorOption{
		orchestration.WithWorkers(workers),
		orchestration.WithDimensions(dims...),
		orchestration.WithEntryPassThreshold(cfg.Defaults.EntryPassThreshold),
		orchestration.WithStrictFormat(cfg.Defaults.StrictFormat != nil && *cfg.Defaults.StrictFormat),
	}

	if !models.NeedsJudge(dims) {
		return orchestration.NewEvaluator(executor, nil, opts...), nil
	}

	judgeBackend, err := execution.NewBackend(cfg, execution.RoleJudge, callCap)
	if err != nil {
		return nil, fmt.Errorf("creating judge backend: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return judgeBackend.Close() })

	judgeModel := execution.Model(cfg, execution.RoleJudge)
	var j judge.Evaluator = judge.New(judgeBackend, judgeModel)
	opts = append(opts, orchestration.WithJudgeModel(judgeModel))

	if !s.noCache {
		results, err := cache.FromConfig(cfg)
		if err != nil {
			return nil, fmt.Errorf("opening judge cache: %w", err)
		}
		if results != nil {
			a.closers = append(a.closers, func(context.Context) error {
				stats := results.Stats()
				slog.Debug("Judge cache", "hits", stats.Hits, "misses", stats.Misses, "hit_rate", stats.HitRate())
				return results.Close()
			})
			j = cache.NewCachingJudge(j, results)
		}
	}

	return orchestration.NewEvaluator(executor, j, opts...), nil
}

// entries resolves --dataset. A value naming an existing file with a dataset extension is
// loaded directly; anything else is a dataset ID under paths.datasets. Empty means no entries,
// which makes the evaluator synthesize a default entry.
func (a *app) entries(ctx context.Context, ref string) ([]models.DatasetEntry, string, error) {
	if ref == "" {
		return nil, "", nil
	}

	if utils.IsFileWithExt(ref, dataset.Extensions) {
		wd, err := os.Getwd()
		if err != nil {
			return nil, "", fmt.Errorf("getting working directory: %w", err)
		}
		path := utils.ResolvePath(ref, wd)
		loaded, err := dataset.LoadFile(path)
		if err != nil {
			return nil, "", err
		}
		return dataset.Inline(loaded), utils.FileStem(path), nil
	}

	entries, err := dataset.NewFileStore(a.cfg.Path(a.cfg.Paths.Datasets)).Entries(ctx, ref)
	if err != nil {
		return nil, "", err
	}
	return entries, ref, nil
}

// resultSink returns the configured sinks. A sink that cannot be built is logged and skipped
// so results still reach the terminal.
func (a *app) resultSink() sink.ResultSink {
	s, err := sink.FromConfig(a.cfg)
	if err != nil {
		slog.Warn("Result sink unavailable", "error", err)
		return sink.Discard
	}
	return s
}

// emitRun stores run in the result sinks. Failures are warnings.
func (a *app) emitRun(ctx context.Context, s sink.ResultSink, run *models.EvaluationRun) {
	if err := s.EmitRun(ctx, run); err != nil {
		slog.Warn("Failed to store evaluation run", "run", run.ID, "error", err)
	}
}
