package main

import (
	"fmt"
	"os"

	"github.com/spboyer/promptloop/internal/execution"
	"github.com/spboyer/promptloop/internal/improve"
	"github.com/spboyer/promptloop/internal/models"
	"github.com/spboyer/promptloop/internal/reporting"
	"github.com/spboyer/promptloop/internal/spinner"
	"github.com/spf13/cobra"
)

type improveOptions struct {
	version       string
	datasetRef    string
	maxCandidates int
	threshold     float64
	failOnReject  bool
	dimensions    []string
	workers       int
	noCache       bool
	seed          int64
}

func newImproveCommand(g *globalOptions) *cobra.Command {
	opts := &improveOptions{}

	cmd := &cobra.Command{
		Use:   "improve <name>",
		Short: "Propose, evaluate and promote an improved template version",
		Long: `Run one improvement cycle for a prompt template.

The baseline (the active version unless --version is given) is evaluated on
the dataset. Its failures are summarized and sent to the generation model,
which proposes new versions; if it cannot, a fixed set of rewrites is used.
Every candidate is stored as a draft, evaluated on the same entries, and the
best one is promoted only if it beats the baseline by the improvement
threshold, meets the minimum format pass rate and does not regress.

Exits with code 1 when the candidate is rejected and --fail-on-reject is set.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return improveCommandE(cmd, g, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.version, "version", "", "Baseline version (default: active version)")
	cmd.Flags().StringVar(&opts.datasetRef, "dataset", "", "Dataset ID or file")
	cmd.Flags().IntVar(&opts.maxCandidates, "max-candidates", 0, "Candidates to propose (default: improve.max_candidates)")
	cmd.Flags().Float64Var(&opts.threshold, "threshold", 0, "Minimum score improvement to promote (default: improve.improvement_threshold)")
	cmd.Flags().BoolVar(&opts.failOnReject, "fail-on-reject", false, "Exit with code 1 when no candidate is promoted")
	cmd.Flags().StringSliceVar(&opts.dimensions, "dimensions", nil, "Dimensions to score (default: defaults.dimensions)")
	cmd.Flags().IntVar(&opts.workers, "workers", 0, "Entries evaluated concurrently per run (default: defaults.workers)")
	cmd.Flags().BoolVar(&opts.noCache, "no-cache", false, "Bypass the judge cache")
	cmd.Flags().Int64Var(&opts.seed, "seed", -1, "Seed for the bootstrap confidence interval (default: time-based)")

	return cmd
}

func improveCommandE(cmd *cobra.Command, g *globalOptions, opts *improveOptions, name string) error {
	ctx := cmd.Context()

	a, err := openApp(cmd, g)
	if err != nil {
		return err
	}
	defer a.closeAndLog()

	cfg := a.cfg
	thresholds := improve.ThresholdsFromConfig(cfg)
	if cmd.Flags().Changed("threshold") {
		if opts.threshold < -1 || opts.threshold > 1 {
			return fmt.Errorf("--threshold must be between -1 and 1, got %v", opts.threshold)
		}
		thresholds.Improvement = opts.threshold
	}
	maxCandidates := cfg.Improve.MaxCandidates
	if opts.maxCandidates > 0 {
		maxCandidates = opts.maxCandidates
	}

	entries, datasetID, err := a.entries(ctx, opts.datasetRef)
	if err != nil {
		return err
	}

	evaluator, err := a.newEvaluator(evalSettings{
		dimensions: opts.dimensions,
		workers:    opts.workers,
		noCache:    opts.noCache,
	})
	if err != nil {
		return err
	}
	stopSpinner := func() {}
	if isTerminal(os.Stderr) {
		sp := spinner.Start(cmd.ErrOrStderr(), "Evaluating baseline")
		evaluator.OnProgress(spinnerListener(sp))
		stopSpinner = sp.Stop
	}

	genBackend, err := execution.NewBackend(cfg, execution.RoleGenerator)
	if err != nil {
		return fmt.Errorf("creating generator backend: %w", err)
	}
	defer genBackend.Close() //nolint:errcheck
	genModel := execution.Model(cfg, execution.RoleGenerator)

	loop := improve.NewLoop(a.templates, evaluator, improve.NewGenerator(genBackend, genModel),
		improve.WithThresholds(thresholds),
		improve.WithMaxCandidates(maxCandidates),
		improve.WithCandidateWorkers(cfg.Improve.CandidateWorkers),
		improve.WithGenerationModel(genModel),
		improve.WithSink(a.resultSink()),
		improve.WithBootstrapSeed(opts.seed),
	)

	outcome, err := loop.Run(ctx, improve.Request{
		Name:            name,
		BaselineVersion: opts.version,
		Entries:         entries,
		DatasetID:       datasetID,
	})
	stopSpinner()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprint(out, reporting.FormatOutcomeReport(outcome))
	if outcome.Changelog != "" {
		fmt.Fprintf(out, "\n%s\n", outcome.Changelog)
	}

	if outcome.Decision != models.DecisionPromoted && opts.failOnReject {
		return &TestFailureError{Message: fmt.Sprintf("no candidate promoted for %s: %s", name, outcome.Reason)}
	}
	return nil
}
