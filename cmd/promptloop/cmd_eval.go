package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spboyer/promptloop/internal/orchestration"
	"github.com/spboyer/promptloop/internal/reporting"
	"github.com/spf13/cobra"
)

type evalOptions struct {
	version    string
	datasetRef string
	dimensions []string
	junitPath  string
	workers    int
	filters    []string
	noCache    bool
}

func newEvalCommand(g *globalOptions) *cobra.Command {
	opts := &evalOptions{}

	cmd := &cobra.Command{
		Use:   "eval <name>",
		Short: "Evaluate a prompt template",
		Long: `Evaluate a prompt template version against a dataset.

Every entry is rendered and executed, the output is validated against the
template's output schema and scored by the judge on the requested dimensions.
Without --version the active version is used. Without --dataset a single
entry is synthesized from the template's input schema.

--dataset takes a dataset ID under paths.datasets, or a path to a .yaml,
.yml, .json, .jsonl or .csv file.

Exits with code 1 when any entry fails.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return evalCommandE(cmd, g, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.version, "version", "", "Template version (default: active version)")
	cmd.Flags().StringVar(&opts.datasetRef, "dataset", "", "Dataset ID or file")
	cmd.Flags().StringSliceVar(&opts.dimensions, "dimensions", nil, "Dimensions to score (default: defaults.dimensions)")
	cmd.Flags().StringVar(&opts.junitPath, "junit", "", "Write JUnit XML results to this file")
	cmd.Flags().IntVar(&opts.workers, "workers", 0, "Entries evaluated concurrently (default: defaults.workers)")
	cmd.Flags().StringArrayVar(&opts.filters, "filter", nil, "Only evaluate entries whose ID or tag matches this glob (can be repeated)")
	cmd.Flags().BoolVar(&opts.noCache, "no-cache", false, "Bypass the judge cache")

	return cmd
}

func evalCommandE(cmd *cobra.Command, g *globalOptions, opts *evalOptions, name string) error {
	ctx := cmd.Context()

	a, err := openApp(cmd, g)
	if err != nil {
		return err
	}
	defer a.closeAndLog()

	tmpl, err := a.templates.Get(ctx, name, opts.version)
	if err != nil {
		return err
	}

	entries, datasetID, err := a.entries(ctx, opts.datasetRef)
	if err != nil {
		return err
	}
	if len(opts.filters) > 0 {
		filtered, err := orchestration.FilterEntries(entries, opts.filters)
		if err != nil {
			return err
		}
		if len(filtered) == 0 {
			return fmt.Errorf("no entries match %v", opts.filters)
		}
		entries = filtered
	}

	evaluator, err := a.newEvaluator(evalSettings{
		dimensions: opts.dimensions,
		workers:    opts.workers,
		noCache:    opts.noCache,
	})
	if err != nil {
		return err
	}
	if isTerminal(os.Stderr) {
		evaluator.OnProgress(progressListener(cmd.ErrOrStderr()))
	}

	run, err := evaluator.Evaluate(ctx, tmpl, entries, orchestration.ForDataset(datasetID))
	if err != nil {
		return fmt.Errorf("evaluating %s: %w", tmpl.Ref(), err)
	}

	out := cmd.OutOrStdout()
	reporting.WriteRunTable(out, run)
	fmt.Fprintln(out)
	fmt.Fprint(out, reporting.FormatSummaryReport(run))

	if opts.junitPath != "" {
		if err := reporting.WriteJUnitXML(run, opts.junitPath); err != nil {
			return err
		}
		fmt.Fprintf(out, "JUnit results saved to: %s\n", opts.junitPath)
	}

	a.emitRun(ctx, a.resultSink(), run)

	if run.Cancelled {
		return errors.New("evaluation cancelled")
	}
	if run.Failed > 0 {
		return &TestFailureError{Message: fmt.Sprintf("%d of %d entries failed", run.Failed, run.Total)}
	}
	return nil
}
