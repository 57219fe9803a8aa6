package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spboyer/promptloop/internal/improve"
	"github.com/spboyer/promptloop/internal/reporting"
	"github.com/spboyer/promptloop/internal/store"
	"github.com/spboyer/promptloop/internal/template"
	"github.com/spboyer/promptloop/internal/tokens"
	"github.com/spboyer/promptloop/internal/utils"
	"github.com/spboyer/promptloop/internal/validation"
	"github.com/spf13/cobra"
)

func newTemplateCommand(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Manage prompt template versions",
	}

	cmd.AddCommand(newTemplateCreateCommand(g))
	cmd.AddCommand(newTemplateListCommand(g))
	cmd.AddCommand(newTemplateActivateCommand(g))
	cmd.AddCommand(newTemplateDiffCommand(g))

	return cmd
}

func newTemplateCreateCommand(g *globalOptions) *cobra.Command {
	var activate bool

	cmd := &cobra.Command{
		Use:   "create <file.yaml>...",
		Short: "Create template versions from YAML files",
		Long: `Create one template version per YAML file.

Each file holds name, version, template_text and optionally input_schema,
output_schema and metadata. New versions are stored as drafts; use
--activate (or "template activate") to make one the active version.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, g)
			if err != nil {
				return err
			}
			defer a.closeAndLog()

			wd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("getting working directory: %w", err)
			}

			out := cmd.OutOrStdout()
			for _, path := range utils.ResolvePaths(args, wd) {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("reading template file: %w", err)
				}
				tmpl, err := store.ParseTemplate(data)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				if tmpl.HasOutputContract() {
					if _, err := validation.Compile(tmpl.OutputSchema); err != nil {
						return fmt.Errorf("%s: invalid output_schema: %w", path, err)
					}
				}
				if err := a.templates.Create(cmd.Context(), tmpl); err != nil {
					return err
				}
				fmt.Fprintf(out, "Created %s (%s, ~%d tokens)\n", tmpl.Ref(), tmpl.Status, tokens.Estimate(tmpl.Body))
				if vars := template.Placeholders(tmpl.Body); len(vars) > 0 {
					fmt.Fprintf(out, "  variables: %s\n", strings.Join(vars, ", "))
				}

				if activate {
					if _, err := a.templates.Activate(cmd.Context(), tmpl.Name, tmpl.Version); err != nil {
						return err
					}
					fmt.Fprintf(out, "Activated %s\n", tmpl.Ref())
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&activate, "activate", false, "Activate each version after creating it")

	return cmd
}

func newTemplateListCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list <name>",
		Short: "List the versions of a template, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, g)
			if err != nil {
				return err
			}
			defer a.closeAndLog()

			versions, err := a.templates.List(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			reporting.WriteTemplateList(cmd.OutOrStdout(), versions)
			return nil
		},
	}
}

func newTemplateActivateCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "activate <name> <version>",
		Short: "Make a version the active one and archive the rest",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, g)
			if err != nil {
				return err
			}
			defer a.closeAndLog()

			tmpl, err := a.templates.Activate(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Activated %s\n", tmpl.Ref())
			return nil
		},
	}
}

func newTemplateDiffCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "diff <name> <from-version> <to-version>",
		Short: "Print the changelog between two versions",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, g)
			if err != nil {
				return err
			}
			defer a.closeAndLog()

			ctx := cmd.Context()
			from, err := a.templates.Get(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			to, err := a.templates.Get(ctx, args[0], args[2])
			if err != nil {
				return err
			}

			changelog, err := improve.Changelog(from, to, nil, nil)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, changelog)
			fmt.Fprintf(out, "\nSize: ~%d → ~%d tokens (%+.0f%%)\n",
				tokens.Estimate(from.Body), tokens.Estimate(to.Body), tokens.Growth(from.Body, to.Body)*100)
			return nil
		},
	}
}
