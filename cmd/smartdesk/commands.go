package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/shail0iri/smartdesk/internal/annotation"
	"github.com/shail0iri/smartdesk/internal/checkpoint"
	"github.com/shail0iri/smartdesk/internal/config"
	"github.com/shail0iri/smartdesk/internal/dataset"
	"github.com/shail0iri/smartdesk/internal/ollama"
	"github.com/shail0iri/smartdesk/internal/pipeline"
	"github.com/shail0iri/smartdesk/internal/stats"
	"github.com/shail0iri/smartdesk/internal/storage"
)

// --- generate ---

func (c *cli) generateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate synthetic support tickets",
		Long: `Generate synthetic support tickets with the configured model.

Progress is checkpointed; an interrupted run resumes where it stopped.

Examples:
  smartdesk generate
  smartdesk generate --count 200 --fresh`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			count, _ := cmd.Flags().GetInt("count")
			fresh, _ := cmd.Flags().GetBool("fresh")
			if count <= 0 {
				count = c.cfg.Generate.Count
			}

			phase := c.cfg.Generate
			store := checkpoint.New[dataset.SourceRecord](afero.NewOsFs(), paths(phase.PhaseConfig), dataset.SourceCodec{})
			if fresh {
				if err := store.Clear(); err != nil {
					return err
				}
				printStep("Cleared checkpoint %s", phase.Checkpoint)
			}

			opts, closeLedger, err := c.pipelineOptions("generate")
			if err != nil {
				return err
			}
			defer closeLedger()

			gen := pipeline.NewTicketGenerator(c.newClient(phase.PhaseConfig), store, pipeline.GenerateConfig{
				Model:    c.cfg.Ollama.Model,
				Sampling: sampling(phase.PhaseConfig),
				Catalog:  phase.Catalog,
				Settings: c.settings(phase.PhaseConfig),
			}, opts...)

			printStep("Generating %d tickets with %s", count, c.cfg.Ollama.Model)
			res, err := gen.Run(cmd.Context(), count)
			if err != nil {
				return c.explain(err)
			}
			reportRun(res, count)
			if !res.Interrupted && len(res.Rows) < count {
				printWarning("%d tickets short of target, rerun to fill the gap", count-len(res.Rows))
			}
			return nil
		},
	}
	cmd.Flags().Int("count", 0, "number of tickets to generate (default generate.count)")
	cmd.Flags().Bool("fresh", false, "discard the checkpoint and start over")
	return cmd
}

// --- annotate ---

func (c *cli) annotateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "annotate",
		Short: "Annotate tickets with sentiment, urgency, category and summary",
		Long: `Annotate every ticket of the input CSV with the configured model.

Examples:
  smartdesk annotate
  smartdesk annotate --input tickets.csv --output labelled.csv`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			input, _ := cmd.Flags().GetString("input")
			output, _ := cmd.Flags().GetString("output")
			fresh, _ := cmd.Flags().GetBool("fresh")

			phase := c.cfg.Annotate
			if input == "" {
				input = phase.Input
			}
			if output != "" {
				phase.Output = output
			}

			validator, err := annotation.NewValidator(phase.Vocabulary)
			if err != nil {
				return err
			}
			store := checkpoint.New[dataset.AnnotatedRecord](afero.NewOsFs(), paths(phase.PhaseConfig), dataset.AnnotatedCodec{})
			if fresh {
				if err := store.Clear(); err != nil {
					return err
				}
				printStep("Cleared checkpoint %s", phase.Checkpoint)
			}

			opts, closeLedger, err := c.pipelineOptions("annotate")
			if err != nil {
				return err
			}
			defer closeLedger()

			ann := pipeline.NewAnnotator(c.newClient(phase.PhaseConfig), validator, store, pipeline.AnnotateConfig{
				Model:            c.cfg.Ollama.Model,
				Sampling:         sampling(phase.PhaseConfig),
				MaxParseAttempts: phase.MaxParseAttempts,
				ParseRetryDelay:  phase.ParseRetryDelay,
				Settings:         c.settings(phase.PhaseConfig),
			}, opts...)

			printStep("Annotating %s with %s", input, c.cfg.Ollama.Model)
			res, err := ann.Run(cmd.Context(), input)
			if err != nil {
				return c.explain(err)
			}
			reportRun(res.Result, res.Summary.Total)
			fmt.Fprintln(cmd.OutOrStdout())
			printSummary(cmd.OutOrStdout(), res.Summary)
			return nil
		},
	}
	cmd.Flags().String("input", "", "ticket CSV to annotate (default annotate.input)")
	cmd.Flags().String("output", "", "annotated CSV to write (default annotate.output)")
	cmd.Flags().Bool("fresh", false, "discard the checkpoint and start over")
	return cmd
}

// --- stats ---

func (c *cli) statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize an annotated CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			input, _ := cmd.Flags().GetString("input")
			asJSON, _ := cmd.Flags().GetBool("json")
			if input == "" {
				input = c.cfg.Annotate.Output
			}

			f, err := os.Open(input)
			if err != nil {
				return fmt.Errorf("opening %s: %w", input, err)
			}
			defer f.Close()

			records, err := dataset.ReadAnnotated(f)
			if err != nil {
				return fmt.Errorf("reading %s: %w", input, err)
			}
			summary := stats.Summarize(records)

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(summary)
			}
			printSummary(cmd.OutOrStdout(), summary)
			return nil
		},
	}
	cmd.Flags().String("input", "", "annotated CSV (default annotate.output)")
	cmd.Flags().Bool("json", false, "print the summary as JSON")
	return cmd
}

// --- runs ---

func (c *cli) runsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent pipeline runs from the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")

			ledger, err := c.requireLedger()
			if err != nil {
				return err
			}
			defer ledger.Close()

			runs, err := ledger.ListRuns(limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded.")
				return nil
			}
			for _, r := range runs {
				fmt.Fprintf(out, "%s  %-8s  %-11s  %d/%d  failed %d  %s\n",
					colorize(colorCyan, r.ID[:8]),
					r.Phase,
					r.Status,
					r.Resumed+r.Processed, r.Total,
					r.Failed,
					r.StartedAt.Local().Format("2006-01-02 15:04:05"),
				)
			}
			return nil
		},
	}
	cmd.Flags().Int("limit", 20, "maximum number of runs to list")

	showCmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a run and its failed records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ledger, err := c.requireLedger()
			if err != nil {
				return err
			}
			defer ledger.Close()

			run, err := ledger.GetRun(args[0])
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("run %s not found", args[0])
			}
			if err != nil {
				return err
			}
			events, err := ledger.RunEvents(run.ID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", colorize(colorBold, "Run"), run.ID)
			fmt.Fprintf(out, "  phase:     %s\n", run.Phase)
			fmt.Fprintf(out, "  model:     %s\n", run.Model)
			fmt.Fprintf(out, "  status:    %s\n", run.Status)
			fmt.Fprintf(out, "  progress:  %d resumed + %d processed of %d\n", run.Resumed, run.Processed, run.Total)
			fmt.Fprintf(out, "  failed:    %d\n", run.Failed)
			if run.Output != "" {
				fmt.Fprintf(out, "  output:    %s\n", run.Output)
				fmt.Fprintf(out, "  backup:    %s\n", run.Backup)
			}
			if run.LastError != "" {
				fmt.Fprintf(out, "  error:     %s\n", run.LastError)
			}
			for _, ev := range events {
				if ev.Error == "" {
					continue
				}
				fmt.Fprintf(out, "  #%-5d record %-5d %-16s %s\n", ev.Index, ev.RecordID, ev.Outcome, ev.Error)
			}
			return nil
		},
	}
	cmd.AddCommand(showCmd)
	return cmd
}

func (c *cli) requireLedger() (*storage.Store, error) {
	ledger, err := c.openLedger()
	if err != nil {
		return nil, err
	}
	if ledger == nil {
		return nil, errors.New("run ledger is disabled (storage.ledger = false)")
	}
	return ledger, nil
}

// --- doctor ---

func (c *cli) doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check that Ollama, the model and the run ledger are ready",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			oc := ollama.New(c.cfg.Ollama.BaseURL)

			var (
				report     bytes.Buffer
				migrations []int
			)
			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error {
				return ollama.EnsureReady(ctx, oc, c.cfg.Ollama.Model, &report)
			})
			g.Go(func() error {
				ledger, err := c.openLedger()
				if err != nil || ledger == nil {
					return err
				}
				defer ledger.Close()
				migrations, err = ledger.AppliedMigrations()
				return err
			})
			err := g.Wait()

			printStatus("Config", "%s", configPath(c.cfgFile))
			printStatus("Ollama", "%s", c.cfg.Ollama.BaseURL)
			if line := strings.TrimSpace(report.String()); line != "" {
				printStatus("Model", "%s", line)
			}
			if c.cfg.Storage.Ledger {
				printStatus("Ledger", "%s (migrations %v)", c.cfg.Storage.DataDir, migrations)
			} else {
				printStatus("Ledger", "disabled")
			}
			if err != nil {
				printError("%v", err)
				return err
			}
			printSuccess("Ready")
			return nil
		},
	}
}

func configPath(flag string) string {
	if flag != "" {
		return flag
	}
	return config.DefaultPath()
}

// --- checkpoint ---

func (c *cli) checkpointCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Manage phase checkpoints",
	}
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete a phase checkpoint so the next run starts over",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			phase, _ := cmd.Flags().GetString("phase")

			var err error
			var path string
			fs := afero.NewOsFs()
			switch phase {
			case "generate":
				path = c.cfg.Generate.Checkpoint
				err = checkpoint.New[dataset.SourceRecord](fs, paths(c.cfg.Generate.PhaseConfig), dataset.SourceCodec{}).Clear()
			case "annotate":
				path = c.cfg.Annotate.Checkpoint
				err = checkpoint.New[dataset.AnnotatedRecord](fs, paths(c.cfg.Annotate.PhaseConfig), dataset.AnnotatedCodec{}).Clear()
			default:
				return fmt.Errorf("--phase must be generate or annotate, got %q", phase)
			}
			if err != nil {
				return err
			}
			printSuccess("Cleared %s", path)
			return nil
		},
	}
	clearCmd.Flags().String("phase", "", "phase whose checkpoint to delete: generate or annotate")
	clearCmd.MarkFlagRequired("phase")
	cmd.AddCommand(clearCmd)
	return cmd
}

// --- config ---

func (c *cli) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or update configuration",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, k := range config.ShowAll(c.cfg) {
				fmt.Fprintf(out, "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
			}
			return nil
		},
	}

	setCmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Long:  "Set a configuration value.\n\nValid keys:\n  " + strings.Join(config.ValidKeys(), "\n  "),
		Args:  cobra.ExactArgs(2),
		// The file being edited may not load yet.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := args[0], args[1]
			if err := config.SetKey(c.cfgFile, key, value); err != nil {
				return err
			}
			printSuccess("Set %s = %s", key, value)
			return nil
		},
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration file",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool("force")
			path := configPath(c.cfgFile)
			if err := config.WriteDefault(path, force); err != nil {
				return err
			}
			printSuccess("Wrote %s", path)
			return nil
		},
	}
	initCmd.Flags().Bool("force", false, "overwrite an existing file")

	cmd.AddCommand(showCmd, setCmd, initCmd)
	return cmd
}
