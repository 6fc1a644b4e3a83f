package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/runlet/runlet/pkg/adapter"
	"github.com/runlet/runlet/pkg/annotate"
	"github.com/runlet/runlet/pkg/attest"
	"github.com/runlet/runlet/pkg/condition"
	"github.com/runlet/runlet/pkg/config"
	"github.com/runlet/runlet/pkg/record"
	"github.com/runlet/runlet/pkg/run"
	"github.com/runlet/runlet/pkg/server"
	"github.com/runlet/runlet/pkg/watch"
	"github.com/runlet/runlet/pkg/workflow"
	"github.com/runlet/runlet/pkg/workspace"
)

var workflowFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "runlet",
		Short: "Sequential step executor for declarative workflow files",
		Long: `Runlet runs the steps of a workflow file in order, one at a time,
	stopping at the first failure. Each run leaves a record directory with
	per-step results and logs.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&workflowFile, "file", "f", "runlet.yaml", "path to the workflow file")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(runsCmd())
	rootCmd.AddCommand(annotateCmd())
	rootCmd.AddCommand(attestCmd())
	rootCmd.AddCommand(verifyCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var inputFlags []string
	var recordDir string
	var trigger string
	var isolate bool
	var watchFlag bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute the workflow's steps in order",
		Long: `Executes every step of the workflow sequentially under the
	materialized environment. The run halts at the first failing step unless
	that step sets continue_on_error.

	Use --input to override declared input defaults (e.g. pinned versions).
	Use --isolate to run in a temp copy of the project tree.
	Use --watch to re-run whenever the workflow file changes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			inputs, err := parseInputs(inputFlags)
			if err != nil {
				return err
			}

			execute := func() error {
				return executeOnce(cmd.Context(), inputs, recordDir, trigger, isolate)
			}

			if !watchFlag {
				return execute()
			}

			if err := execute(); err != nil {
				var stepErr *run.StepError
				if !errors.As(err, &stepErr) {
					return err
				}
			}
			fmt.Fprintf(os.Stderr, "watching %s for changes\n", workflowFile)
			return watch.Watch(cmd.Context(), workflowFile, func() {
				if err := execute(); err != nil {
					fmt.Fprintf(os.Stderr, "run failed: %v\n", err)
				}
			})
		},
	}

	cmd.Flags().StringArrayVar(&inputFlags, "input", nil, "input override as name=value (repeatable)")
	cmd.Flags().StringVar(&recordDir, "record-dir", "", "directory for run records (default <project>/.runlet/runs)")
	cmd.Flags().StringVar(&trigger, "trigger", workflow.TriggerCall, "trigger to run as (workflow_call or workflow_dispatch)")
	cmd.Flags().BoolVar(&isolate, "isolate", false, "run in a temp copy of the project tree")
	cmd.Flags().BoolVar(&watchFlag, "watch", false, "re-run when the workflow file changes")

	return cmd
}

func executeOnce(ctx context.Context, inputs map[string]string, recordDir, trigger string, isolate bool) error {
	wf, err := workflow.Load(workflowFile)
	if err != nil {
		return fmt.Errorf("failed to load workflow: %w", err)
	}

	// Machine-wide input defaults sit between the workflow's declared
	// defaults and explicit --input overrides. Only declared inputs apply.
	merged := make(map[string]string)
	if cfg, err := config.Load(); err == nil {
		for name, value := range cfg.Inputs {
			if _, ok := wf.Inputs[name]; ok {
				merged[name] = value
			}
		}
	}
	for name, value := range inputs {
		merged[name] = value
	}
	inputs = merged

	workingDir := filepath.Dir(workflowFile)
	var cleanup func() error
	if isolate {
		tempDir, cleanupFn, err := workspace.CloneToTemp(workingDir)
		if err != nil {
			return fmt.Errorf("failed to clone project: %w", err)
		}
		// Records stay in the real project tree even for isolated runs.
		if recordDir == "" {
			recordDir = run.DefaultRecordDir(workingDir)
		}
		workingDir = tempDir
		cleanup = cleanupFn
	}
	if cleanup != nil {
		defer func() { _ = cleanup() }()
	}

	result, err := run.Execute(ctx, run.Options{
		Workflow:     wf,
		WorkflowFile: workflowFile,
		Inputs:       inputs,
		WorkingDir:   workingDir,
		RecordDir:    recordDir,
		Trigger:      trigger,
		Logger:       log.Printf,
	})
	if err != nil {
		var stepErr *run.StepError
		if errors.As(err, &stepErr) && result != nil && result.FailedStep != nil {
			fmt.Fprintf(os.Stderr, "\n%s\n", stepErr)
			fmt.Fprintln(os.Stderr, strings.TrimRight(result.FailedStep.Output, "\n"))
			fmt.Fprintf(os.Stderr, "\nrecord: %s\n", result.RecordDir)
		}
		return err
	}

	fmt.Printf("run %s succeeded (%d steps, record: %s)\n", result.RunID, len(result.Steps), result.RecordDir)
	return nil
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the workflow file without running it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, err := workflow.Load(workflowFile)
			if err != nil {
				return fmt.Errorf("failed to load workflow: %w", err)
			}
			if err := wf.Validate(); err != nil {
				return err
			}
			for _, step := range wf.Steps {
				if err := condition.Validate(step.If); err != nil {
					return fmt.Errorf("step %s: %w", step.Name, err)
				}
			}
			fmt.Printf("%s: %d steps, ok\n", wf.Name, len(wf.Steps))
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	var addr string
	var recordDir string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve workflow_dispatch over HTTP",
		Long: `Starts an HTTP server exposing POST /api/dispatch to trigger runs
	of the workflow file, and read-only endpoints over the run records.
	Dispatched runs execute one at a time.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := workflow.Load(workflowFile); err != nil {
				return fmt.Errorf("failed to load workflow: %w", err)
			}
			srv := server.New(workflowFile, recordDir, log.Default())
			log.Printf("serving %s on %s", workflowFile, addr)
			httpServer := &http.Server{
				Addr:              addr,
				Handler:           srv.Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			return httpServer.ListenAndServe()
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8977", "listen address")
	cmd.Flags().StringVar(&recordDir, "record-dir", "", "directory for run records")

	return cmd
}

func runsCmd() *cobra.Command {
	var recordDir string

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect recorded runs",
	}
	cmd.PersistentFlags().StringVar(&recordDir, "record-dir", "", "directory holding run records")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runs, err := record.List(resolveRecordDir(recordDir))
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "RUN\tWORKFLOW\tSTATE\tSTARTED\tSTEPS")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n",
					r.ID, r.Workflow, r.State, r.StartedAt.Format(time.RFC3339), len(r.Steps))
			}
			return w.Flush()
		},
	}

	showCmd := &cobra.Command{
		Use:   "show [run-id]",
		Short: "Show one run's step results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := record.Load(resolveRecordDir(recordDir), args[0])
			if err != nil {
				return err
			}

			fmt.Printf("run %s: workflow %s, state %s\n", rec.ID, rec.Workflow, rec.State)
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "STEP\tSTATUS\tEXIT\tDURATION")
			for _, s := range rec.Steps {
				fmt.Fprintf(w, "%s\t%s\t%d\t%dms\n", s.Name, s.Status, s.ExitCode, s.DurationMillis)
			}
			return w.Flush()
		},
	}

	cmd.AddCommand(listCmd)
	cmd.AddCommand(showCmd)
	return cmd
}

func annotateCmd() *cobra.Command {
	var recordDir string
	var adapterFlag string
	var modelFlag string

	cmd := &cobra.Command{
		Use:   "annotate [run-id]",
		Short: "Ask an LLM to explain a failed run",
		Long: `Loads the failing step of a recorded run and asks the configured
	LLM provider to diagnose the failure from its captured output.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			name := adapterFlag
			if name == "" {
				name = cfg.Annotate.Adapter
			}
			if name == "" {
				name = pickConfiguredAdapter(cfg)
			}
			if name == "" {
				return fmt.Errorf("no adapter configured; set an API key or use --adapter")
			}

			a, err := createAdapter(cfg, name)
			if err != nil {
				return err
			}

			model := modelFlag
			if model == "" {
				model = cfg.Annotate.Model
			}

			req, err := annotate.FromRunDir(resolveRecordDir(recordDir), args[0])
			if err != nil {
				return err
			}

			fmt.Fprintf(os.Stderr, "annotating step %s via %s\n", req.Step.Name, a.Name())
			diagnosis, err := annotate.Annotate(cmd.Context(), a, model, req)
			if err != nil {
				return err
			}
			fmt.Println(diagnosis)
			return nil
		},
	}

	cmd.Flags().StringVar(&recordDir, "record-dir", "", "directory holding run records")
	cmd.Flags().StringVar(&adapterFlag, "adapter", "", "adapter to use (anthropic, openai, google, mock)")
	cmd.Flags().StringVar(&modelFlag, "model", "", "model to use")

	return cmd
}

func attestCmd() *cobra.Command {
	var recordDir string
	var keyName string

	cmd := &cobra.Command{
		Use:   "attest [run-id]",
		Short: "Sign a run record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			keyDir, err := cfg.KeyDir()
			if err != nil {
				return err
			}
			priv, err := attest.LoadOrGenerateKey(keyDir, keyName)
			if err != nil {
				return err
			}

			runDir := filepath.Join(resolveRecordDir(recordDir), args[0])
			att, err := attest.Sign(runDir, priv)
			if err != nil {
				return err
			}
			fmt.Printf("signed run %s (hash %s)\n", att.RunID, att.RunJSONHash[:16])
			return nil
		},
	}

	cmd.Flags().StringVar(&recordDir, "record-dir", "", "directory holding run records")
	cmd.Flags().StringVar(&keyName, "key", "default", "signing key name")

	return cmd
}

func verifyCmd() *cobra.Command {
	var recordDir string

	cmd := &cobra.Command{
		Use:   "verify [run-id]",
		Short: "Verify a run record's attestation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runDir := filepath.Join(resolveRecordDir(recordDir), args[0])
			att, err := attest.Verify(runDir)
			if err != nil {
				return err
			}
			fmt.Printf("run %s: %s, signed %s\n", att.RunID, att.State, att.SignedAt.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&recordDir, "record-dir", "", "directory holding run records")

	return cmd
}

// createAdapter builds the named provider adapter from configured keys.
func createAdapter(cfg *config.Config, name string) (adapter.Adapter, error) {
	switch name {
	case "anthropic":
		return adapter.NewAnthropicAdapter(cfg.AnthropicAPIKey)
	case "openai":
		return adapter.NewOpenAIAdapter(cfg.OpenAIAPIKey)
	case "google":
		return adapter.NewGoogleAdapter(cfg.GoogleAPIKey)
	case "mock":
		return adapter.NewMockAdapter(), nil
	default:
		return nil, fmt.Errorf("unknown adapter %q", name)
	}
}

// pickConfiguredAdapter returns the first provider with a configured key.
func pickConfiguredAdapter(cfg *config.Config) string {
	for _, name := range []string{"anthropic", "openai", "google"} {
		if cfg.HasAdapter(name) {
			return name
		}
	}
	return ""
}

// parseInputs converts repeated name=value flags into a map.
func parseInputs(flags []string) (map[string]string, error) {
	if len(flags) == 0 {
		return nil, nil
	}
	inputs := make(map[string]string, len(flags))
	for _, flag := range flags {
		name, value, ok := strings.Cut(flag, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid input %q, expected name=value", flag)
		}
		inputs[name] = value
	}
	return inputs, nil
}

func resolveRecordDir(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return run.DefaultRecordDir(filepath.Dir(workflowFile))
}
