// Package run executes a workflow: strictly sequential, one step at a time,
// halting at the first failing step unless that step is marked best-effort.
package run

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/runlet/runlet/pkg/condition"
	"github.com/runlet/runlet/pkg/env"
	"github.com/runlet/runlet/pkg/executor"
	"github.com/runlet/runlet/pkg/record"
	"github.com/runlet/runlet/pkg/workflow"
)

// Options configures a run.
type Options struct {
	// Workflow is the validated definition to execute.
	Workflow *workflow.Workflow
	// WorkflowFile is recorded for provenance; it is not re-read.
	WorkflowFile string
	// Inputs overrides declared input defaults.
	Inputs map[string]string
	// BaseEnv is the base environment; defaults to os.Environ().
	BaseEnv []string
	// WorkingDir is where steps run; defaults to the current directory.
	WorkingDir string
	// RecordDir is where run records land; defaults to
	// <WorkingDir>/.runlet/runs.
	RecordDir string
	// Trigger names how the run was started (workflow_call or
	// workflow_dispatch). Empty skips the trigger check.
	Trigger string
	// RunID overrides the generated run identifier.
	RunID string
	// Logger receives progress lines; nil silences them.
	Logger func(format string, args ...any)
}

// Result is the outcome of a run.
type Result struct {
	RunID      string
	State      State
	RecordDir  string
	Steps      []*StepResult
	FailedStep *StepResult
}

// StepResult is the in-memory outcome of one step.
type StepResult struct {
	Name     string
	Status   string
	ExitCode int
	Output   string
	Duration time.Duration
}

// StepError reports the step that halted a run.
type StepError struct {
	Step     string
	ExitCode int
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %q failed with exit code %d", e.Step, e.ExitCode)
}

// Execute runs every step of the workflow in declaration order. A failing
// step aborts the remainder and yields a *StepError; the returned Result is
// populated either way so callers can inspect what did run.
func Execute(ctx context.Context, opts Options) (*Result, error) {
	wf := opts.Workflow
	if wf == nil {
		return nil, fmt.Errorf("workflow is required")
	}
	if err := wf.Validate(); err != nil {
		return nil, err
	}
	if opts.Trigger != "" && !wf.Allows(opts.Trigger) {
		return nil, fmt.Errorf("workflow %s does not allow trigger %s", wf.Name, opts.Trigger)
	}

	inputs, err := wf.ResolveInputs(opts.Inputs)
	if err != nil {
		return nil, err
	}

	workingDir := opts.WorkingDir
	if workingDir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		workingDir = cwd
	}

	recordDir := opts.RecordDir
	if recordDir == "" {
		recordDir = DefaultRecordDir(workingDir)
	}

	runID := opts.RunID
	if runID == "" {
		runID = NewRunID()
	}

	writer, err := record.NewWriter(recordDir, runID)
	if err != nil {
		return nil, err
	}

	logf := opts.Logger
	if logf == nil {
		logf = func(string, ...any) {}
	}

	runRec := record.RunRecord{
		ID:           runID,
		Workflow:     wf.Name,
		WorkflowFile: opts.WorkflowFile,
		Trigger:      opts.Trigger,
		State:        string(StatePending),
		StartedAt:    time.Now().UTC(),
	}
	if err := writer.WriteRun(runRec); err != nil {
		return nil, err
	}

	state, err := transition(StatePending, StateRunning)
	if err != nil {
		return nil, err
	}
	runRec.State = string(state)
	if err := writer.WriteRun(runRec); err != nil {
		return nil, err
	}

	materializer := &env.Materializer{
		Base:     opts.BaseEnv,
		Workflow: wf.Env,
		Inputs:   inputs,
	}
	if materializer.Base == nil {
		materializer.Base = os.Environ()
	}

	exec := executor.New()
	result := &Result{RunID: runID, RecordDir: writer.RunDir()}
	runFailed := false

	finish := func(to State) error {
		state, err = transition(state, to)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		runRec.State = string(state)
		runRec.FinishedAt = &now
		result.State = state
		return writer.WriteRun(runRec)
	}

	logf("run %s: workflow %s (%d steps)", runID, wf.Name, len(wf.Steps))

	for _, step := range wf.Steps {
		stepResult, stepRec, err := runStep(ctx, exec, materializer, step, workingDir, runFailed)
		if err != nil {
			// Infrastructure failure: the command never ran.
			runRec.FailedStep = step.Name
			if finishErr := finish(StateFailed); finishErr != nil {
				return nil, finishErr
			}
			return result, fmt.Errorf("step %s: %w", step.Name, err)
		}

		if err := writer.WriteStep(*stepRec); err != nil {
			return nil, err
		}
		if stepRec.Status != record.StepSkipped {
			if err := writer.WriteLog(step.Name, stepResult.Output); err != nil {
				return nil, err
			}
		}

		result.Steps = append(result.Steps, stepResult)
		runRec.Steps = append(runRec.Steps, record.StepSummary{
			Name:           stepResult.Name,
			Status:         stepResult.Status,
			ExitCode:       stepResult.ExitCode,
			DurationMillis: stepResult.Duration.Milliseconds(),
		})
		if err := writer.WriteRun(runRec); err != nil {
			return nil, err
		}

		switch stepResult.Status {
		case record.StepSkipped:
			logf("run %s: step %s skipped", runID, step.Name)
		case record.StepSucceeded:
			logf("run %s: step %s succeeded (%s)", runID, step.Name, stepResult.Duration.Round(time.Millisecond))
		case record.StepFailed:
			if step.ContinueOnError {
				runFailed = true
				logf("run %s: step %s failed (exit %d), continuing", runID, step.Name, stepResult.ExitCode)
				continue
			}
			result.FailedStep = stepResult
			runRec.FailedStep = step.Name
			logf("run %s: step %s failed (exit %d), aborting", runID, step.Name, stepResult.ExitCode)
			if err := finish(StateFailed); err != nil {
				return nil, err
			}
			return result, &StepError{Step: step.Name, ExitCode: stepResult.ExitCode}
		}
	}

	if err := finish(StateSucceeded); err != nil {
		return nil, err
	}
	logf("run %s: succeeded", runID)
	return result, nil
}

func runStep(
	ctx context.Context,
	exec *executor.Executor,
	materializer *env.Materializer,
	step *workflow.Step,
	workingDir string,
	runFailed bool,
) (*StepResult, *record.StepRecord, error) {
	stepRec := &record.StepRecord{
		Name:       step.Name,
		Command:    step.Run,
		Condition:  step.If,
		BestEffort: step.ContinueOnError,
	}

	merged := materializer.ForStep(step.Env)

	ok, err := condition.Evaluate(step.If, condition.Params(merged, runFailed))
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		stepRec.Status = record.StepSkipped
		return &StepResult{Name: step.Name, Status: record.StepSkipped}, stepRec, nil
	}

	dir := workingDir
	if step.WorkingDir != "" {
		dir = resolveDir(workingDir, step.WorkingDir)
	}

	res, err := exec.Run(ctx, executor.Spec{
		Command: step.Run,
		Dir:     dir,
		Env:     env.Environ(merged),
		Timeout: time.Duration(step.Timeout),
	})
	if err != nil {
		return nil, nil, err
	}

	status := record.StepSucceeded
	if res.Failed() {
		status = record.StepFailed
	}

	output := res.Combined()
	stepRec.Status = status
	stepRec.ExitCode = res.ExitCode
	stepRec.TimedOut = res.TimedOut
	stepRec.DurationMillis = res.Duration.Milliseconds()
	stepRec.SetOutput(output)

	return &StepResult{
		Name:     step.Name,
		Status:   status,
		ExitCode: res.ExitCode,
		Output:   output,
		Duration: res.Duration,
	}, stepRec, nil
}

// resolveDir resolves a step's working directory against the run's.
func resolveDir(workingDir, stepDir string) string {
	if filepath.IsAbs(stepDir) {
		return stepDir
	}
	return filepath.Join(workingDir, stepDir)
}

// DefaultRecordDir returns where run records live for a working directory.
func DefaultRecordDir(workingDir string) string {
	return filepath.Join(workingDir, ".runlet", "runs")
}

// NewRunID generates a sortable run identifier.
func NewRunID() string {
	now := time.Now().UTC()
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d", now.UnixNano())))
	return fmt.Sprintf("%s-%s", now.Format("20060102T150405Z"), hex.EncodeToString(sum[:4]))
}
