// Package annotate asks an LLM provider to explain why a step failed, using
// the persisted run record and the step's captured output.
package annotate

import (
	"context"
	"fmt"
	"strings"

	"github.com/runlet/runlet/pkg/adapter"
	"github.com/runlet/runlet/pkg/record"
)

// logLimit bounds how much of the step log goes into the prompt.
const logLimit = 16384

// Request carries the failure context for one run.
type Request struct {
	Run  *record.RunRecord
	Step *record.StepRecord
	Log  string
}

// FromRunDir loads the failing step of a recorded run. Runs that did not
// fail have nothing to annotate.
func FromRunDir(baseDir, runID string) (*Request, error) {
	runRec, err := record.Load(baseDir, runID)
	if err != nil {
		return nil, err
	}
	if runRec.FailedStep == "" {
		return nil, fmt.Errorf("run %s has no failed step", runID)
	}

	stepRec, err := record.LoadStep(baseDir, runID, runRec.FailedStep)
	if err != nil {
		return nil, err
	}

	// The log file holds the untruncated output; fall back to the record's
	// inline copy if it is missing.
	log, err := record.ReadLog(baseDir, runID, runRec.FailedStep)
	if err != nil {
		log = stepRec.Output
	}

	return &Request{Run: runRec, Step: stepRec, Log: log}, nil
}

// BuildPrompt renders the diagnosis prompt for a failure.
func BuildPrompt(req *Request) string {
	var sb strings.Builder

	sb.WriteString("A CI step failed. Explain the most likely cause and suggest a fix.\n\n")
	fmt.Fprintf(&sb, "Workflow: %s\n", req.Run.Workflow)
	fmt.Fprintf(&sb, "Step: %s\n", req.Step.Name)
	fmt.Fprintf(&sb, "Command: %s\n", req.Step.Command)
	fmt.Fprintf(&sb, "Exit code: %d\n", req.Step.ExitCode)
	if req.Step.TimedOut {
		sb.WriteString("The step hit its timeout.\n")
	}

	if len(req.Run.Steps) > 0 {
		sb.WriteString("\nSteps before the failure:\n")
		for _, s := range req.Run.Steps {
			if s.Name == req.Step.Name {
				break
			}
			fmt.Fprintf(&sb, "- %s: %s\n", s.Name, s.Status)
		}
	}

	log := req.Log
	if len(log) > logLimit {
		log = log[len(log)-logLimit:]
	}
	sb.WriteString("\nCaptured output:\n---\n")
	sb.WriteString(log)
	sb.WriteString("\n---\n")
	sb.WriteString("\nBe concise: name the failing tool, the cause, and the concrete fix.")

	return sb.String()
}

// Annotate sends the diagnosis prompt to the adapter, retrying once when the
// provider error is transient.
func Annotate(ctx context.Context, a adapter.Adapter, model string, req *Request) (string, error) {
	if a == nil {
		return "", fmt.Errorf("adapter is required")
	}
	if model == "" {
		model = adapter.DefaultModel(a)
	}
	if model == "" {
		return "", fmt.Errorf("model is required for adapter %s", a.Name())
	}

	prompt := BuildPrompt(req)

	response, err := a.Complete(ctx, model, prompt)
	if err != nil && adapter.IsTransient(err) {
		response, err = a.Complete(ctx, model, prompt)
	}
	if err != nil {
		return "", fmt.Errorf("annotate via %s: %w", a.Name(), err)
	}

	return response, nil
}
