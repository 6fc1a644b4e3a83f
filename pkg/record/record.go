// Package record persists what a run did. Each run gets a directory holding
// run.json, per-step records under steps/, and full step output under logs/.
package record

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Step statuses recorded per step.
const (
	StepSucceeded = "succeeded"
	StepFailed    = "failed"
	StepSkipped   = "skipped"
)

// outputLimit bounds inline output in step records; anything longer is
// truncated there and kept whole in the step's log file.
const outputLimit = 4096

// RunRecord captures run-level metadata and the ordered step summaries.
type RunRecord struct {
	ID           string        `json:"id"`
	Workflow     string        `json:"workflow"`
	WorkflowFile string        `json:"workflow_file,omitempty"`
	Trigger      string        `json:"trigger,omitempty"`
	State        string        `json:"state"`
	StartedAt    time.Time     `json:"started_at"`
	FinishedAt   *time.Time    `json:"finished_at,omitempty"`
	Steps        []StepSummary `json:"steps,omitempty"`
	FailedStep   string        `json:"failed_step,omitempty"`
}

// StepSummary is the run-level view of one executed step.
type StepSummary struct {
	Name           string `json:"name"`
	Status         string `json:"status"`
	ExitCode       int    `json:"exit_code"`
	DurationMillis int64  `json:"duration_ms"`
}

// StepRecord captures everything recorded for a single step.
type StepRecord struct {
	Name           string `json:"name"`
	Command        string `json:"command"`
	Status         string `json:"status"`
	ExitCode       int    `json:"exit_code"`
	Condition      string `json:"condition,omitempty"`
	Output         string `json:"output,omitempty"`
	OutputHash     string `json:"output_hash,omitempty"`
	TimedOut       bool   `json:"timed_out,omitempty"`
	BestEffort     bool   `json:"best_effort,omitempty"`
	DurationMillis int64  `json:"duration_ms"`
}

// SetOutput stores output inline up to the record limit, hashing anything
// that had to be truncated.
func (r *StepRecord) SetOutput(output string) {
	if len(output) <= outputLimit {
		r.Output = output
		return
	}
	r.Output = output[:outputLimit]
	sum := sha256.Sum256([]byte(output))
	r.OutputHash = hex.EncodeToString(sum[:])
}

// Writer writes a run's records to disk.
type Writer struct {
	baseDir string
	runDir  string
}

// NewWriter creates a writer rooted at baseDir/runID.
func NewWriter(baseDir, runID string) (*Writer, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if runID == "" {
		return nil, fmt.Errorf("run ID is required")
	}

	runDir := filepath.Join(baseDir, runID)
	if err := os.MkdirAll(filepath.Join(runDir, "steps"), 0755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(runDir, "logs"), 0755); err != nil {
		return nil, err
	}

	return &Writer{baseDir: baseDir, runDir: runDir}, nil
}

// RunDir returns the run directory path.
func (w *Writer) RunDir() string {
	return w.runDir
}

// WriteRun writes run metadata to run.json. It is called again as the run
// transitions, so the file always reflects the latest state.
func (w *Writer) WriteRun(rec RunRecord) error {
	return writeJSON(filepath.Join(w.runDir, "run.json"), rec)
}

// WriteStep writes a step record to steps/<step>.json.
func (w *Writer) WriteStep(rec StepRecord) error {
	if rec.Name == "" {
		return fmt.Errorf("step name is required")
	}
	return writeJSON(filepath.Join(w.runDir, "steps", rec.Name+".json"), rec)
}

// WriteLog writes a step's full captured output to logs/<step>.log.
func (w *Writer) WriteLog(stepName, content string) error {
	if stepName == "" {
		return fmt.Errorf("step name is required")
	}
	return os.WriteFile(filepath.Join(w.runDir, "logs", stepName+".log"), []byte(content), 0644)
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
