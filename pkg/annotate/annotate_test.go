package annotate

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/runlet/runlet/pkg/adapter"
	"github.com/runlet/runlet/pkg/record"
)

func failedRunRequest() *Request {
	return &Request{
		Run: &record.RunRecord{
			ID:         "run-1",
			Workflow:   "docs",
			State:      "failed",
			FailedStep: "install-deps",
			Steps: []record.StepSummary{
				{Name: "checkout", Status: record.StepSucceeded},
				{Name: "install-deps", Status: record.StepFailed, ExitCode: 1},
			},
		},
		Step: &record.StepRecord{
			Name:     "install-deps",
			Command:  "manager install",
			Status:   record.StepFailed,
			ExitCode: 1,
		},
		Log: "ERROR: could not resolve dependency foo==2.0\n",
	}
}

func TestBuildPrompt(t *testing.T) {
	prompt := BuildPrompt(failedRunRequest())

	for _, want := range []string{
		"Workflow: docs",
		"Step: install-deps",
		"Command: manager install",
		"Exit code: 1",
		"checkout: succeeded",
		"could not resolve dependency",
	} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
	if strings.Contains(prompt, "install-deps: failed") {
		t.Fatalf("prior-step list must stop before the failing step")
	}
}

func TestBuildPromptTruncatesLongLogs(t *testing.T) {
	req := failedRunRequest()
	req.Log = strings.Repeat("noise\n", 10000) + "final error line\n"

	prompt := BuildPrompt(req)
	if len(prompt) > logLimit+2048 {
		t.Fatalf("prompt too large: %d bytes", len(prompt))
	}
	if !strings.Contains(prompt, "final error line") {
		t.Fatalf("truncation must keep the tail of the log")
	}
}

func TestAnnotateWithMockAdapter(t *testing.T) {
	a := adapter.NewMockAdapter()

	diagnosis, err := Annotate(context.Background(), a, "", failedRunRequest())
	if err != nil {
		t.Fatalf("annotate: %v", err)
	}
	if !strings.Contains(diagnosis, "mock response:") {
		t.Fatalf("unexpected diagnosis: %q", diagnosis)
	}
}

// flakyAdapter fails its first call with the given provider status and
// succeeds afterwards.
type flakyAdapter struct {
	status int
	calls  int
}

func (f *flakyAdapter) Name() string     { return "flaky" }
func (f *flakyAdapter) Models() []string { return []string{"flaky-1"} }

func (f *flakyAdapter) Complete(_ context.Context, model, prompt string) (string, error) {
	f.calls++
	if f.calls == 1 {
		return "", &adapter.AdapterError{Provider: "flaky", Status: f.status}
	}
	return "recovered diagnosis", nil
}

func TestAnnotateRetriesTransientFailure(t *testing.T) {
	f := &flakyAdapter{status: 503}

	diagnosis, err := Annotate(context.Background(), f, "flaky-1", failedRunRequest())
	if err != nil {
		t.Fatalf("annotate: %v", err)
	}
	if diagnosis != "recovered diagnosis" {
		t.Fatalf("unexpected diagnosis: %q", diagnosis)
	}
	if f.calls != 2 {
		t.Fatalf("expected one retry, got %d calls", f.calls)
	}
}

func TestAnnotateDoesNotRetryRejectedRequest(t *testing.T) {
	f := &flakyAdapter{status: 401}

	if _, err := Annotate(context.Background(), f, "flaky-1", failedRunRequest()); err == nil {
		t.Fatalf("expected error for rejected request")
	}
	if f.calls != 1 {
		t.Fatalf("a 401 must not be retried, got %d calls", f.calls)
	}
}

func TestAnnotateRequiresAdapter(t *testing.T) {
	if _, err := Annotate(context.Background(), nil, "", failedRunRequest()); err == nil {
		t.Fatalf("expected error without adapter")
	}
}

func TestFromRunDir(t *testing.T) {
	baseDir := t.TempDir()
	w, err := record.NewWriter(baseDir, "run-1")
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}

	runRec := record.RunRecord{
		ID:         "run-1",
		Workflow:   "docs",
		State:      "failed",
		StartedAt:  time.Now().UTC(),
		FailedStep: "build",
	}
	if err := w.WriteRun(runRec); err != nil {
		t.Fatalf("write run: %v", err)
	}
	if err := w.WriteStep(record.StepRecord{Name: "build", Status: record.StepFailed, ExitCode: 2}); err != nil {
		t.Fatalf("write step: %v", err)
	}
	if err := w.WriteLog("build", "full build output\n"); err != nil {
		t.Fatalf("write log: %v", err)
	}

	req, err := FromRunDir(baseDir, "run-1")
	if err != nil {
		t.Fatalf("from run dir: %v", err)
	}
	if req.Step.Name != "build" || req.Log != "full build output\n" {
		t.Fatalf("unexpected request: %+v", req)
	}
}

func TestFromRunDirNoFailure(t *testing.T) {
	baseDir := t.TempDir()
	w, err := record.NewWriter(baseDir, "run-1")
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	if err := w.WriteRun(record.RunRecord{ID: "run-1", Workflow: "docs", State: "succeeded", StartedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("write run: %v", err)
	}

	if _, err := FromRunDir(baseDir, "run-1"); err == nil {
		t.Fatalf("expected error for run without failure")
	}
}
