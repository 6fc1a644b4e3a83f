package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/runlet/runlet/pkg/record"
	"github.com/runlet/runlet/pkg/run"
)

func writeWorkflow(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "runlet.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write workflow: %v", err)
	}
	return path
}

func newTestServer(t *testing.T, manifest string) (*httptest.Server, string) {
	t.Helper()
	dir := t.TempDir()
	recordDir := t.TempDir()
	path := writeWorkflow(t, dir, manifest)
	srv := New(path, recordDir, nil)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, recordDir
}

func waitForTerminal(t *testing.T, recordDir, runID string) *record.RunRecord {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := record.Load(recordDir, runID)
		if err == nil && (rec.State == string(run.StateSucceeded) || rec.State == string(run.StateFailed)) {
			return rec
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("run %s never reached a terminal state", runID)
	return nil
}

func TestDispatchRunsWorkflow(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	ts, recordDir := newTestServer(t, "name: docs\non: [workflow_dispatch]\nsteps:\n  - name: hello\n    run: echo hi\n")

	resp, err := http.Post(ts.URL+"/api/dispatch", "application/json", nil)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	var dr dispatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dr.RunID == "" || dr.Workflow != "docs" {
		t.Fatalf("unexpected response: %+v", dr)
	}

	rec := waitForTerminal(t, recordDir, dr.RunID)
	if rec.State != string(run.StateSucceeded) {
		t.Fatalf("expected succeeded, got %s", rec.State)
	}
	if rec.Trigger != "workflow_dispatch" {
		t.Fatalf("expected dispatch trigger, got %q", rec.Trigger)
	}

	logResp, err := http.Get(ts.URL + "/api/runs/" + dr.RunID + "/logs/hello")
	if err != nil {
		t.Fatalf("get log: %v", err)
	}
	defer logResp.Body.Close()
	if logResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for log, got %d", logResp.StatusCode)
	}
}

func TestDispatchRejectedWhenNotAllowed(t *testing.T) {
	ts, _ := newTestServer(t, "name: docs\non: [workflow_call]\nsteps:\n  - name: hello\n    run: echo hi\n")

	resp, err := http.Post(ts.URL+"/api/dispatch", "application/json", nil)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

func TestDispatchRejectsUndeclaredInput(t *testing.T) {
	ts, _ := newTestServer(t, "name: docs\nsteps:\n  - name: hello\n    run: echo hi\n")

	body := strings.NewReader(`{"inputs": {"nope": "1"}}`)
	resp, err := http.Post(ts.URL+"/api/dispatch", "application/json", body)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
}

func TestListAndGetRuns(t *testing.T) {
	ts, recordDir := newTestServer(t, "name: docs\nsteps:\n  - name: hello\n    run: echo hi\n")

	w, err := record.NewWriter(recordDir, "seeded")
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	if err := w.WriteRun(record.RunRecord{ID: "seeded", Workflow: "docs", State: "succeeded", StartedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("write run: %v", err)
	}

	resp, err := http.Get(ts.URL + "/api/runs")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	defer resp.Body.Close()
	var runs []record.RunRecord
	if err := json.NewDecoder(resp.Body).Decode(&runs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "seeded" {
		t.Fatalf("unexpected runs: %+v", runs)
	}

	getResp, err := http.Get(ts.URL + "/api/runs/seeded")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer getResp.Body.Close()
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", getResp.StatusCode)
	}

	missingResp, err := http.Get(ts.URL + "/api/runs/absent")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	defer missingResp.Body.Close()
	if missingResp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", missingResp.StatusCode)
	}
}
