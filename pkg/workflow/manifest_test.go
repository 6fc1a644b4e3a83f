package workflow

import (
	"testing"
	"time"
)

const docsManifest = `
name: docs
on: [workflow_call, workflow_dispatch]
inputs:
  runtime-version: "3.9"
  manager-version: "1.8.3"
steps:
  - name: checkout
    run: git clone "$REPO_URL" .
  - name: setup-runtime
    run: install-runtime "$INPUT_RUNTIME_VERSION"
  - name: setup-manager
    run: install-manager "$INPUT_MANAGER_VERSION"
  - name: version-check
    run: manager --version
  - name: install-deps
    run: manager install
  - name: build-docs
    run: manager run docs
`

func TestParsePreservesStepOrder(t *testing.T) {
	wf, err := Parse([]byte(docsManifest))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := wf.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	want := []string{"checkout", "setup-runtime", "setup-manager", "version-check", "install-deps", "build-docs"}
	if len(wf.Steps) != len(want) {
		t.Fatalf("expected %d steps, got %d", len(want), len(wf.Steps))
	}
	for i, name := range want {
		if wf.Steps[i].Name != name {
			t.Fatalf("step %d: expected %s, got %s", i, name, wf.Steps[i].Name)
		}
	}
}

func TestValidateRejectsBadManifests(t *testing.T) {
	cases := []struct {
		name     string
		manifest string
	}{
		{"missing name", "steps:\n  - name: a\n    run: true\n"},
		{"no steps", "name: empty\n"},
		{"unnamed step", "name: x\nsteps:\n  - run: true\n"},
		{"step without command", "name: x\nsteps:\n  - name: a\n"},
		{"duplicate step", "name: x\nsteps:\n  - name: a\n    run: true\n  - name: a\n    run: true\n"},
		{"unknown trigger", "name: x\non: [push]\nsteps:\n  - name: a\n    run: true\n"},
		{"step name with slash", "name: x\nsteps:\n  - name: build/docs\n    run: true\n"},
		{"step name with backslash", "name: x\nsteps:\n  - name: build\\docs\n    run: true\n"},
		{"dot-dot step name", "name: x\nsteps:\n  - name: ..\n    run: true\n"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wf, err := Parse([]byte(tc.manifest))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if err := wf.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestResolveInputs(t *testing.T) {
	wf, err := Parse([]byte(docsManifest))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	resolved, err := wf.ResolveInputs(map[string]string{"runtime-version": "3.12"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved["runtime-version"] != "3.12" {
		t.Fatalf("expected override, got %q", resolved["runtime-version"])
	}
	if resolved["manager-version"] != "1.8.3" {
		t.Fatalf("expected default to survive, got %q", resolved["manager-version"])
	}

	if _, err := wf.ResolveInputs(map[string]string{"nope": "1"}); err == nil {
		t.Fatalf("expected error for undeclared input")
	}
}

func TestAllows(t *testing.T) {
	wf := &Workflow{Name: "x", On: []string{TriggerCall}}
	if !wf.Allows(TriggerCall) {
		t.Fatalf("expected workflow_call to be allowed")
	}
	if wf.Allows(TriggerDispatch) {
		t.Fatalf("expected workflow_dispatch to be denied")
	}

	open := &Workflow{Name: "y"}
	if !open.Allows(TriggerCall) || !open.Allows(TriggerDispatch) {
		t.Fatalf("expected both triggers allowed when on is empty")
	}
}

func TestStepTimeoutParsing(t *testing.T) {
	wf, err := Parse([]byte("name: x\nsteps:\n  - name: a\n    run: true\n    timeout: 5m\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if time.Duration(wf.Steps[0].Timeout) != 5*time.Minute {
		t.Fatalf("expected 5m timeout, got %v", time.Duration(wf.Steps[0].Timeout))
	}

	if _, err := Parse([]byte("name: x\nsteps:\n  - name: a\n    run: true\n    timeout: soon\n")); err == nil {
		t.Fatalf("expected error for invalid timeout")
	}
}
