package env

import "testing"

func TestForStepPrecedence(t *testing.T) {
	m := &Materializer{
		Base:     []string{"PATH=/bin", "SHARED=base"},
		Workflow: map[string]string{"SHARED": "workflow", "CI": "true"},
		Inputs:   map[string]string{"runtime-version": "3.9"},
	}

	merged := m.ForStep(map[string]string{"SHARED": "step"})

	if merged["PATH"] != "/bin" {
		t.Fatalf("expected base PATH to survive, got %q", merged["PATH"])
	}
	if merged["CI"] != "true" {
		t.Fatalf("expected workflow var, got %q", merged["CI"])
	}
	if merged["SHARED"] != "step" {
		t.Fatalf("expected step override to win, got %q", merged["SHARED"])
	}
}

func TestForStepExportsInputsUnchanged(t *testing.T) {
	m := &Materializer{
		Inputs: map[string]string{
			"runtime-version": "3.9",
			"manager-version": "1.8.3",
		},
	}

	merged := m.ForStep(nil)

	if merged["INPUT_RUNTIME_VERSION"] != "3.9" {
		t.Fatalf("expected pinned runtime version, got %q", merged["INPUT_RUNTIME_VERSION"])
	}
	if merged["INPUT_MANAGER_VERSION"] != "1.8.3" {
		t.Fatalf("expected pinned manager version, got %q", merged["INPUT_MANAGER_VERSION"])
	}
}

func TestForStepExpandsReferences(t *testing.T) {
	m := &Materializer{
		Base:     []string{"HOME=/home/ci"},
		Workflow: map[string]string{"CACHE": "${HOME}/cache"},
		Inputs:   map[string]string{"runtime-version": "3.9"},
	}

	merged := m.ForStep(map[string]string{
		"VENV": "${CACHE}/venv-${INPUT_RUNTIME_VERSION}",
	})

	if merged["CACHE"] != "/home/ci/cache" {
		t.Fatalf("expected workflow value expanded against base, got %q", merged["CACHE"])
	}
	if merged["VENV"] != "/home/ci/cache/venv-3.9" {
		t.Fatalf("expected step value expanded against lower layers, got %q", merged["VENV"])
	}
}

func TestInputKey(t *testing.T) {
	if got := InputKey("runtime-version"); got != "INPUT_RUNTIME_VERSION" {
		t.Fatalf("got %q", got)
	}
	if got := InputKey("poetry"); got != "INPUT_POETRY" {
		t.Fatalf("got %q", got)
	}
}

func TestEnvironSortedPairs(t *testing.T) {
	pairs := Environ(map[string]string{"B": "2", "A": "1"})
	if len(pairs) != 2 || pairs[0] != "A=1" || pairs[1] != "B=2" {
		t.Fatalf("unexpected pairs: %v", pairs)
	}
}
