// Package env materializes the environment a step runs under. Merging is a
// pure computation: base process environment, then workflow-level variables,
// then workflow inputs (exported as INPUT_*), then the step's own overrides,
// with later layers winning on key conflicts.
package env

import (
	"os"
	"sort"
	"strings"
)

// Materializer produces per-step environments from the run's fixed layers.
type Materializer struct {
	// Base holds "KEY=VALUE" pairs, usually os.Environ().
	Base []string
	// Workflow holds workflow-level variables.
	Workflow map[string]string
	// Inputs holds resolved workflow inputs; each is exported as
	// INPUT_<UPPER_NAME> so steps see pinned values like versions.
	Inputs map[string]string
}

// ForStep returns the merged environment for a step with the given overrides.
// ${VAR} references in workflow values resolve against the base layer;
// references in step overrides resolve against everything beneath them.
func (m *Materializer) ForStep(overrides map[string]string) map[string]string {
	merged := make(map[string]string, len(m.Base)+len(m.Workflow)+len(m.Inputs)+len(overrides))
	for _, kv := range m.Base {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		merged[key] = value
	}

	base := lookup(merged)
	for key, value := range m.Workflow {
		merged[key] = os.Expand(value, base)
	}
	for name, value := range m.Inputs {
		merged[InputKey(name)] = value
	}

	beneath := lookup(merged)
	for key, value := range overrides {
		merged[key] = os.Expand(value, beneath)
	}
	return merged
}

// InputKey returns the environment variable name an input is exported under.
func InputKey(name string) string {
	upper := strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
	return "INPUT_" + upper
}

// Environ flattens a merged environment into sorted "KEY=VALUE" pairs
// suitable for exec.Cmd.Env.
func Environ(merged map[string]string) []string {
	pairs := make([]string, 0, len(merged))
	for key, value := range merged {
		pairs = append(pairs, key+"="+value)
	}
	sort.Strings(pairs)
	return pairs
}

// lookup snapshots a map for os.Expand so later mutations don't leak into
// earlier layers' expansion.
func lookup(m map[string]string) func(string) string {
	snapshot := make(map[string]string, len(m))
	for k, v := range m {
		snapshot[k] = v
	}
	return func(key string) string {
		return snapshot[key]
	}
}
