package workflow

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Trigger names accepted in a workflow's "on" list.
const (
	TriggerCall     = "workflow_call"
	TriggerDispatch = "workflow_dispatch"
)

// Workflow is a declarative, ordered list of steps. Steps execute in
// declaration order; the loader never reorders them.
type Workflow struct {
	Name   string            `yaml:"name"`
	On     []string          `yaml:"on,omitempty"`
	Inputs map[string]string `yaml:"inputs,omitempty"`
	Env    map[string]string `yaml:"env,omitempty"`
	Steps  []*Step           `yaml:"steps"`
}

// Step is one unit of work: a named shell command plus its environment
// overrides and an optional condition.
type Step struct {
	Name            string            `yaml:"name"`
	Run             string            `yaml:"run"`
	If              string            `yaml:"if,omitempty"`
	Env             map[string]string `yaml:"env,omitempty"`
	WorkingDir      string            `yaml:"working_directory,omitempty"`
	ContinueOnError bool              `yaml:"continue_on_error,omitempty"`
	Timeout         Duration          `yaml:"timeout,omitempty"`
}

// Duration wraps time.Duration with YAML support for values like "5m".
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if raw == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid timeout %q: %w", raw, err)
	}
	if parsed < 0 {
		return fmt.Errorf("timeout must not be negative: %q", raw)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration back to its string form.
func (d Duration) MarshalYAML() (any, error) {
	if d == 0 {
		return "", nil
	}
	return time.Duration(d).String(), nil
}

// Allows reports whether the workflow may be started by the given trigger.
// A workflow with no "on" list accepts both triggers.
func (w *Workflow) Allows(trigger string) bool {
	if len(w.On) == 0 {
		return trigger == TriggerCall || trigger == TriggerDispatch
	}
	for _, t := range w.On {
		if t == trigger {
			return true
		}
	}
	return false
}

// Step returns the step with the given name, or nil.
func (w *Workflow) Step(name string) *Step {
	for _, s := range w.Steps {
		if s.Name == name {
			return s
		}
	}
	return nil
}
