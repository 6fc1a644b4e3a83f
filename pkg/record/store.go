package record

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// List loads every run record under baseDir, newest first. Entries without a
// readable run.json are ignored.
func List(baseDir string) ([]RunRecord, error) {
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var runs []RunRecord
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		rec, err := Load(baseDir, entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *rec)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return runs, nil
}

// Load reads one run's run.json.
func Load(baseDir, runID string) (*RunRecord, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runID, "run.json"))
	if err != nil {
		return nil, err
	}
	var rec RunRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return &rec, nil
}

// LoadStep reads one step's record from a run directory.
func LoadStep(baseDir, runID, stepName string) (*StepRecord, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runID, "steps", stepName+".json"))
	if err != nil {
		return nil, err
	}
	var rec StepRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode step %s: %w", stepName, err)
	}
	return &rec, nil
}

// ReadLog returns a step's full captured output.
func ReadLog(baseDir, runID, stepName string) (string, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runID, "logs", stepName+".log"))
	if err != nil {
		return "", err
	}
	return string(data), nil
}
