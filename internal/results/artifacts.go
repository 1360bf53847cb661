// Package results ingests the evaluation tool's artifacts and turns them into
// summary, raw and metrics tables.
package results

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"unicode"
)

// Artifacts are the files one evaluation run left in its output directory.
type Artifacts struct {
	// Summary is the aggregate results file.
	Summary string
	// Samples maps subtask name to its per-sample log.
	Samples map[string]string
}

// SortedSubtasks returns the subtasks with a sample log, in name order.
func (a Artifacts) SortedSubtasks() []string {
	names := make([]string, 0, len(a.Samples))
	for name := range a.Samples {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FindArtifacts walks dir for results*.json and samples_*.jsonl files. When a
// directory holds several runs, the lexicographically latest file wins; the
// tool names files by timestamp.
func FindArtifacts(dir string) (Artifacts, error) {
	a := Artifacts{Samples: make(map[string]string)}

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		name := d.Name()
		switch {
		case strings.HasPrefix(name, "results") && strings.HasSuffix(name, ".json"):
			if a.Summary == "" || filepath.Base(a.Summary) < name {
				a.Summary = path
			}
		case strings.HasPrefix(name, "samples_") && strings.HasSuffix(name, ".jsonl"):
			subtask := SubtaskFromFile(name)
			if prev, ok := a.Samples[subtask]; !ok || filepath.Base(prev) < name {
				a.Samples[subtask] = path
			}
		}
		return nil
	})
	if err != nil {
		return a, fmt.Errorf("scanning artifacts in %s: %w", dir, err)
	}

	if a.Summary == "" {
		return a, fmt.Errorf("no results*.json summary in %s", dir)
	}
	return a, nil
}

// SubtaskFromFile extracts the subtask name from a sample log file name such
// as samples_arc_easy_2024-05-01T12-00-00.123456.jsonl.
func SubtaskFromFile(name string) string {
	stem := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(name), "samples_"), ".jsonl")
	if i := strings.LastIndex(stem, "_"); i > 0 && isTimestamp(stem[i+1:]) {
		stem = stem[:i]
	}
	return stem
}

func isTimestamp(s string) bool {
	return len(s) >= len("2006-01-02T15") &&
		unicode.IsDigit(rune(s[0])) &&
		strings.Contains(s, "T") &&
		s[4] == '-'
}
