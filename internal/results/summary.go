package results

import (
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/tidwall/gjson"

	"github.com/spachava753/deployeval/internal/models"
)

// MetricKey is the key under which the tool reports a filtered metric.
func MetricKey(metric, filter string) string {
	return metric + "," + filter
}

// StderrKey is the key of the metric's standard error.
func StderrKey(metric, filter string) string {
	return metric + "_stderr," + filter
}

// ReadSummary reads the per-subtask value and standard error of metric (as
// selected by filter) from a results summary file. Subtasks that do not
// report the metric are skipped; non-numeric values such as "N/A" become NaN.
func ReadSummary(path, task, checkpoint, metric, filter string) ([]models.SummaryRow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading summary: %w", err)
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("summary %s is not valid JSON", path)
	}

	results := gjson.GetBytes(data, "results")
	if !results.IsObject() {
		return nil, fmt.Errorf("summary %s has no results object", path)
	}

	valueKey, stderrKey := MetricKey(metric, filter), StderrKey(metric, filter)
	var rows []models.SummaryRow
	for subtask, entry := range results.Map() {
		fields := entry.Map()
		value, ok := fields[valueKey]
		if !ok {
			continue
		}
		rows = append(rows, models.SummaryRow{
			Task:         task,
			Subtask:      subtask,
			MetricValue:  number(value),
			MetricStddev: number(fields[stderrKey]),
			Checkpoint:   checkpoint,
		})
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("summary %s reports no %q for any subtask", path, valueKey)
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].Subtask < rows[j].Subtask })
	return rows, nil
}

// number converts a JSON scalar to float64. Booleans count as 0/1; anything
// else is NaN.
func number(r gjson.Result) float64 {
	switch r.Type {
	case gjson.Number:
		return r.Float()
	case gjson.True:
		return 1
	case gjson.False:
		return 0
	default:
		return math.NaN()
	}
}
