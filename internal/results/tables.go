package results

import (
	"math"
	"sort"
	"strconv"

	"github.com/spachava753/deployeval/internal/models"
)

// Table is a header plus rows of cells, ready for CSV.
type Table struct {
	Header []string
	Rows   [][]string
}

// SummaryTable renders summary rows wide: one row per checkpoint (in order of
// first appearance) and a value and stderr column per subtask.
func SummaryTable(rows []models.SummaryRow) Table {
	subtaskSet := make(map[string]bool)
	var checkpoints []string
	byCheckpoint := make(map[string]map[string]models.SummaryRow)
	for _, r := range rows {
		subtaskSet[r.Subtask] = true
		cells, ok := byCheckpoint[r.Checkpoint]
		if !ok {
			cells = make(map[string]models.SummaryRow)
			byCheckpoint[r.Checkpoint] = cells
			checkpoints = append(checkpoints, r.Checkpoint)
		}
		cells[r.Subtask] = r
	}

	subtasks := make([]string, 0, len(subtaskSet))
	for s := range subtaskSet {
		subtasks = append(subtasks, s)
	}
	sort.Strings(subtasks)

	t := Table{Header: []string{"model_checkpoint"}}
	for _, s := range subtasks {
		t.Header = append(t.Header, s, s+"_stderr")
	}
	for _, ckpt := range checkpoints {
		line := []string{ckpt}
		for _, s := range subtasks {
			r, ok := byCheckpoint[ckpt][s]
			if !ok {
				line = append(line, "", "")
				continue
			}
			line = append(line, formatFloat(r.MetricValue), formatFloat(r.MetricStddev))
		}
		t.Rows = append(t.Rows, line)
	}
	return t
}

// RawTable renders raw rows in input order. metric names the metric column.
func RawTable(rows []models.RawResultRow, metric string) Table {
	t := Table{Header: []string{
		"task", "subtask", "doc_id", "model_checkpoint", "category",
		"question", "target", "filtered_resps", metric,
	}}
	for _, r := range rows {
		t.Rows = append(t.Rows, []string{
			r.Task,
			r.Subtask,
			strconv.FormatInt(r.DocID, 10),
			r.Checkpoint,
			r.CategoryKey(),
			r.Question,
			r.Target.String(),
			r.FilteredResponse,
			formatFloat(r.MetricValue),
		})
	}
	return t
}

// MetricsTable renders metrics rows. Error columns are empty for categorical
// groups.
func MetricsTable(rows []models.MetricsRow) Table {
	t := Table{Header: []string{
		"category", "model_checkpoint", "count", "accuracy",
		"mean_absolute_error", "mean_absolute_error_std",
		"mean_squared_error", "mean_squared_error_std",
	}}
	for _, r := range rows {
		t.Rows = append(t.Rows, []string{
			r.Category,
			r.Checkpoint,
			strconv.Itoa(r.Count),
			formatFloat(r.Accuracy),
			formatOptional(r.MAE),
			formatOptional(r.MAEStd),
			formatOptional(r.MSE),
			formatOptional(r.MSEStd),
		})
	}
	return t
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}
