package results

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spachava753/deployeval/internal/models"
	"github.com/spachava753/deployeval/internal/util"
)

// Output subdirectories under the output root.
const (
	SummaryDir = "summary"
	RawDir     = "raw"
	MetricsDir = "metrics"
)

// TaskTables holds the paths of the files written for one task.
type TaskTables struct {
	Summary string
	Raw     string
	Metrics string
}

// TaskData is everything merged for one task across checkpoints.
type TaskData struct {
	Task    string
	Metric  string
	Summary []models.SummaryRow
	Raw     []models.RawResultRow
	Metrics []models.MetricsRow
}

// WriteTaskTables writes the summary, raw and metrics tables of a task under
// root. Existing files are never overwritten; a numeric suffix is added
// instead.
func WriteTaskTables(root string, data TaskData) (TaskTables, error) {
	stem := util.FileStem(data.Task)
	var out TaskTables
	var err error

	if out.Summary, err = writeTable(filepath.Join(root, SummaryDir), stem, SummaryTable(data.Summary)); err != nil {
		return out, fmt.Errorf("writing summary table: %w", err)
	}
	if out.Raw, err = writeTable(filepath.Join(root, RawDir), stem, RawTable(data.Raw, data.Metric)); err != nil {
		return out, fmt.Errorf("writing raw table: %w", err)
	}
	if out.Metrics, err = writeTable(filepath.Join(root, MetricsDir), stem, MetricsTable(data.Metrics)); err != nil {
		return out, fmt.Errorf("writing metrics table: %w", err)
	}
	return out, nil
}

func writeTable(dir, stem string, t Table) (string, error) {
	f, err := util.CreateUnique(dir, stem, ".csv")
	if err != nil {
		return "", err
	}

	w := csv.NewWriter(f)
	w.Write(t.Header)
	w.WriteAll(t.Rows)
	if err := w.Error(); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return f.Name(), nil
}
