package results

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/spachava753/deployeval/internal/models"
)

// Ingested holds the rows read from one job's artifacts.
type Ingested struct {
	Summary []models.SummaryRow
	Raw     []models.RawResultRow
}

// Ingest reads the summary and every sample log of job from dir. Sample logs
// are parsed concurrently; raw rows come back ordered by subtask and doc id.
func Ingest(ctx context.Context, dir string, job models.EvalJob, categoricColumns []string) (*Ingested, error) {
	artifacts, err := FindArtifacts(dir)
	if err != nil {
		return nil, err
	}

	summary, err := ReadSummary(artifacts.Summary, job.Task, job.Checkpoint, job.MetricName, job.MetricFilter)
	if err != nil {
		return nil, err
	}

	subtasks := artifacts.SortedSubtasks()
	perFile := make([][]models.RawResultRow, len(subtasks))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, subtask := range subtasks {
		i, subtask := i, subtask
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rows, err := ReadSamples(artifacts.Samples[subtask], SampleSource{
				Task:             job.Task,
				Subtask:          subtask,
				Checkpoint:       job.Checkpoint,
				Metric:           job.MetricName,
				CategoricColumns: categoricColumns,
			})
			if err != nil {
				return err
			}
			perFile[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("ingesting samples: %w", err)
	}

	var raw []models.RawResultRow
	for _, rows := range perFile {
		sort.SliceStable(rows, func(a, b int) bool { return rows[a].DocID < rows[b].DocID })
		raw = append(raw, rows...)
	}

	slog.Debug("ingested artifacts",
		"task", job.Task,
		"checkpoint", job.Checkpoint,
		"subtasks", len(summary),
		"sample_files", len(subtasks),
		"raw_rows", len(raw))

	return &Ingested{Summary: summary, Raw: raw}, nil
}
