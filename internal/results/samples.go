package results

import (
	"bufio"
	"bytes"
	"fmt"
	"os"

	"github.com/tidwall/gjson"

	"github.com/spachava753/deployeval/internal/models"
)

const maxSampleLine = 64 << 20

// SampleSource identifies whose samples a log holds.
type SampleSource struct {
	Task       string
	Subtask    string
	Checkpoint string
	Metric     string
	// CategoricColumns are document fields tried in order for the category.
	CategoricColumns []string
}

// ReadSamples parses a per-sample JSONL log into raw result rows. Blank
// lines are skipped; a line that is not JSON fails the whole file.
func ReadSamples(path string, src SampleSource) ([]models.RawResultRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening samples: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxSampleLine)

	var rows []models.RawResultRow
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if !gjson.ValidBytes(line) {
			return nil, fmt.Errorf("%s:%d: invalid JSON", path, lineNo)
		}
		rows = append(rows, parseSample(gjson.ParseBytes(line), src))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return rows, nil
}

func parseSample(r gjson.Result, src SampleSource) models.RawResultRow {
	sample := r.Map()
	doc := sample["doc"].Map()

	row := models.RawResultRow{
		Task:             src.Task,
		Subtask:          src.Subtask,
		DocID:            sample["doc_id"].Int(),
		Target:           models.NewTargetValue(sample["target"].Raw),
		FilteredResponse: sample["filtered_resps"].Raw,
		MetricValue:      number(sample[src.Metric]),
		Question:         doc["question"].String(),
		Checkpoint:       src.Checkpoint,
	}
	for _, col := range src.CategoricColumns {
		if v, ok := doc[col]; ok && v.Type != gjson.Null {
			category := v.String()
			row.Category = &category
			break
		}
	}
	return row
}
