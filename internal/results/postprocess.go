package results

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/montanaflynn/stats"
	"github.com/tidwall/gjson"

	"github.com/spachava753/deployeval/internal/models"
)

type groupKey struct {
	category   string
	checkpoint string
}

// Postprocess groups raw rows by (category, checkpoint) and computes one
// metrics row per group, ordered by category then checkpoint. Rows without a
// category form the "" group.
//
// With TargetAuto the kind of each group is taken from its first row's
// target. Numeric groups report accuracy plus mean and sample standard
// deviation of the absolute and squared error; categorical groups report
// accuracy only. NaN values are left out of every mean.
func Postprocess(task string, rows []models.RawResultRow, kind models.TargetKind) []models.MetricsRow {
	groups := make(map[groupKey][]models.RawResultRow)
	var keys []groupKey
	for _, r := range rows {
		k := groupKey{category: r.CategoryKey(), checkpoint: r.Checkpoint}
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], r)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].category != keys[j].category {
			return keys[i].category < keys[j].category
		}
		return keys[i].checkpoint < keys[j].checkpoint
	})

	out := make([]models.MetricsRow, 0, len(keys))
	for _, k := range keys {
		group := groups[k]
		row := models.MetricsRow{
			Task:       task,
			Category:   k.category,
			Checkpoint: k.checkpoint,
			Count:      len(group),
		}

		correct := make([]float64, len(group))
		for i, r := range group {
			correct[i] = r.MetricValue
		}
		row.Accuracy, _ = meanStd(correct)

		if isNumeric(kind, group) {
			absErr := make([]float64, len(group))
			sqErr := make([]float64, len(group))
			for i, r := range group {
				diff := targetNumber(r.Target) - Prediction(r.FilteredResponse)
				absErr[i] = math.Abs(diff)
				sqErr[i] = diff * diff
			}
			mae, maeStd := meanStd(absErr)
			mse, mseStd := meanStd(sqErr)
			row.MAE, row.MAEStd = &mae, &maeStd
			row.MSE, row.MSEStd = &mse, &mseStd
		}

		out = append(out, row)
	}
	return out
}

func isNumeric(kind models.TargetKind, group []models.RawResultRow) bool {
	switch kind {
	case models.TargetNumeric:
		return true
	case models.TargetCategorical:
		return false
	default:
		return len(group) > 0 && group[0].Target.Numeric
	}
}

// Prediction returns the first element of a filtered response list as a
// number, or NaN when it is missing or not numeric.
func Prediction(filteredResps string) float64 {
	r := gjson.Parse(filteredResps)
	if r.IsArray() {
		items := r.Array()
		if len(items) == 0 {
			return math.NaN()
		}
		r = items[0]
	}
	switch r.Type {
	case gjson.Number:
		return r.Float()
	case gjson.String:
		return parseFloat(r.Str)
	default:
		return math.NaN()
	}
}

func targetNumber(t models.TargetValue) float64 {
	if t.Numeric {
		return t.Number
	}
	return parseFloat(t.String())
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

// meanStd returns the mean and sample standard deviation of the non-NaN
// values. The mean is NaN with no values, the deviation with fewer than two.
func meanStd(values []float64) (mean, std float64) {
	data := make(stats.Float64Data, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			data = append(data, v)
		}
	}

	mean, std = math.NaN(), math.NaN()
	if len(data) > 0 {
		mean, _ = stats.Mean(data)
	}
	if len(data) > 1 {
		std, _ = stats.StandardDeviationSample(data)
	}
	return mean, std
}
