package embedding

import (
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/bryanwahyu/blackforge/internal/domain/datasets"
)

// extractCSV treats every column except the last as a numeric feature and
// the last column as the categorical label. Features are standardized
// column-wise; the standardized rows are the embeddings.
func (e *Extractor) extractCSV(ctx context.Context, path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", datasets.ErrUnsupportedFormat, err)
	}
	if len(records) > 0 && IsHeader(records[0]) {
		records = records[1:]
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: csv has no data rows", datasets.ErrUnsupportedFormat)
	}
	width := len(records[0])
	if width < 2 {
		return nil, fmt.Errorf("%w: csv needs at least one feature column and a label column", datasets.ErrUnsupportedFormat)
	}

	res := &Result{SampleCount: len(records)}
	labelIDs := map[string]int{}

	var rows [][]float64
	for i, rec := range records {
		if i%e.batchSize() == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if len(rec) != width {
			res.Excluded = append(res.Excluded, i)
			res.Diagnostics = append(res.Diagnostics, excludeDiagnostic(i, fmt.Sprintf("row has %d fields, want %d", len(rec), width)))
			continue
		}
		feats := make([]float64, width-1)
		ok := true
		for j := 0; j < width-1; j++ {
			v, perr := strconv.ParseFloat(rec[j], 64)
			if perr != nil || math.IsNaN(v) || math.IsInf(v, 0) {
				res.Excluded = append(res.Excluded, i)
				res.Diagnostics = append(res.Diagnostics, excludeDiagnostic(i, fmt.Sprintf("column %d is not numeric: %q", j, rec[j])))
				ok = false
				break
			}
			feats[j] = v
		}
		if !ok {
			continue
		}
		label := rec[width-1]
		id, seen := labelIDs[label]
		if !seen {
			id = len(res.ClassNames)
			labelIDs[label] = id
			res.ClassNames = append(res.ClassNames, label)
		}
		rows = append(rows, feats)
		res.Labels = append(res.Labels, id)
		res.Index = append(res.Index, i)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no parseable rows", datasets.ErrUnsupportedFormat)
	}

	res.Embeddings = standardize(rows)
	e.logger().Debug("csv extracted",
		zap.Int("samples", res.SampleCount),
		zap.Int("eligible", len(rows)),
		zap.Int("features", width-1),
		zap.Int("classes", len(res.ClassNames)))
	return res, nil
}

// IsHeader reports whether no feature field of the row parses as a
// number. Exported so purification skips the same header row the
// extractor skipped, keeping sample indices aligned.
func IsHeader(rec []string) bool {
	if len(rec) < 2 {
		return false
	}
	for _, field := range rec[:len(rec)-1] {
		if _, err := strconv.ParseFloat(field, 64); err == nil {
			return false
		}
	}
	return true
}

// standardize z-scores each column. Constant columns become zeros.
func standardize(rows [][]float64) *mat.Dense {
	n := len(rows)
	d := len(rows[0])
	out := mat.NewDense(n, d, nil)

	for j := 0; j < d; j++ {
		var sum float64
		for i := 0; i < n; i++ {
			sum += rows[i][j]
		}
		mean := sum / float64(n)
		var ss float64
		for i := 0; i < n; i++ {
			dv := rows[i][j] - mean
			ss += dv * dv
		}
		std := math.Sqrt(ss / float64(n))
		for i := 0; i < n; i++ {
			out.Set(i, j, (rows[i][j]-mean)/(std+1e-8))
		}
	}
	return out
}
