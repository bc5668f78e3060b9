// Package spectral flags samples whose centered embeddings project
// unusually far onto the top singular directions of their class.
package spectral

import (
	"context"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/bryanwahyu/blackforge/internal/domain/analysis"
	"github.com/bryanwahyu/blackforge/internal/engine/embedding"
)

type Detector struct {
	// Components is the number of top singular directions to project onto.
	Components int
	// K flags samples scoring above mean + K*stddev within their class.
	K float64
	// MinClassSize: classes smaller than this are skipped and reported
	// as insufficient data.
	MinClassSize int

	Log *zap.Logger
}

func New(components int, k float64, minClassSize int, log *zap.Logger) *Detector {
	if components <= 0 {
		components = 2
	}
	if k <= 0 {
		k = 2.0
	}
	if minClassSize < 2 {
		minClassSize = 2
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Detector{Components: components, K: k, MinClassSize: minClassSize, Log: log}
}

func (d *Detector) Method() analysis.Method { return analysis.MethodSpectral }

func (d *Detector) Detect(ctx context.Context, in *embedding.Result) (*analysis.DetectionResult, error) {
	res := &analysis.DetectionResult{
		Method: analysis.MethodSpectral,
		Scores: make([]float64, in.SampleCount),
	}
	dims := in.Dims()
	thresholds := map[string]float64{}

	for class := 0; class < in.NumClasses(); class++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows := in.ClassRows(class)
		if len(rows) < d.MinClassSize {
			res.Diagnostics = append(res.Diagnostics, analysis.Diagnostic{
				Code:   analysis.DiagInsufficientSamples,
				Method: analysis.MethodSpectral,
				Class:  class,
				Detail: fmt.Sprintf("class %q has %d samples, need %d", in.ClassNames[class], len(rows), d.MinClassSize),
			})
			continue
		}

		raw, err := d.classScores(in, rows)
		if err != nil {
			res.Diagnostics = append(res.Diagnostics, analysis.Diagnostic{
				Code:   analysis.DiagNumericInstability,
				Method: analysis.MethodSpectral,
				Class:  class,
				Detail: err.Error(),
			})
			continue
		}

		mean, std := stat.MeanStdDev(raw, nil)
		if math.IsNaN(std) || std == 0 {
			std = 1e-8
		}
		k := d.K
		// Rank-deficient covariance: fewer samples than dimensions. The
		// truncated SVD above already handles the factorization; widen the
		// tolerance instead of failing the class.
		if len(rows) < dims {
			k += 0.5
		}
		threshold := mean + k*std
		thresholds[in.ClassNames[class]] = threshold

		for i, r := range rows {
			orig := in.Index[r]
			z := (raw[i] - mean) / std
			res.Scores[orig] = normalizeZ(z, k)
			if raw[i] > threshold {
				res.SuspiciousIndices = append(res.SuspiciousIndices, orig)
			}
		}
	}

	sort.Ints(res.SuspiciousIndices)
	flaggedFrac := float64(len(res.SuspiciousIndices)) / float64(max(in.SampleCount, 1))
	res.Confidence = math.Min(flaggedFrac*100, 100)
	res.EstimatedImpact = res.Confidence * 0.5
	res.Threshold = d.K
	res.Details = map[string]any{"class_thresholds": thresholds, "components": d.Components}

	d.Log.Debug("spectral detection done",
		zap.Int("flagged", len(res.SuspiciousIndices)),
		zap.Int("samples", in.SampleCount))
	return res, nil
}

// classScores centers the class embeddings, factorizes them with a thin
// SVD, and returns each sample's projection magnitude onto the top
// singular directions.
func (d *Detector) classScores(in *embedding.Result, rows []int) ([]float64, error) {
	n := len(rows)
	dims := in.Dims()

	centered := mat.NewDense(n, dims, nil)
	meanVec := make([]float64, dims)
	for _, r := range rows {
		for j := 0; j < dims; j++ {
			meanVec[j] += in.Embeddings.At(r, j)
		}
	}
	for j := range meanVec {
		meanVec[j] /= float64(n)
	}
	for i, r := range rows {
		for j := 0; j < dims; j++ {
			centered.Set(i, j, in.Embeddings.At(r, j)-meanVec[j])
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(centered, mat.SVDThin); !ok {
		return nil, fmt.Errorf("svd failed to converge for class matrix %dx%d", n, dims)
	}
	values := svd.Values(nil)
	rank := 0
	for _, s := range values {
		if s > 1e-10 {
			rank++
		}
	}
	if rank == 0 {
		// All class embeddings identical: nothing projects anywhere.
		return make([]float64, n), nil
	}
	comps := min(d.Components, rank)

	var v mat.Dense
	svd.VTo(&v)
	top := v.Slice(0, dims, 0, comps)

	var proj mat.Dense
	proj.Mul(centered, top)

	scores := make([]float64, n)
	for i := 0; i < n; i++ {
		var ss float64
		for j := 0; j < comps; j++ {
			p := proj.At(i, j)
			ss += p * p
		}
		scores[i] = math.Sqrt(ss)
	}
	return scores, nil
}

// normalizeZ maps a positive z-score into [0,1]; the flag threshold z=k
// lands at 0.25 and z>=2k saturates at 1.
func normalizeZ(z, k float64) float64 {
	if z <= 0 {
		return 0
	}
	s := z / (2 * k)
	if s > 1 {
		s = 1
	}
	return s * s
}
