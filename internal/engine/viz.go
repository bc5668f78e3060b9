package engine

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/bryanwahyu/blackforge/internal/domain/analysis"
	"github.com/bryanwahyu/blackforge/internal/engine/embedding"
)

// buildVisualization projects the embeddings onto their top two principal
// components for frontend scatter plots. Excluded samples have no
// embedding row and are omitted. Returns nil when the projection cannot
// be computed; visualization is best-effort and never fails an analysis.
func buildVisualization(in *embedding.Result, suspicious []int) *analysis.Visualization {
	n := in.Rows()
	if n < 2 {
		return nil
	}
	dims := in.Dims()

	mean := make([]float64, dims)
	for i := 0; i < n; i++ {
		for j := 0; j < dims; j++ {
			mean[j] += in.Embeddings.At(i, j)
		}
	}
	for j := range mean {
		mean[j] /= float64(n)
	}
	centered := mat.NewDense(n, dims, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < dims; j++ {
			centered.Set(i, j, in.Embeddings.At(i, j)-mean[j])
		}
	}

	var svd mat.SVD
	if !svd.Factorize(centered, mat.SVDThin) {
		return nil
	}
	var v mat.Dense
	svd.VTo(&v)
	_, comps := v.Dims()
	if comps < 1 {
		return nil
	}

	suspSet := make(map[int]struct{}, len(suspicious))
	for _, idx := range suspicious {
		suspSet[idx] = struct{}{}
	}

	viz := &analysis.Visualization{
		Method: "pca",
		Points: make([]analysis.VizPoint, 0, n),
		Bounds: analysis.VizBounds{
			XMin: math.Inf(1), XMax: math.Inf(-1),
			YMin: math.Inf(1), YMax: math.Inf(-1),
		},
	}
	for i := 0; i < n; i++ {
		var x, y float64
		for j := 0; j < dims; j++ {
			x += centered.At(i, j) * v.At(j, 0)
			if comps > 1 {
				y += centered.At(i, j) * v.At(j, 1)
			}
		}
		orig := in.Index[i]
		_, sus := suspSet[orig]
		viz.Points = append(viz.Points, analysis.VizPoint{
			X:          round4(x),
			Y:          round4(y),
			Cluster:    in.Labels[i],
			Suspicious: sus,
			Index:      orig,
		})
		viz.Bounds.XMin = math.Min(viz.Bounds.XMin, x)
		viz.Bounds.XMax = math.Max(viz.Bounds.XMax, x)
		viz.Bounds.YMin = math.Min(viz.Bounds.YMin, y)
		viz.Bounds.YMax = math.Max(viz.Bounds.YMax, y)
	}
	return viz
}

func round4(v float64) float64 { return math.Round(v*10000) / 10000 }
