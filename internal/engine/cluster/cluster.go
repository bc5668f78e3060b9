// Package cluster flags members of small, spatially separated subclusters
// found by partition-based and density-based clustering of the embedding
// space, run independently per class.
package cluster

import (
	"context"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/bryanwahyu/blackforge/internal/domain/analysis"
	"github.com/bryanwahyu/blackforge/internal/engine/embedding"
)

// Flagged samples never score below this, so max-fusion keeps them above
// the clean-sample score band.
const suspicionFloor = 0.85

const kmeansMaxIter = 100

type Detector struct {
	// MinorityFraction: clusters holding at most this fraction of their
	// class are treated as anomalous.
	MinorityFraction float64
	// Eps scales the adaptive DBSCAN radius (multiplier over the median
	// MinSamples-th nearest-neighbor distance).
	Eps float64
	// MinSamples is the DBSCAN core-point neighbor count.
	MinSamples int
	Seed       int64

	Log *zap.Logger
}

func New(minorityFraction, eps float64, minSamples int, seed int64, log *zap.Logger) *Detector {
	if minorityFraction <= 0 {
		minorityFraction = 0.15
	}
	if eps <= 0 {
		eps = 2.0
	}
	if minSamples <= 0 {
		minSamples = 5
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Detector{MinorityFraction: minorityFraction, Eps: eps, MinSamples: minSamples, Seed: seed, Log: log}
}

func (d *Detector) Method() analysis.Method { return analysis.MethodClustering }

func (d *Detector) Detect(ctx context.Context, in *embedding.Result) (*analysis.DetectionResult, error) {
	res := &analysis.DetectionResult{
		Method: analysis.MethodClustering,
		Scores: make([]float64, in.SampleCount),
	}
	nOutliers := 0

	for class := 0; class < in.NumClasses(); class++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows := in.ClassRows(class)
		if len(rows) < 2 {
			res.Diagnostics = append(res.Diagnostics, analysis.Diagnostic{
				Code:   analysis.DiagInsufficientSamples,
				Method: analysis.MethodClustering,
				Class:  class,
				Detail: fmt.Sprintf("class %q has %d samples, need 2", in.ClassNames[class], len(rows)),
			})
			continue
		}

		points := make([][]float64, len(rows))
		for i, r := range rows {
			points[i] = in.Embeddings.RawRowView(r)
		}

		flagged := make([]bool, len(rows))

		// Partition-based pass: clean vs poison split per class.
		assign, centers := kmeans(points, 2, d.Seed, kmeansMaxIter)
		markMinorityClusters(assign, flagged, d.MinorityFraction)

		// Density-based pass: no fixed k; noise is suspicious by
		// definition. A disjunction with the pass above, since the two
		// have different false-negative profiles.
		if len(rows) > d.MinSamples {
			density := dbscan(points, d.Eps, d.MinSamples)
			for i, label := range density {
				if label == noise {
					flagged[i] = true
					nOutliers++
				}
			}
			markMinorityClusters(density, flagged, d.MinorityFraction)
		}

		scoreClass(in, rows, points, centers, flagged, res)
	}

	sort.Ints(res.SuspiciousIndices)
	flaggedFrac := float64(len(res.SuspiciousIndices)) / float64(max(in.SampleCount, 1))
	res.Confidence = math.Min(flaggedFrac*100, 100)
	res.EstimatedImpact = res.Confidence * 0.4
	res.Threshold = d.MinorityFraction
	res.Details = map[string]any{"n_outliers": nOutliers, "minority_fraction": d.MinorityFraction}

	d.Log.Debug("clustering detection done",
		zap.Int("flagged", len(res.SuspiciousIndices)),
		zap.Int("noise_points", nOutliers))
	return res, nil
}

// markMinorityClusters flags every member of a cluster whose size is at
// most minorityFraction of the class. The noise label is ignored here;
// noise handling is the caller's.
func markMinorityClusters(assign []int, flagged []bool, minorityFraction float64) {
	counts := map[int]int{}
	for _, a := range assign {
		if a != noise {
			counts[a]++
		}
	}
	if len(counts) < 2 {
		return
	}
	limit := minorityFraction * float64(len(assign))
	for i, a := range assign {
		if a != noise && float64(counts[a]) <= limit {
			flagged[i] = true
		}
	}
}

// scoreClass converts distance-to-nearest-centroid into [0,1] suspicion
// scores and records flags at original dataset indices.
func scoreClass(in *embedding.Result, rows []int, points [][]float64, centers [][]float64, flagged []bool, res *analysis.DetectionResult) {
	dists := make([]float64, len(rows))
	for i, p := range points {
		best := math.Inf(1)
		for _, c := range centers {
			if dd := dist(p, c); dd < best {
				best = dd
			}
		}
		dists[i] = best
	}
	mean, std := stat.MeanStdDev(dists, nil)
	if math.IsNaN(std) || std == 0 {
		std = 1e-8
	}

	for i, r := range rows {
		orig := in.Index[r]
		z := (dists[i] - mean) / std
		score := 0.0
		if z > 0 {
			s := z / 4 // saturates at z=4
			if s > 1 {
				s = 1
			}
			score = s * s
		}
		if flagged[i] {
			if score < suspicionFloor {
				score = suspicionFloor
			}
			res.SuspiciousIndices = append(res.SuspiciousIndices, orig)
		}
		res.Scores[orig] = score
	}
}
