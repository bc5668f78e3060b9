package ensemble

import (
	"math"

	"github.com/bryanwahyu/blackforge/internal/domain/analysis"
	"github.com/bryanwahyu/blackforge/internal/engine/embedding"
)

// Poison type labels.
const (
	PoisonNone         = "none"
	PoisonLabelFlip    = "label_flipping"
	PoisonOutlier      = "outlier_injection"
	PoisonTrigger      = "trigger_pattern"
	PoisonFeatureNoise = "feature_noise"
)

// classifyPoisonType runs the rule-based classifier over auxiliary
// signals. Each rule produces a normalized magnitude (signal / its
// firing threshold); the largest firing signal wins ties.
func classifyPoisonType(in *embedding.Result, suspicious []int, results map[analysis.Method]*analysis.DetectionResult) string {
	if len(suspicious) == 0 {
		return PoisonNone
	}

	suspSet := map[int]struct{}{}
	for _, idx := range suspicious {
		suspSet[idx] = struct{}{}
	}
	var suspRows, cleanRows []int
	for r, orig := range in.Index {
		if _, ok := suspSet[orig]; ok {
			suspRows = append(suspRows, r)
		} else {
			cleanRows = append(cleanRows, r)
		}
	}
	if len(suspRows) == 0 || len(cleanRows) == 0 {
		return PoisonFeatureNoise
	}

	dims := in.Dims()
	cleanMean := rowMean(in, cleanRows, dims)

	// Label evidence has priority: a flipped block drawn from its source
	// class also forms a tight off-center cluster, so the geometric rules
	// would misread it.
	if labelSkewSignal(in, suspRows, cleanRows) > 1 {
		return PoisonLabelFlip
	}

	type signal struct {
		name      string
		magnitude float64 // >1 means the rule fires
	}
	signals := []signal{
		{PoisonOutlier, outlierSignal(in, suspRows, cleanRows, cleanMean)},
		{PoisonTrigger, triggerSignal(in, suspRows, cleanRows, cleanMean, results)},
	}

	best := PoisonFeatureNoise
	bestMag := 1.0
	for _, s := range signals {
		if s.magnitude > bestMag {
			bestMag = s.magnitude
			best = s.name
		}
	}
	if best == PoisonFeatureNoise && featureNoiseSignal(in, suspRows, cleanRows, dims) <= 1 {
		// Nothing fires cleanly; feature noise is the fallback anyway.
		return PoisonFeatureNoise
	}
	return best
}

// labelSkewSignal measures label-distribution skew inside the flagged
// set: flipped labels make a flagged cluster far more label-diverse (and
// far more unbalanced against its class priors) than a clean subset.
func labelSkewSignal(in *embedding.Result, suspRows, cleanRows []int) float64 {
	classCounts := make([]float64, in.NumClasses())
	for _, r := range cleanRows {
		classCounts[in.Labels[r]]++
	}
	suspCounts := make([]float64, in.NumClasses())
	for _, r := range suspRows {
		suspCounts[in.Labels[r]]++
	}

	// Total-variation distance between the flagged label distribution and
	// the clean one, scaled so 0.35 divergence fires the rule.
	var tv float64
	cleanTotal := float64(len(cleanRows))
	suspTotal := float64(len(suspRows))
	for c := range classCounts {
		tv += math.Abs(suspCounts[c]/suspTotal - classCounts[c]/cleanTotal)
	}
	tv /= 2
	return tv / 0.35
}

// outlierSignal compares the flagged samples' mean distance from the
// clean centroid against the clean samples' own mean distance; a 2.5x
// ratio fires the rule.
func outlierSignal(in *embedding.Result, suspRows, cleanRows []int, cleanMean []float64) float64 {
	var suspDist float64
	for _, r := range suspRows {
		suspDist += rowDist(in, r, cleanMean)
	}
	suspDist /= float64(len(suspRows))

	var cleanDist float64
	for _, r := range cleanRows {
		cleanDist += rowDist(in, r, cleanMean)
	}
	cleanDist /= float64(len(cleanRows))

	return suspDist / (cleanDist + 1e-8) / 2.5
}

// triggerSignal fires when the flagged set forms a small, tight cluster
// far from the clean mass: low intra-suspicious spread relative to its
// distance from the clean centroid, the signature of an embedded trigger.
func triggerSignal(in *embedding.Result, suspRows, cleanRows []int, cleanMean []float64, results map[analysis.Method]*analysis.DetectionResult) float64 {
	if len(suspRows) < 2 {
		return 0
	}
	dims := in.Dims()
	suspMean := rowMean(in, suspRows, dims)
	spread := rowStd(in, suspRows, suspMean, dims)
	separation := vecDist(suspMean, cleanMean)
	if spread < 1e-8 {
		spread = 1e-8
	}
	ratio := separation / spread / 3.0

	// Only meaningful when the clustering pass actually saw minority
	// structure; a pure magnitude outlier pattern is not a trigger.
	if r, ok := results[analysis.MethodClustering]; !ok || len(r.SuspiciousIndices) == 0 {
		return 0
	}
	// Small localized set requirement.
	if float64(len(suspRows)) > 0.25*float64(len(cleanRows)+len(suspRows)) {
		return 0
	}
	return ratio
}

// featureNoiseSignal compares per-dimension variance of flagged vs clean
// samples; a ratio above 2 indicates injected feature noise.
func featureNoiseSignal(in *embedding.Result, suspRows, cleanRows []int, dims int) float64 {
	suspMean := rowMean(in, suspRows, dims)
	cleanMean := rowMean(in, cleanRows, dims)
	suspVar := rowStd(in, suspRows, suspMean, dims)
	cleanVar := rowStd(in, cleanRows, cleanMean, dims)
	return (suspVar * suspVar) / (cleanVar*cleanVar + 1e-8) / 2.0
}

func rowMean(in *embedding.Result, rows []int, dims int) []float64 {
	mean := make([]float64, dims)
	for _, r := range rows {
		for j := 0; j < dims; j++ {
			mean[j] += in.Embeddings.At(r, j)
		}
	}
	for j := range mean {
		mean[j] /= float64(len(rows))
	}
	return mean
}

// rowStd returns the root-mean-square deviation from mean across all
// dimensions (a scalar spread measure).
func rowStd(in *embedding.Result, rows []int, mean []float64, dims int) float64 {
	var ss float64
	for _, r := range rows {
		for j := 0; j < dims; j++ {
			d := in.Embeddings.At(r, j) - mean[j]
			ss += d * d
		}
	}
	return math.Sqrt(ss / float64(len(rows)*dims))
}

func rowDist(in *embedding.Result, row int, mean []float64) float64 {
	var ss float64
	for j := range mean {
		d := in.Embeddings.At(row, j) - mean[j]
		ss += d * d
	}
	return math.Sqrt(ss)
}

func vecDist(a, b []float64) float64 {
	var ss float64
	for i := range a {
		d := a[i] - b[i]
		ss += d * d
	}
	return math.Sqrt(ss)
}
