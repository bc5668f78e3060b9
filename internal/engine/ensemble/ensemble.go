// Package ensemble fuses the per-method suspicion scores into one
// verdict: per-sample fused scores, dataset poison confidence, threat
// score and grade, and a poison-type classification.
package ensemble

import (
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/bryanwahyu/blackforge/internal/domain/analysis"
	"github.com/bryanwahyu/blackforge/internal/engine/embedding"
)

// Grade boundaries are user-facing and fixed:
// A <20, B <40, C <60, D <75, E <90, F >=90.
var gradeBounds = []struct {
	limit float64
	grade string
}{
	{20, "A"},
	{40, "B"},
	{60, "C"},
	{75, "D"},
	{90, "E"},
	{math.Inf(1), "F"},
}

// Datasets graded A are treated as clean: their flagged-index union is
// cleared so purification removes nothing.
const cleanGateScore = 20.0

type Scorer struct {
	Log *zap.Logger
}

func New(log *zap.Logger) *Scorer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scorer{Log: log}
}

// Verdict is the fused output attached to an AnalysisResult.
type Verdict struct {
	PoisonDetected          bool
	PoisonConfidence        float64
	ThreatScore             float64
	ThreatGrade             string
	PoisonType              string
	EstimatedAccuracyImpact float64
	SuspiciousIndices       []int
	FusedScores             []float64
}

// Fuse blocks its caller until every detector result is in (the pipeline
// joins the fan-out before calling); failed methods have already been
// excluded from results.
func (s *Scorer) Fuse(in *embedding.Result, results map[analysis.Method]*analysis.DetectionResult) *Verdict {
	n := in.SampleCount
	fused := make([]float64, n)
	for _, r := range results {
		for i, sc := range r.Scores {
			if sc > fused[i] {
				fused[i] = sc // logical OR across detectors
			}
		}
	}

	union := map[int]struct{}{}
	for _, r := range results {
		for _, idx := range r.SuspiciousIndices {
			union[idx] = struct{}{}
		}
	}
	suspicious := make([]int, 0, len(union))
	for idx := range union {
		suspicious = append(suspicious, idx)
	}
	sort.Ints(suspicious)

	confidence := percentile(fused, 0.90) * 100

	var impact float64
	if len(results) > 0 {
		for _, r := range results {
			impact += r.EstimatedImpact
		}
		impact /= float64(len(results))
	}

	// Detection strength: how extreme the flagged samples score, not how
	// many there are. The upper quartile squared keeps borderline flags
	// from inflating the verdict while saturated outliers dominate it.
	var strength float64
	if len(suspicious) > 0 {
		flaggedScores := make([]float64, len(suspicious))
		for i, idx := range suspicious {
			flaggedScores[i] = fused[idx]
		}
		q := percentile(flaggedScores, 0.75)
		strength = q * q * 100
	}

	flaggedFrac := float64(len(suspicious)) / float64(max(n, 1))
	threat := 0.3*confidence + 0.6*strength + 0.1*impact + 10*math.Min(flaggedFrac*10, 1)
	threat = clamp(threat, 0, 100)
	grade := gradeFor(threat)

	v := &Verdict{
		PoisonConfidence:        round2(confidence),
		ThreatScore:             round2(threat),
		ThreatGrade:             grade,
		EstimatedAccuracyImpact: round2(impact),
		SuspiciousIndices:       suspicious,
		FusedScores:             fused,
	}

	if threat < cleanGateScore {
		v.PoisonDetected = false
		v.SuspiciousIndices = []int{}
		v.PoisonType = "none"
	} else {
		v.PoisonDetected = true
		v.PoisonType = classifyPoisonType(in, suspicious, results)
	}

	s.Log.Debug("ensemble fused",
		zap.Float64("poison_confidence", v.PoisonConfidence),
		zap.Float64("threat_score", v.ThreatScore),
		zap.String("threat_grade", v.ThreatGrade),
		zap.String("poison_type", v.PoisonType),
		zap.Int("suspicious", len(v.SuspiciousIndices)))
	return v
}

func gradeFor(threat float64) string {
	for _, b := range gradeBounds {
		if threat < b.limit {
			return b.grade
		}
	}
	return "F"
}

func percentile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
