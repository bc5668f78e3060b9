package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bryanwahyu/blackforge/internal/domain/analysis"
	"github.com/bryanwahyu/blackforge/internal/domain/datasets"
	"github.com/bryanwahyu/blackforge/internal/engine/embedding"
	"github.com/bryanwahyu/blackforge/internal/engine/ensemble"
)

// Pipeline runs the full detection flow: embedding extraction, the
// concurrent detector fan-out, ensemble fusion, and the projection for
// visualization. A Pipeline is stateless and safe for concurrent use.
type Pipeline struct {
	Extractor *embedding.Extractor
	Detectors []Detector
	Scorer    *ensemble.Scorer
	Log       *zap.Logger
}

func NewPipeline(extractor *embedding.Extractor, scorer *ensemble.Scorer, log *zap.Logger, detectors ...Detector) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{Extractor: extractor, Detectors: detectors, Scorer: scorer, Log: log}
}

// Run analyzes the dataset file at path with every configured detector.
// Detector failures degrade the result (recorded in FailedMethods); only
// extraction failure, context cancellation, or all detectors failing are
// fatal.
func (p *Pipeline) Run(ctx context.Context, path string, modality datasets.Modality) (*analysis.AnalysisResult, error) {
	return p.RunMethods(ctx, path, modality, nil)
}

// RunMethods restricts the detector fan-out to the named methods. An
// empty set means all configured detectors.
func (p *Pipeline) RunMethods(ctx context.Context, path string, modality datasets.Modality, methods []analysis.Method) (*analysis.AnalysisResult, error) {
	started := time.Now()

	detectors := p.Detectors
	if len(methods) > 0 {
		want := make(map[analysis.Method]struct{}, len(methods))
		for _, m := range methods {
			want[m] = struct{}{}
		}
		detectors = nil
		for _, det := range p.Detectors {
			if _, ok := want[det.Method()]; ok {
				detectors = append(detectors, det)
			}
		}
		if len(detectors) == 0 {
			return nil, fmt.Errorf("%w: requested %v", analysis.ErrUnknownMethod, methods)
		}
	}

	in, err := p.Extractor.Extract(ctx, path, modality)
	if err != nil {
		return nil, err
	}

	results := make(map[analysis.Method]*analysis.DetectionResult, len(detectors))
	var failed []analysis.Method
	var failedDiags []analysis.Diagnostic
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, det := range detectors {
		det := det
		g.Go(func() error {
			r, derr := det.Detect(gctx, in)
			if derr != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				p.Log.Warn("detector failed",
					zap.String("method", string(det.Method())),
					zap.Error(derr))
				mu.Lock()
				failed = append(failed, det.Method())
				failedDiags = append(failedDiags, analysis.Diagnostic{
					Code:   analysis.DiagNumericInstability,
					Method: det.Method(),
					Detail: derr.Error(),
				})
				mu.Unlock()
				return nil
			}
			mu.Lock()
			results[det.Method()] = r
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("%w: %d detectors failed", analysis.ErrNoMethods, len(failed))
	}

	verdict := p.Scorer.Fuse(in, results)

	diags := append([]analysis.Diagnostic(nil), in.Diagnostics...)
	diags = append(diags, failedDiags...)
	for _, r := range results {
		diags = append(diags, r.Diagnostics...)
	}
	sort.Slice(failed, func(i, j int) bool { return failed[i] < failed[j] })

	res := &analysis.AnalysisResult{
		Status:                  analysis.StatusSuccess,
		CreatedAt:               started.UTC(),
		PoisonDetected:          verdict.PoisonDetected,
		PoisonConfidence:        verdict.PoisonConfidence,
		PoisonType:              verdict.PoisonType,
		ThreatScore:             verdict.ThreatScore,
		ThreatGrade:             verdict.ThreatGrade,
		EstimatedAccuracyImpact: verdict.EstimatedAccuracyImpact,
		SampleCount:             in.SampleCount,
		SuspiciousIndices:       verdict.SuspiciousIndices,
		ExcludedIndices:         in.Excluded,
		Methods:                 results,
		FailedMethods:           failed,
		Diagnostics:             diags,
		Visualization:           buildVisualization(in, verdict.SuspiciousIndices),
		DurationMS:              time.Since(started).Milliseconds(),
	}

	p.Log.Info("analysis pipeline done",
		zap.String("modality", string(modality)),
		zap.Int("samples", in.SampleCount),
		zap.Int("suspicious", len(res.SuspiciousIndices)),
		zap.Float64("threat_score", res.ThreatScore),
		zap.String("threat_grade", res.ThreatGrade),
		zap.Int64("duration_ms", res.DurationMS))
	return res, nil
}
