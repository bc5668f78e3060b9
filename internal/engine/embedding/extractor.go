// Package embedding turns raw datasets (CSV rows or image archives) into
// the fixed-dimension embedding matrix every detector consumes.
package embedding

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/bryanwahyu/blackforge/internal/domain/analysis"
	"github.com/bryanwahyu/blackforge/internal/domain/datasets"
)

// Result is the shared input of the detector fan-out: one embedding row
// per eligible sample plus the mapping back to original dataset indices.
type Result struct {
	// Embeddings has one row per eligible sample.
	Embeddings *mat.Dense
	// Labels holds the categorical label id per eligible row.
	Labels []int
	// Index maps embedding row -> original 0-based sample index.
	Index []int
	// SampleCount is the original dataset size, excluded samples included.
	SampleCount int
	// Excluded lists original indices whose embedding could not be
	// computed, with per-sample diagnostics. Never silently dropped.
	Excluded []int
	// ClassNames maps label id -> original label value.
	ClassNames []string

	Diagnostics []analysis.Diagnostic
}

// Dims returns the embedding dimensionality.
func (r *Result) Dims() int {
	_, d := r.Embeddings.Dims()
	return d
}

// Rows returns the number of eligible samples.
func (r *Result) Rows() int {
	n, _ := r.Embeddings.Dims()
	return n
}

// ClassRows returns the embedding row positions of one class, ascending.
func (r *Result) ClassRows(class int) []int {
	var rows []int
	for i, l := range r.Labels {
		if l == class {
			rows = append(rows, i)
		}
	}
	return rows
}

// NumClasses returns the number of distinct labels.
func (r *Result) NumClasses() int { return len(r.ClassNames) }

// Extractor produces embeddings for a dataset. Extraction is read-only:
// the only output is the Result.
type Extractor struct {
	Backbone  *Backbone
	BatchSize int
	ImageSize int
	Log       *zap.Logger
}

// Extract dispatches on modality. Per-sample failures are collected into
// Result.Excluded; only an unknown modality is fatal.
func (e *Extractor) Extract(ctx context.Context, path string, modality datasets.Modality) (*Result, error) {
	switch modality {
	case datasets.ModalityTabular:
		return e.extractCSV(ctx, path)
	case datasets.ModalityImage:
		return e.extractImages(ctx, path)
	default:
		return nil, fmt.Errorf("%w: modality %q", datasets.ErrUnsupportedFormat, modality)
	}
}

func (e *Extractor) batchSize() int {
	if e.BatchSize <= 0 {
		return 64
	}
	return e.BatchSize
}

func (e *Extractor) logger() *zap.Logger {
	if e.Log == nil {
		return zap.NewNop()
	}
	return e.Log
}

func excludeDiagnostic(index int, detail string) analysis.Diagnostic {
	return analysis.Diagnostic{
		Code:    analysis.DiagExtractionFailure,
		Detail:  detail,
		Indices: []int{index},
	}
}
