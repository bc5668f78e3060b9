// Package engine hosts the detection & purification core: the detector
// capability interface and the analysis pipeline that fans detectors out
// over a shared embedding matrix.
package engine

import (
	"context"

	"github.com/bryanwahyu/blackforge/internal/domain/analysis"
	"github.com/bryanwahyu/blackforge/internal/engine/embedding"
)

// Detector is the uniform contract every detection method implements.
// New methods are added by implementing this interface, not by branching
// on type. Detect must not mutate the shared embedding result.
type Detector interface {
	Method() analysis.Method
	Detect(ctx context.Context, in *embedding.Result) (*analysis.DetectionResult, error)
}
