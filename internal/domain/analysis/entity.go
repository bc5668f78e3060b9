package analysis

import (
	"time"

	"github.com/bryanwahyu/blackforge/internal/domain/datasets"
)

// ID tipe for AnalysisResult
type AnalysisID string

// Method enum
type Method string

const (
	MethodSpectral   Method = "spectral_signatures"
	MethodClustering Method = "activation_clustering"
	MethodInfluence  Method = "influence_functions"
)

// Status enum
type Status string

const (
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Diagnostic codes for non-fatal conditions surfaced in result envelopes.
const (
	DiagInsufficientSamples  = "insufficient_samples"
	DiagNumericInstability   = "numeric_instability"
	DiagExtractionFailure    = "extraction_failure"
	DiagInfluenceUnavailable = "influence_unavailable"
)

// Diagnostic annotates a degraded (non-fatal) condition.
type Diagnostic struct {
	Code    string `json:"code"`
	Method  Method `json:"method,omitempty"`
	Class   int    `json:"class,omitempty"`
	Detail  string `json:"detail"`
	Indices []int  `json:"indices,omitempty"`
}

// DetectionResult is the output of one detector: a suspicion score in
// [0,1] per sample index plus the indices above that method's threshold.
type DetectionResult struct {
	Method            Method       `json:"method"`
	Scores            []float64    `json:"scores"`
	SuspiciousIndices []int        `json:"suspicious_indices"`
	Threshold         float64      `json:"threshold"`
	Confidence        float64      `json:"confidence"` // 0-100
	EstimatedImpact   float64      `json:"estimated_accuracy_impact"`
	Diagnostics       []Diagnostic `json:"diagnostics,omitempty"`
	// Details carries method-specific summary values (per-class thresholds,
	// outlier counts, harmful-influence fraction, ...).
	Details map[string]any `json:"details,omitempty"`
}

// VizPoint is one sample in the 2-D projection of the embedding space.
type VizPoint struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Cluster    int     `json:"cluster"`
	Suspicious bool    `json:"suspicious"`
	Index      int     `json:"index"`
}

type VizBounds struct {
	XMin float64 `json:"x_min"`
	XMax float64 `json:"x_max"`
	YMin float64 `json:"y_min"`
	YMax float64 `json:"y_max"`
}

// Visualization carries the frontend-ready projection of the embeddings.
type Visualization struct {
	Method string     `json:"method"`
	Points []VizPoint `json:"points"`
	Bounds VizBounds  `json:"bounds"`
}

// Aggregate Root: AnalysisResult. Created once per analysis request,
// immutable, referenced by id for later purification.
type AnalysisResult struct {
	ID          AnalysisID         `json:"id"`
	TenantID    string             `json:"tenant_id"`
	DatasetID   datasets.DatasetID `json:"dataset_id"`
	DatasetHash string             `json:"dataset_hash"`
	Status      Status             `json:"status"`
	CreatedAt   time.Time          `json:"created_at"`

	PoisonDetected          bool    `json:"poison_detected"`
	PoisonConfidence        float64 `json:"poison_confidence"` // 0-100
	PoisonType              string  `json:"poison_type"`
	ThreatScore             float64 `json:"threat_score"` // 0-100
	ThreatGrade             string  `json:"threat_grade"` // A-F
	EstimatedAccuracyImpact float64 `json:"estimated_accuracy_impact"`

	SampleCount       int   `json:"sample_count"`
	SuspiciousIndices []int `json:"suspicious_indices"`
	ExcludedIndices   []int `json:"excluded_indices,omitempty"`

	Methods       map[Method]*DetectionResult `json:"results"`
	FailedMethods []Method                    `json:"failed_methods,omitempty"`
	Diagnostics   []Diagnostic                `json:"diagnostics,omitempty"`
	Visualization *Visualization              `json:"visualization,omitempty"`
	DurationMS    int64                       `json:"duration_ms"`
}
