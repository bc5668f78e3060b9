package purify

import (
	"time"

	"github.com/bryanwahyu/blackforge/internal/domain/analysis"
	"github.com/bryanwahyu/blackforge/internal/domain/datasets"
)

// ID tipe for PurificationResult
type PurificationID string

// PurificationResult records one purification run. Created once per
// request; the clean dataset is a new Dataset aggregate.
type PurificationResult struct {
	ID             PurificationID      `json:"id"`
	TenantID       string              `json:"tenant_id"`
	AnalysisID     analysis.AnalysisID `json:"analysis_id"`
	DatasetID      datasets.DatasetID  `json:"dataset_id"`
	CleanDatasetID datasets.DatasetID  `json:"clean_dataset_id"`
	CleanPath      string              `json:"clean_dataset_path"`
	ArtifactURL    string              `json:"artifact_url,omitempty"`

	PoisonedSamplesRemoved int     `json:"poisoned_samples_removed"`
	AccuracyBefore         float64 `json:"accuracy_before"`
	AccuracyAfter          float64 `json:"accuracy_after"`
	DataIntegrityScore     float64 `json:"data_integrity_score"`

	CreatedAt time.Time `json:"created_at"`
}
