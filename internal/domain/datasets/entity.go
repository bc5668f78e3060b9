package datasets

import "time"

// ID tipe for Dataset
type DatasetID string

// Modality enum
type Modality string

const (
	ModalityTabular Modality = "tabular"
	ModalityImage   Modality = "image"
)

// Aggregate Root: Dataset. Immutable once uploaded; purification produces
// a new Dataset instead of mutating this one.
type Dataset struct {
	ID          DatasetID `json:"id"`
	TenantID    string    `json:"tenant_id"`
	Name        string    `json:"name"`
	Modality    Modality  `json:"modality"`
	FilePath    string    `json:"file_path"`
	FileSize    int64     `json:"file_size"`
	FileHash    string    `json:"file_hash"`
	SampleCount int       `json:"sample_count"`
	ArtifactURL string    `json:"artifact_url,omitempty"`
	UploadedAt  time.Time `json:"uploaded_at"`
	Tags        []string  `json:"tags,omitempty"`
	// PurifiedFrom points at the source dataset when this one was produced
	// by the purifier.
	PurifiedFrom DatasetID `json:"purified_from,omitempty"`
}
