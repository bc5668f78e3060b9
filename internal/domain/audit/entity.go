package audit

import "time"

// Entry is one append-only audit record. The engine returns these as
// data; the application layer persists them.
type Entry struct {
	ID                string    `json:"id"`
	TenantID          string    `json:"tenant_id"`
	DatasetID         string    `json:"dataset_id,omitempty"`
	DetectionMethod   string    `json:"detection_method"`
	Action            string    `json:"action"` // DETECTION_RUN | PURIFICATION
	ThreatScore       float64   `json:"threat_score"`
	ThreatGrade       string    `json:"threat_grade"`
	MitigationApplied bool      `json:"mitigation_applied"`
	DetailsJSON       string    `json:"details,omitempty"` // raw JSON string
	Timestamp         time.Time `json:"timestamp"`
}

const (
	ActionDetection    = "DETECTION_RUN"
	ActionPurification = "PURIFICATION"
)
