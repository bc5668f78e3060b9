package mysql

import (
	"context"
	"database/sql"
	"time"

	domain "github.com/bryanwahyu/blackforge/internal/domain/analysis"
)

type AnalysisRepository struct {
	db *sql.DB
}

func NewAnalysisRepository(db *sql.DB) *AnalysisRepository {
	return &AnalysisRepository{db: db}
}

// Save insert/update AnalysisResult record. Per-method results,
// diagnostics and the visualization go into JSON columns.
func (r *AnalysisRepository) Save(ctx context.Context, a *domain.AnalysisResult) error {
	const q = `
INSERT INTO analysis_results
(id, tenant_id, dataset_id, dataset_hash, status, created_at,
 poison_detected, poison_confidence, poison_type, threat_score, threat_grade,
 estimated_accuracy_impact, sample_count, suspicious_indices, excluded_indices,
 results, failed_methods, diagnostics, visualization, duration_ms)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON DUPLICATE KEY UPDATE
 status=VALUES(status),
 poison_detected=VALUES(poison_detected),
 poison_confidence=VALUES(poison_confidence),
 poison_type=VALUES(poison_type),
 threat_score=VALUES(threat_score),
 threat_grade=VALUES(threat_grade),
 estimated_accuracy_impact=VALUES(estimated_accuracy_impact),
 sample_count=VALUES(sample_count),
 suspicious_indices=VALUES(suspicious_indices),
 excluded_indices=VALUES(excluded_indices),
 results=VALUES(results),
 failed_methods=VALUES(failed_methods),
 diagnostics=VALUES(diagnostics),
 visualization=VALUES(visualization),
 duration_ms=VALUES(duration_ms);
`
	tenant := stringOrDash(a.TenantID)
	created := a.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	_, err := r.db.ExecContext(ctx, q,
		a.ID, tenant, a.DatasetID, a.DatasetHash, a.Status, created,
		a.PoisonDetected, a.PoisonConfidence, a.PoisonType, a.ThreatScore, a.ThreatGrade,
		a.EstimatedAccuracyImpact, a.SampleCount,
		jsonText(a.SuspiciousIndices), jsonText(a.ExcludedIndices),
		jsonText(a.Methods), jsonText(a.FailedMethods), jsonText(a.Diagnostics),
		jsonText(a.Visualization), a.DurationMS,
	)
	return err
}

// Get by ID + Tenant
func (r *AnalysisRepository) Get(ctx context.Context, tenant string, id domain.AnalysisID) (*domain.AnalysisResult, error) {
	const q = `
SELECT id, tenant_id, dataset_id, dataset_hash, status, created_at,
       poison_detected, poison_confidence, poison_type, threat_score, threat_grade,
       estimated_accuracy_impact, sample_count, suspicious_indices, excluded_indices,
       results, failed_methods, diagnostics, visualization, duration_ms
FROM analysis_results
WHERE tenant_id=? AND id=? LIMIT 1;
`
	return scanAnalysis(r.db.QueryRowContext(ctx, q, tenant, id))
}

// Latest analyses per tenant
func (r *AnalysisRepository) Latest(ctx context.Context, tenant string, limit int) ([]*domain.AnalysisResult, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
SELECT id, tenant_id, dataset_id, dataset_hash, status, created_at,
       poison_detected, poison_confidence, poison_type, threat_score, threat_grade,
       estimated_accuracy_impact, sample_count, suspicious_indices, excluded_indices,
       results, failed_methods, diagnostics, visualization, duration_ms
FROM analysis_results
WHERE tenant_id=? ORDER BY created_at DESC LIMIT ?;
`
	rows, err := r.db.QueryContext(ctx, q, tenant, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.AnalysisResult
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpdateStatus hanya update kolom status
func (r *AnalysisRepository) UpdateStatus(ctx context.Context, tenant string, id domain.AnalysisID, status domain.Status) error {
	const q = `
UPDATE analysis_results
SET status = ?
WHERE tenant_id = ? AND id = ?;`
	_, err := r.db.ExecContext(ctx, q, status, tenant, id)
	return err
}

// Summary counts analyses by threat grade since N days
func (r *AnalysisRepository) Summary(ctx context.Context, tenant string, sinceDays int) (int, map[string]int, error) {
	if sinceDays <= 0 {
		sinceDays = 7
	}
	cut := time.Now().AddDate(0, 0, -sinceDays)

	const q = `
SELECT threat_grade, COUNT(*)
FROM analysis_results
WHERE tenant_id=? AND created_at >= ?
GROUP BY threat_grade;
`
	rows, err := r.db.QueryContext(ctx, q, tenant, cut)
	if err != nil {
		return 0, nil, err
	}
	defer rows.Close()

	total := 0
	byGrade := map[string]int{}
	for rows.Next() {
		var grade string
		var n int
		if err := rows.Scan(&grade, &n); err != nil {
			return 0, nil, err
		}
		byGrade[grade] = n
		total += n
	}
	return total, byGrade, rows.Err()
}

func scanAnalysis(row rowScanner) (*domain.AnalysisResult, error) {
	var a domain.AnalysisResult
	var suspicious, excluded, results, failed, diags, viz sql.NullString
	if err := row.Scan(
		&a.ID, &a.TenantID, &a.DatasetID, &a.DatasetHash, &a.Status, &a.CreatedAt,
		&a.PoisonDetected, &a.PoisonConfidence, &a.PoisonType, &a.ThreatScore, &a.ThreatGrade,
		&a.EstimatedAccuracyImpact, &a.SampleCount, &suspicious, &excluded,
		&results, &failed, &diags, &viz, &a.DurationMS,
	); err != nil {
		return nil, err
	}
	if err := scanJSON(suspicious, &a.SuspiciousIndices); err != nil {
		return nil, err
	}
	if err := scanJSON(excluded, &a.ExcludedIndices); err != nil {
		return nil, err
	}
	if err := scanJSON(results, &a.Methods); err != nil {
		return nil, err
	}
	if err := scanJSON(failed, &a.FailedMethods); err != nil {
		return nil, err
	}
	if err := scanJSON(diags, &a.Diagnostics); err != nil {
		return nil, err
	}
	if err := scanJSON(viz, &a.Visualization); err != nil {
		return nil, err
	}
	return &a, nil
}
