package mysql

import (
	"context"
	"database/sql"
	"time"

	domain "github.com/bryanwahyu/blackforge/internal/domain/purify"
)

type PurificationRepository struct {
	db *sql.DB
}

func NewPurificationRepository(db *sql.DB) *PurificationRepository {
	return &PurificationRepository{db: db}
}

// Save insert PurificationResult record (append-only, no update path)
func (r *PurificationRepository) Save(ctx context.Context, p *domain.PurificationResult) error {
	const q = `
INSERT INTO purification_results
(id, tenant_id, analysis_id, dataset_id, clean_dataset_id, clean_path, artifact_url,
 poisoned_samples_removed, accuracy_before, accuracy_after, data_integrity_score, created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?);
`
	tenant := stringOrDash(p.TenantID)
	created := p.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	_, err := r.db.ExecContext(ctx, q,
		p.ID, tenant, p.AnalysisID, p.DatasetID, p.CleanDatasetID, p.CleanPath, p.ArtifactURL,
		p.PoisonedSamplesRemoved, p.AccuracyBefore, p.AccuracyAfter, p.DataIntegrityScore, created,
	)
	return err
}

// Get by ID + Tenant
func (r *PurificationRepository) Get(ctx context.Context, tenant string, id domain.PurificationID) (*domain.PurificationResult, error) {
	const q = `
SELECT id, tenant_id, analysis_id, dataset_id, clean_dataset_id, clean_path, artifact_url,
       poisoned_samples_removed, accuracy_before, accuracy_after, data_integrity_score, created_at
FROM purification_results
WHERE tenant_id=? AND id=? LIMIT 1;
`
	return scanPurification(r.db.QueryRowContext(ctx, q, tenant, id))
}

// Latest purifications per tenant
func (r *PurificationRepository) Latest(ctx context.Context, tenant string, limit int) ([]*domain.PurificationResult, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
SELECT id, tenant_id, analysis_id, dataset_id, clean_dataset_id, clean_path, artifact_url,
       poisoned_samples_removed, accuracy_before, accuracy_after, data_integrity_score, created_at
FROM purification_results
WHERE tenant_id=? ORDER BY created_at DESC LIMIT ?;
`
	rows, err := r.db.QueryContext(ctx, q, tenant, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.PurificationResult
	for rows.Next() {
		p, err := scanPurification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPurification(row rowScanner) (*domain.PurificationResult, error) {
	var p domain.PurificationResult
	if err := row.Scan(
		&p.ID, &p.TenantID, &p.AnalysisID, &p.DatasetID, &p.CleanDatasetID, &p.CleanPath, &p.ArtifactURL,
		&p.PoisonedSamplesRemoved, &p.AccuracyBefore, &p.AccuracyAfter, &p.DataIntegrityScore, &p.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &p, nil
}
