package postgres

import (
	"context"
	"database/sql"
	"time"

	domain "github.com/bryanwahyu/blackforge/internal/domain/datasets"
)

type DatasetRepository struct {
	db *sql.DB
}

func NewDatasetRepository(db *sql.DB) *DatasetRepository {
	return &DatasetRepository{db: db}
}

func (r *DatasetRepository) Save(ctx context.Context, d *domain.Dataset) error {
	const q = `
INSERT INTO datasets
(id, tenant_id, name, modality, file_path, file_size, file_hash,
 sample_count, artifact_url, uploaded_at, tags, purified_from)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (id) DO UPDATE SET
 sample_count=EXCLUDED.sample_count,
 artifact_url=EXCLUDED.artifact_url,
 tags=EXCLUDED.tags;
`
	tenant := stringOrDash(d.TenantID)
	uploaded := d.UploadedAt
	if uploaded.IsZero() {
		uploaded = time.Now()
	}

	_, err := r.db.ExecContext(ctx, q,
		d.ID, tenant, d.Name, d.Modality, d.FilePath, d.FileSize, d.FileHash,
		d.SampleCount, d.ArtifactURL, uploaded, jsonText(d.Tags), string(d.PurifiedFrom),
	)
	return err
}

func (r *DatasetRepository) Get(ctx context.Context, tenant string, id domain.DatasetID) (*domain.Dataset, error) {
	const q = `
SELECT id, tenant_id, name, modality, file_path, file_size, file_hash,
       sample_count, artifact_url, uploaded_at, tags, purified_from
FROM datasets
WHERE tenant_id=$1 AND id=$2 LIMIT 1;
`
	return scanDataset(r.db.QueryRowContext(ctx, q, tenant, id))
}

func (r *DatasetRepository) Latest(ctx context.Context, tenant string, limit int) ([]*domain.Dataset, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
SELECT id, tenant_id, name, modality, file_path, file_size, file_hash,
       sample_count, artifact_url, uploaded_at, tags, purified_from
FROM datasets
WHERE tenant_id=$1 ORDER BY uploaded_at DESC LIMIT $2;
`
	rows, err := r.db.QueryContext(ctx, q, tenant, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Dataset
	for rows.Next() {
		d, err := scanDataset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanDataset(row rowScanner) (*domain.Dataset, error) {
	var d domain.Dataset
	var tags sql.NullString
	var purifiedFrom sql.NullString
	if err := row.Scan(
		&d.ID, &d.TenantID, &d.Name, &d.Modality, &d.FilePath, &d.FileSize, &d.FileHash,
		&d.SampleCount, &d.ArtifactURL, &d.UploadedAt, &tags, &purifiedFrom,
	); err != nil {
		return nil, err
	}
	if err := scanJSON(tags, &d.Tags); err != nil {
		return nil, err
	}
	if purifiedFrom.Valid {
		d.PurifiedFrom = domain.DatasetID(purifiedFrom.String)
	}
	return &d, nil
}
