package mysql

import (
	"context"
	"database/sql"
	"time"

	domain "github.com/bryanwahyu/blackforge/internal/domain/audit"
)

type AuditRepository struct {
	db *sql.DB
}

func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Save appends one audit entry; audit records are never updated.
func (r *AuditRepository) Save(ctx context.Context, e *domain.Entry) error {
	const q = `
INSERT INTO audit_logs
(id, tenant_id, dataset_id, detection_method, action, threat_score, threat_grade,
 mitigation_applied, details, ts)
VALUES (?,?,?,?,?,?,?,?,?,?);
`
	tenant := stringOrDash(e.TenantID)
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	details := e.DetailsJSON
	if details == "" {
		details = "null"
	}

	_, err := r.db.ExecContext(ctx, q,
		e.ID, tenant, e.DatasetID, e.DetectionMethod, e.Action, e.ThreatScore, e.ThreatGrade,
		e.MitigationApplied, details, ts,
	)
	return err
}

// Latest audit entries per tenant
func (r *AuditRepository) Latest(ctx context.Context, tenant string, limit int) ([]*domain.Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
SELECT id, tenant_id, dataset_id, detection_method, action, threat_score, threat_grade,
       mitigation_applied, details, ts
FROM audit_logs
WHERE tenant_id=? ORDER BY ts DESC LIMIT ?;
`
	rows, err := r.db.QueryContext(ctx, q, tenant, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Entry
	for rows.Next() {
		var e domain.Entry
		var details sql.NullString
		if err := rows.Scan(
			&e.ID, &e.TenantID, &e.DatasetID, &e.DetectionMethod, &e.Action,
			&e.ThreatScore, &e.ThreatGrade, &e.MitigationApplied, &details, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		if details.Valid && details.String != "null" {
			e.DetailsJSON = details.String
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
