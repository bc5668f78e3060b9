package analysis

import "context"

// Repository port (persistence for analysis results)
type Repository interface {
	Save(ctx context.Context, a *AnalysisResult) error
	Get(ctx context.Context, tenant string, id AnalysisID) (*AnalysisResult, error)
	Latest(ctx context.Context, tenant string, limit int) ([]*AnalysisResult, error)
	UpdateStatus(ctx context.Context, tenant string, id AnalysisID, status Status) error
	Summary(ctx context.Context, tenant string, sinceDays int) (total int, byGrade map[string]int, err error)
}
