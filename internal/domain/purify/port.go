package purify

import "context"

// Repository port (persistence for purification results)
type Repository interface {
	Save(ctx context.Context, p *PurificationResult) error
	Get(ctx context.Context, tenant string, id PurificationID) (*PurificationResult, error)
	Latest(ctx context.Context, tenant string, limit int) ([]*PurificationResult, error)
}
