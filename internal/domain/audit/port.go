package audit

import "context"

// Repository port (append-only persistence for audit entries)
type Repository interface {
	Save(ctx context.Context, e *Entry) error
	Latest(ctx context.Context, tenant string, limit int) ([]*Entry, error)
}
