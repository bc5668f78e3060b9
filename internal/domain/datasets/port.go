package datasets

import "context"

// Repository port (persistence for dataset metadata)
type Repository interface {
	Save(ctx context.Context, d *Dataset) error
	Get(ctx context.Context, tenant string, id DatasetID) (*Dataset, error)
	Latest(ctx context.Context, tenant string, limit int) ([]*Dataset, error)
}

// BlobStore port (artifact storage for dataset files)
type BlobStore interface {
	Upload(ctx context.Context, localPath, key string) (string, error)
}
