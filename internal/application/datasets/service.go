package datasets

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bryanwahyu/blackforge/internal/application"
	domain "github.com/bryanwahyu/blackforge/internal/domain/datasets"
	"github.com/bryanwahyu/blackforge/internal/engine/embedding"
)

// Service implements use-cases untuk Dataset
type Service struct {
	Repo       domain.Repository
	Blobs      domain.BlobStore
	UploadsDir string
	Clock      application.Clock
	Log        *zap.Logger
}

// RegisterCommand describes an uploaded dataset file already sitting in
// the uploads directory.
type RegisterCommand struct {
	TenantID string
	Name     string
	Modality string
	FilePath string
	Tags     []string
}

// Register validates the uploaded file, hashes it, counts its samples
// and persists the Dataset aggregate. The file itself stays on disk for
// analysis; a copy goes to blob storage.
func (s *Service) Register(ctx context.Context, cmd RegisterCommand) (*domain.Dataset, error) {
	modality, err := resolveModality(cmd.Modality, cmd.FilePath)
	if err != nil {
		return nil, err
	}

	hash, size, err := hashFile(cmd.FilePath)
	if err != nil {
		return nil, err
	}
	count, err := countSamples(cmd.FilePath, modality)
	if err != nil {
		return nil, err
	}

	id := domain.DatasetID(uuid.NewString())
	name := cmd.Name
	if name == "" {
		name = filepath.Base(cmd.FilePath)
	}

	key := fmt.Sprintf("%s/datasets/%s%s", cmd.TenantID, id, filepath.Ext(cmd.FilePath))
	url, err := s.Blobs.Upload(ctx, cmd.FilePath, key)
	if err != nil {
		// blob storage is archival; the local copy still serves analysis
		s.Log.Warn("dataset artifact upload failed", zap.String("dataset_id", string(id)), zap.Error(err))
		url = ""
	}

	d := &domain.Dataset{
		ID:          id,
		TenantID:    cmd.TenantID,
		Name:        name,
		Modality:    modality,
		FilePath:    cmd.FilePath,
		FileSize:    size,
		FileHash:    hash,
		SampleCount: count,
		ArtifactURL: url,
		UploadedAt:  s.Clock.Now(),
		Tags:        cmd.Tags,
	}
	if err := s.Repo.Save(ctx, d); err != nil {
		return nil, err
	}

	s.Log.Info("dataset registered",
		zap.String("dataset_id", string(id)),
		zap.String("modality", string(modality)),
		zap.Int("samples", count))
	return d, nil
}

// Get ambil 1 dataset by id
func (s *Service) Get(ctx context.Context, tenant string, id domain.DatasetID) (*domain.Dataset, error) {
	return s.Repo.Get(ctx, tenant, id)
}

// Latest ambil N dataset terakhir
func (s *Service) Latest(ctx context.Context, tenant string, limit int) ([]*domain.Dataset, error) {
	return s.Repo.Latest(ctx, tenant, limit)
}

// resolveModality checks the declared modality against the file
// extension; an empty declaration is inferred from the extension.
func resolveModality(declared, path string) (domain.Modality, error) {
	ext := strings.ToLower(filepath.Ext(path))
	var fromExt domain.Modality
	switch ext {
	case ".csv":
		fromExt = domain.ModalityTabular
	case ".zip":
		fromExt = domain.ModalityImage
	default:
		return "", fmt.Errorf("%w: extension %q", domain.ErrUnsupportedFormat, ext)
	}
	if declared == "" || domain.Modality(declared) == fromExt {
		return fromExt, nil
	}
	return "", fmt.Errorf("%w: modality %q does not match %q file", domain.ErrUnsupportedFormat, declared, ext)
}

// countSamples counts data rows (tabular) or image entries (archive)
// using the same header/entry rules the extractor applies.
func countSamples(path string, modality domain.Modality) (int, error) {
	switch modality {
	case domain.ModalityTabular:
		f, err := os.Open(path)
		if err != nil {
			return 0, err
		}
		defer f.Close()
		reader := csv.NewReader(f)
		reader.FieldsPerRecord = -1
		records, err := reader.ReadAll()
		if err != nil {
			return 0, fmt.Errorf("%w: %v", domain.ErrUnsupportedFormat, err)
		}
		if len(records) > 0 && embedding.IsHeader(records[0]) {
			records = records[1:]
		}
		return len(records), nil
	case domain.ModalityImage:
		zr, err := zip.OpenReader(path)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", domain.ErrUnsupportedFormat, err)
		}
		defer zr.Close()
		return len(embedding.ArchiveEntries(&zr.Reader)), nil
	}
	return 0, fmt.Errorf("%w: modality %q", domain.ErrUnsupportedFormat, modality)
}

func hashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}
