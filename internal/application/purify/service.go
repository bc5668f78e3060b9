package purify

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bryanwahyu/blackforge/internal/application"
	"github.com/bryanwahyu/blackforge/internal/domain/analysis"
	"github.com/bryanwahyu/blackforge/internal/domain/audit"
	"github.com/bryanwahyu/blackforge/internal/domain/datasets"
	domain "github.com/bryanwahyu/blackforge/internal/domain/purify"
	"github.com/bryanwahyu/blackforge/internal/engine/purifier"
	"github.com/bryanwahyu/blackforge/internal/middleware"
)

// jobsManager is the slice of the job manager this service uses.
type jobsManager interface {
	Submit(kind string, fn func(ctx context.Context) (string, error)) string
}

// Service implements use-cases untuk purifikasi dataset
type Service struct {
	Datasets   datasets.Repository
	Analyses   analysis.Repository
	Repo       domain.Repository
	Audit      audit.Repository
	Purifier   *purifier.Purifier
	Blobs      datasets.BlobStore
	Jobs       jobsManager
	UploadsDir string
	Clock      application.Clock
	Log        *zap.Logger
}

// StartResult is the immediate response to a purify request.
type StartResult struct {
	JobID          string `json:"job_id"`
	PurificationID string `json:"purification_id"`
	Status         string `json:"status"`
}

// Start validates the analysis reference against the current dataset
// file and kicks the purification off in the background. A hash mismatch
// means the flagged indices describe a file that no longer exists, so
// the reference is rejected as stale.
func (s *Service) Start(ctx context.Context, tenant string, analysisID analysis.AnalysisID) (*StartResult, error) {
	a, err := s.Analyses.Get(ctx, tenant, analysisID)
	if err != nil {
		return nil, err
	}
	ds, err := s.Datasets.Get(ctx, tenant, a.DatasetID)
	if err != nil {
		return nil, err
	}
	if a.DatasetHash != ds.FileHash {
		return nil, fmt.Errorf("%w: analysis %s was computed over a different file", analysis.ErrStaleReference, analysisID)
	}
	if a.Status != analysis.StatusSuccess {
		return nil, fmt.Errorf("analysis %s is %s, need success", analysisID, a.Status)
	}

	id := domain.PurificationID(uuid.NewString())
	cleanID := datasets.DatasetID(uuid.NewString())
	outPath := filepath.Join(s.UploadsDir, fmt.Sprintf("%s%s", cleanID, filepath.Ext(ds.FilePath)))

	jobID := s.Jobs.Submit("purification", func(jctx context.Context) (string, error) {
		out, runErr := s.Purifier.Purify(jctx, purifier.Input{
			SourcePath:              ds.FilePath,
			Modality:                ds.Modality,
			Suspicious:              a.SuspiciousIndices,
			EstimatedAccuracyImpact: a.EstimatedAccuracyImpact,
			OutPath:                 outPath,
		})
		if runErr != nil {
			return "", runErr
		}

		key := fmt.Sprintf("%s/purified/%s%s", tenant, cleanID, filepath.Ext(outPath))
		url, upErr := s.Blobs.Upload(jctx, outPath, key)
		if upErr != nil {
			s.Log.Warn("purified artifact upload failed", zap.String("purification_id", string(id)), zap.Error(upErr))
			url = ""
		}

		clean := &datasets.Dataset{
			ID:           cleanID,
			TenantID:     tenant,
			Name:         ds.Name + " (purified)",
			Modality:     ds.Modality,
			FilePath:     outPath,
			FileSize:     out.CleanSize,
			FileHash:     out.CleanHash,
			SampleCount:  out.CleanSampleCount,
			ArtifactURL:  url,
			UploadedAt:   s.Clock.Now(),
			Tags:         ds.Tags,
			PurifiedFrom: ds.ID,
		}
		if err := s.Datasets.Save(jctx, clean); err != nil {
			return "", err
		}

		result := &domain.PurificationResult{
			ID:                     id,
			TenantID:               tenant,
			AnalysisID:             a.ID,
			DatasetID:              ds.ID,
			CleanDatasetID:         cleanID,
			CleanPath:              outPath,
			ArtifactURL:            url,
			PoisonedSamplesRemoved: out.Removed,
			AccuracyBefore:         out.AccuracyBefore,
			AccuracyAfter:          out.AccuracyAfter,
			DataIntegrityScore:     out.IntegrityScore,
			CreatedAt:              s.Clock.Now(),
		}
		if err := s.Repo.Save(jctx, result); err != nil {
			return "", err
		}
		middleware.AddSamplesQuarantined(out.Removed)
		s.recordAudit(jctx, tenant, a, result)
		return string(id), nil
	})

	return &StartResult{JobID: jobID, PurificationID: string(id), Status: "running"}, nil
}

func (s *Service) recordAudit(ctx context.Context, tenant string, a *analysis.AnalysisResult, res *domain.PurificationResult) {
	details, _ := json.Marshal(map[string]any{
		"purification_id":  res.ID,
		"analysis_id":      res.AnalysisID,
		"clean_dataset_id": res.CleanDatasetID,
		"samples_removed":  res.PoisonedSamplesRemoved,
		"integrity_score":  res.DataIntegrityScore,
	})
	entry := &audit.Entry{
		ID:                uuid.NewString(),
		TenantID:          tenant,
		DatasetID:         string(res.DatasetID),
		DetectionMethod:   "ensemble",
		Action:            audit.ActionPurification,
		ThreatScore:       a.ThreatScore,
		ThreatGrade:       a.ThreatGrade,
		MitigationApplied: true,
		DetailsJSON:       string(details),
		Timestamp:         s.Clock.Now(),
	}
	if err := s.Audit.Save(ctx, entry); err != nil {
		s.Log.Warn("audit save failed", zap.String("purification_id", string(res.ID)), zap.Error(err))
	}
}

// Get ambil 1 purification by id
func (s *Service) Get(ctx context.Context, tenant string, id domain.PurificationID) (*domain.PurificationResult, error) {
	return s.Repo.Get(ctx, tenant, id)
}

// Latest ambil N purification terakhir
func (s *Service) Latest(ctx context.Context, tenant string, limit int) ([]*domain.PurificationResult, error) {
	return s.Repo.Latest(ctx, tenant, limit)
}
