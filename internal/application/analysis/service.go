package analysis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bryanwahyu/blackforge/internal/application"
	domain "github.com/bryanwahyu/blackforge/internal/domain/analysis"
	"github.com/bryanwahyu/blackforge/internal/domain/audit"
	"github.com/bryanwahyu/blackforge/internal/domain/datasets"
	"github.com/bryanwahyu/blackforge/internal/engine"
	"github.com/bryanwahyu/blackforge/internal/infra/jobs"
	"github.com/bryanwahyu/blackforge/internal/middleware"
)

// Service implements use-cases untuk analisis dataset
type Service struct {
	Datasets datasets.Repository
	Repo     domain.Repository
	Audit    audit.Repository
	Pipeline *engine.Pipeline
	Jobs     *jobs.Manager
	Clock    application.Clock
	Log      *zap.Logger
}

// StartResult is the immediate response to an analyze request; the
// client polls the job until the analysis is done.
type StartResult struct {
	JobID      string `json:"job_id"`
	AnalysisID string `json:"analysis_id"`
	Status     string `json:"status"`
}

// Start registers a running analysis row and kicks the detection
// pipeline off in the background. An empty methods set runs every
// configured detector.
func (s *Service) Start(ctx context.Context, tenant string, datasetID datasets.DatasetID, methods []domain.Method) (*StartResult, error) {
	for _, m := range methods {
		switch m {
		case domain.MethodSpectral, domain.MethodClustering, domain.MethodInfluence:
		default:
			return nil, fmt.Errorf("%w: %q", domain.ErrUnknownMethod, m)
		}
	}

	ds, err := s.Datasets.Get(ctx, tenant, datasetID)
	if err != nil {
		return nil, err
	}

	id := domain.AnalysisID(uuid.NewString())
	initial := &domain.AnalysisResult{
		ID:          id,
		TenantID:    tenant,
		DatasetID:   ds.ID,
		DatasetHash: ds.FileHash,
		Status:      domain.StatusRunning,
		CreatedAt:   s.Clock.Now(),
		SampleCount: ds.SampleCount,
	}
	if err := s.Repo.Save(ctx, initial); err != nil {
		return nil, err
	}

	jobID := s.Jobs.Submit("analysis", func(jctx context.Context) (string, error) {
		middleware.IncrementAnalysesRunning()
		defer middleware.DecrementAnalysesRunning()

		res, runErr := s.Pipeline.RunMethods(jctx, ds.FilePath, ds.Modality, methods)
		if runErr != nil {
			middleware.IncrementAnalysesFailed()
			_ = s.Repo.UpdateStatus(jctx, tenant, id, domain.StatusFailed)
			return "", runErr
		}
		res.ID = id
		res.TenantID = tenant
		res.DatasetID = ds.ID
		res.DatasetHash = ds.FileHash
		if err := s.Repo.Save(jctx, res); err != nil {
			middleware.IncrementAnalysesFailed()
			return "", err
		}
		s.recordAudit(jctx, tenant, ds, res)
		return string(id), nil
	})

	return &StartResult{JobID: jobID, AnalysisID: string(id), Status: string(domain.StatusRunning)}, nil
}

// recordAudit appends one DETECTION_RUN entry per finished analysis.
// Audit failures are logged, never propagated.
func (s *Service) recordAudit(ctx context.Context, tenant string, ds *datasets.Dataset, res *domain.AnalysisResult) {
	details, _ := json.Marshal(map[string]any{
		"analysis_id":       res.ID,
		"poison_detected":   res.PoisonDetected,
		"poison_type":       res.PoisonType,
		"poison_confidence": res.PoisonConfidence,
		"suspicious_count":  len(res.SuspiciousIndices),
		"failed_methods":    res.FailedMethods,
	})
	entry := &audit.Entry{
		ID:              uuid.NewString(),
		TenantID:        tenant,
		DatasetID:       string(ds.ID),
		DetectionMethod: "ensemble",
		Action:          audit.ActionDetection,
		ThreatScore:     res.ThreatScore,
		ThreatGrade:     res.ThreatGrade,
		DetailsJSON:     string(details),
		Timestamp:       s.Clock.Now(),
	}
	if err := s.Audit.Save(ctx, entry); err != nil {
		s.Log.Warn("audit save failed", zap.String("analysis_id", string(res.ID)), zap.Error(err))
	}
}

// Job returns the pollable state of a background job.
func (s *Service) Job(id string) (*jobs.Job, error) {
	job := s.Jobs.Get(id)
	if job == nil {
		return nil, fmt.Errorf("job not found: %s", id)
	}
	return job, nil
}

// Get ambil 1 analysis by id
func (s *Service) Get(ctx context.Context, tenant string, id domain.AnalysisID) (*domain.AnalysisResult, error) {
	return s.Repo.Get(ctx, tenant, id)
}

// Latest ambil N analysis terakhir
func (s *Service) Latest(ctx context.Context, tenant string, limit int) ([]*domain.AnalysisResult, error) {
	return s.Repo.Latest(ctx, tenant, limit)
}

// Summary rekap analisis N hari terakhir, dikelompokkan per grade
func (s *Service) Summary(ctx context.Context, tenant string, sinceDays int) (map[string]any, error) {
	total, byGrade, err := s.Repo.Summary(ctx, tenant, sinceDays)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"total_analyses": total,
		"by_grade":       byGrade,
	}, nil
}
