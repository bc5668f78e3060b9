package httpserver

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	appanalysis "github.com/bryanwahyu/blackforge/internal/application/analysis"
	appdatasets "github.com/bryanwahyu/blackforge/internal/application/datasets"
	apppurify "github.com/bryanwahyu/blackforge/internal/application/purify"
	domanalysis "github.com/bryanwahyu/blackforge/internal/domain/analysis"
	domaudit "github.com/bryanwahyu/blackforge/internal/domain/audit"
	domdatasets "github.com/bryanwahyu/blackforge/internal/domain/datasets"
	dompurify "github.com/bryanwahyu/blackforge/internal/domain/purify"
	"github.com/bryanwahyu/blackforge/internal/middleware"
)

// maxUploadBytes caps dataset uploads at 512 MiB.
const maxUploadBytes = 512 << 20

type Router struct {
	datasetsSvc *appdatasets.Service
	analysisSvc *appanalysis.Service
	purifySvc   *apppurify.Service
	auditRepo   domaudit.Repository
	uploadsDir  string
}

func NewRouter(
	datasetsSvc *appdatasets.Service,
	analysisSvc *appanalysis.Service,
	purifySvc *apppurify.Service,
	auditRepo domaudit.Repository,
	uploadsDir string,
	healthCheckers map[string]middleware.HealthChecker,
) http.Handler {
	r := &Router{
		datasetsSvc: datasetsSvc,
		analysisSvc: analysisSvc,
		purifySvc:   purifySvc,
		auditRepo:   auditRepo,
		uploadsDir:  uploadsDir,
	}
	mux := chi.NewRouter()

	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
	}))
	mux.Use(middleware.MetricsMiddleware)

	mux.Get("/health", middleware.HealthHandler(healthCheckers))
	mux.Get("/ready", middleware.ReadinessHandler)
	mux.Get("/live", middleware.LivenessHandler)
	mux.Get("/metrics", middleware.MetricsHandler)

	mux.Route("/v1/{tenant}", func(rt chi.Router) {
		rt.Post("/datasets", r.wrap(r.handleUploadDataset))
		rt.Get("/datasets/latest", r.wrap(r.handleDatasetsLatest))
		rt.Get("/datasets/{id}", r.wrap(r.handleDatasetGet))
		rt.Get("/datasets/{id}/download", r.wrap(r.handleDatasetDownload))

		rt.Post("/analyses", r.wrap(r.handleAnalyze))
		rt.Get("/analyses/latest", r.wrap(r.handleAnalysesLatest))
		rt.Get("/analyses/{id}", r.wrap(r.handleAnalysisGet))
		rt.Get("/analyses/{id}/visualization", r.wrap(r.handleVisualization))

		rt.Post("/purifications", r.wrap(r.handlePurify))
		rt.Get("/purifications/latest", r.wrap(r.handlePurificationsLatest))
		rt.Get("/purifications/{id}", r.wrap(r.handlePurificationGet))
		rt.Get("/purifications/{id}/download", r.wrap(r.handlePurificationDownload))

		rt.Get("/jobs/{id}", r.wrap(r.handleJob))
		rt.Get("/audit", r.wrap(r.handleAudit))
		rt.Get("/summary", r.wrap(r.handleSummary))
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := h(w, req); err != nil {
			switch {
			case errors.Is(err, sql.ErrNoRows):
				http.Error(w, "not found", http.StatusNotFound)
			case errors.Is(err, domdatasets.ErrUnsupportedFormat):
				http.Error(w, err.Error(), http.StatusBadRequest)
			case errors.Is(err, domanalysis.ErrStaleReference):
				http.Error(w, err.Error(), http.StatusConflict)
			case errors.Is(err, domanalysis.ErrUnknownMethod):
				http.Error(w, err.Error(), http.StatusBadRequest)
			case errors.Is(err, domanalysis.ErrNoMethods):
				http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			default:
				http.Error(w, err.Error(), http.StatusInternalServerError)
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) error {
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(v)
}

// POST /v1/{tenant}/datasets
// multipart form: file (required), name, modality, tags (comma separated)
func (r *Router) handleUploadDataset(w http.ResponseWriter, req *http.Request) error {
	tenant := chi.URLParam(req, "tenant")

	req.Body = http.MaxBytesReader(w, req.Body, maxUploadBytes)
	if err := req.ParseMultipartForm(32 << 20); err != nil {
		return fmt.Errorf("%w: %v", domdatasets.ErrUnsupportedFormat, err)
	}
	file, header, err := req.FormFile("file")
	if err != nil {
		return fmt.Errorf("%w: missing file field", domdatasets.ErrUnsupportedFormat)
	}
	defer file.Close()

	// Stored under a fresh UUID so a later upload with the same filename
	// can never overwrite an earlier dataset's backing file.
	dst := filepath.Join(r.uploadsDir, uuid.NewString()+filepath.Ext(header.Filename))
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	var tags []string
	if raw := req.FormValue("tags"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
	}

	name := req.FormValue("name")
	if name == "" {
		name = filepath.Base(header.Filename)
	}

	ds, err := r.datasetsSvc.Register(req.Context(), appdatasets.RegisterCommand{
		TenantID: tenant,
		Name:     name,
		Modality: req.FormValue("modality"),
		FilePath: dst,
		Tags:     tags,
	})
	if err != nil {
		os.Remove(dst)
		return err
	}

	w.WriteHeader(http.StatusCreated)
	return writeJSON(w, ds)
}

// GET /v1/{tenant}/datasets/latest?limit=20
func (r *Router) handleDatasetsLatest(w http.ResponseWriter, req *http.Request) error {
	tenant := chi.URLParam(req, "tenant")
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))

	list, err := r.datasetsSvc.Latest(req.Context(), tenant, limit)
	if err != nil {
		return err
	}
	return writeJSON(w, list)
}

// GET /v1/{tenant}/datasets/{id}
func (r *Router) handleDatasetGet(w http.ResponseWriter, req *http.Request) error {
	tenant := chi.URLParam(req, "tenant")
	id := chi.URLParam(req, "id")

	ds, err := r.datasetsSvc.Get(req.Context(), tenant, domdatasets.DatasetID(id))
	if err != nil {
		return err
	}
	return writeJSON(w, ds)
}

// GET /v1/{tenant}/datasets/{id}/download
func (r *Router) handleDatasetDownload(w http.ResponseWriter, req *http.Request) error {
	tenant := chi.URLParam(req, "tenant")
	id := chi.URLParam(req, "id")

	ds, err := r.datasetsSvc.Get(req.Context(), tenant, domdatasets.DatasetID(id))
	if err != nil {
		return err
	}
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", filepath.Base(ds.FilePath)))
	http.ServeFile(w, req, ds.FilePath)
	return nil
}

// POST /v1/{tenant}/analyses
// Body: {"dataset_id": "<id>", "methods": ["spectral_signatures", ...]}
// Omitting methods runs every configured detector. Detection runs in the
// background; poll /jobs/{job_id} for completion.
func (r *Router) handleAnalyze(w http.ResponseWriter, req *http.Request) error {
	tenant := chi.URLParam(req, "tenant")
	var body struct {
		DatasetID string   `json:"dataset_id"`
		Methods   []string `json:"methods"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return err
	}
	if body.DatasetID == "" {
		return fmt.Errorf("dataset_id is required")
	}
	methods := make([]domanalysis.Method, 0, len(body.Methods))
	for _, m := range body.Methods {
		methods = append(methods, domanalysis.Method(m))
	}

	res, err := r.analysisSvc.Start(req.Context(), tenant, domdatasets.DatasetID(body.DatasetID), methods)
	if err != nil {
		return err
	}
	middleware.IncrementAnalyses()

	w.WriteHeader(http.StatusAccepted)
	return writeJSON(w, res)
}

// GET /v1/{tenant}/analyses/latest?limit=20
func (r *Router) handleAnalysesLatest(w http.ResponseWriter, req *http.Request) error {
	tenant := chi.URLParam(req, "tenant")
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))

	list, err := r.analysisSvc.Latest(req.Context(), tenant, limit)
	if err != nil {
		return err
	}
	return writeJSON(w, list)
}

// GET /v1/{tenant}/analyses/{id}
func (r *Router) handleAnalysisGet(w http.ResponseWriter, req *http.Request) error {
	tenant := chi.URLParam(req, "tenant")
	id := chi.URLParam(req, "id")

	a, err := r.analysisSvc.Get(req.Context(), tenant, domanalysis.AnalysisID(id))
	if err != nil {
		return err
	}
	return writeJSON(w, a)
}

// GET /v1/{tenant}/analyses/{id}/visualization
func (r *Router) handleVisualization(w http.ResponseWriter, req *http.Request) error {
	tenant := chi.URLParam(req, "tenant")
	id := chi.URLParam(req, "id")

	a, err := r.analysisSvc.Get(req.Context(), tenant, domanalysis.AnalysisID(id))
	if err != nil {
		return err
	}
	if a.Visualization == nil {
		http.Error(w, "no visualization for this analysis", http.StatusNotFound)
		return nil
	}
	return writeJSON(w, a.Visualization)
}

// POST /v1/{tenant}/purifications
// Body: {"analysis_id": "<id>"}
func (r *Router) handlePurify(w http.ResponseWriter, req *http.Request) error {
	tenant := chi.URLParam(req, "tenant")
	var body struct {
		AnalysisID string `json:"analysis_id"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return err
	}
	if body.AnalysisID == "" {
		return fmt.Errorf("analysis_id is required")
	}

	res, err := r.purifySvc.Start(req.Context(), tenant, domanalysis.AnalysisID(body.AnalysisID))
	if err != nil {
		return err
	}
	middleware.IncrementPurifications()

	w.WriteHeader(http.StatusAccepted)
	return writeJSON(w, res)
}

// GET /v1/{tenant}/purifications/latest?limit=20
func (r *Router) handlePurificationsLatest(w http.ResponseWriter, req *http.Request) error {
	tenant := chi.URLParam(req, "tenant")
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))

	list, err := r.purifySvc.Latest(req.Context(), tenant, limit)
	if err != nil {
		return err
	}
	return writeJSON(w, list)
}

// GET /v1/{tenant}/purifications/{id}
func (r *Router) handlePurificationGet(w http.ResponseWriter, req *http.Request) error {
	tenant := chi.URLParam(req, "tenant")
	id := chi.URLParam(req, "id")

	p, err := r.purifySvc.Get(req.Context(), tenant, dompurify.PurificationID(id))
	if err != nil {
		return err
	}
	return writeJSON(w, p)
}

// GET /v1/{tenant}/purifications/{id}/download
func (r *Router) handlePurificationDownload(w http.ResponseWriter, req *http.Request) error {
	tenant := chi.URLParam(req, "tenant")
	id := chi.URLParam(req, "id")

	p, err := r.purifySvc.Get(req.Context(), tenant, dompurify.PurificationID(id))
	if err != nil {
		return err
	}
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", filepath.Base(p.CleanPath)))
	http.ServeFile(w, req, p.CleanPath)
	return nil
}

// GET /v1/{tenant}/jobs/{id}
func (r *Router) handleJob(w http.ResponseWriter, req *http.Request) error {
	id := chi.URLParam(req, "id")
	job, err := r.analysisSvc.Job(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return nil
	}
	return writeJSON(w, job)
}

// GET /v1/{tenant}/audit?limit=50
func (r *Router) handleAudit(w http.ResponseWriter, req *http.Request) error {
	tenant := chi.URLParam(req, "tenant")
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))

	list, err := r.auditRepo.Latest(req.Context(), tenant, limit)
	if err != nil {
		return err
	}
	return writeJSON(w, list)
}

// GET /v1/{tenant}/summary?days=7
func (r *Router) handleSummary(w http.ResponseWriter, req *http.Request) error {
	tenant := chi.URLParam(req, "tenant")
	days, _ := strconv.Atoi(req.URL.Query().Get("days"))

	summary, err := r.analysisSvc.Summary(req.Context(), tenant, days)
	if err != nil {
		return err
	}
	return writeJSON(w, summary)
}
