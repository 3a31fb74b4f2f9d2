package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/bddgen/internal/pipeline"
	"github.com/MikeSquared-Agency/bddgen/internal/sheet"
	"github.com/MikeSquared-Agency/bddgen/internal/store"
	"github.com/MikeSquared-Agency/bddgen/internal/testcase"
)

const defaultMaxUploadBytes = 10 << 20

// Runner is the part of the orchestrator the HTTP routes drive.
type Runner interface {
	TestCases(ctx context.Context, userStory, acceptanceCriteria string, temperature float64) (*pipeline.ArtifactSet, error)
	CodeFromTable(ctx context.Context, t *sheet.Table, temperature float64) (*pipeline.ArtifactSet, error)
}

type ArtifactStore interface {
	SaveArtifact(ctx context.Context, a store.Artifact) error
	TakeArtifact(ctx context.Context, id uuid.UUID) (*store.Artifact, error)
	ListRun(ctx context.Context, runID uuid.UUID) ([]store.Artifact, error)
}

type Options struct {
	Port  int
	Users map[string]string
	// AuthDisabled serves the protected routes without credentials when no
	// users are configured. Otherwise an empty user list refuses everyone.
	AuthDisabled   bool
	MaxUploadBytes int64
}

type Server struct {
	router    *chi.Mux
	runner    Runner
	artifacts ArtifactStore
	opts      Options
	logger    *slog.Logger
	srv       *http.Server
}

func NewServer(r Runner, a ArtifactStore, opts Options, logger *slog.Logger) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:    router,
		runner:    r,
		artifacts: a,
		opts:      opts,
		logger:    logger,
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%d", opts.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}

	router.Get("/health", s.health)

	switch {
	case len(opts.Users) > 0:
	case opts.AuthDisabled:
		logger.Warn("basic auth disabled, generation routes are open")
	default:
		logger.Warn("no users configured, generation routes will refuse every request")
	}

	router.Group(func(r chi.Router) {
		if len(opts.Users) > 0 || !opts.AuthDisabled {
			r.Use(middleware.BasicAuth("bddgen", opts.Users))
		}
		r.Post("/generate_test_cases", s.generateTestCases)
		r.Post("/generate_java_bdd", s.generateJavaBDD)
		r.Get("/download_file", s.downloadFile)
		r.Get("/runs/{runID}/artifacts", s.listRunArtifacts)
	})

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("API server starting", "addr", s.srv.Addr, "basic_auth", len(s.opts.Users) > 0)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type testCasesRequest struct {
	UserStory          string  `json:"user_story"`
	AcceptanceCriteria string  `json:"acceptance_criteria"`
	Temperature        float64 `json:"temperature"`
}

func (s *Server) generateTestCases(w http.ResponseWriter, r *http.Request) {
	var req testCasesRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserStory == "" {
		writeError(w, http.StatusBadRequest, "user_story is required")
		return
	}

	set, err := s.runner.TestCases(r.Context(), req.UserStory, req.AcceptanceCriteria, req.Temperature)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if set.TestCases == nil {
		s.logger.Warn("no test cases to export", "run_id", set.RunID, "warnings", set.Warnings)
		writeError(w, http.StatusBadGateway, pipeline.WarnMalformedTestCases)
		return
	}

	content, err := testcase.XLSX(set.TestCases)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	a := store.NewArtifact(set.RunID, store.KindTestCases, content)
	if err := s.artifacts.SaveArtifact(r.Context(), a); err != nil {
		// The workbook is still returned; only the stored copy is lost.
		s.logger.Error("failed to store test case artifact", "run_id", set.RunID, "error", err)
	} else {
		w.Header().Set("X-Artifact-Id", a.ID.String())
	}
	w.Header().Set("X-Run-Id", set.RunID.String())

	writeAttachment(w, a)
}

type codeResponse struct {
	RunID               string `json:"run_id"`
	FeatureDownloadLink string `json:"feature_download_link"`
	GlueDownloadLink    string `json:"glue_download_link"`
}

func (s *Server) generateJavaBDD(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > s.opts.MaxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	file, header, err := r.FormFile("test_cases_file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "test_cases_file is required")
		return
	}
	defer file.Close()

	format, err := sheet.FormatFromName(header.Filename)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	table, err := sheet.Read(file, format)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	temperature, err := formTemperature(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	set, err := s.runner.CodeFromTable(r.Context(), table, temperature)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	feature := store.NewArtifact(set.RunID, store.KindFeature, []byte(set.Feature))
	glue := store.NewArtifact(set.RunID, store.KindGlue, []byte(set.Glue))
	for _, a := range []store.Artifact{feature, glue} {
		if err := s.artifacts.SaveArtifact(r.Context(), a); err != nil {
			s.fail(w, r, fmt.Errorf("save %s artifact: %w", a.Kind, err))
			return
		}
	}

	writeJSON(w, http.StatusOK, codeResponse{
		RunID:               set.RunID.String(),
		FeatureDownloadLink: downloadLink(feature.ID),
		GlueDownloadLink:    downloadLink(glue.ID),
	})
}

func (s *Server) downloadFile(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.URL.Query().Get("file"))
	if err != nil {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}

	a, err := s.artifacts.TakeArtifact(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("artifact downloaded", "id", a.ID, "run_id", a.RunID, "kind", a.Kind)
	writeAttachment(w, *a)
}

type artifactInfo struct {
	store.Artifact
	DownloadLink string `json:"download_link"`
}

// listRunArtifacts lists what a run produced that has not been downloaded yet.
func (s *Server) listRunArtifacts(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(chi.URLParam(r, "runID"))
	if err != nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}

	artifacts, err := s.artifacts.ListRun(r.Context(), runID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]artifactInfo, 0, len(artifacts))
	for _, a := range artifacts {
		out = append(out, artifactInfo{Artifact: a, DownloadLink: downloadLink(a.ID)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"run_id": runID, "artifacts": out})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	s.logger.Error("request failed",
		"path", r.URL.Path,
		"request_id", middleware.GetReqID(r.Context()),
		"status", status,
		"error", err,
	)
	writeError(w, status, err.Error())
}

func downloadLink(id uuid.UUID) string {
	return "/download_file?file=" + id.String()
}
