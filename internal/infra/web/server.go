package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"image-analysis-backend/internal/config"
	"image-analysis-backend/internal/infra/jobs"
	red "image-analysis-backend/internal/infra/redis"
	"image-analysis-backend/internal/usecase"
)

type Server struct {
	datasetUC  usecase.DatasetUseCase
	imageUC    usecase.ImageUseCase
	resultUC   usecase.ResultUseCase
	jobUC      usecase.JobUseCase
	analysisUC usecase.AnalysisUseCase
	archiveUC  usecase.ArchiveUseCase
	registry   *jobs.Registry

	limiter       *red.RateLimiter
	analysisLimit int

	server *http.Server
	log    *zerolog.Logger
}

func NewServer(
	cfg *config.Config,
	datasetUC usecase.DatasetUseCase,
	imageUC usecase.ImageUseCase,
	resultUC usecase.ResultUseCase,
	jobUC usecase.JobUseCase,
	analysisUC usecase.AnalysisUseCase,
	archiveUC usecase.ArchiveUseCase,
	registry *jobs.Registry,
	limiter *red.RateLimiter,
	logger *zerolog.Logger,
) *Server {
	s := &Server{
		datasetUC:  datasetUC,
		imageUC:    imageUC,
		resultUC:   resultUC,
		jobUC:      jobUC,
		analysisUC: analysisUC,
		archiveUC:  archiveUC,
		registry:   registry,

		limiter:       limiter,
		analysisLimit: cfg.Limits.AnalysisPerMinute,
		log:           logger,
	}
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router builds the full route table. Exported so handler tests can drive it
// through httptest without a listening socket.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestMetrics)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/datasets", func(r chi.Router) {
			r.Post("/", s.handleDatasetCreate)
			r.Get("/", s.handleDatasetList)
			r.Post("/import", s.handleArchiveImport)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleDatasetGet)
				r.Delete("/", s.handleDatasetDelete)
				r.Post("/images", s.handleImageUpload)
				r.Post("/export", s.handleArchiveExport)
			})
		})

		r.Route("/images/{id}", func(r chi.Router) {
			r.Get("/", s.handleImageGet)
			r.Get("/file", s.handleImageFile)
			r.Delete("/", s.handleImageDelete)
		})

		r.Route("/analysis", func(r chi.Router) {
			r.Use(s.rateLimitAnalysis)
			r.Post("/cluster/{imageID}", s.handleAnalysisCluster)
			r.Post("/brightness/{imageID}", s.handleAnalysisBrightness)
			r.Post("/blur/{imageID}", s.handleAnalysisBlur)
			r.Post("/crop/{imageID}", s.handleAnalysisCrop)
		})

		r.Get("/results/{imageID}/{method}", s.handleResultLatest)

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.handleJobList)
			r.Get("/stats", s.handleJobStats)
			r.Delete("/", s.handleJobClear)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleJobGet)
				r.Get("/result", s.handleJobResult)
				r.Post("/cancel", s.handleJobCancel)
				r.Delete("/", s.handleJobDelete)
				r.Get("/ws", s.handleJobWS)
			})
		})

		r.Get("/exports/{filename}", s.handleExportDownload)
	})
	return r
}

// Run serves until ctx is cancelled, then drains with a bounded shutdown.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.server.Addr).Msg("http server listening")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
