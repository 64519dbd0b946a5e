package chi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/docsearch/internal/blob"
	"github.com/kailas-cloud/docsearch/internal/domain"
	"github.com/kailas-cloud/docsearch/internal/metrics"
	healthuc "github.com/kailas-cloud/docsearch/internal/usecase/health"
	objectsuc "github.com/kailas-cloud/docsearch/internal/usecase/objects"
)

// Options configures the HTTP surface.
type Options struct {
	APIKeys          []string
	DepartmentHeader string
	MaxUploadBytes   int64
}

// Server serves the search, upload and list APIs.
type Server struct {
	search        Searcher
	objects       Objects
	health        HealthChecker
	opts          Options
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(search Searcher, objects Objects, health HealthChecker, opts Options, logger *zap.Logger) *Server {
	if opts.DepartmentHeader == "" {
		opts.DepartmentHeader = "X-Department"
	}
	return &Server{
		search:        search,
		objects:       objects,
		health:        health,
		opts:          opts,
		logger:        logger,
		errorHandlers: defaultErrorHandlers(),
	}
}

// Handler builds the router with the full middleware stack.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(jsonRecoverer(s.logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(DepartmentMiddleware(s.opts.DepartmentHeader))
	r.Use(wideEventMiddleware(s.logger))
	r.Use(BearerAuthMiddleware(s.opts.APIKeys))
	r.Use(metrics.Middleware())

	r.Post("/search", s.Search)
	r.Put("/objects/*", s.UploadObject)
	r.Get("/objects", s.ListObjects)
	r.Get("/health", s.HealthCheck)
	r.Handle("/metrics", promhttp.Handler())

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, codeNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, codeBadRequest, "method not allowed")
	})

	return otelhttp.NewHandler(r, "docsearch")
}

type searchRequest struct {
	Query string `json:"query"`
}

type hitResponse struct {
	DocumentID    string  `json:"documentId"`
	Text          string  `json:"text"`
	DepartmentTag string  `json:"departmentTag"`
	Score         float64 `json:"score"`
}

type searchResponse struct {
	Hits      []hitResponse `json:"hits"`
	IndexSize int           `json:"index_size"`
}

// Search handles POST /search.
func (s *Server) Search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	res, err := s.search.Search(r.Context(), domain.SearchQuery{
		Text:             req.Query,
		CallerDepartment: DepartmentFromContext(r.Context()),
		K:                domain.DefaultK,
	})
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	hits := make([]hitResponse, len(res.Hits))
	for i, h := range res.Hits {
		hits[i] = hitResponse{
			DocumentID:    h.DocumentID,
			Text:          h.Text,
			DepartmentTag: h.Department.String(),
			Score:         h.Score,
		}
	}
	writeJSON(w, http.StatusOK, searchResponse{Hits: hits, IndexSize: res.IndexSize})
}

// UploadObject handles PUT /objects/{key}. The object is tagged with the caller's department.
func (s *Server) UploadObject(w http.ResponseWriter, r *http.Request) {
	body := io.Reader(r.Body)
	if s.opts.MaxUploadBytes > 0 {
		// one extra byte lets the service see the overflow
		body = io.LimitReader(r.Body, s.opts.MaxUploadBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "failed to read body")
		return
	}

	info, err := s.objects.Upload(r.Context(), objectsuc.UploadInput{
		Key:         chi.URLParam(r, "*"),
		Body:        data,
		ContentType: r.Header.Get("Content-Type"),
		Department:  DepartmentFromContext(r.Context()),
	})
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/objects/%s", info.Key))
	writeJSON(w, http.StatusCreated, info)
}

type listResponse struct {
	Items []blob.ObjectInfo `json:"items"`
}

// ListObjects handles GET /objects?prefix=.
func (s *Server) ListObjects(w http.ResponseWriter, r *http.Request) {
	items, err := s.objects.List(r.Context(), r.URL.Query().Get("prefix"))
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	if items == nil {
		items = []blob.ObjectInfo{}
	}
	writeJSON(w, http.StatusOK, listResponse{Items: items})
}

type healthResponse struct {
	Status healthuc.Status                 `json:"status"`
	Checks map[string]healthuc.CheckResult `json:"checks"`
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, healthResponse{Status: report.Status, Checks: report.Checks})
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := s.logger.With(zap.String("request_id", chiMiddleware.GetReqID(r.Context())))
	for _, h := range s.errorHandlers {
		if h(w, err) {
			log.Warn("Request failed", zap.Error(err))
			return
		}
	}
	if r.Context().Err() != nil {
		log.Info("Request canceled", zap.Error(err))
		return
	}
	log.Error("Internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternal, "internal error")
}
