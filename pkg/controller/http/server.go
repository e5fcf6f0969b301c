package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/usecase"
	"github.com/secmon-lab/mnemosyne/pkg/utils/errutil"
	"github.com/secmon-lab/mnemosyne/pkg/utils/logging"
)

type AuthUseCase = usecase.AuthUseCaseInterface

// DocumentUseCase is the part of usecase.DocumentUseCase served over HTTP
type DocumentUseCase interface {
	StartIngestion(ctx context.Context, input usecase.ProcessDocumentInput) (*model.Document, error)
	GetStatus(ctx context.Context, userID string, id model.DocumentID) (*model.Document, error)
}

// QueryUseCase is the part of usecase.QueryUseCase served over HTTP
type QueryUseCase interface {
	ProcessQuery(ctx context.Context, q model.Query) (*model.QueryResult, error)
}

// Server is the HTTP API handler
type Server struct {
	router   *chi.Mux
	authUC   AuthUseCase
	document DocumentUseCase
	query    QueryUseCase
}

// Options is a functional option for Server
type Options func(*Server)

// WithAuth protects the API routes with bearer token authentication
func WithAuth(authUC AuthUseCase) Options {
	return func(s *Server) {
		s.authUC = authUC
	}
}

// New builds the router
func New(document DocumentUseCase, query QueryUseCase, opts ...Options) (*Server, error) {
	r := chi.NewRouter()

	s := &Server{
		router:   r,
		document: document,
		query:    query,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.authUC == nil {
		return nil, goerr.New("auth use case is required")
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(accessLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", healthHandler)

	r.Route("/api", func(r chi.Router) {
		r.Use(authMiddleware(s.authUC))
		r.Post("/ingest", ingestHandler(s.document))
		r.Get("/ingest", ingestStatusHandler(s.document))
		r.Post("/query", queryHandler(s.query))
	})

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// accessLogger is a middleware that logs HTTP requests
func accessLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			logging.Default().Info("access",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"remote", r.RemoteAddr,
				"user_agent", r.UserAgent(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		errutil.HandleHTTP(r.Context(), w, goerr.Wrap(err, "failed to marshal response"), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data) //nolint:errcheck // header already committed
}
