package chi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	marqo "github.com/marqo-ai/marqo-haystack"
	logpkg "github.com/marqo-ai/marqo-haystack/internal/logger"
)

const (
	maxBatchSize = 1000
	maxBodyBytes = 32 << 20
)

// ErrorCode is the machine-readable code of an error response.
type ErrorCode string

// Error codes.
const (
	CodeBadRequest        ErrorCode = "bad_request"
	CodeValidationFailed  ErrorCode = "validation_failed"
	CodeInvalidFilter     ErrorCode = "invalid_filter"
	CodeDuplicateDocument ErrorCode = "duplicate_document"
	CodeDocumentsRejected ErrorCode = "documents_rejected"
	CodeUnauthorized      ErrorCode = "unauthorized"
	CodeMarqoError        ErrorCode = "marqo_error"
	CodeInternalError     ErrorCode = "internal_error"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// Store is the document store the server exposes. *marqo.DocumentStore implements it.
type Store interface {
	marqo.Searcher
	Index() string
	CountDocuments(ctx context.Context) (int, error)
	CountVectors(ctx context.Context) (int, error)
	FilterDocuments(ctx context.Context, filters marqo.Filters) ([]marqo.Document, error)
	GetDocumentsByID(ctx context.Context, ids []string) ([]marqo.Document, error)
	WriteDocuments(ctx context.Context, docs []marqo.Document, policy marqo.DuplicatePolicy) (int, error)
	DeleteDocuments(ctx context.Context, ids []string) error
	Health(ctx context.Context) (string, error)
}

// errorHandler tries to handle a store error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error) bool

// Server serves retrieval and document endpoints on top of a Store.
type Server struct {
	store         Store
	retriever     *marqo.Retriever
	single        *marqo.SingleRetriever
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server. Retriever options set the defaults
// for requests that omit filters or top_k.
func NewServer(store Store, logger *zap.Logger, opts ...marqo.RetrieverOption) (*Server, error) {
	retriever, err := marqo.NewRetriever(store, opts...)
	if err != nil {
		return nil, fmt.Errorf("build retriever: %w", err)
	}
	single, err := marqo.NewSingleRetriever(store, opts...)
	if err != nil {
		return nil, fmt.Errorf("build single retriever: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:     store,
		retriever: retriever,
		single:    single,
		logger:    logger,
	}
	s.errorHandlers = []errorHandler{
		writeErrorHandler,
		apiErrorHandler,
		sentinelHandler(marqo.ErrFilter, http.StatusBadRequest, CodeInvalidFilter),
		sentinelHandler(marqo.ErrDuplicateDocument, http.StatusConflict, CodeDuplicateDocument),
		sentinelHandler(marqo.ErrInvalidDocument, http.StatusBadRequest, CodeValidationFailed),
		sentinelHandler(marqo.ErrUnknownContentType, http.StatusBadRequest, CodeValidationFailed),
		sentinelHandler(marqo.ErrConfig, http.StatusBadRequest, CodeBadRequest),
	}
	return s, nil
}

// Routes mounts the API on r.
func (s *Server) Routes(r chi.Router) {
	r.Get("/health", s.HealthCheck)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Route("/v1", func(r chi.Router) {
		r.Post("/retrieve", s.Retrieve)
		r.Post("/retrieve/single", s.RetrieveSingle)
		r.Post("/documents", s.WriteDocuments)
		r.Post("/documents/get", s.GetDocuments)
		r.Post("/documents/filter", s.FilterDocuments)
		r.Post("/documents/delete", s.DeleteDocuments)
		r.Get("/stats", s.Stats)
	})
}

// DocumentDTO is the JSON form of a document.
type DocumentDTO struct {
	ID          string         `json:"id,omitempty"`
	Content     string         `json:"content"`
	ContentType string         `json:"content_type,omitempty"`
	Meta        map[string]any `json:"meta,omitempty"`
	Score       *float64       `json:"score,omitempty"`
}

// RetrieveRequest is the body of POST /v1/retrieve.
type RetrieveRequest struct {
	Queries []string      `json:"queries"`
	Filters marqo.Filters `json:"filters,omitempty"`
	TopK    int           `json:"top_k,omitempty"`
}

// RetrieveSingleRequest is the body of POST /v1/retrieve/single.
type RetrieveSingleRequest struct {
	Query   string        `json:"query"`
	Filters marqo.Filters `json:"filters,omitempty"`
	TopK    int           `json:"top_k,omitempty"`
}

// WriteDocumentsRequest is the body of POST /v1/documents.
type WriteDocumentsRequest struct {
	Documents []DocumentDTO `json:"documents"`
	Policy    string        `json:"policy,omitempty"`
}

// IDsRequest is the body of the get and delete endpoints.
type IDsRequest struct {
	IDs []string `json:"ids"`
}

// FilterRequest is the body of POST /v1/documents/filter.
type FilterRequest struct {
	Filters marqo.Filters `json:"filters"`
}

// Retrieve handles POST /v1/retrieve.
func (s *Server) Retrieve(w http.ResponseWriter, r *http.Request) {
	var req RetrieveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.TopK < 0 {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "top_k must not be negative")
		return
	}

	results, err := s.retriever.Run(r.Context(), req.Queries, req.Filters, req.TopK)
	if err != nil {
		s.handleStoreError(w, r, err)
		return
	}
	out := make([][]DocumentDTO, len(results))
	for i, docs := range results {
		out[i] = documentsToDTO(docs)
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": out})
}

// RetrieveSingle handles POST /v1/retrieve/single.
func (s *Server) RetrieveSingle(w http.ResponseWriter, r *http.Request) {
	var req RetrieveSingleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "query is required")
		return
	}
	if req.TopK < 0 {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "top_k must not be negative")
		return
	}

	docs, err := s.single.Run(r.Context(), req.Query, req.Filters, req.TopK)
	if err != nil {
		s.handleStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": documentsToDTO(docs)})
}

// WriteDocuments handles POST /v1/documents.
func (s *Server) WriteDocuments(w http.ResponseWriter, r *http.Request) {
	var req WriteDocumentsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Documents) > maxBatchSize {
		writeError(w, http.StatusBadRequest, CodeValidationFailed,
			fmt.Sprintf("at most %d documents per request", maxBatchSize))
		return
	}
	policy, err := marqo.ParseDuplicatePolicy(req.Policy)
	if err != nil {
		s.handleStoreError(w, r, err)
		return
	}

	docs := make([]marqo.Document, len(req.Documents))
	for i, d := range req.Documents {
		docs[i] = documentFromDTO(d)
	}
	written, err := s.store.WriteDocuments(r.Context(), docs, policy)
	if err != nil {
		s.handleStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"written": written})
}

// GetDocuments handles POST /v1/documents/get.
func (s *Server) GetDocuments(w http.ResponseWriter, r *http.Request) {
	var req IDsRequest
	if !decodeIDs(w, r, &req) {
		return
	}
	docs, err := s.store.GetDocumentsByID(r.Context(), req.IDs)
	if err != nil {
		s.handleStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": documentsToDTO(docs)})
}

// FilterDocuments handles POST /v1/documents/filter.
func (s *Server) FilterDocuments(w http.ResponseWriter, r *http.Request) {
	var req FilterRequest
	if !decodeBody(w, r, &req) {
		return
	}
	docs, err := s.store.FilterDocuments(r.Context(), req.Filters)
	if err != nil {
		s.handleStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": documentsToDTO(docs)})
}

// DeleteDocuments handles POST /v1/documents/delete.
func (s *Server) DeleteDocuments(w http.ResponseWriter, r *http.Request) {
	var req IDsRequest
	if !decodeIDs(w, r, &req) {
		return
	}
	if err := s.store.DeleteDocuments(r.Context(), req.IDs); err != nil {
		s.handleStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Stats handles GET /v1/stats.
func (s *Server) Stats(w http.ResponseWriter, r *http.Request) {
	docs, err := s.store.CountDocuments(r.Context())
	if err != nil {
		s.handleStoreError(w, r, err)
		return
	}
	vectors, err := s.store.CountVectors(r.Context())
	if err != nil {
		s.handleStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"index":     s.store.Index(),
		"documents": docs,
		"vectors":   vectors,
	})
}

// HealthCheck handles GET /health. A red or unreachable index is unhealthy.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status, err := s.store.Health(r.Context())
	if err != nil {
		logpkg.FromContextOr(r.Context(), s.logger).Warn("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	httpStatus := http.StatusOK
	if status != "green" && status != "yellow" {
		httpStatus = http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, map[string]string{"status": status, "index": s.store.Index()})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

func decodeIDs(w http.ResponseWriter, r *http.Request, req *IDsRequest) bool {
	if !decodeBody(w, r, req) {
		return false
	}
	if len(req.IDs) > maxBatchSize {
		writeError(w, http.StatusBadRequest, CodeValidationFailed,
			fmt.Sprintf("at most %d ids per request", maxBatchSize))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// sentinelHandler maps a sentinel to a client error. The error text is
// returned as is since it only describes the request.
func sentinelHandler(sentinel error, status int, code ErrorCode) errorHandler {
	return func(w http.ResponseWriter, err error) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, err.Error())
		return true
	}
}

func writeErrorHandler(w http.ResponseWriter, err error) bool {
	var we *marqo.WriteError
	if !errors.As(err, &we) {
		return false
	}
	writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
		"code":    CodeDocumentsRejected,
		"message": we.Error(),
		"failed":  we.Failed,
	})
	return true
}

func apiErrorHandler(w http.ResponseWriter, err error) bool {
	var apiErr *marqo.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	writeError(w, http.StatusBadGateway, CodeMarqoError,
		fmt.Sprintf("marqo returned %d", apiErr.StatusCode))
	return true
}

func (s *Server) handleStoreError(w http.ResponseWriter, r *http.Request, err error) {
	log := logpkg.FromContextOr(r.Context(), s.logger)
	log.Warn("store error", zap.Error(err))
	for _, h := range s.errorHandlers {
		if h(w, err) {
			return
		}
	}
	log.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
}

func documentFromDTO(d DocumentDTO) marqo.Document {
	return marqo.Document{
		ID:          d.ID,
		Content:     d.Content,
		ContentType: marqo.ContentType(d.ContentType),
		Metadata:    d.Meta,
	}
}

func documentsToDTO(docs []marqo.Document) []DocumentDTO {
	out := make([]DocumentDTO, len(docs))
	for i, d := range docs {
		out[i] = DocumentDTO{
			ID:          d.ID,
			Content:     d.Content,
			ContentType: string(d.ContentType),
			Meta:        d.Metadata,
			Score:       d.Score,
		}
	}
	return out
}
