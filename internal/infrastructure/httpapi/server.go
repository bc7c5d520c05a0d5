package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"KnowledgeDigest/internal/domain"
	"KnowledgeDigest/internal/logging"
	"KnowledgeDigest/internal/ports"
)

const (
	defaultLimit = 20
	maxLimit     = 200
)

// RunTrigger starts a pipeline run over the given categories (all when empty).
type RunTrigger interface {
	Run(ctx context.Context, categories ...domain.Category) (domain.RunReport, error)
}

// Handler exposes the knowledge base and manual runs over HTTP.
type Handler struct {
	knowledge ports.KnowledgeReader
	runner    RunTrigger
	logger    *slog.Logger
}

// NewHandler builds the HTTP handler set.
func NewHandler(knowledge ports.KnowledgeReader, runner RunTrigger, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Handler{knowledge: knowledge, runner: runner, logger: logger}
}

// ArtifactResponse is the wire form of a knowledge entry.
type ArtifactResponse struct {
	ID        int64  `json:"id"`
	Summary   string `json:"summary"`
	Type      string `json:"type"`
	CreatedAt string `json:"created_at"`
}

// KnowledgeResponse wraps a listing.
type KnowledgeResponse struct {
	Items []ArtifactResponse `json:"items"`
	Limit int                `json:"limit"`
}

// Router registers every route on a fresh gin engine.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), h.requestLog())

	r.GET("/healthz", h.Health)
	v1 := r.Group("/v1")
	v1.GET("/knowledge", h.ListKnowledge)
	v1.POST("/runs", h.TriggerRun)
	return r
}

// Health reports liveness.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ListKnowledge returns the newest artifacts, optionally filtered by type.
func (h *Handler) ListKnowledge(c *gin.Context) {
	var category domain.Category
	if raw := c.Query("type"); raw != "" {
		parsed, err := domain.ParseCategory(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		category = parsed
	}

	limit := getQueryInt(c, "limit", defaultLimit)
	if limit <= 0 || limit > maxLimit {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and " + strconv.Itoa(maxLimit)})
		return
	}

	artifacts, err := h.knowledge.ListRecent(c.Request.Context(), category, limit)
	if err != nil {
		h.logger.Error("list knowledge", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
		return
	}

	res := KnowledgeResponse{Items: make([]ArtifactResponse, 0, len(artifacts)), Limit: limit}
	for _, a := range artifacts {
		res.Items = append(res.Items, ArtifactResponse{
			ID:        a.ID,
			Summary:   a.Summary,
			Type:      string(a.Category),
			CreatedAt: a.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, res)
}

// TriggerRun runs the requested sources synchronously and returns the report.
func (h *Handler) TriggerRun(c *gin.Context) {
	var categories []domain.Category
	for _, raw := range c.QueryArray("source") {
		parsed, err := domain.ParseCategory(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		categories = append(categories, parsed)
	}

	report, err := h.runner.Run(c.Request.Context(), categories...)
	if err != nil {
		h.logger.Warn("manual run finished with errors", "run_id", report.RunID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "report": report})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		h.logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

func getQueryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}
	return v
}

// Server owns the http.Server lifecycle for serve mode.
type Server struct {
	srv *http.Server
}

// NewServer binds the handler to addr.
func NewServer(addr string, h *Handler) *Server {
	return &Server{srv: &http.Server{
		Addr:              addr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}}
}

// ListenAndServe blocks until the server stops; a graceful Shutdown is not an error.
func (s *Server) ListenAndServe() error {
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
