package api

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"

	"filetoolsgo/internal/ingest"
	"filetoolsgo/internal/models"
	"filetoolsgo/internal/orchestrator"
	"filetoolsgo/internal/ratelimit"
	"filetoolsgo/internal/session"
	"filetoolsgo/internal/transform"
	"filetoolsgo/internal/worker"
)

// Handler wires HTTP routes to the ingestion gate, the orchestrator and the
// download gateway.
type Handler struct {
	gate     *ingest.Gate
	orch     *orchestrator.Orchestrator
	sessions *session.Manager
	catalog  map[string]*transform.Operation
	limiter  *ratelimit.Limiter
}

// NewHandler constructs a Handler instance.
func NewHandler(gate *ingest.Gate, orch *orchestrator.Orchestrator, sessions *session.Manager, catalog map[string]*transform.Operation, limiter *ratelimit.Limiter) *Handler {
	return &Handler{
		gate:     gate,
		orch:     orch,
		sessions: sessions,
		catalog:  catalog,
		limiter:  limiter,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", h.health)
	router.GET("/downloads/:session_id/:filename", h.download)

	api := router.Group("/api")
	api.Use(h.limiter.Middleware())
	for key, op := range h.catalog {
		api.POST("/"+key, h.process(op))
	}
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// process handles one tool endpoint: parse options, admit files, orchestrate,
// report.
func (h *Handler) process(op *transform.Operation) gin.HandlerFunc {
	return func(c *gin.Context) {
		form, err := c.MultipartForm()
		if err != nil {
			respondError(c, http.StatusBadRequest, "invalid multipart form", err)
			return
		}
		var opts interface{}
		if op.Parse != nil {
			opts, err = op.Parse(transform.Form(form.Value))
			if err != nil {
				h.respondFailure(c, err)
				return
			}
		}
		files, err := h.gate.Admit(form, op.Ingest)
		if err != nil {
			h.respondFailure(c, err)
			return
		}

		res, err := h.orch.Process(c.Request.Context(), op, files, opts)
		if err != nil {
			h.respondFailure(c, err)
			return
		}

		payload := gin.H{
			"success":        true,
			"sessionId":      res.Session.ID,
			"expiresAt":      res.Session.ExpiresAt,
			"downloadUrl":    downloadURL(res.Session.ID, res.Artifact.LogicalName),
			"fileName":       res.Artifact.LogicalName,
			"size":           res.Artifact.Size,
			"processedCount": res.Processed,
		}
		if len(res.Failed) > 0 {
			payload["failedCount"] = len(res.Failed)
			payload["failedFiles"] = res.Failed
		}
		for k, v := range res.Meta {
			payload[k] = v
		}
		c.JSON(http.StatusOK, payload)
	}
}

// download resolves a session artifact and streams it. Expired and unknown
// artifacts both surface as a clean 404, never an internal error.
func (h *Handler) download(c *gin.Context) {
	sessionID := c.Param("session_id")
	name := c.Param("filename")
	art, err := h.sessions.Resolve(c.Request.Context(), sessionID, name, time.Now().UTC())
	if err != nil {
		if errors.Is(err, models.ErrSessionExpired) || errors.Is(err, models.ErrArtifactNotFound) {
			respondError(c, http.StatusNotFound, "download link expired or not found", nil)
			return
		}
		respondError(c, http.StatusInternalServerError, "download failed", err)
		return
	}
	c.Header("Content-Type", art.MimeType)
	c.FileAttachment(art.StoredPath, art.LogicalName)
}

func (h *Handler) respondFailure(c *gin.Context, err error) {
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		body := gin.H{"success": false, "message": verr.Message, "reason": verr.Reason}
		c.JSON(http.StatusBadRequest, body)
	case errors.Is(err, worker.ErrPoolBusy):
		respondError(c, http.StatusTooManyRequests, "server is busy, please retry", nil)
	case errors.Is(err, models.ErrAllFilesFailed):
		respondError(c, http.StatusInternalServerError, "all files failed to process", err)
	default:
		respondError(c, http.StatusInternalServerError, "processing failed", err)
	}
}

// respondError emits the uniform error envelope. The diagnostic detail is
// included only outside release mode.
func respondError(c *gin.Context, status int, message string, err error) {
	body := gin.H{"success": false, "message": message}
	if err != nil && gin.Mode() != gin.ReleaseMode {
		body["error"] = err.Error()
	}
	c.JSON(status, body)
}

func downloadURL(sessionID, name string) string {
	return "/downloads/" + sessionID + "/" + url.PathEscape(name)
}
