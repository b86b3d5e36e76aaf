package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/skinsight/skinsight-api/internal/config"
	apperrors "github.com/skinsight/skinsight-api/internal/errors"
	"github.com/skinsight/skinsight-api/internal/logger"
	"github.com/skinsight/skinsight-api/internal/store"
)

// Sessions is the session-store surface the handlers need.
type Sessions interface {
	CreateSession(uid, sessionName string) (store.Session, error)
	GetSession(sessionID string) (store.Session, error)
	ListSessions(uid string) ([]store.Session, error)
	DeleteSession(sessionID string) error
	AttachImage(uid, sessionID, imageURL string) error
}

// Runner executes one classification run for a session's image.
type Runner interface {
	Run(ctx context.Context, sessionID, imageURL string) (store.SessionResult, error)
}

type createSessionRequest struct {
	UID         string `json:"uid" binding:"required"`
	SessionName string `json:"session_name" binding:"required"`
}

type attachImageRequest struct {
	UID      string `json:"uid" binding:"required"`
	ImageURL string `json:"image_url" binding:"required,url"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// NewHandler builds the HTTP surface: session CRUD plus the two routes that
// trigger the classification pipeline.
func NewHandler(sessions Sessions, runner Runner, cfg *config.Config) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestSizeLimiter(cfg.MaxRequestBodySize))

	r.GET("/health", healthCheck)

	r.POST("/sessions", createSession(sessions))
	r.GET("/sessions", listSessions(sessions))
	r.GET("/sessions/:id", getSession(sessions))
	r.DELETE("/sessions/:id", deleteSession(sessions))

	r.POST("/sessions/:id/images", uploadImage(sessions, runner, cfg))
	r.POST("/sessions/:id/classify", classifySession(sessions, runner, cfg))

	return r
}

func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "available",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func createSession(sessions Sessions) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createSessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "uid and session name are required", err)
			return
		}

		sess, err := sessions.CreateSession(req.UID, req.SessionName)
		if err != nil {
			respondError(c, http.StatusInternalServerError, "failed to create session", err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"session_id":   sess.SessionID,
			"session_name": sess.SessionName,
		})
	}
}

func listSessions(sessions Sessions) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := c.Query("uid")
		if uid == "" {
			respondError(c, http.StatusBadRequest, "uid is required", nil)
			return
		}

		list, err := sessions.ListSessions(uid)
		if err != nil {
			respondError(c, http.StatusInternalServerError, "failed to list sessions", err)
			return
		}
		if list == nil {
			list = []store.Session{}
		}
		c.JSON(http.StatusOK, gin.H{"sessions": list})
	}
}

func getSession(sessions Sessions) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, err := sessions.GetSession(c.Param("id"))
		if err != nil {
			respondStoreError(c, "failed to fetch session", err)
			return
		}
		c.JSON(http.StatusOK, sess)
	}
}

func deleteSession(sessions Sessions) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := sessions.DeleteSession(c.Param("id")); err != nil {
			respondStoreError(c, "failed to delete session", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "session deleted successfully"})
	}
}

// uploadImage registers the session's single image and synchronously runs
// the classification pipeline on it.
func uploadImage(sessions Sessions, runner Runner, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("id")

		var req attachImageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "uid and image_url are required", err)
			return
		}

		if err := sessions.AttachImage(req.UID, sessionID, req.ImageURL); err != nil {
			switch {
			case errors.Is(err, store.ErrImageExists):
				respondError(c, http.StatusBadRequest, "only one image allowed per session", err)
			case errors.Is(err, store.ErrSessionNotFound):
				respondError(c, http.StatusNotFound, "session not found", err)
			default:
				respondError(c, http.StatusInternalServerError, "failed to attach image", err)
			}
			return
		}

		result, ok := runPipeline(c, runner, cfg, sessionID, req.ImageURL)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"message": "image uploaded and classified successfully",
			"result":  result,
		})
	}
}

// classifySession re-runs the pipeline on the session's registered image.
// A later run's result completely replaces the previous one.
func classifySession(sessions Sessions, runner Runner, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("id")

		sess, err := sessions.GetSession(sessionID)
		if err != nil {
			respondStoreError(c, "failed to fetch session", err)
			return
		}
		if sess.ImageURL == "" {
			respondError(c, http.StatusNotFound, "no image found in session", nil)
			return
		}

		result, ok := runPipeline(c, runner, cfg, sessionID, sess.ImageURL)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"message": "image classified successfully",
			"result":  result,
		})
	}
}

func runPipeline(c *gin.Context, runner Runner, cfg *config.Config, sessionID, imageURL string) (store.SessionResult, bool) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), cfg.RequestTimeout)
	defer cancel()

	start := time.Now()
	result, err := runner.Run(ctx, sessionID, imageURL)
	if err != nil {
		logger.WithError(err).WithFields(logrus.Fields{
			"session_id": sessionID,
			"stage":      apperrors.StageOf(err),
		}).Error("Classification run failed")
		respondError(c, apperrors.GetStatusCode(err), "classification run failed", err)
		return store.SessionResult{}, false
	}

	logger.WithFields(logrus.Fields{
		"session_id":         sessionID,
		"acne_type":          result.AcneType,
		"processing_time_ms": time.Since(start).Milliseconds(),
	}).Info("Classification request completed")
	return result, true
}

func requestSizeLimiter(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

func respondStoreError(c *gin.Context, message string, err error) {
	if errors.Is(err, store.ErrSessionNotFound) {
		respondError(c, http.StatusNotFound, "session not found", err)
		return
	}
	respondError(c, http.StatusInternalServerError, message, err)
}

func respondError(c *gin.Context, code int, message string, err error) {
	logger.WithError(err).WithFields(logrus.Fields{
		"status_code": code,
		"path":        c.Request.URL.Path,
		"method":      c.Request.Method,
	}).Error("Request failed")

	resp := ErrorResponse{Error: http.StatusText(code), Message: message}
	if err != nil {
		resp.Message = fmt.Sprintf("%s: %v", message, err)
	}
	c.AbortWithStatusJSON(code, resp)
}
