// Package httpapi exposes the job handler over HTTP.
package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voicevox-worker/internal/job"
	"github.com/gin-gonic/gin"
)

// MaxJobBytes bounds the size of a /runsync request body.
const MaxJobBytes = 1 << 20

// HealthResponse reports the engine state without triggering initialization.
type HealthResponse struct {
	Status        string `json:"status"`
	Engine        string `json:"engine"`
	Version       string `json:"version,omitempty"`
	Strategy      string `json:"strategy,omitempty"`
	UserDictWords int    `json:"user_dict_words,omitempty"`
	Presets       int    `json:"presets,omitempty"`
}

// JobHandler serves synchronous job requests.
type JobHandler struct {
	handler *job.Handler
	log     *logger.Logger
}

// NewRouter builds the gin engine with the job and health routes.
func NewRouter(handler *job.Handler, log *logger.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))

	jh := &JobHandler{handler: handler, log: log}

	r.POST("/runsync", jh.RunSync)
	r.GET("/health", jh.Health)

	return r
}

// RunSync decodes a job envelope, runs it, and returns the result. Job
// failures are reported in the body with status 200; only an undecodable
// envelope is a 400.
func (h *JobHandler) RunSync(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxJobBytes)

	body, err := c.GetRawData()
	if err != nil {
		status := http.StatusBadRequest

		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}

		c.JSON(status, job.Result{Output: job.Failure(err)})

		return
	}

	decoded, err := job.DecodeJob(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, job.Result{Output: job.Failure(err)})

		return
	}

	c.JSON(http.StatusOK, h.handler.Process(c.Request.Context(), decoded))
}

// Health reports whether the engine has been initialized.
func (h *JobHandler) Health(c *gin.Context) {
	resp := HealthResponse{Status: "ok", Engine: "cold"}

	if handle := h.handler.Engines().Current(); handle != nil {
		resp.Engine = "ready"
		resp.Version = handle.Version()
		resp.Strategy = handle.Strategy().String()

		if handle.HasUserDict() {
			resp.UserDictWords = handle.UserDict().Words()
		}

		if handle.HasPresets() {
			resp.Presets = handle.Presets().Len()
		}
	}

	c.JSON(http.StatusOK, resp)
}

func requestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		log.Info("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}
