package job

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/voicevox-worker/internal/audio"
	"github.com/book-expert/voicevox-worker/internal/core"
	"github.com/book-expert/voicevox-worker/internal/engine"
	"github.com/google/uuid"
)

const archiveTimeout = 30 * time.Second

// EngineProvider hands out the process-wide engine handle.
type EngineProvider interface {
	Ensure(ctx context.Context) (*engine.Handle, error)
	Current() *engine.Handle
}

// Job is one unit of work delivered by the worker runtime.
type Job struct {
	ID     string              `json:"id,omitempty"`
	Header *events.EventHeader `json:"header,omitempty"`
	Input  map[string]any      `json:"input"`
}

// Result is the reply for a Job.
type Result struct {
	ID     string              `json:"id"`
	Header *events.EventHeader `json:"header,omitempty"`
	Output Response            `json:"output"`
}

// DecodeJob parses a job envelope. Numbers are kept as json.Number so that
// integer fields are not rounded through float64. A job without an id gets one.
func DecodeJob(data []byte) (Job, error) {
	var job Job

	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()

	err := decoder.Decode(&job)
	if err != nil {
		return Job{}, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	if job.ID == "" {
		job.ID = uuid.NewString()
	}

	return job, nil
}

// Handler runs jobs through validation, engine initialization, query
// construction, synthesis, and encoding. No error escapes Handle.
type Handler struct {
	engines EngineProvider
	store   core.ObjectStore
	log     *logger.Logger
}

// NewHandler creates a job handler. store may be nil, which disables audio archiving.
func NewHandler(engines EngineProvider, store core.ObjectStore, log *logger.Logger) *Handler {
	return &Handler{
		engines: engines,
		store:   store,
		log:     log,
	}
}

// Engines returns the engine provider used by the handler.
func (h *Handler) Engines() EngineProvider {
	return h.engines
}

// Process handles job and wraps the response in a Result.
func (h *Handler) Process(ctx context.Context, job Job) Result {
	return Result{ID: job.ID, Header: job.Header, Output: h.Handle(ctx, job)}
}

// Handle processes one job and always returns a response.
func (h *Handler) Handle(ctx context.Context, job Job) (resp Response) {
	defer func() {
		if recovered := recover(); recovered != nil {
			h.log.Error("Job %s panicked: %v\n%s", job.ID, recovered, debug.Stack())
			resp = Failure(fmt.Errorf("internal error: %v", recovered))
		}
	}()

	req, err := Validate(job.Input)
	if err != nil {
		h.log.Warn("Job %s rejected: %v", job.ID, err)

		return Failure(err)
	}

	wavBytes, err := h.run(ctx, job.ID, req)
	if err != nil {
		h.log.Error("Error processing job %s (kind=%s): %+v", job.ID, core.KindOf(err), err)

		return Failure(err)
	}

	resp = Success(audio.EncodeBase64(wavBytes))
	resp.AudioKey = h.archive(ctx, job.ID, wavBytes)

	return resp
}

func (h *Handler) run(ctx context.Context, jobID string, req core.JobRequest) ([]byte, error) {
	handle, err := h.engines.Ensure(ctx)
	if err != nil {
		return nil, err
	}

	query, err := NewQueryBuilder(handle).BuildQuery(ctx, req)
	if err != nil {
		return nil, err
	}

	h.log.Info("Synthesizing job %s: %d chars (speaker: %d, strategy: %s)",
		jobID, len([]rune(req.Text)), req.SpeakerID, handle.Strategy())

	result, err := Synthesize(ctx, handle.Engine(), query, req)
	if err != nil {
		return nil, err
	}

	return audio.Encode(result)
}

// archive uploads the audio when a store is configured. Archive failures
// are logged and do not fail the job.
func (h *Handler) archive(ctx context.Context, jobID string, wavBytes []byte) string {
	if h.store == nil {
		return ""
	}

	ctx, cancel := context.WithTimeout(ctx, archiveTimeout)
	defer cancel()

	key := uuid.NewString() + ".wav"

	err := h.store.Upload(ctx, key, wavBytes)
	if err != nil {
		h.log.Warn("Failed to archive audio for job %s: %v", jobID, err)

		return ""
	}

	return key
}
