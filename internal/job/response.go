package job

import (
	"errors"

	"github.com/book-expert/voicevox-worker/internal/core"
)

// Response statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Response is the job output. Exactly one of AudioBase64 and Error is set.
type Response struct {
	AudioBase64  string `json:"audio_base64,omitempty"`
	SamplingRate int    `json:"sampling_rate,omitempty"`
	AudioKey     string `json:"audio_key,omitempty"`
	Error        string `json:"error,omitempty"`
	Status       string `json:"status,omitempty"`
}

// Succeeded reports whether the response carries audio.
func (r Response) Succeeded() bool {
	return r.Status == StatusSuccess
}

// Success builds the success response.
func Success(audioBase64 string) Response {
	return Response{
		AudioBase64:  audioBase64,
		SamplingRate: core.OutputSamplingRate,
		Status:       StatusSuccess,
	}
}

// Failure builds the failure response for err. A missing text is reported
// as {error} alone.
func Failure(err error) Response {
	if errors.Is(err, ErrMissingText) {
		return Response{Error: ErrMissingText.Error()}
	}

	return Response{Error: err.Error(), Status: StatusFailed}
}
