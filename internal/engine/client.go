// Package engine manages the VOICEVOX synthesis engine used by the worker:
// the HTTP client for its API, the optional engine subprocess, the optional
// managers, and the process-wide lazy initialization of all of them.
package engine

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime"
	"net/http"
	"net/url"
	"strconv"

	"github.com/book-expert/voicevox-worker/internal/core"
)

// API endpoints and paths.
const (
	apiVersion           = "/version"
	apiOpenAPI           = "/openapi.json"
	apiSpeakers          = "/speakers"
	apiInitializeSpeaker = "/initialize_speaker"
	apiAccentPhrases     = "/accent_phrases"
	apiAudioQuery        = "/audio_query"
	apiSynthesis         = "/synthesis"
	apiUserDict          = "/user_dict"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	contentTypeWAV    = "audio/wav"
	contentTypeRaw    = "application/octet-stream"
)

// Error messages.
const (
	errFmtServiceErrorWithDetail = "engine error (%s): %s"
	errFmtServiceNonOKStatus     = "engine returned non-OK status: %s, body: %s"
	errFmtUnexpectedContentType  = "unexpected synthesis content type: %s"
)

// Static errors.
var (
	ErrEmptyAudio      = errors.New("engine returned empty audio")
	ErrMisalignedAudio = errors.New("raw sample payload is not a whole number of float32 samples")
)

var _ core.Engine = (*Client)(nil)

// Client talks to a VOICEVOX engine over its HTTP API.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// ErrorResponse is the error body returned by the engine.
type ErrorResponse struct {
	Detail json.RawMessage `json:"detail"`
}

// Speaker is one entry of the engine's speaker list.
type Speaker struct {
	Name   string  `json:"name"`
	UUID   string  `json:"speaker_uuid"`
	Styles []Style `json:"styles"`
}

// Style is one voice variant of a speaker.
type Style struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type openAPIDocument struct {
	Paths map[string]json.RawMessage `json:"paths"`
}

// NewClient creates a client for the engine at baseURL (e.g. "http://127.0.0.1:50021").
// A nil httpClient selects a client without a timeout, since synthesis of long
// texts has no upper bound.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
	}
}

// BaseURL returns the engine address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Version returns the engine version string.
func (c *Client) Version(ctx context.Context) (string, error) {
	var version string

	err := c.getJSON(ctx, apiVersion, &version)
	if err != nil {
		return "", err
	}

	return version, nil
}

// Capabilities reads the engine's OpenAPI document to find which query operations it serves.
func (c *Client) Capabilities(ctx context.Context) (core.Capabilities, error) {
	var doc openAPIDocument

	err := c.getJSON(ctx, apiOpenAPI, &doc)
	if err != nil {
		return core.Capabilities{}, err
	}

	_, phrases := doc.Paths[apiAccentPhrases]
	_, query := doc.Paths[apiAudioQuery]

	return core.Capabilities{AccentPhrases: phrases, AudioQuery: query}, nil
}

// Speakers lists the installed speakers and their styles.
func (c *Client) Speakers(ctx context.Context) ([]Speaker, error) {
	var speakers []Speaker

	err := c.getJSON(ctx, apiSpeakers, &speakers)
	if err != nil {
		return nil, err
	}

	return speakers, nil
}

// LoadAllModels initializes every style so that no job pays model load latency.
func (c *Client) LoadAllModels(ctx context.Context) error {
	speakers, err := c.Speakers(ctx)
	if err != nil {
		return fmt.Errorf("failed to list speakers: %w", err)
	}

	for _, speaker := range speakers {
		for _, style := range speaker.Styles {
			params := url.Values{}
			params.Set("speaker", strconv.Itoa(style.ID))
			params.Set("skip_reinit", "true")

			err = c.post(ctx, apiInitializeSpeaker, params, nil, nil)
			if err != nil {
				return fmt.Errorf("failed to initialize style %d (%s): %w", style.ID, speaker.Name, err)
			}
		}
	}

	return nil
}

// CreateAccentPhrases decomposes text into accent phrases for a style.
func (c *Client) CreateAccentPhrases(
	ctx context.Context,
	text string,
	styleID int,
	opts core.AccentPhraseOptions,
) ([]core.AccentPhrase, error) {
	params := url.Values{}
	params.Set("text", text)
	params.Set("speaker", strconv.Itoa(styleID))
	params.Set("enable_katakana_english", strconv.FormatBool(opts.EnableKatakanaEnglish))

	var phrases []core.AccentPhrase

	err := c.post(ctx, apiAccentPhrases, params, nil, &phrases)
	if err != nil {
		return nil, err
	}

	return phrases, nil
}

// ComputeDefaultQuery asks the engine for a complete default query for text.
func (c *Client) ComputeDefaultQuery(ctx context.Context, text string, styleID int) (*core.AudioQuery, error) {
	params := url.Values{}
	params.Set("text", text)
	params.Set("speaker", strconv.Itoa(styleID))

	var query core.AudioQuery

	err := c.post(ctx, apiAudioQuery, params, nil, &query)
	if err != nil {
		return nil, err
	}

	return &query, nil
}

// Synthesize renders query. WAV responses come back as encoded audio; raw
// little-endian float32 responses come back as a sample buffer.
func (c *Client) Synthesize(
	ctx context.Context,
	query *core.AudioQuery,
	styleID int,
	opts core.SynthesisOptions,
) (*core.SynthesisResult, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query: %w", err)
	}

	params := url.Values{}
	params.Set("speaker", strconv.Itoa(styleID))
	params.Set("enable_interrogative_upspeak", strconv.FormatBool(opts.EnableInterrogativeUpspeak))

	resp, err := c.do(ctx, http.MethodPost, apiSynthesis, params, body, contentTypeWAV)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}

	if len(data) == 0 {
		return nil, ErrEmptyAudio
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get(headerContentType))

	switch mediaType {
	case contentTypeWAV, "audio/x-wav", "audio/wave":
		return &core.SynthesisResult{Kind: core.ResultEncoded, Encoded: data}, nil
	case contentTypeRaw:
		samples, decodeErr := decodeFloat32LE(data)
		if decodeErr != nil {
			return nil, decodeErr
		}

		return &core.SynthesisResult{
			Kind:       core.ResultSamples,
			Samples:    samples,
			SampleRate: query.OutputSamplingRate,
			Channels:   core.OutputChannels,
		}, nil
	default:
		return nil, fmt.Errorf(errFmtUnexpectedContentType, mediaType)
	}
}

// UserDictWords returns the number of words registered in the user dictionary.
func (c *Client) UserDictWords(ctx context.Context) (int, error) {
	var words map[string]json.RawMessage

	err := c.getJSON(ctx, apiUserDict, &words)
	if err != nil {
		return 0, err
	}

	return len(words), nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()

	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, target any) error {
	resp, err := c.do(ctx, http.MethodGet, path, nil, nil, contentTypeJSON)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	err = json.NewDecoder(resp.Body).Decode(target)
	if err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}

	return nil
}

func (c *Client) post(ctx context.Context, path string, params url.Values, body []byte, target any) error {
	resp, err := c.do(ctx, http.MethodPost, path, params, body, contentTypeJSON)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if target == nil {
		_, _ = io.Copy(io.Discard, resp.Body)

		return nil
	}

	err = json.NewDecoder(resp.Body).Decode(target)
	if err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}

	return nil
}

// do sends a request and returns the response when the status is 2xx.
// The caller closes the body.
func (c *Client) do(
	ctx context.Context,
	method, path string,
	params url.Values,
	body []byte,
	accept string,
) (*http.Response, error) {
	target := c.baseURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set(headerContentType, contentTypeJSON)
	}

	req.Header.Set(headerAccept, accept)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to engine at %s: %w", c.baseURL, err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		defer resp.Body.Close()

		return nil, parseErrorResponse(resp)
	}

	return resp, nil
}

// parseErrorResponse decodes the engine's {"detail": ...} body, falling back
// to the raw body so diagnostic information is preserved.
func parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errorResp ErrorResponse

	err := json.Unmarshal(body, &errorResp)
	if err == nil && len(errorResp.Detail) > 0 {
		var detail string
		if json.Unmarshal(errorResp.Detail, &detail) != nil {
			detail = string(errorResp.Detail)
		}

		return fmt.Errorf(errFmtServiceErrorWithDetail, resp.Status, detail)
	}

	return fmt.Errorf(errFmtServiceNonOKStatus, resp.Status, string(body))
}

func decodeFloat32LE(data []byte) ([]float32, error) {
	const width = 4

	if len(data)%width != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrMisalignedAudio, len(data))
	}

	samples := make([]float32, len(data)/width)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*width:]))
	}

	return samples, nil
}
