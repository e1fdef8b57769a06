// Package remote is the HTTP client for the voice cloning service.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/audiolibrelab/voxclone/internal/audio"
	"github.com/audiolibrelab/voxclone/internal/config"
	"github.com/audiolibrelab/voxclone/internal/session"
)

const apiPrefix = "/api/v1"

// maxErrorBody bounds how much of an error response is read
const maxErrorBody = 64 << 10

// ReadinessState is the training state reported by the service
type ReadinessState string

const (
	StateIdle     ReadinessState = "idle"
	StateTraining ReadinessState = "training"
	StateReady    ReadinessState = "ready"
	StateError    ReadinessState = "error"
)

// Snapshot is the latest known training status
type Snapshot struct {
	State         ReadinessState
	SampleCount   int
	LastTrainedAt *time.Time
}

// UploadResult is the service's answer to an accepted sample
type UploadResult struct {
	Status      string `json:"status"`
	SampleCount int    `json:"audio_count"`
}

// Health is the service's health report
type Health struct {
	Status      string `json:"status"`
	Environment string `json:"environment"`
	Debug       bool   `json:"debug"`
	LastError   string `json:"last_error,omitempty"`
}

type statusResponse struct {
	Status      string  `json:"status"`
	AudioCount  int     `json:"audio_count"`
	LastTrained *string `json:"last_trained"`
}

// Client talks to {baseURL}/api/v1
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client. A zero timeout disables the per-request timeout.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout:   timeout,
			Transport: &loggingTransport{base: http.DefaultTransport},
		},
	}
}

// NewFromConfig creates a client from the client config section
func NewFromConfig(cfg *config.ClientConfig) *Client {
	return New(cfg.BaseURL, cfg.RequestTimeout)
}

// Upload sends one recorded sample
func (c *Client) Upload(ctx context.Context, artifact *session.Artifact) (UploadResult, error) {
	if artifact == nil {
		return UploadResult{}, &UploadError{Detail: "no recording", Err: session.ErrNoRecordingAvailable}
	}

	body, contentType, err := encodeSample(artifact)
	if err != nil {
		return UploadResult{}, &UploadError{Detail: err.Error(), Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/upload"), body)
	if err != nil {
		return UploadResult{}, &UploadError{Detail: err.Error(), Err: err}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return UploadResult{}, &UploadError{Detail: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return UploadResult{}, &UploadError{StatusCode: resp.StatusCode, Detail: errorDetail(resp)}
	}

	var result UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return UploadResult{}, &UploadError{StatusCode: resp.StatusCode, Detail: "invalid response", Err: err}
	}
	return result, nil
}

// encodeSample wraps the artifact in a multipart form with the file part
// tagged by the artifact's media type
func encodeSample(artifact *session.Artifact) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="sample.%s"`, audio.Extension(artifact.MediaType())))
	h.Set("Content-Type", artifact.MediaType())

	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form part: %w", err)
	}
	if _, err := part.Write(artifact.Bytes()); err != nil {
		return nil, "", fmt.Errorf("failed to write sample: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to finish form: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}

// Status fetches the current training status
func (c *Client) Status(ctx context.Context) (Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/status"), nil)
	if err != nil {
		return Snapshot{}, &StatusError{Detail: err.Error(), Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Snapshot{}, &StatusError{Detail: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Snapshot{}, &StatusError{StatusCode: resp.StatusCode, Detail: errorDetail(resp)}
	}

	var sr statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return Snapshot{}, &StatusError{StatusCode: resp.StatusCode, Detail: "invalid response", Err: err}
	}
	return sr.snapshot(), nil
}

func (sr statusResponse) snapshot() Snapshot {
	snap := Snapshot{
		State:       ReadinessState(sr.Status),
		SampleCount: sr.AudioCount,
	}
	if snap.SampleCount < 0 {
		snap.SampleCount = 0
	}
	if sr.LastTrained != nil {
		if t, ok := parseTimestamp(*sr.LastTrained); ok {
			snap.LastTrainedAt = &t
		}
	}
	return snap
}

// Timestamps may come with or without a zone offset
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func parseTimestamp(s string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

type synthesizeRequest struct {
	Text string `json:"text"`
}

// Synthesize renders text in the cloned voice
func (c *Client) Synthesize(ctx context.Context, text string) (*session.Artifact, error) {
	payload, err := json.Marshal(synthesizeRequest{Text: text})
	if err != nil {
		return nil, &SynthesisError{Detail: err.Error(), Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/synthesize"), bytes.NewReader(payload))
	if err != nil {
		return nil, &SynthesisError{Detail: err.Error(), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &SynthesisError{Detail: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &SynthesisError{StatusCode: resp.StatusCode, Detail: errorDetail(resp)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &SynthesisError{StatusCode: resp.StatusCode, Detail: "failed to read audio", Err: err}
	}
	if len(data) == 0 {
		return nil, &SynthesisError{StatusCode: resp.StatusCode, Detail: "empty audio response"}
	}

	return session.NewArtifact(data, responseMediaType(resp)), nil
}

// responseMediaType keeps codec parameters but falls back to WAV for
// anything that is not audio
func responseMediaType(resp *http.Response) string {
	ct := resp.Header.Get("Content-Type")
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil || !strings.HasPrefix(mt, "audio/") {
		return config.FormatWAV
	}
	return ct
}

// Health queries the service health endpoint
func (c *Client) Health(ctx context.Context) (Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/health"), nil)
	if err != nil {
		return Health{}, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Health{}, fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Health{}, fmt.Errorf("health check failed: %s", errorDetail(resp))
	}

	var h Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return Health{}, fmt.Errorf("invalid health response: %w", err)
	}
	return h, nil
}

func (c *Client) endpoint(path string) string {
	return c.baseURL + apiPrefix + path
}

// errorDetail extracts a human readable message from an error response.
// The service answers {"detail": ...}; {"error": ...} is accepted too.
func errorDetail(resp *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var payload struct {
		Detail json.RawMessage `json:"detail"`
		Error  string          `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if len(payload.Detail) > 0 {
			var s string
			if err := json.Unmarshal(payload.Detail, &s); err == nil {
				return s
			}
			return string(payload.Detail)
		}
		if payload.Error != "" {
			return payload.Error
		}
	}

	if text := strings.TrimSpace(string(body)); text != "" {
		return fmt.Sprintf("%s: %s", http.StatusText(resp.StatusCode), text)
	}
	return fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
}
