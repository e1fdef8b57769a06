// Package tts drives the external voice cloning engine.
package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/audiolibrelab/voxclone/internal/config"
)

// DefaultTimeout bounds a generation when neither ctx nor config set one
const DefaultTimeout = 120 * time.Second

var ErrNotConfigured = errors.New("no TTS engine configured")

// Engine generates speech in the voice of a reference recording
type Engine interface {
	Generate(ctx context.Context, text, referencePath string) ([]byte, error)
}

// HTTPEngine posts {text, reference} as a multipart form and reads WAV bytes back
type HTTPEngine struct {
	url      string
	language string
	device   string
	timeout  time.Duration
	client   *http.Client
}

func NewHTTPEngine(cfg *config.TTSConfig) *HTTPEngine {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPEngine{
		url:      cfg.EngineURL,
		language: cfg.Language,
		device:   cfg.Device,
		timeout:  timeout,
		client:   &http.Client{},
	}
}

func (e *HTTPEngine) Generate(ctx context.Context, text, referencePath string) ([]byte, error) {
	if e.url == "" {
		return nil, ErrNotConfigured
	}

	reference, err := os.ReadFile(referencePath)
	if err != nil {
		return nil, fmt.Errorf("reference audio not found: %w", err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("text", text)
	if e.language != "" {
		_ = mw.WriteField("language", e.language)
	}
	if e.device != "" {
		_ = mw.WriteField("device", e.device)
	}
	fw, err := mw.CreateFormFile("reference", filepath.Base(referencePath))
	if err != nil {
		_ = mw.Close()
		return nil, err
	}
	if _, err := fw.Write(reference); err != nil {
		_ = mw.Close()
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	slog.Info("Generating speech", "chars", len([]rune(text)), "engine", e.url)
	start := time.Now()

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("TTS engine request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		return nil, fmt.Errorf("TTS engine HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read generated audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("TTS engine returned no audio")
	}

	slog.Info("Speech generated", "bytes", len(audio), "elapsed", time.Since(start))
	return audio, nil
}
