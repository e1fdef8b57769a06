package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/audiolibrelab/voxclone/internal/config"
	"github.com/audiolibrelab/voxclone/internal/training"
	"github.com/audiolibrelab/voxclone/internal/tts"
)

// TrainingDelay lets the converted sample settle before training reads it
const TrainingDelay = 500 * time.Millisecond

var (
	ErrNoReference = errors.New("no reference audio available, upload audio first")
	ErrTextEmpty   = errors.New("text cannot be empty")
	ErrTextTooLong = fmt.Errorf("text too long (max %d characters)", config.MaxSynthesisChars)
)

// Service represents the core voice cloning service interface
type Service interface {
	// Sample operations
	Upload(ctx context.Context, data []byte, contentType string) (*UploadResult, error)

	// Training operations
	Status() (*training.Status, error)
	Train(ctx context.Context) error

	// Synthesis operations
	Synthesize(ctx context.Context, text string) ([]byte, error)

	// Information operations
	Health() *Health
	GetConfig() *config.Config
	GetLastError() string

	Close() error
}

// UploadResult is returned for an accepted sample
type UploadResult struct {
	Status     string `json:"status"`
	AudioCount int    `json:"audio_count"`
}

// Health describes the running service
type Health struct {
	Status      string `json:"status"`
	Environment string `json:"environment"`
	Debug       bool   `json:"debug"`
	LastError   string `json:"last_error,omitempty"`
}

// VoiceService is the main service implementation
type VoiceService struct {
	cfg     *config.Config
	trainer *training.Trainer
	engine  tts.Engine

	trainingDelay time.Duration

	// Error tracking
	lastError      string
	lastErrorMutex sync.RWMutex
}

// New creates a new voice service instance
func New(cfg *config.Config, engine tts.Engine) *VoiceService {
	if engine == nil {
		engine = tts.NewHTTPEngine(&cfg.TTS)
	}
	return &VoiceService{
		cfg:           cfg,
		trainer:       training.New(cfg),
		engine:        engine,
		trainingDelay: TrainingDelay,
	}
}

// Upload stores a sample and schedules training
func (s *VoiceService) Upload(ctx context.Context, data []byte, contentType string) (*UploadResult, error) {
	slog.Debug("Service.Upload called", "bytes", len(data), "content_type", contentType)
	s.clearLastError()

	if _, err := s.trainer.StoreSample(ctx, data, contentType); err != nil {
		s.setLastError(fmt.Sprintf("Upload failed: %v", err))
		return nil, err
	}

	count := s.trainer.SampleCount()
	s.trainer.Schedule(s.trainingDelay)

	return &UploadResult{Status: "success", AudioCount: count}, nil
}

// Status returns the training status
func (s *VoiceService) Status() (*training.Status, error) {
	st, err := s.trainer.Status()
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to get status: %v", err))
		return nil, err
	}
	return st, nil
}

// Train runs training in the foreground
func (s *VoiceService) Train(ctx context.Context) error {
	err := s.trainer.Train(ctx)
	if err != nil {
		s.setLastError(err.Error())
	}
	return err
}

// Synthesize validates text and renders it with the reference voice
func (s *VoiceService) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if !s.trainer.HasReference() {
		return nil, ErrNoReference
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrTextEmpty
	}
	if utf8.RuneCountInString(text) > config.MaxSynthesisChars {
		return nil, ErrTextTooLong
	}

	slog.Info("Synthesizing text", "preview", preview(text, 50))

	audio, err := s.engine.Generate(ctx, text, s.trainer.ReferencePath())
	if err != nil {
		s.setLastError(fmt.Sprintf("Synthesis failed: %v", err))
		return nil, err
	}
	s.clearLastError()
	return audio, nil
}

// IsValidationError reports whether err is caused by the request rather
// than the service
func IsValidationError(err error) bool {
	return errors.Is(err, ErrNoReference) || errors.Is(err, ErrTextEmpty) || errors.Is(err, ErrTextTooLong)
}

func (s *VoiceService) Health() *Health {
	return &Health{
		Status:      "healthy",
		Environment: s.cfg.Server.Environment,
		Debug:       s.cfg.Server.Debug,
		LastError:   s.GetLastError(),
	}
}

func (s *VoiceService) GetConfig() *config.Config {
	return s.cfg
}

// Close stops background training
func (s *VoiceService) Close() error {
	return s.trainer.Close()
}

func preview(text string, n int) string {
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[:n]) + "..."
}

// GetLastError returns the last error message (thread-safe)
func (s *VoiceService) GetLastError() string {
	s.lastErrorMutex.RLock()
	defer s.lastErrorMutex.RUnlock()
	return s.lastError
}

// setLastError sets the last error message (thread-safe)
func (s *VoiceService) setLastError(err string) {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = err

	slog.Error("Service error occurred", "error_message", err)
}

// clearLastError clears the last error message (thread-safe)
func (s *VoiceService) clearLastError() {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = ""
}
