package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/audiolibrelab/voxclone/internal/config"
	"github.com/audiolibrelab/voxclone/internal/service"
)

// Server exposes the voice service over HTTP under /api/v1
type Server struct {
	service service.Service
	cfg     *config.Config
	port    string
}

// StatusResponse represents the JSON response for the status endpoint
type StatusResponse struct {
	Status      string  `json:"status"`
	AudioCount  int     `json:"audio_count"`
	LastTrained *string `json:"last_trained"`
}

// SynthesisRequest is the body of a synthesis request
type SynthesisRequest struct {
	Text string `json:"text"`
}

func New(svc service.Service, port string) *Server {
	return &Server{
		service: svc,
		cfg:     svc.GetConfig(),
		port:    port,
	}
}

// Handler returns the API routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/upload", s.handleUpload)
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/synthesize", s.handleSynthesize)
	mux.HandleFunc("/api/v1/health", s.handleHealth)
	return logRequests(mux)
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	localIP := getLocalIP()
	slog.Info("Starting voxclone server",
		"port", s.port,
		"local_url", fmt.Sprintf("http://%s:%s", localIP, s.port),
		"localhost_url", fmt.Sprintf("http://localhost:%s", s.port),
		"environment", s.cfg.Server.Environment)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

// handleUpload stores one sample sent as multipart field "file"
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	maxBytes := int64(s.cfg.Server.MaxUploadMB) << 20
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			s.sendErrorResponse(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("File too large (max %d MB)", s.cfg.Server.MaxUploadMB), "operation", "upload")
			return
		}
		s.sendErrorResponse(w, http.StatusBadRequest, "Failed to parse multipart form", "error", err)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "No audio file provided", "operation", "upload")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Failed to read audio file", "error", err)
		return
	}

	contentType := header.Header.Get("Content-Type")
	slog.Debug("Upload request received", "filename", header.Filename, "content_type", contentType, "bytes", len(data))

	result, err := s.service.Upload(r.Context(), data, contentType)
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError, err.Error(), "operation", "upload")
		return
	}

	s.sendJSON(w, http.StatusOK, result)
}

// handleStatus returns the training status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	st, err := s.service.Status()
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError, err.Error(), "operation", "status")
		return
	}

	response := StatusResponse{
		Status:     string(st.Status),
		AudioCount: st.AudioCount,
	}
	if st.LastTrained != nil {
		ts := st.LastTrained.Format(time.RFC3339)
		response.LastTrained = &ts
	}
	s.sendJSON(w, http.StatusOK, response)
}

// handleSynthesize renders text with the reference voice and returns WAV audio
func (s *Server) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req SynthesisRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Invalid JSON body", "error", err)
		return
	}

	audio, err := s.service.Synthesize(r.Context(), req.Text)
	if err != nil {
		status := http.StatusInternalServerError
		if service.IsValidationError(err) {
			status = http.StatusBadRequest
		}
		s.sendErrorResponse(w, status, err.Error(), "operation", "synthesize")
		return
	}

	w.Header().Set("Content-Type", config.FormatWAV)
	w.Header().Set("Content-Disposition", `attachment; filename="synthesis.wav"`)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(audio)))
	w.WriteHeader(http.StatusOK)
	w.Write(audio)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.sendJSON(w, http.StatusOK, s.service.Health())
}

func (s *Server) sendJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// sendErrorResponse logs the error and sends it as JSON. The message is
// carried in "detail" for API clients and "error" for the success envelope.
func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...interface{}) {
	logFields := []interface{}{"error_message", errorMsg, "status_code", statusCode}
	if len(logContext) > 0 {
		logFields = append(logFields, logContext...)
	}
	slog.Error("Sending error response to client", logFields...)

	s.sendJSON(w, statusCode, map[string]interface{}{
		"success": false,
		"error":   errorMsg,
		"detail":  errorMsg,
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// logRequests logs every request with the client's request ID
func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Debug("Request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"request_id", r.Header.Get("X-Request-ID"),
			"elapsed", time.Since(start))
	})
}

func getLocalIP() string {
	// Try to connect to a remote address to determine local IP
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}
