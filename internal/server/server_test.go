package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/audiolibrelab/voxclone/internal/config"
	"github.com/audiolibrelab/voxclone/internal/service"
	"github.com/audiolibrelab/voxclone/internal/training"
)

type fakeService struct {
	cfg *config.Config

	uploaded    []byte
	contentType string
	uploadErr   error

	status    *training.Status
	statusErr error

	synthText string
	synthErr  error
}

func newFakeService() *fakeService {
	return &fakeService{
		cfg:    config.Default(),
		status: &training.Status{Status: training.StateIdle},
	}
}

func (f *fakeService) Upload(ctx context.Context, data []byte, contentType string) (*service.UploadResult, error) {
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	f.uploaded = data
	f.contentType = contentType
	return &service.UploadResult{Status: "success", AudioCount: 3}, nil
}

func (f *fakeService) Status() (*training.Status, error) { return f.status, f.statusErr }
func (f *fakeService) Train(ctx context.Context) error   { return nil }

func (f *fakeService) Synthesize(ctx context.Context, text string) ([]byte, error) {
	f.synthText = text
	if f.synthErr != nil {
		return nil, f.synthErr
	}
	return []byte("RIFFspeech"), nil
}

func (f *fakeService) Health() *service.Health {
	return &service.Health{Status: "healthy", Environment: "test"}
}
func (f *fakeService) GetConfig() *config.Config { return f.cfg }
func (f *fakeService) GetLastError() string      { return "" }
func (f *fakeService) Close() error              { return nil }

func multipartBody(t *testing.T, field, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="`+field+`"; filename="sample.webm"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatal(err)
	}
	part.Write(data)
	mw.Close()
	return &body, mw.FormDataContentType()
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode error body: %v", err)
	}
	if body["success"] != false {
		t.Errorf("Expected success=false, got %v", body["success"])
	}
	detail, _ := body["detail"].(string)
	return detail
}

func TestUpload(t *testing.T) {
	svc := newFakeService()
	h := New(svc, "0").Handler()

	body, ct := multipartBody(t, "file", config.FormatWebmOpus, []byte("webm-bytes"))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/upload", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if string(svc.uploaded) != "webm-bytes" {
		t.Errorf("Expected uploaded bytes, got %q", svc.uploaded)
	}
	if svc.contentType != config.FormatWebmOpus {
		t.Errorf("Expected content type %s, got %s", config.FormatWebmOpus, svc.contentType)
	}

	var result service.UploadResult
	json.NewDecoder(rec.Body).Decode(&result)
	if result.Status != "success" || result.AudioCount != 3 {
		t.Errorf("Unexpected upload result: %+v", result)
	}
}

func TestUploadMissingFile(t *testing.T) {
	h := New(newFakeService(), "0").Handler()

	body, ct := multipartBody(t, "other", config.FormatWAV, []byte("x"))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/upload", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
}

func TestUploadTooLarge(t *testing.T) {
	svc := newFakeService()
	svc.cfg.Server.MaxUploadMB = 1
	h := New(svc, "0").Handler()

	body, ct := multipartBody(t, "file", config.FormatWAV, bytes.Repeat([]byte("x"), 2<<20))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/upload", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Expected 413, got %d", rec.Code)
	}
}

func TestUploadFailure(t *testing.T) {
	svc := newFakeService()
	svc.uploadErr = errors.New("audio conversion failed")
	h := New(svc, "0").Handler()

	body, ct := multipartBody(t, "file", config.FormatWAV, []byte("x"))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/upload", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", rec.Code)
	}
	if detail := decodeError(t, rec); detail != "audio conversion failed" {
		t.Errorf("Expected detail 'audio conversion failed', got %q", detail)
	}
}

func TestStatus(t *testing.T) {
	svc := newFakeService()
	trained := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	svc.status = &training.Status{Status: training.StateReady, AudioCount: 7, LastTrained: &trained}
	h := New(svc, "0").Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var resp StatusResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "ready" || resp.AudioCount != 7 {
		t.Errorf("Unexpected status: %+v", resp)
	}
	if resp.LastTrained == nil || *resp.LastTrained != "2026-03-01T12:30:00Z" {
		t.Errorf("Unexpected last_trained: %v", resp.LastTrained)
	}
}

func TestStatusNeverTrained(t *testing.T) {
	h := New(newFakeService(), "0").Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))

	if !strings.Contains(rec.Body.String(), `"last_trained":null`) {
		t.Errorf("Expected null last_trained, got %s", rec.Body.String())
	}
}

func TestSynthesize(t *testing.T) {
	svc := newFakeService()
	h := New(svc, "0").Handler()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/synthesize", strings.NewReader(`{"text":"hello"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != config.FormatWAV {
		t.Errorf("Expected %s, got %s", config.FormatWAV, ct)
	}
	if rec.Body.String() != "RIFFspeech" {
		t.Errorf("Expected audio body, got %q", rec.Body.String())
	}
	if svc.synthText != "hello" {
		t.Errorf("Expected text 'hello', got %q", svc.synthText)
	}
}

func TestSynthesizeErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"no reference", service.ErrNoReference, http.StatusBadRequest},
		{"empty", service.ErrTextEmpty, http.StatusBadRequest},
		{"too long", service.ErrTextTooLong, http.StatusBadRequest},
		{"engine", errors.New("engine offline"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newFakeService()
			svc.synthErr = tt.err
			h := New(svc, "0").Handler()

			req := httptest.NewRequest(http.MethodPost, "/api/v1/synthesize", strings.NewReader(`{"text":"x"}`))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.code {
				t.Errorf("Expected %d, got %d", tt.code, rec.Code)
			}
			if detail := decodeError(t, rec); detail != tt.err.Error() {
				t.Errorf("Expected detail %q, got %q", tt.err.Error(), detail)
			}
		})
	}
}

func TestSynthesizeInvalidJSON(t *testing.T) {
	h := New(newFakeService(), "0").Handler()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/synthesize", strings.NewReader(`{`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := New(newFakeService(), "0").Handler()

	for _, path := range []string{"/api/v1/upload", "/api/v1/synthesize"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s: expected 405, got %d", path, rec.Code)
		}
	}
}

func TestHealth(t *testing.T) {
	h := New(newFakeService(), "0").Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	var health service.Health
	json.NewDecoder(rec.Body).Decode(&health)
	if health.Status != "healthy" {
		t.Errorf("Expected healthy, got %q", health.Status)
	}
}
