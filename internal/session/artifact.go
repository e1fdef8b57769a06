package session

import (
	"errors"

	"github.com/audiolibrelab/voxclone/internal/audio"
)

var (
	// ErrPermissionDenied means the user or OS refused microphone access;
	// the user must grant permission and retry.
	ErrPermissionDenied = audio.ErrPermissionDenied
	// ErrDeviceUnavailable covers any other acquisition failure.
	ErrDeviceUnavailable = audio.ErrDeviceUnavailable
	// ErrNoRecordingAvailable is returned when an operation needs an artifact and there is none.
	ErrNoRecordingAvailable = errors.New("no recording available")
	// ErrRecordingInProgress is returned by Clear while a capture is live.
	ErrRecordingInProgress = errors.New("cannot clear while recording")
	// ErrAlreadyRecording is returned by Start while a capture is live or being acquired.
	ErrAlreadyRecording = errors.New("already recording")
)

// Artifact is a finalized audio payload and its media type. It is never
// modified after construction.
type Artifact struct {
	data      []byte
	mediaType string
}

// NewArtifact copies data into a new artifact
func NewArtifact(data []byte, mediaType string) *Artifact {
	return newArtifact(append([]byte(nil), data...), mediaType)
}

func newArtifact(data []byte, mediaType string) *Artifact {
	return &Artifact{data: data, mediaType: mediaType}
}

// Bytes returns the payload. Callers must not modify it.
func (a *Artifact) Bytes() []byte {
	return a.data
}

// MediaType returns the MIME type of the payload
func (a *Artifact) MediaType() string {
	return a.mediaType
}

// Len returns the payload size in bytes
func (a *Artifact) Len() int {
	return len(a.data)
}

// Empty reports whether the capture produced no audio
func (a *Artifact) Empty() bool {
	return len(a.data) == 0
}
