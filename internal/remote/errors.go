package remote

import "fmt"

// UploadError reports a rejected or failed sample upload. The artifact that
// was being uploaded is untouched and may be committed again.
type UploadError struct {
	StatusCode int // 0 when no response was received
	Detail     string
	Err        error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload failed: %s", e.Detail)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// StatusError reports a failed status poll
type StatusError struct {
	StatusCode int
	Detail     string
	Err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status request failed: %s", e.Detail)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// SynthesisError reports a failed synthesis request
type SynthesisError struct {
	StatusCode int
	Detail     string
	Err        error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesis failed: %s", e.Detail)
}

func (e *SynthesisError) Unwrap() error {
	return e.Err
}
