// Package bslerr defines the error taxonomy shared by every BSL protocol
// component: transport, frame codec, command client, stage driver and
// flash driver all report failures as one of these sentinels so callers
// can recover or abort with errors.Is instead of string matching.
package bslerr

import "errors"

var (
	// ErrNotOpen is returned when the transport is used before Open succeeds.
	ErrNotOpen = errors.New("bsl: transport not open")

	// ErrEndpointMissing is a fatal open-time error: the claimed interface
	// does not expose the bulk OUT or IN endpoint the protocol requires.
	ErrEndpointMissing = errors.New("bsl: required bulk endpoint not found")

	// ErrTimeout means a read returned no bytes within its deadline. Most
	// callers reinterpret this as a missing ACK for the current step.
	ErrTimeout = errors.New("bsl: read timed out")

	// ErrFrameInvalid means the decoder rejected a reply: bad magic, too
	// short, or a checksum mismatch. Treated identically to a missing ACK.
	ErrFrameInvalid = errors.New("bsl: invalid frame")

	// ErrWrongReply means a reply decoded but its command byte was not the
	// one the caller expected. Fatal for the current step.
	ErrWrongReply = errors.New("bsl: unexpected reply command")

	// ErrManifestInvalid means the manifest's FDL1/FDL2 descriptor lacks a
	// file or base address, or its file is not in the bundle. Fatal before
	// any wire traffic starts. A selected image whose file is missing is
	// not reported with this error; it resolves to a skip instead.
	ErrManifestInvalid = errors.New("bsl: manifest invalid")

	// ErrFileNotFound means a blob file referenced by the manifest is gone
	// by the time it is needed for a download or burn.
	ErrFileNotFound = errors.New("bsl: referenced file not found")
)

// StepError wraps a taxonomy error with the phase and step it occurred
// in, so a failure always surfaces as a log line naming the failed
// phase and the specific step, not a bare wrapped error.
type StepError struct {
	Phase string
	Step  string
	Err   error
}

func (e *StepError) Error() string {
	if e.Phase == "" {
		return e.Step + ": " + e.Err.Error()
	}
	return e.Phase + ": " + e.Step + ": " + e.Err.Error()
}

func (e *StepError) Unwrap() error { return e.Err }

// Step builds a StepError for the given phase/step wrapping err.
func Step(phase, step string, err error) error {
	if err == nil {
		return nil
	}
	return &StepError{Phase: phase, Step: step, Err: err}
}
