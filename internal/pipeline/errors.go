package pipeline

import (
	"errors"
	"fmt"
)

var (
	ErrMissingCredential = errors.New("missing credential")
	ErrModelDirectory    = errors.New("could not read the model list, check the Google API key")
	ErrNoModels          = errors.New("load the model list first")
	ErrUnknownModel      = errors.New("model is not in the loaded list")
	ErrNoImage           = errors.New("no product photo supplied")
	ErrRateLimited       = errors.New("provider quota exceeded")
)

// CooldownMessage is shown in addition to the raw diagnostic when an
// analysis fails with ErrRateLimited.
const CooldownMessage = "Quota is used up. Take a 1 minute break and try again."

// RemovalError is a failed background removal: either an HTTP status from
// the service or the text of a transport/decode failure.
type RemovalError struct {
	StatusCode int
	Reason     string
	Err        error
}

func (e *RemovalError) Error() string {
	return "background removal failed: " + e.Status()
}

// Status is the short user-facing text, e.g. "error code 403".
func (e *RemovalError) Status() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("error code %d", e.StatusCode)
	}
	return e.Reason
}

func (e *RemovalError) Unwrap() error {
	return e.Err
}

type AnalysisError struct {
	Model       string
	RateLimited bool
	Err         error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analysis with %s failed: %v", e.Model, e.Err)
}

func (e *AnalysisError) Unwrap() error {
	return e.Err
}

func (e *AnalysisError) Is(target error) bool {
	return target == ErrRateLimited && e.RateLimited
}
