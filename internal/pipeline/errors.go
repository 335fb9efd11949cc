package pipeline

import (
	"errors"

	"github.com/rotisserie/eris"
)

// Error taxonomy for the evaluation pipeline. None of these crash the
// orchestrator; every failure path returns the run to a well-defined stage
// with prior data intact.
var (
	// ErrUnsupportedMedia is a user input defect; the orchestrator
	// auto-retreats to Upload.
	ErrUnsupportedMedia = eris.New("pipeline: unsupported media type")

	// ErrEmptyExtraction means the vision model returned no usable text;
	// the run stays in Extraction for a manual retry.
	ErrEmptyExtraction = eris.New("pipeline: no text extracted from image")

	// ErrEmptyTranscript blocks scoring before any gateway call is made.
	ErrEmptyTranscript = eris.New("pipeline: transcript is empty")

	// ErrInvalidTransition is returned when a trigger fires outside the
	// stage its guard allows.
	ErrInvalidTransition = eris.New("pipeline: invalid stage transition")
)

// GatewayError wraps a transport or upstream failure from the inference
// endpoint, preserving the upstream message. The pipeline performs no
// automatic retries; all retries are user-triggered.
type GatewayError struct {
	Err error
}

func (e *GatewayError) Error() string {
	return "gateway: " + e.Err.Error()
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// IsGatewayError reports whether err is (or wraps) a GatewayError.
func IsGatewayError(err error) bool {
	var ge *GatewayError
	return errors.As(err, &ge)
}
