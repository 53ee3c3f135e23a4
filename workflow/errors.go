package workflow

import (
	"errors"
	"fmt"

	"github.com/chaos-io/bgremover/rembg"
	nhttp "github.com/chaos-io/bgremover/util/http"
)

var (
	// ErrBusy is returned when processing is requested while a request is in flight.
	ErrBusy = errors.New("processing already in progress")
	// ErrNoFile is returned when processing is requested without a selected file.
	ErrNoFile = errors.New("no file selected")
	// ErrStale is returned when a processing result arrives after the selection
	// it was made for has been replaced or reset.
	ErrStale = errors.New("selection changed while processing")
	// ErrClosed is returned by operations on a closed controller.
	ErrClosed = errors.New("workflow closed")
)

type Kind string

const (
	KindInvalidInput     Kind = "invalid_input"
	KindDecodeFailure    Kind = "decode_failure"
	KindTransportFailure Kind = "transport_failure"
	KindServiceFailure   Kind = "service_failure"
)

// Error is the single user-facing failure of the workflow.
type Error struct {
	Kind    Kind
	Message string
	// StatusCode is set for service failures.
	StatusCode int
	Err        error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

func invalidInput(msg string) *Error {
	return &Error{Kind: KindInvalidInput, Message: msg}
}

func decodeFailure(err error) *Error {
	return &Error{
		Kind:    KindDecodeFailure,
		Message: "Failed to load preview: " + err.Error(),
		Err:     err,
	}
}

// processFailure converts a processing error into the user-facing error,
// keeping the status code for service failures.
func processFailure(err error) *Error {
	var statusErr *nhttp.StatusError
	switch {
	case errors.As(err, &statusErr):
		return &Error{
			Kind:       KindServiceFailure,
			Message:    fmt.Sprintf("Failed to process image: Server error: %d", statusErr.StatusCode),
			StatusCode: statusErr.StatusCode,
			Err:        err,
		}
	case errors.Is(err, rembg.ErrEmptyResult):
		return &Error{
			Kind:    KindServiceFailure,
			Message: "Failed to process image: " + rembg.ErrEmptyResult.Error(),
			Err:     err,
		}
	default:
		return &Error{
			Kind:    KindTransportFailure,
			Message: "Failed to process image: " + err.Error(),
			Err:     err,
		}
	}
}
