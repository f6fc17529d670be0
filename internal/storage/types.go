package storage

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/blobgate/blobgate/internal/config"
)

// Config alias for a storage service configuration
type Config = config.ServiceConfig

// ErrorKind classifies every error that leaves the storage layer
type ErrorKind int

const (
	// KindBlobService is a backend communication or translation failure
	KindBlobService ErrorKind = iota
	// KindBadRequest is malformed or missing input
	KindBadRequest
	// KindNotFound is a missing container, folder or file
	KindNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case KindBadRequest:
		return "BadRequest"
	case KindNotFound:
		return "NotFound"
	default:
		return "BlobServiceError"
	}
}

// Error is the single error type callers see; backend errors are wrapped as Cause
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors of the same kind and message, so sentinels work with errors.Is
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == e.Message
}

// Common storage errors
var (
	ErrInvalidPath       = BadRequest("The specified path is invalid")
	ErrInvalidContainer  = BadRequest("The specified container name is invalid")
	ErrStreamInterrupted = errors.New("stream interrupted after headers were sent")
)

// BadRequest creates a bad request error
func BadRequest(format string, args ...interface{}) *Error {
	return &Error{Kind: KindBadRequest, Message: fmt.Sprintf(format, args...)}
}

// NotFound creates a not found error
func NotFound(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// ServiceError wraps a backend failure
func ServiceError(cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: KindBlobService, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf returns the kind of err; errors outside the taxonomy are service errors
func KindOf(err error) ErrorKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindBlobService
}

// IsNotFound reports whether err is a not found error
func IsNotFound(err error) bool {
	return err != nil && KindOf(err) == KindNotFound
}

// IsBadRequest reports whether err is a bad request error
func IsBadRequest(err error) bool {
	return err != nil && KindOf(err) == KindBadRequest
}

// StatusCode maps an error to its HTTP status
func StatusCode(err error) int {
	switch KindOf(err) {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// ItemError is the per-item error entry of a batch result
type ItemError struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// NewItemError converts err into a batch error entry
func NewItemError(err error) *ItemError {
	if err == nil {
		return nil
	}
	return &ItemError{Message: err.Error(), Code: StatusCode(err)}
}
