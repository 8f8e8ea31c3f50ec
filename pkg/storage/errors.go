package storage

import (
	"errors"
	"fmt"
)

// Upload error codes.
const (
	CodeEndpointUnreachable = "E_ENDPOINT_UNREACHABLE"
	CodeAuthInvalid         = "E_AUTH_INVALID"
	CodeBucketNotFound      = "E_BUCKET_NOT_FOUND"
	CodeObjectNotFound      = "E_OBJECT_NOT_FOUND"
	CodePermissionDenied    = "E_PERMISSION_DENIED"
	CodeTimeout             = "E_TIMEOUT"
	CodeWriteFailed         = "E_WRITE_FAILED"
)

// ErrUnauthorized matches any UploadError caused by rejected or
// insufficient store credentials.
var ErrUnauthorized = errors.New("unauthorized")

// UploadError wraps object store failures with retryability hints.
type UploadError struct {
	Code      string
	Retryable bool
	Err       error
}

func (e *UploadError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Code
}

func (e *UploadError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrUnauthorized) hold for credential failures.
func (e *UploadError) Is(target error) bool {
	return target == ErrUnauthorized && (e.Code == CodeAuthInvalid || e.Code == CodePermissionDenied)
}

func wrapError(code string, retryable bool, err error) *UploadError {
	if err == nil {
		return &UploadError{Code: code, Retryable: retryable}
	}
	return &UploadError{Code: code, Retryable: retryable, Err: err}
}

// PersistenceError reports a failed local write or read-back.
type PersistenceError struct {
	Path string
	Op   string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %s: %v", e.Path, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
