package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Stable machine-readable codes. Calling layers branch on these, never on
// message text.
const (
	CodeObjectTooLarge    = "OBJECT_TOO_LARGE"
	CodeUnsupportedType   = "UNSUPPORTED_TYPE"
	CodeInvalidFilename   = "INVALID_FILENAME"
	CodeInvalidArgument   = "INVALID_ARGUMENT"
	CodeRateLimited       = "RATE_LIMITED"
	CodeQuotaExceeded     = "QUOTA_EXCEEDED"
	CodeNotUploaded       = "NOT_UPLOADED"
	CodeSizeMismatch      = "SIZE_MISMATCH"
	CodeSessionExpired    = "SESSION_EXPIRED"
	CodeNotFound          = "NOT_FOUND"
	CodeForbidden         = "FORBIDDEN"
	CodeNotReady          = "NOT_READY"
	CodeHasActiveLicenses = "HAS_ACTIVE_LICENSES"
	CodeInternal          = "INTERNAL"
)

type Error struct {
	Code    string
	Message string
	Status  int
	// Extra carries structured detail such as rate limits and reset times
	// so a caller can back off intelligently.
	Extra map[string]interface{}
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func (e *Error) HTTPStatusCode() int {
	if e.Status != 0 {
		return e.Status
	}
	return http.StatusInternalServerError
}

func (e *Error) WithExtra(key string, val interface{}) *Error {
	if e.Extra == nil {
		e.Extra = map[string]interface{}{}
	}
	e.Extra[key] = val
	return e
}

func New(code string, status int, format string, args ...interface{}) *Error {
	return &Error{Code: code, Status: status, Message: fmt.Sprintf(format, args...)}
}

func Wrap(err error, code string, status int, msg string) *Error {
	return &Error{Code: code, Status: status, Message: msg, cause: err}
}

func ObjectTooLarge(max int64) *Error {
	return New(CodeObjectTooLarge, http.StatusRequestEntityTooLarge, "declared size exceeds maximum of %d bytes", max).
		WithExtra("max_bytes", max)
}

func UnsupportedType(mimeType string) *Error {
	return New(CodeUnsupportedType, http.StatusUnprocessableEntity, "content type %q is not allowed", mimeType)
}

func InvalidFilename(reason string) *Error {
	return New(CodeInvalidFilename, http.StatusUnprocessableEntity, "invalid file name: %s", reason)
}

func InvalidArgument(reason string) *Error {
	return New(CodeInvalidArgument, http.StatusUnprocessableEntity, "%s", reason)
}

func RateLimited(limit int, resetAfterSeconds int64) *Error {
	return New(CodeRateLimited, http.StatusTooManyRequests, "upload rate limit reached").
		WithExtra("limit", limit).
		WithExtra("reset_after_seconds", resetAfterSeconds)
}

func QuotaExceeded(quotaBytes int64) *Error {
	return New(CodeQuotaExceeded, http.StatusTooManyRequests, "storage quota exceeded").
		WithExtra("quota_bytes", quotaBytes)
}

func NotUploaded() *Error {
	return New(CodeNotUploaded, http.StatusConflict, "no object found at the asset's storage key")
}

func SizeMismatch(declared, observed int64) *Error {
	return New(CodeSizeMismatch, http.StatusConflict, "stored object is %d bytes, declared %d", observed, declared).
		WithExtra("declared_bytes", declared).
		WithExtra("observed_bytes", observed)
}

func SessionExpired() *Error {
	return New(CodeSessionExpired, http.StatusConflict, "upload session has expired")
}

func NotFound(what string) *Error {
	return New(CodeNotFound, http.StatusNotFound, "%s not found", what)
}

func Forbidden() *Error {
	return New(CodeForbidden, http.StatusForbidden, "forbidden")
}

func NotReady(reason string) *Error {
	return New(CodeNotReady, http.StatusConflict, "asset is not ready: %s", reason)
}

func HasActiveLicenses() *Error {
	return New(CodeHasActiveLicenses, http.StatusConflict, "asset has active licensing agreements")
}

func Internal(err error) *Error {
	return Wrap(err, CodeInternal, http.StatusInternalServerError, "internal error")
}

// From classifies err into an *Error, wrapping unclassified errors as INTERNAL
// so nothing escapes the boundary without a stable code.
func From(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Internal(err)
}
