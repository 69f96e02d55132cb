// Package ocrerr defines the stable error codes carried by per-image
// results and job-level completion failures.
package ocrerr

import "fmt"

// Code is a stable, machine-readable error identifier attached to a
// per-image result or a job-level completion failure.
type Code string

const (
	CodeBadRequest        Code = "bad_request"
	CodeUnsupportedMedia  Code = "unsupported_media"
	CodeImageNotFound     Code = "image_not_found"
	CodeOCREngineError    Code = "ocr_engine_error"
	CodeOCRNoValidOutput  Code = "ocr_no_valid_output"
	CodeValidatorTimeout  Code = "validator_timeout"
	CodeAuthUnavailable   Code = "auth_unavailable"
	CodeExhaustedRetries  Code = "exhausted_retries"
	CodeAllImagesFailed   Code = "ocr_all_images_failed"
	CodeBadCallback       Code = "bad_callback"
	CodeInternal          Code = "internal_error"
)

// jobLevelTransient lists the codes that warrant a job-level retry rather
// than either a per-image error or an immediate fail-fast.
var jobLevelTransient = map[Code]bool{
	CodeAuthUnavailable: true,
	CodeInternal:        true,
}

// IsTransient reports whether the given code should be retried at the job
// level, per spec.md §7's propagation policy.
func IsTransient(code Code) bool {
	return jobLevelTransient[code]
}

// Error wraps a Code with a human-readable message and an optional
// underlying cause, mirroring the shape of pkg/common.AppError but scoped
// to the OCR domain's per-image/job-level error slots instead of HTTP
// status codes.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds an Error with no underlying cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds an Error carrying an underlying cause.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// AsCode extracts the Code from err if it is (or wraps) an *Error, else
// returns CodeInternal. A nil err yields the empty Code.
func AsCode(err error) Code {
	var oe *Error
	if err == nil {
		return ""
	}
	if ok := asOcrErr(err, &oe); ok {
		return oe.Code
	}
	return CodeInternal
}

func asOcrErr(err error, target **Error) bool {
	for err != nil {
		if oe, ok := err.(*Error); ok {
			*target = oe
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
