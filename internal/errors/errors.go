package errors

import (
	"errors"
	"fmt"
	"strconv"
)

// RAGError is the structured error type used across hybridrag.
type RAGError struct {
	// Code is the unique error code (e.g., "ERR_506_BUILD_FAILED").
	Code string

	Message  string
	Category Category
	Severity Severity

	// Details carries diagnostic context such as the failed invariant,
	// corpus size or the dimensions involved.
	Details map[string]string

	Cause      error
	Retryable  bool
	Suggestion string
}

// Error implements the error interface.
func (e *RAGError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *RAGError) Unwrap() error {
	return e.Cause
}

// Is matches another RAGError by code, so sentinels like ErrIndexNotLoaded
// work with errors.Is.
func (e *RAGError) Is(target error) bool {
	if t, ok := target.(*RAGError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *RAGError) WithDetail(key, value string) *RAGError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithIntDetail is WithDetail for integer values.
func (e *RAGError) WithIntDetail(key string, value int) *RAGError {
	return e.WithDetail(key, strconv.Itoa(value))
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *RAGError) WithSuggestion(suggestion string) *RAGError {
	e.Suggestion = suggestion
	return e
}

// New creates a new RAGError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *RAGError {
	return &RAGError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a RAGError from an existing error.
func Wrap(code string, err error) *RAGError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Sentinels for errors.Is checks. Only the code is compared.
var (
	ErrIndexNotLoaded    = New(ErrCodeIndexNotLoaded, "index not loaded", nil)
	ErrBuildFailed       = New(ErrCodeBuildFailed, "index build failed", nil)
	ErrQueryEncoding     = New(ErrCodeEmbeddingFailed, "query encoding failed", nil)
	ErrDimensionMismatch = New(ErrCodeDimensionMismatch, "dimension mismatch", nil)
	ErrCorruptIndex      = New(ErrCodeCorruptIndex, "corrupt index", nil)
	ErrInvalidInput      = New(ErrCodeInvalidInput, "invalid input", nil)
)

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *RAGError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *RAGError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *RAGError {
	return New(ErrCodeInternal, message, cause)
}

// BuildError reports malformed or inconsistent build input. invariant names
// the check that failed and is always present in Details.
func BuildError(invariant, message string) *RAGError {
	return New(ErrCodeBuildFailed, message, nil).WithDetail("invariant", invariant)
}

// NotLoadedError reports a search attempted before an index was installed.
func NotLoadedError(component string) *RAGError {
	return New(ErrCodeIndexNotLoaded, component+" index not loaded", nil).
		WithSuggestion("Build an index with 'hybridrag build' or wait for the load to finish")
}

// QueryEncodingError wraps an embedder failure on the dense query path.
func QueryEncodingError(cause error) *RAGError {
	return New(ErrCodeEmbeddingFailed, "failed to encode query", cause)
}

// CorruptIndexError reports persisted artifacts that disagree with each other.
func CorruptIndexError(message string, cause error) *RAGError {
	return New(ErrCodeCorruptIndex, message, cause).
		WithSuggestion("Rebuild the index with 'hybridrag build --force'")
}

// IsRetryable checks if an error (or anything it wraps) is a retryable RAGError.
func IsRetryable(err error) bool {
	var re *RAGError
	if errors.As(err, &re) {
		return re.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	var re *RAGError
	if errors.As(err, &re) {
		return re.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code, or "" if err holds no RAGError.
func GetCode(err error) string {
	var re *RAGError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// GetCategory extracts the category, or "" if err holds no RAGError.
func GetCategory(err error) Category {
	var re *RAGError
	if errors.As(err, &re) {
		return re.Category
	}
	return ""
}
