package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRAGError_Unwrap_PreservesOriginalError(t *testing.T) {
	// Given: an original error
	originalErr := errors.New("connection refused")

	// When: wrapping with RAGError
	err := QueryEncodingError(originalErr)

	// Then: unwrapping returns original error
	require.NotNil(t, err)
	assert.Equal(t, originalErr, errors.Unwrap(err))
	assert.True(t, errors.Is(err, originalErr))
}

func TestRAGError_Error_ReturnsFormattedMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      *RAGError
		expected string
	}{
		{"build", BuildError("equal_length", "3 vectors for 4 chunk ids"), "[ERR_506_BUILD_FAILED] 3 vectors for 4 chunk ids"},
		{"not loaded", NotLoadedError("dense"), "[ERR_507_INDEX_NOT_LOADED] dense index not loaded"},
		{"config", ConfigError("rrf_k must be positive", nil), "[ERR_102_CONFIG_INVALID] rrf_k must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestRAGError_Is_MatchesSentinelByCode(t *testing.T) {
	// Given: a build error buried under fmt wrapping
	err := fmt.Errorf("build index: %w", BuildError("uniform_dimension", "row 2 has dimension 3"))

	// Then: errors.Is matches the sentinel, not unrelated ones
	assert.True(t, errors.Is(err, ErrBuildFailed))
	assert.False(t, errors.Is(err, ErrIndexNotLoaded))
}

func TestRAGError_DerivedFields(t *testing.T) {
	tests := []struct {
		code      string
		category  Category
		severity  Severity
		retryable bool
	}{
		{ErrCodeConfigInvalid, CategoryConfig, SeverityError, false},
		{ErrCodeCorruptIndex, CategoryIO, SeverityFatal, false},
		{ErrCodeNetworkTimeout, CategoryNetwork, SeverityWarning, true},
		{ErrCodeDimensionMismatch, CategoryValidation, SeverityError, false},
		{ErrCodeBuildFailed, CategoryInternal, SeverityFatal, false},
		{ErrCodeIndexNotLoaded, CategoryInternal, SeverityWarning, true},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "msg", nil)
			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.severity, err.Severity)
			assert.Equal(t, tt.retryable, err.Retryable)
		})
	}
}

func TestHelpers_SeeThroughWrapping(t *testing.T) {
	// Given: a retryable error wrapped by fmt
	err := fmt.Errorf("search: %w", NotLoadedError("sparse"))

	// Then: helpers find the RAGError in the chain
	assert.True(t, IsRetryable(err))
	assert.False(t, IsFatal(err))
	assert.Equal(t, ErrCodeIndexNotLoaded, GetCode(err))
	assert.Equal(t, CategoryInternal, GetCategory(err))

	assert.False(t, IsRetryable(errors.New("plain")))
	assert.Equal(t, "", GetCode(nil))
}

func TestFormatForCLI_VerboseListsDetails(t *testing.T) {
	// Given: a build error with diagnostics
	err := BuildError("uniform_dimension", "vector dimension mismatch").
		WithIntDetail("expected_dim", 384).
		WithIntDetail("found_dim", 768).
		WithIntDetail("row", 7)

	// When: formatting verbosely and tersely
	verbose := FormatForCLI(err, true)
	terse := FormatForCLI(err, false)

	// Then: details appear sorted only in verbose output
	assert.Contains(t, verbose, "expected_dim: 384\n  found_dim: 768\n  invariant: uniform_dimension\n  row: 7")
	assert.NotContains(t, terse, "found_dim")
	assert.Contains(t, terse, "Code: ERR_506_BUILD_FAILED")
	assert.Equal(t, "", FormatForCLI(nil, true))
}

func TestFormatJSON_WrapsPlainErrors(t *testing.T) {
	// When: formatting a non-RAGError
	data, err := FormatJSON(errors.New("boom"))
	require.NoError(t, err)

	// Then: it is reported as internal
	var je jsonError
	require.NoError(t, json.Unmarshal(data, &je))
	assert.Equal(t, ErrCodeInternal, je.Code)
	assert.Equal(t, "boom", je.Message)
}

func TestLogAttrs(t *testing.T) {
	err := CorruptIndexError("row count differs", errors.New("eof")).WithDetail("file", "vectors.f32")

	attrs := LogAttrs(err)

	assert.Equal(t, []any{
		"error_code", ErrCodeCorruptIndex,
		"error", "row count differs",
		"category", "IO",
		"severity", "FATAL",
		"cause", "eof",
		"detail_file", "vectors.f32",
	}, attrs)
	assert.Nil(t, LogAttrs(nil))
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	// Given: a function failing twice
	attempts := 0
	fn := func() (int, error) {
		attempts++
		if attempts < 3 {
			return 0, errors.New("transient")
		}
		return 42, nil
	}
	cfg := RetryConfig{MaxRetries: 5, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}

	// When: retrying
	v, err := RetryWithResult(context.Background(), cfg, fn)

	// Then: third attempt wins
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 3, attempts)
}

func TestRetry_GivesUpAfterMaxRetries(t *testing.T) {
	attempts := 0
	cfg := RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 2}

	err := Retry(context.Background(), cfg, func() error {
		attempts++
		return errors.New("down")
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.Contains(t, err.Error(), "failed after 2 retries")
}

func TestRetry_StopsOnNonRetryableError(t *testing.T) {
	// Given: a predicate that only retries network errors
	attempts := 0
	cfg := DefaultRetryConfig()
	cfg.ShouldRetry = IsRetryable

	// When: the function returns a validation error
	err := Retry(context.Background(), cfg, func() error {
		attempts++
		return ValidationError("bad model", nil)
	})

	// Then: no retry happens
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, ErrCodeInvalidInput, GetCode(err))
}

func TestRetry_RespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, DefaultRetryConfig(), func() error { return nil })

	assert.ErrorIs(t, err, context.Canceled)
}

func TestCircuitBreaker_OpensAndRecovers(t *testing.T) {
	// Given: a breaker with a controllable clock
	now := time.Unix(1000, 0)
	cb := NewCircuitBreaker("embedder", WithMaxFailures(2), WithResetTimeout(time.Second))
	cb.now = func() time.Time { return now }
	failing := func() error { return errors.New("down") }

	// When: two failures happen
	_ = cb.Execute(failing)
	_ = cb.Execute(failing)

	// Then: the circuit is open and calls are rejected without running fn
	assert.Equal(t, StateOpen, cb.State())
	called := false
	err := cb.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	// When: the reset timeout passes and the trial call succeeds
	now = now.Add(2 * time.Second)
	assert.Equal(t, StateHalfOpen, cb.State())
	v, err := CircuitExecute(cb, func() (string, error) { return "ok", nil })

	// Then: the circuit closes again
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_FailedTrialReopens(t *testing.T) {
	now := time.Unix(1000, 0)
	cb := NewCircuitBreaker("embedder", WithMaxFailures(3), WithResetTimeout(time.Second))
	cb.now = func() time.Time { return now }
	for i := 0; i < 3; i++ {
		_ = cb.Execute(func() error { return errors.New("down") })
	}

	now = now.Add(2 * time.Second)
	_ = cb.Execute(func() error { return errors.New("still down") })

	assert.Equal(t, StateOpen, cb.State())
}
