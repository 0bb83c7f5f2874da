package embed

import (
	"context"
	"errors"
	"log/slog"

	rerrors "github.com/Aman-CERP/hybridrag/internal/errors"
)

// ResilientEmbedder retries transient failures of a remote embedder with
// exponential backoff and stops calling it while its circuit is open.
type ResilientEmbedder struct {
	inner   Embedder
	retry   rerrors.RetryConfig
	breaker *rerrors.CircuitBreaker
}

// NewResilientEmbedder wraps inner. A nil breaker gets the default one.
func NewResilientEmbedder(inner Embedder, retry rerrors.RetryConfig, breaker *rerrors.CircuitBreaker) *ResilientEmbedder {
	if breaker == nil {
		breaker = rerrors.NewCircuitBreaker("embedder:" + inner.ModelName())
	}
	if retry.ShouldRetry == nil {
		retry.ShouldRetry = shouldRetryEmbed
	}
	return &ResilientEmbedder{inner: inner, retry: retry, breaker: breaker}
}

// shouldRetryEmbed gives up on cancellation and on an open circuit.
func shouldRetryEmbed(err error) bool {
	return !errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded) &&
		!errors.Is(err, rerrors.ErrCircuitOpen)
}

func (r *ResilientEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	attempt := 0
	return rerrors.RetryWithResult(ctx, r.retry, func() ([]float32, error) {
		attempt++
		vec, err := rerrors.CircuitExecute(r.breaker, func() ([]float32, error) {
			return r.inner.Embed(ctx, text)
		})
		if err != nil {
			slog.Debug("embed_attempt_failed",
				slog.String("model", r.inner.ModelName()),
				slog.Int("attempt", attempt),
				slog.String("circuit", r.breaker.State().String()),
				slog.String("error", err.Error()))
		}
		return vec, err
	})
}

func (r *ResilientEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return rerrors.RetryWithResult(ctx, r.retry, func() ([][]float32, error) {
		return rerrors.CircuitExecute(r.breaker, func() ([][]float32, error) {
			return r.inner.EmbedBatch(ctx, texts)
		})
	})
}

func (r *ResilientEmbedder) Dimensions() int   { return r.inner.Dimensions() }
func (r *ResilientEmbedder) ModelName() string { return r.inner.ModelName() }

// Available is false while the circuit is open.
func (r *ResilientEmbedder) Available(ctx context.Context) bool {
	if r.breaker.State() == rerrors.StateOpen {
		return false
	}
	return r.inner.Available(ctx)
}

func (r *ResilientEmbedder) Close() error { return r.inner.Close() }

// Breaker exposes the circuit breaker for status reporting.
func (r *ResilientEmbedder) Breaker() *rerrors.CircuitBreaker { return r.breaker }
