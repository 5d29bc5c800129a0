package llm

import (
	"context"
	"time"

	"psycho/internal/errors"
	"psycho/internal/logging"
)

type retryClient struct {
	inner  Client
	config errors.RetryConfig
	logger logging.Logger
}

// WithRetry decorates a client with exponential-backoff retries on transient
// failures. Streaming is retried only when the failure happens before any
// token was delivered.
func WithRetry(inner Client, config errors.RetryConfig, logger logging.Logger) Client {
	if config.MaxAttempts <= 0 {
		config = errors.DefaultRetryConfig()
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = time.Second
	}
	return &retryClient{inner: inner, config: config, logger: logging.OrNop(logger)}
}

func (c *retryClient) Model() string { return c.inner.Model() }

func (c *retryClient) Complete(ctx context.Context, req Request) (*Response, error) {
	return errors.RetryWithResult(ctx, c.config, c.logger, func(ctx context.Context) (*Response, error) {
		return c.inner.Complete(ctx, req)
	})
}

func (c *retryClient) Stream(ctx context.Context, req Request, onToken TokenHandler) (*Response, error) {
	delivered := false
	wrapped := func(token string) error {
		delivered = true
		if onToken == nil {
			return nil
		}
		return onToken(token)
	}
	return errors.RetryWithResult(ctx, c.config, c.logger, func(ctx context.Context) (*Response, error) {
		resp, err := c.inner.Stream(ctx, req, wrapped)
		if err != nil && delivered {
			// Partial output already reached the caller, a retry would
			// duplicate it. Surface the error with what we have.
			return resp, errors.Permanent(err, 0)
		}
		return resp, err
	})
}

func (c *retryClient) CompleteWithImage(ctx context.Context, req ImageRequest) (string, error) {
	return errors.RetryWithResult(ctx, c.config, c.logger, func(ctx context.Context) (string, error) {
		return c.inner.CompleteWithImage(ctx, req)
	})
}

func (c *retryClient) Embed(ctx context.Context, text string) ([]float32, error) {
	return errors.RetryWithResult(ctx, c.config, c.logger, func(ctx context.Context) ([]float32, error) {
		return c.inner.Embed(ctx, text)
	})
}
