package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"klarnaparser/pkg/config"
	errs "klarnaparser/pkg/errors"
	"klarnaparser/pkg/logger"
)

// Operation is a function that performs an operation that might need retrying
type Operation func() error

// OperationWithResult is a function that returns a result and might need retrying
type OperationWithResult[T any] func() (T, error)

// Config holds retry configuration
type Config struct {
	// MaxAttempts is the maximum number of attempts (0 means unlimited)
	MaxAttempts int
	// Backoff strategy to use
	Backoff BackoffStrategy
	// RetryIf determines if an error should be retried
	RetryIf func(error) bool
	// OnRetry is called before each retry attempt
	OnRetry func(attempt int, err error, delay time.Duration)
	// Context for cancellation
	Context context.Context
	// Logger for retry attempts
	Logger logger.Logger
	// Op names the operation in log lines
	Op string
}

// DefaultConfig returns a retry configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts: 3,
		Backoff:     DefaultExponentialBackoff(),
		RetryIf:     DefaultRetryIf,
		Context:     context.Background(),
		Logger:      logger.NewNopLogger(),
	}
}

// FromConfig builds a retry configuration from the retry section of the
// application config.
func FromConfig(ctx context.Context, rc config.RetryConfig, log logger.Logger) *Config {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Config{
		MaxAttempts: rc.MaxAttempts,
		Backoff:     backoffFrom(rc),
		RetryIf:     DefaultRetryIf,
		Context:     ctx,
		Logger:      log,
	}
}

// Named returns a copy of c labelled with op
func (c *Config) Named(op string) *Config {
	out := *c
	out.Op = op
	return &out
}

// WithRetryIf returns a copy of c using the given predicate
func (c *Config) WithRetryIf(fn func(error) bool) *Config {
	out := *c
	out.RetryIf = fn
	return &out
}

// DefaultRetryIf retries infrastructure and UI synchronisation failures.
// Data absence and filesystem errors are final, as is cancellation of the
// run context.
func DefaultRetryIf(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) {
		return false
	}

	var typed *errs.Error
	if errors.As(err, &typed) {
		return errs.IsRetryable(typed.Type)
	}

	return false
}

// Do executes an operation with retry logic
func Do(op Operation, cfg *Config) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	ctx := cfg.Context
	if ctx == nil {
		ctx = context.Background()
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}
	retryIf := cfg.RetryIf
	if retryIf == nil {
		retryIf = DefaultRetryIf
	}

	attempt := 0

	for {
		attempt++

		err := op()
		if err == nil {
			if attempt > 1 {
				log.DebugWithFields("operation succeeded after retry", map[string]interface{}{
					"op":      cfg.Op,
					"attempt": attempt,
				})
			}
			return nil
		}

		if !retryIf(err) || ctx.Err() != nil {
			return err
		}

		if cfg.MaxAttempts > 0 && attempt >= cfg.MaxAttempts {
			log.ErrorWithFields("max retry attempts exceeded", map[string]interface{}{
				"op":         cfg.Op,
				"attempts":   attempt,
				"last_error": err.Error(),
			})
			return fmt.Errorf("max retry attempts (%d) exceeded: %w", cfg.MaxAttempts, err)
		}

		var delay time.Duration
		if cfg.Backoff != nil {
			delay = cfg.Backoff.NextDelay(attempt)
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, delay)
		}

		log.WarnWithFields("retrying operation", map[string]interface{}{
			"op":           cfg.Op,
			"attempt":      attempt,
			"error":        err.Error(),
			"delay_ms":     delay.Milliseconds(),
			"max_attempts": cfg.MaxAttempts,
		})

		if waitErr := Wait(ctx, delay); waitErr != nil {
			return fmt.Errorf("retry cancelled: %w", errors.Join(waitErr, err))
		}
	}
}

// DoWithResult executes an operation that returns a result with retry logic
func DoWithResult[T any](op OperationWithResult[T], cfg *Config) (T, error) {
	var result T

	err := Do(func() error {
		var opErr error
		result, opErr = op()
		return opErr
	}, cfg)

	return result, err
}
