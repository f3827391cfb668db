package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"klarnaparser/pkg/config"
	errs "klarnaparser/pkg/errors"
	"klarnaparser/pkg/logger"
)

func fastConfig(maxAttempts int) *Config {
	return &Config{
		MaxAttempts: maxAttempts,
		Backoff:     &ConstantBackoff{Delay: 5 * time.Millisecond},
		RetryIf:     DefaultRetryIf,
		Context:     context.Background(),
	}
}

func TestExponentialBackoff(t *testing.T) {
	backoff := &ExponentialBackoff{
		Initial: 100 * time.Millisecond,
		Max:     1 * time.Second,
		Factor:  2.0,
		Jitter:  0.0,
	}

	tests := []struct {
		attempt     int
		expected    time.Duration
		description string
	}{
		{0, 0, "No attempt yet"},
		{1, 100 * time.Millisecond, "First attempt"},
		{2, 200 * time.Millisecond, "Second attempt"},
		{3, 400 * time.Millisecond, "Third attempt"},
		{4, 800 * time.Millisecond, "Fourth attempt"},
		{5, 1 * time.Second, "Fifth attempt (capped at max)"},
	}

	for _, test := range tests {
		t.Run(test.description, func(t *testing.T) {
			assert.Equal(t, test.expected, backoff.NextDelay(test.attempt))
		})
	}
}

func TestExponentialBackoffLargeAttemptStaysCapped(t *testing.T) {
	backoff := &ExponentialBackoff{Initial: time.Second, Max: 10 * time.Second, Factor: 2}
	assert.Equal(t, 10*time.Second, backoff.NextDelay(200))
	assert.Equal(t, time.Duration(0), (&ExponentialBackoff{}).NextDelay(3))
}

func TestExponentialBackoffJitterStaysInBounds(t *testing.T) {
	backoff := &ExponentialBackoff{
		Initial: 100 * time.Millisecond,
		Max:     1 * time.Second,
		Factor:  2.0,
		Jitter:  0.3,
	}

	for i := 0; i < 50; i++ {
		delay := backoff.NextDelay(2)
		assert.GreaterOrEqual(t, delay, 140*time.Millisecond)
		assert.LessOrEqual(t, delay, 260*time.Millisecond)
	}
}

func TestFromConfig(t *testing.T) {
	rc := config.RetryConfig{
		MaxAttempts:    4,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     time.Second,
		Multiplier:     3,
	}

	cfg := FromConfig(context.Background(), rc, nil)
	assert.Equal(t, 4, cfg.MaxAttempts)
	require.NotNil(t, cfg.Logger)

	eb, ok := cfg.Backoff.(*ExponentialBackoff)
	require.True(t, ok)
	assert.Equal(t, 200*time.Millisecond, eb.Initial)
	assert.Equal(t, time.Second, eb.Max)
	assert.Equal(t, 3.0, eb.Factor)

	named := cfg.Named("send-code")
	assert.Equal(t, "send-code", named.Op)
	assert.Empty(t, cfg.Op, "Named must copy")
}

func TestDefaultRetryIf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"infrastructure", errs.Infra("imap", errors.New("refused")), true},
		{"ui sync", errs.UISync("send-code", errs.ErrElementNotFound), true},
		{"data absence", errs.DataAbsence("mailbox", errs.ErrCodeNotFound), false},
		{"filesystem", errs.Filesystem("clean", errs.ErrDownloadDirMissing), false},
		{"cancelled", context.Canceled, false},
		{"untyped", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DefaultRetryIf(tt.err))
		})
	}
}

func TestRetryWithSuccess(t *testing.T) {
	attempts := 0
	op := func() error {
		attempts++
		if attempts < 3 {
			return errs.UISync("download", errs.ErrElementNotFound)
		}
		return nil
	}

	require.NoError(t, Do(op, fastConfig(5)))
	assert.Equal(t, 3, attempts)
}

func TestRetryWithMaxAttemptsExceeded(t *testing.T) {
	attempts := 0
	tl := logger.NewTestLogger()
	cfg := fastConfig(3)
	cfg.Logger = tl

	err := Do(func() error {
		attempts++
		return errs.Infra("imap", errors.New("connection reset"))
	}, cfg)

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, errs.ErrorTypeInfrastructure, errs.TypeOf(err))
	assert.Len(t, tl.GetMessagesByLevel("WARN"), 2)
	assert.True(t, tl.HasMessage("max retry attempts exceeded"))
}

func TestRetryWithNonRetryableError(t *testing.T) {
	attempts := 0
	absent := errs.DataAbsence("mailbox", errs.ErrCodeNotFound)

	err := Do(func() error {
		attempts++
		return absent
	}, fastConfig(5))

	assert.Same(t, absent, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryWithContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0

	cfg := fastConfig(5)
	cfg.Backoff = &ConstantBackoff{Delay: 100 * time.Millisecond}
	cfg.RetryIf = func(err error) bool { return true }
	cfg.Context = ctx

	err := Do(func() error {
		attempts++
		if attempts == 2 {
			cancel()
		}
		return errors.New("error")
	}, cfg)

	require.Error(t, err)
	assert.Equal(t, 2, attempts)
}

func TestDoWithResult(t *testing.T) {
	attempts := 0
	cfg := fastConfig(3).WithRetryIf(func(err error) bool { return true })

	result, err := DoWithResult(func() (string, error) {
		attempts++
		if attempts < 2 {
			return "", errors.New("temporary error")
		}
		return "482913", nil
	}, cfg)

	require.NoError(t, err)
	assert.Equal(t, "482913", result)
	assert.Equal(t, 2, attempts)
}

func TestPoll(t *testing.T) {
	calls := 0
	err := Poll(context.Background(), time.Millisecond, time.Second, func() (bool, error) {
		calls++
		return calls == 3, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	err = Poll(context.Background(), time.Millisecond, 0, func() (bool, error) {
		return false, nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	boom := errors.New("boom")
	err = Poll(context.Background(), time.Millisecond, time.Second, func() (bool, error) {
		return false, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestWait(t *testing.T) {
	assert.NoError(t, Wait(context.Background(), 0))
	assert.NoError(t, Wait(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Wait(ctx, time.Hour), context.Canceled)
}
