package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	pkgerrors "github.com/regpayhq/regpay-backend/pkg/errors"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = time.Second
)

// Options bounds a retried operation. Zero values fall back to the defaults.
type Options struct {
	// MaxAttempts is the total number of invocations, not the number of
	// retries after the first.
	MaxAttempts int
	// BaseDelay seeds the exponential backoff: attempt n sleeps base * 2^n.
	BaseDelay time.Duration
	// AttemptTimeout caps the wall clock of a single invocation. A timed-out
	// attempt is classified as transient. Zero disables the cap.
	AttemptTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaultMaxAttempts
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = defaultBaseDelay
	}
	return o
}

// ErrAttemptTimeout marks an attempt that outlived its wall-clock budget.
var ErrAttemptTimeout = errors.New("attempt timed out")

// Do executes op with bounded retries and exponential backoff. Transient
// failures are retried until the attempt budget runs out; permanent failures
// and exhaustion surface the last error unchanged. Do keeps no state between
// calls; callers are responsible for making op idempotent so a retry after a
// partially-applied attempt is safe.
func Do(ctx context.Context, opts Options, op func(context.Context) error) error {
	opts = opts.withDefaults()

	var lastErr error
	for attempt := 0; attempt < opts.MaxAttempts; attempt++ {
		lastErr = runAttempt(ctx, opts.AttemptTimeout, op)
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			return lastErr
		}
		if attempt == opts.MaxAttempts-1 {
			break
		}

		delay := opts.BaseDelay << uint(attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, opts Options, op func(context.Context) (T, error)) (T, error) {
	var result T
	err := Do(ctx, opts, func(ctx context.Context) error {
		value, opErr := op(ctx)
		if opErr != nil {
			return opErr
		}
		result = value
		return nil
	})
	return result, err
}

func runAttempt(ctx context.Context, timeout time.Duration, op func(context.Context) error) error {
	if timeout <= 0 {
		return op(ctx)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- op(attemptCtx)
	}()

	select {
	case err := <-done:
		return err
	case <-attemptCtx.Done():
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s", ErrAttemptTimeout, timeout)
		}
		return attemptCtx.Err()
	}
}

// IsTransient classifies an error as worth retrying. Timeouts, connection
// resets, and errors whose message mentions a network failure are transient.
// Typed errors defer to their code metadata; errors carrying no code at all
// are treated as transient, since many client libraries omit codes for
// infrastructure failures.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAttemptTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"timeout", "timed out", "network", "connection reset", "connection refused", "broken pipe"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return pkgerrors.IsRetryable(err)
}
