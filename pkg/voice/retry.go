package voice

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// StatusError is a non-2xx answer from a speech provider.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

// Temporary reports whether retrying the same request could succeed.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout
}

type RetryPolicy struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxElapsed      time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxTries: 3, InitialInterval: 200 * time.Millisecond, MaxElapsed: 15 * time.Second}
}

// Retry runs op with exponential backoff. Client errors other than 408 and 429 are not retried.
func Retry[T any](ctx context.Context, p RetryPolicy, op func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}

	opts := []backoff.RetryOption{backoff.WithBackOff(b)}
	if p.MaxTries > 0 {
		opts = append(opts, backoff.WithMaxTries(p.MaxTries))
	}
	if p.MaxElapsed > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(p.MaxElapsed))
	}

	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err == nil {
			return v, nil
		}
		var se *StatusError
		if errors.As(err, &se) && !se.Temporary() {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, opts...)
}
