package k8s

import (
	"context"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
)

const (
	retryAttempts  = 3
	retryBaseDelay = 500 * time.Millisecond
)

// RetryOnServerError runs fn up to three times with exponential backoff when
// the API server answers with a 5xx-class error. Conflicts and not-found are
// never retried: the callers treat 409 on create as success and 404 on read
// as absence.
func RetryOnServerError(ctx context.Context, fn func() error) error {
	var err error
	delay := retryBaseDelay
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		err = fn()
		if err == nil {
			return nil
		}
		if !isRetriable(err) {
			return err
		}
	}
	return err
}

func isRetriable(err error) bool {
	if apierrors.IsConflict(err) || apierrors.IsNotFound(err) || apierrors.IsAlreadyExists(err) {
		return false
	}
	return apierrors.IsInternalError(err) ||
		apierrors.IsServerTimeout(err) ||
		apierrors.IsServiceUnavailable(err) ||
		apierrors.IsTooManyRequests(err) ||
		apierrors.IsTimeout(err)
}
