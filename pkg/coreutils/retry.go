/*
 * Copyright (c) 2025-present unTill Software Development Group B.V.
 * @author Alisher Nurmanov
 */

package coreutils

import (
	"context"
	"errors"
	"time"

	"github.com/untillpro/goutils/logger"
)

var ErrRetryAttemptsExceeded = errors.New("retry attempts exceeded")

// Retry attempts to execute f() until it accomplished without error
// f() returns error -> error is logged, try again after retryDelay
// retryCount = 0 -> retry indefinitely until success or context cancellation
// ctx is cancelled during retries -> ctx.Err() is returned
func Retry(ctx context.Context, iTime ITime, retryDelay time.Duration, retryCount int, f func() error) error {
	attempt := 0
	for ctx.Err() == nil {
		lastErr := f()
		if lastErr == nil {
			return nil
		}
		attempt++
		if retryCount > 0 && attempt >= retryCount {
			return errors.Join(ErrRetryAttemptsExceeded, lastErr)
		}
		logger.Error(lastErr)
		timerCh := iTime.NewTimerChan(retryDelay)
		select {
		case <-ctx.Done():
		case <-timerCh:
		}
	}
	return ctx.Err()
}
