package messaging

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/lucasplcorrea/EnviaFolha/internal/common"
)

// SleepFunc blocks for d or until ctx is done. Injected so retry
// behavior is testable without real time passing.
type SleepFunc func(ctx context.Context, d time.Duration) error

// CtxSleep is the production SleepFunc.
func CtxSleep(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BackoffPolicy bounds retries and sets the wait per failure class.
// The remote channel rate-limits aggressively, so the rate-limit wait
// is much longer than the others.
type BackoffPolicy struct {
	MaxAttempts   int
	RateLimitWait time.Duration
	TimeoutWait   time.Duration
	TransientWait time.Duration
	Sleep         SleepFunc
}

// DefaultBackoff mirrors the channel's observed tolerances.
func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{
		MaxAttempts:   3,
		RateLimitWait: 60 * time.Second,
		TimeoutWait:   20 * time.Second,
		TransientWait: 30 * time.Second,
		Sleep:         CtxSleep,
	}
}

type failureClass int

const (
	failFatal failureClass = iota // channel unusable, no retry
	failRecipient                 // this recipient only, no retry
	failRateLimited
	failTimeout
	failTransient
)

// classify maps an HTTP status / transport error pair onto the retry
// taxonomy.
func classify(status int, err error) failureClass {
	switch status {
	case 401, 404:
		return failFatal
	case 413:
		return failRecipient
	case 429:
		return failRateLimited
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return failTimeout
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return failTimeout
		}
	}
	return failTransient
}

// wait returns the backoff window for a retryable class.
func (p BackoffPolicy) wait(class failureClass) time.Duration {
	switch class {
	case failRateLimited:
		return p.RateLimitWait
	case failTimeout:
		return p.TimeoutWait
	default:
		return p.TransientWait
	}
}

// permanent converts a non-retryable class into its sentinel error.
func permanent(class failureClass, cause error) error {
	switch class {
	case failFatal:
		return common.NewAppError("CHANNEL_FATAL", "channel rejected the request", errors.Join(common.ErrChannelFatal, cause))
	case failRecipient:
		return common.NewAppError("PAYLOAD_TOO_LARGE", "media payload rejected by the channel", errors.Join(common.ErrPayloadTooLarge, cause))
	default:
		return cause
	}
}
