package http

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	nethttp "net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/ZazaJr24/CSF-Downloader/internal/constants"
	"github.com/ZazaJr24/CSF-Downloader/internal/logging"
)

// ErrorType represents different classes of errors for retry strategy
type ErrorType int

const (
	// ErrorTypeSuccess indicates operation succeeded
	ErrorTypeSuccess ErrorType = iota
	// ErrorTypeNetwork indicates connection issues (timeouts, resets, refused)
	ErrorTypeNetwork
	// ErrorTypeRetryable indicates server errors that can be retried (5xx, throttling)
	ErrorTypeRetryable
	// ErrorTypeNotFound indicates the object does not exist on this source
	ErrorTypeNotFound
	// ErrorTypeFatal indicates errors that should not be retried
	ErrorTypeFatal
)

// Config holds retry parameters for ExecuteWithRetry
type Config struct {
	// MaxRetries is the maximum number of attempts
	MaxRetries int
	// InitialDelay is the base delay for exponential backoff
	InitialDelay time.Duration
	// MaxDelay is the maximum delay between retries
	MaxDelay time.Duration
	// OnRetry is an optional callback invoked before each retry attempt
	OnRetry func(attempt int, err error, errorType ErrorType)
}

// DefaultConfig returns the retry settings used for content requests.
func DefaultConfig() Config {
	return Config{
		MaxRetries:   constants.MaxRetries,
		InitialDelay: constants.RetryInitialDelay,
		MaxDelay:     constants.RetryMaxDelay,
	}
}

// ClassifyError determines the error type for retry strategy. Typed
// network errors are checked first; SDK errors are matched by message.
func ClassifyError(err error) ErrorType {
	if err == nil {
		return ErrorTypeSuccess
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeFatal
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorTypeNetwork
	}

	errStr := strings.ToLower(err.Error())

	switch {
	case containsAny(errStr, "404", "not found", "nosuchkey", "blobnotfound"):
		return ErrorTypeNotFound

	case containsAny(errStr, "tls handshake timeout", "connection reset", "i/o timeout",
		"eof", "connection refused", "broken pipe", "timeout"):
		return ErrorTypeNetwork

	case containsAny(errStr, "requesttimeout", "internalerror", "serviceunavailable",
		"slowdown", "throttl", "429", "500", "502", "503", "504",
		"server busy", "serverbusy", "operationtimeout", "service unavailable"):
		return ErrorTypeRetryable
	}

	// Unknown errors are fatal to avoid endless retries.
	return ErrorTypeFatal
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// CalculateBackoff returns exponential backoff duration with full jitter
//
// Formula: random(0, min(maxDelay, initialDelay * 2^attempt))
func CalculateBackoff(attempt int, initialDelay, maxDelay time.Duration) time.Duration {
	if attempt <= 0 || initialDelay <= 0 {
		return 0
	}
	base := maxDelay
	if attempt < 32 {
		if d := time.Duration(1<<uint(attempt)) * initialDelay; d > 0 && d < maxDelay {
			base = d
		}
	}
	if base <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(base)))
}

// ExecuteWithRetry runs operation until it succeeds, fails with a
// non-retryable error, or MaxRetries attempts are used up. Network and
// server errors back off with full jitter; the wait ends early when ctx
// is done.
func ExecuteWithRetry(ctx context.Context, config Config, operation func() error) error {
	if config.MaxRetries <= 0 {
		config.MaxRetries = 1
	}

	var lastErr error
	for attempt := 0; attempt < config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return fmt.Errorf("%w (last error: %v)", err, lastErr)
			}
			return err
		}

		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		errType := ClassifyError(err)
		if errType != ErrorTypeNetwork && errType != ErrorTypeRetryable {
			return err
		}
		if attempt == config.MaxRetries-1 {
			break
		}

		if config.OnRetry != nil {
			config.OnRetry(attempt+1, err, errType)
		}
		backoff := CalculateBackoff(attempt+1, config.InitialDelay, config.MaxDelay)
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < backoff {
			return fmt.Errorf("deadline too short to retry: %w", err)
		}
		if err := sleepContext(ctx, backoff); err != nil {
			return fmt.Errorf("%w (last error: %v)", err, lastErr)
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", config.MaxRetries, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CheckRetry is a retryablehttp.CheckRetry policy: it retries transport
// errors classified as network or server errors, 429 and 5xx responses,
// and never a 404.
func CheckRetry(ctx context.Context, resp *nethttp.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		switch ClassifyError(err) {
		case ErrorTypeNetwork, ErrorTypeRetryable:
			return true, nil
		}
		return false, nil
	}
	if resp.StatusCode == nethttp.StatusTooManyRequests || resp.StatusCode >= 500 {
		return true, nil
	}
	return false, nil
}

// NewRetryClient wraps client with retryablehttp using CheckRetry and the
// given attempt budget.
func NewRetryClient(client *nethttp.Client, maxRetries int, logger *logging.Logger) *retryablehttp.Client {
	rc := retryablehttp.NewClient()
	rc.HTTPClient = client
	rc.RetryMax = maxRetries
	rc.RetryWaitMin = constants.RetryInitialDelay
	rc.RetryWaitMax = constants.RetryMaxDelay
	rc.CheckRetry = CheckRetry
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = &retryLogger{logger: logging.OrNop(logger)}
	return rc
}

// retryLogger implements the retryablehttp.LeveledLogger interface
type retryLogger struct {
	logger *logging.Logger
}

func (l *retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Info(msg string, keysAndValues ...interface{}) {
	// Only log errors and warnings, not all info
}

func (l *retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn().Fields(keysAndValues).Msg(msg)
}

// ErrorTypeName returns a human-readable name for an ErrorType
func ErrorTypeName(errType ErrorType) string {
	switch errType {
	case ErrorTypeSuccess:
		return "success"
	case ErrorTypeNetwork:
		return "network"
	case ErrorTypeRetryable:
		return "retryable"
	case ErrorTypeNotFound:
		return "not found"
	case ErrorTypeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}
