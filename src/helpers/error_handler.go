package helpers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"quote-aggregator/src/logger"

	"github.com/jpillora/backoff"
)

// -----------------------------------------------------------------------------
// Custom Error Types
// -----------------------------------------------------------------------------

type QuoteAggregatorError struct {
	Message string
	Cause   error
}

func (e *QuoteAggregatorError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *QuoteAggregatorError) Unwrap() error {
	return e.Cause
}

// Distinct error types for errors.As checks
type AuthenticationError struct{ QuoteAggregatorError }
type AuthorizationError struct{ QuoteAggregatorError }
type ProviderTransientError struct{ QuoteAggregatorError }
type ProviderPermanentError struct{ QuoteAggregatorError }
type ProtocolError struct{ QuoteAggregatorError }
type CapacityError struct{ QuoteAggregatorError }
type ValidationError struct{ QuoteAggregatorError }
type NotFoundError struct{ QuoteAggregatorError }
type ConfigurationError struct{ QuoteAggregatorError }
type DatabaseError struct{ QuoteAggregatorError }

// -----------------------------------------------------------------------------
// Constructors
// -----------------------------------------------------------------------------

func NewAuthenticationError(msg string, cause error) error {
	return &AuthenticationError{QuoteAggregatorError{Message: msg, Cause: cause}}
}

func NewAuthorizationError(msg string) error {
	return &AuthorizationError{QuoteAggregatorError{Message: msg}}
}

func NewTransientError(msg string, cause error) error {
	return &ProviderTransientError{QuoteAggregatorError{Message: msg, Cause: cause}}
}

func NewPermanentError(msg string, cause error) error {
	return &ProviderPermanentError{QuoteAggregatorError{Message: msg, Cause: cause}}
}

func NewProtocolError(format string, args ...interface{}) error {
	return &ProtocolError{QuoteAggregatorError{Message: fmt.Sprintf(format, args...)}}
}

func NewCapacityError(tenant string, limit int) error {
	return &CapacityError{QuoteAggregatorError{
		Message: fmt.Sprintf("too many in-flight quote requests for %s (limit %d)", tenant, limit),
	}}
}

func NewValidationError(format string, args ...interface{}) error {
	return &ValidationError{QuoteAggregatorError{Message: fmt.Sprintf(format, args...)}}
}

func NewNotFoundError(format string, args ...interface{}) error {
	return &NotFoundError{QuoteAggregatorError{Message: fmt.Sprintf(format, args...)}}
}

func NewDatabaseError(msg string, cause error) error {
	return &DatabaseError{QuoteAggregatorError{Message: msg, Cause: cause}}
}

// -----------------------------------------------------------------------------
// Predicates
// -----------------------------------------------------------------------------

func IsTransient(err error) bool {
	var t *ProviderTransientError
	return errors.As(err, &t)
}

func IsPermanent(err error) bool {
	var p *ProviderPermanentError
	return errors.As(err, &p)
}

func IsAuthentication(err error) bool {
	var a *AuthenticationError
	return errors.As(err, &a)
}

func IsAuthorization(err error) bool {
	var a *AuthorizationError
	return errors.As(err, &a)
}

func IsProtocol(err error) bool {
	var p *ProtocolError
	return errors.As(err, &p)
}

func IsCapacity(err error) bool {
	var c *CapacityError
	return errors.As(err, &c)
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsNotFound(err error) bool {
	var n *NotFoundError
	return errors.As(err, &n)
}

// -----------------------------------------------------------------------------

// ClassifyProviderError maps a raw adapter error onto the transient/permanent split.
// Already classified errors are returned unchanged. Context errors are returned
// unchanged so the caller can tell a deadline from a failure.
func ClassifyProviderError(err error) error {
	if err == nil {
		return nil
	}
	if IsTransient(err) || IsPermanent(err) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewTransientError("network timeout", err)
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EPIPE) {
		return NewTransientError("connection lost", err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return NewTransientError("network error", err)
	}

	return NewPermanentError("provider error", err)
}

// -----------------------------------------------------------------------------
// Retry Logic
// -----------------------------------------------------------------------------

// RetryPolicy bounds RetryWithBackoff.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// RetryWithBackoff runs fn until it succeeds, returns a non-transient error, the
// attempt budget is spent or ctx is done. It returns the number of attempts made.
// Between attempts, it waits with exponential backoff unless ctx ends first.
func RetryWithBackoff(ctx context.Context, policy RetryPolicy, fn func(attempt int) error) (int, error) {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}

	b := &backoff.Backoff{
		Min:    policy.BaseDelay,
		Max:    policy.MaxDelay,
		Factor: 2,
		Jitter: false,
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		lastErr = fn(attempt)
		if lastErr == nil {
			return attempt, nil
		}
		if !IsTransient(lastErr) || attempt == policy.MaxAttempts {
			return attempt, lastErr
		}

		timer := time.NewTimer(b.Duration())
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, lastErr
		case <-timer.C:
		}
	}

	return policy.MaxAttempts, lastErr
}

// -----------------------------------------------------------------------------
// Error Handler
// -----------------------------------------------------------------------------

// ErrorHandler logs errors from background loops and keeps a running count.
type ErrorHandler struct {
	Logger     *logger.Logger
	mu         sync.Mutex
	errorCount int
}

func NewErrorHandler(log *logger.Logger) *ErrorHandler {
	if log == nil {
		log = logger.NewLogger(nil, "ErrorHandler")
	}
	return &ErrorHandler{Logger: log}
}

// -----------------------------------------------------------------------------

func (e *ErrorHandler) Handle(err error, context string) {
	if err == nil {
		return
	}
	e.mu.Lock()
	e.errorCount++
	e.mu.Unlock()
	e.Logger.Error("Error in %s: %v", context, err)
}

// -----------------------------------------------------------------------------

func (e *ErrorHandler) ErrorCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.errorCount
}

// -----------------------------------------------------------------------------

func (e *ErrorHandler) ResetErrorCount() {
	e.mu.Lock()
	e.errorCount = 0
	e.mu.Unlock()
}
