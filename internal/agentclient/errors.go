package agentclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrorKind classifies an AgentError for retry and abort handling.
type ErrorKind int

const (
	ErrorKindFatal ErrorKind = iota
	ErrorKindRateLimit
	ErrorKindAuth
	ErrorKindTimeout
	ErrorKindInterrupted
	ErrorKindTransient
)

// AgentError wraps a provider failure with its classified kind.
type AgentError struct {
	Kind ErrorKind
	Err  error
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("agent error (%s): %v", e.Kind, e.Err)
}

func (e *AgentError) Unwrap() error { return e.Err }

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindRateLimit:
		return "rate_limit"
	case ErrorKindAuth:
		return "auth"
	case ErrorKindTimeout:
		return "timeout"
	case ErrorKindInterrupted:
		return "interrupted"
	case ErrorKindTransient:
		return "transient"
	default:
		return "fatal"
	}
}

// retryPatterns lists the substrings (checked case-insensitively against
// the provider's error text) that mark an error as retryable. This mirrors
// the teacher's string-pattern classification idiom (see
// internal/errors.IsTransient in the pre-trim tree) adapted to TAKT's
// six-kind AgentError taxonomy instead of a three-way
// transient/permanent/degraded split.
var retryPatterns = []string{
	"connection refused",
	"connection reset",
	"timeout",
	"deadline exceeded",
	"temporarily unavailable",
	"broken pipe",
	"503",
	"502",
	"internal server error",
}

var rateLimitPatterns = []string{"rate limit", "429", "too many requests"}
var authPatterns = []string{"unauthorized", "401", "forbidden", "403", "invalid api key"}
var timeoutPatterns = []string{"timeout", "deadline exceeded"}

// ClassifyError inspects a raw provider error and returns the AgentError
// wrapping it with the matched ErrorKind; ctx.Err() == context.Canceled
// classifies as Interrupted regardless of the message text.
func ClassifyError(ctx context.Context, err error) *AgentError {
	if err == nil {
		return nil
	}
	if ctx != nil && ctx.Err() == context.Canceled {
		return &AgentError{Kind: ErrorKindInterrupted, Err: err}
	}

	lower := strings.ToLower(err.Error())
	switch {
	case containsAny(lower, rateLimitPatterns):
		return &AgentError{Kind: ErrorKindRateLimit, Err: err}
	case containsAny(lower, authPatterns):
		return &AgentError{Kind: ErrorKindAuth, Err: err}
	case containsAny(lower, timeoutPatterns):
		return &AgentError{Kind: ErrorKindTimeout, Err: err}
	case containsAny(lower, retryPatterns):
		return &AgentError{Kind: ErrorKindTransient, Err: err}
	default:
		return &AgentError{Kind: ErrorKindFatal, Err: err}
	}
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// IsRetryable reports whether the classified kind warrants a retry:
// RateLimit and Transient are retried; Auth/Fatal/Interrupted are not.
func (e *AgentError) IsRetryable() bool {
	return e.Kind == ErrorKindRateLimit || e.Kind == ErrorKindTransient
}

// CallWithRetry wraps a Client.Call with exponential backoff (250ms base)
// up to 3 attempts for retryable AgentErrors, using
// github.com/cenkalti/backoff/v5's exponential retrier rather than a
// hand-rolled loop.
func CallWithRetry(ctx context.Context, client Client, persona, prompt string, opts CallOptions) (Response, error) {
	operation := func() (Response, error) {
		resp, err := client.Call(ctx, persona, prompt, opts)
		if err == nil {
			return resp, nil
		}
		agentErr := ClassifyError(ctx, err)
		if !agentErr.IsRetryable() {
			return Response{}, backoff.Permanent(agentErr)
		}
		return Response{}, agentErr
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 250 * time.Millisecond

	result, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(3),
	)
	if err != nil {
		var agentErr *AgentError
		if errors.As(err, &agentErr) {
			return Response{}, agentErr
		}
		return Response{}, err
	}
	return result, nil
}
