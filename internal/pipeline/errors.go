package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// BlockError signals a hard, domain-level rejection from a content host
// (access-denied or legal-restriction class). It blacklists the domain.
type BlockError struct {
	StatusCode int
	Reason     string
}

func (e *BlockError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("blocked by host (status %d)", e.StatusCode)
	}
	return fmt.Sprintf("blocked by host (status %d): %s", e.StatusCode, e.Reason)
}

// TransientError wraps a recoverable extraction or enrichment failure
// (timeout, network error, rate limit, quota). Items failed this way carry
// the retryable marker and can be requeued by an operator sweep.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsHardBlock reports whether err is a domain-level block signal.
func IsHardBlock(err error) bool {
	var be *BlockError
	return errors.As(err, &be)
}

// IsTransient reports whether err should be treated as a soft failure.
// Timeouts and network errors are transient even when not wrapped.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// RetryableMarker prefixes error messages of failed items that a reset
// sweep may requeue.
const RetryableMarker = "retryable: "

// FailureMessage renders err for the link's error_message column, tagging
// transient failures with the retryable marker.
func FailureMessage(err error) string {
	if err == nil {
		return ""
	}
	if IsTransient(err) {
		return RetryableMarker + err.Error()
	}
	return err.Error()
}

// IsRetryableMessage reports whether a stored error message carries the
// retryable marker.
func IsRetryableMessage(msg string) bool {
	return strings.HasPrefix(msg, RetryableMarker)
}
