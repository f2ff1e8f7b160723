package quota

import (
	"errors"
	"fmt"
)

// Quota dimensions measured against limits.
const (
	// DimensionRequests counts metered requests.
	DimensionRequests = "requests"
	// DimensionTokens counts model tokens.
	DimensionTokens = "tokens"
	// DimensionCost accumulates cost in micros.
	DimensionCost = "cost"
)

// AIDisabledError indicates the scope's tier is disabled or the record is
// inactive. Not retryable; an administrator must re-enable the tenant.
type AIDisabledError struct {
	OrganizationID uint64
	UserID         *uint64
}

func (e *AIDisabledError) Error() string {
	if e == nil {
		return ""
	}
	if e.UserID != nil {
		return fmt.Sprintf("AI features are disabled for user %d in organization %d; contact an administrator to enable them", *e.UserID, e.OrganizationID)
	}
	return fmt.Sprintf("AI features are disabled for organization %d; contact an administrator to enable them", e.OrganizationID)
}

// QuotaExceededError indicates recorded usage has reached a period limit.
// Not retryable until the period rolls over or an administrator raises the
// limit.
type QuotaExceededError struct {
	OrganizationID uint64
	UserID         *uint64
	Dimension      string
	Used           int64
	Limit          int64
}

func (e *QuotaExceededError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("AI quota exceeded for organization %d: %s usage %d has reached the period limit %d; wait for the period to roll over or ask an administrator to raise the limit", e.OrganizationID, e.Dimension, e.Used, e.Limit)
}

// ValidationError indicates malformed input rejected at the boundary; nothing
// is partially applied.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// RecordingFailure wraps an internal accounting write error. It is never
// surfaced to end users; the recorder logs it and hands it to the alert sink.
type RecordingFailure struct {
	QuotaID uint64
	Err     error
}

func (e *RecordingFailure) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("usage recording failed for quota %d: %v", e.QuotaID, e.Err)
}

func (e *RecordingFailure) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsAIDisabled reports whether err is an AIDisabledError.
func IsAIDisabled(err error) bool {
	var target *AIDisabledError
	return errors.As(err, &target)
}

// IsQuotaExceeded reports whether err is a QuotaExceededError.
func IsQuotaExceeded(err error) bool {
	var target *QuotaExceededError
	return errors.As(err, &target)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}
