package quota

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/taskfoundry/aigov/internal/alerting"
	"github.com/taskfoundry/aigov/internal/settings"

	log "github.com/sirupsen/logrus"
)

// Outcome of one metered attempt as reported by the agent executor.
const (
	// OutcomeSuccess marks a delivered result.
	OutcomeSuccess = "success"
	// OutcomeFailure marks an errored attempt.
	OutcomeFailure = "failure"
	// OutcomeCancelled marks an attempt cancelled by the caller. Accounting
	// policy treats it like a failure.
	OutcomeCancelled = "cancelled"
)

// ValidOutcome reports whether the outcome name is known.
func ValidOutcome(outcome string) bool {
	switch strings.ToLower(strings.TrimSpace(outcome)) {
	case OutcomeSuccess, OutcomeFailure, OutcomeCancelled:
		return true
	default:
		return false
	}
}

// Recorder applies usage accounting after a metered operation completes.
// Every agent executor reports through this single entry point, so the
// record-after-success policy lives in exactly one place.
type Recorder struct {
	store   *Store
	sink    alerting.Sink
	retrier *alerting.Retrier

	// recordOnFailure is the config-file default; the DB settings snapshot
	// overrides it at runtime.
	recordOnFailure bool
}

// NewRecorder constructs a Recorder. The sink must not be nil; the retrier
// is optional.
func NewRecorder(store *Store, sink alerting.Sink, retrier *alerting.Retrier, recordOnFailure bool) *Recorder {
	if store == nil || sink == nil {
		return nil
	}
	return &Recorder{store: store, sink: sink, retrier: retrier, recordOnFailure: recordOnFailure}
}

// Record applies the metered quantities of one finished attempt to the
// authorized quota scope.
//
// Only successful outcomes count against quota unless record-on-failure is
// enabled. Validation problems are returned to the boundary; accounting
// write failures are NOT: the user already received (or lost) their result,
// so the failure is logged, handed to the alert sink, and retried
// asynchronously instead of propagating.
func (r *Recorder) Record(ctx context.Context, auth *Authorization, outcome string, tokensUsed, costMicros int64, agentKind, decisionKind string) error {
	if r == nil || r.store == nil {
		return errors.New("quota: recorder not initialized")
	}
	if auth == nil || auth.QuotaID == 0 {
		return &ValidationError{Field: "authorization", Reason: "missing or empty"}
	}
	outcome = strings.ToLower(strings.TrimSpace(outcome))
	if !ValidOutcome(outcome) {
		return &ValidationError{Field: "outcome", Reason: "must be success, failure, or cancelled"}
	}
	if tokensUsed < 0 {
		return &ValidationError{Field: "tokens_used", Reason: "must be non-negative"}
	}
	if costMicros < 0 {
		return &ValidationError{Field: "cost_micros", Reason: "must be non-negative"}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if outcome != OutcomeSuccess && !r.shouldRecordOnFailure() {
		return nil
	}

	delta := UsageDelta{
		Requests:     1,
		Tokens:       tokensUsed,
		CostMicros:   costMicros,
		Decisions:    1,
		AgentKind:    strings.TrimSpace(agentKind),
		DecisionKind: strings.TrimSpace(decisionKind),
	}

	errApply := r.store.ApplyUsage(ctx, auth.QuotaID, delta)
	if errApply == nil {
		return nil
	}
	if IsValidation(errApply) {
		return errApply
	}

	failure := &RecordingFailure{QuotaID: auth.QuotaID, Err: errApply}
	log.WithError(errApply).Warnf("usage recorder: apply failed (quota=%d)", auth.QuotaID)
	r.sink.Emit(ctx, alerting.Alert{
		Kind:           alerting.KindRecordingFailure,
		OrganizationID: auth.OrganizationID,
		UserID:         auth.UserID,
		QuotaID:        auth.QuotaID,
		Message:        failure.Error(),
		Error:          errApply.Error(),
		OccurredAt:     time.Now().UTC(),
	})
	if r.retrier != nil {
		quotaID := auth.QuotaID
		r.retrier.Enqueue(fmt.Sprintf("apply-usage-%d", quotaID), func(retryCtx context.Context) error {
			return r.store.ApplyUsage(retryCtx, quotaID, delta)
		})
	}
	return nil
}

// shouldRecordOnFailure resolves the accounting policy, letting the DB
// settings snapshot override the config-file default.
func (r *Recorder) shouldRecordOnFailure() bool {
	return settings.BoolValue(settings.RecordOnFailureKey, r.recordOnFailure)
}
