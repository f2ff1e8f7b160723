package alerting

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/redis/go-redis/v9"
)

// Alert kinds emitted by the governance core.
const (
	// KindRecordingFailure marks a failed usage accounting write.
	KindRecordingFailure = "recording_failure"
	// KindRolloverFailure marks a failed period rollover.
	KindRolloverFailure = "rollover_failure"
)

// Alert is one operational event for the alerting collaborator.
type Alert struct {
	Kind           string    `json:"kind"`
	OrganizationID uint64    `json:"organization_id,omitempty"`
	UserID         *uint64   `json:"user_id,omitempty"`
	QuotaID        uint64    `json:"quota_id,omitempty"`
	Message        string    `json:"message"`
	Error          string    `json:"error,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Sink receives operational alerts. Implementations must never block the
// caller's request path for long and must never return alerts to end users.
type Sink interface {
	Emit(ctx context.Context, alert Alert)
}

// LogSink writes alerts to the process log only.
type LogSink struct{}

// Emit logs the alert at warning level.
func (LogSink) Emit(_ context.Context, alert Alert) {
	log.WithFields(log.Fields{
		"kind":            alert.Kind,
		"organization_id": alert.OrganizationID,
		"quota_id":        alert.QuotaID,
		"error":           alert.Error,
	}).Warnf("operational alert: %s", alert.Message)
}

// RedisSink publishes alerts to a redis list and pub/sub channel so external
// alerting collaborators can consume them, in addition to the process log.
type RedisSink struct {
	client  *redis.Client
	channel string
	list    string
	timeout time.Duration
}

// NewRedisSink constructs a RedisSink. Empty channel or list names fall back
// to defaults.
func NewRedisSink(client *redis.Client, channel, list string) *RedisSink {
	if client == nil {
		return nil
	}
	channel = strings.TrimSpace(channel)
	if channel == "" {
		channel = "aigov:alerts"
	}
	list = strings.TrimSpace(list)
	if list == "" {
		list = "aigov:alerts:queue"
	}
	return &RedisSink{client: client, channel: channel, list: list, timeout: 2 * time.Second}
}

// Emit pushes the alert to redis and logs it. Redis failures are logged and
// swallowed: alerting must not take down accounting.
func (s *RedisSink) Emit(ctx context.Context, alert Alert) {
	LogSink{}.Emit(ctx, alert)
	if s == nil || s.client == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	payload, errMarshal := json.Marshal(alert)
	if errMarshal != nil {
		log.WithError(errMarshal).Warn("alerting: marshal alert failed")
		return
	}

	pushCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if errPush := s.client.LPush(pushCtx, s.list, payload).Err(); errPush != nil {
		log.WithError(errPush).Warn("alerting: redis lpush failed")
	}
	if errPublish := s.client.Publish(pushCtx, s.channel, payload).Err(); errPublish != nil {
		log.WithError(errPublish).Warn("alerting: redis publish failed")
	}
}
