package auth

import (
	"encoding/json"
	"time"
)

// EventSink receives security events for outward fan-out (MQTT in the
// default deployment). Publishing is best-effort: a sink failure never
// fails the operation that triggered it.
type EventSink interface {
	PublishAuthEvent(action string, payload []byte) error
}

// MetricsSink receives authentication outcome counters. Implementations
// must not block the caller.
type MetricsSink interface {
	RecordLogin(outcome string)
	RecordRotation(outcome string)
}

// Metric outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeLocked  = "locked"
	OutcomeReuse   = "reuse"
	OutcomeExpired = "expired"
)

// securityEvent is the wire payload published to the event sink.
type securityEvent struct {
	Action  string         `json:"action"`
	UserID  string         `json:"user_id,omitempty"`
	ActorID string         `json:"actor_id,omitempty"`
	Detail  map[string]any `json:"detail,omitempty"`
	At      time.Time      `json:"at"`
}

// publishEvent fans an event out if a sink is wired. Marshal errors
// cannot occur for the fixed payload shape, but are swallowed along
// with sink errors either way.
func (s *Service) publishEvent(action, userID, actorID string, detail map[string]any) {
	if s.events == nil {
		return
	}
	payload, err := json.Marshal(securityEvent{
		Action:  action,
		UserID:  userID,
		ActorID: actorID,
		Detail:  detail,
		At:      s.now().UTC(),
	})
	if err != nil {
		return
	}
	if err := s.events.PublishAuthEvent(action, payload); err != nil {
		s.log.Warn("security event publish failed", "action", action, "error", err)
	}
}

func (s *Service) recordLogin(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordLogin(outcome)
	}
}

func (s *Service) recordRotation(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordRotation(outcome)
	}
}
