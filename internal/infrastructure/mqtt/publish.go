package mqtt

import (
	"fmt"
)

// Maximum payload size for MQTT messages (256KB). Security event
// payloads are small; anything near this limit indicates a bug.
const maxPayloadSize = 256 << 10

// Publish sends a message to the specified MQTT topic.
//
// QoS Levels:
//   - 0: At most once (fire and forget)
//   - 1: At least once (guaranteed delivery, may duplicate)
//   - 2: Exactly once (guaranteed, no duplicates, higher overhead)
//
// Retained messages are stored by the broker and delivered to new
// subscribers immediately. Use for status topics, never for events.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}

// PublishAuthEvent publishes a security event under the event topic
// scheme with the configured default QoS. Events are never retained;
// a late subscriber reads history from the audit log instead.
//
// Example:
//
//	client.PublishAuthEvent("auth.token.reused", payload)
//	// publishes to gatehouse/events/auth/token.reused
func (c *Client) PublishAuthEvent(action string, payload []byte) error {
	return c.Publish(Topics{}.Event(action), payload, byte(c.cfg.QoS), false)
}
