// Package mqtt publishes Gatehouse security events to an MQTT broker.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Security event publishing with QoS guarantees
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// Gatehouse pushes security events (logins, replay detections, lock
// and role changes) onto the broker so monitoring systems and SIEM
// collectors can consume them without polling the audit log. The
// broker decouples the authentication core from its observers; if no
// broker is configured the core runs identically with events dropped.
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Event payloads carry user IDs, never credentials or token values
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.PublishAuthEvent("auth.token.reused", payload)
package mqtt
