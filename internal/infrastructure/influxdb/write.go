package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// RecordLogin counts one login attempt by outcome ("success",
// "failure", "locked"). The write is non-blocking; points are batched
// and sent asynchronously.
//
// Example:
//
//	client.RecordLogin("failure")
func (c *Client) RecordLogin(outcome string) {
	c.writeCounter("auth_logins", outcome)
}

// RecordRotation counts one refresh token rotation by outcome
// ("success", "failure", "reuse", "expired", "locked"). A spike in
// "reuse" is the signature of stolen refresh tokens being replayed.
func (c *Client) RecordRotation(outcome string) {
	c.writeCounter("auth_rotations", outcome)
}

// RecordCacheStats writes a snapshot of the authorisation cache size.
// Intended to run on a timer from the daemon loop.
func (c *Client) RecordCacheStats(entries int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"auth_cache",
		nil,
		map[string]interface{}{
			"entries": entries,
		},
		time.Now(),
	)
	c.writeAPI.WritePoint(point)
}

// writeCounter writes a count-one point tagged with its outcome.
// Outcome values are a small fixed set, keeping tag cardinality low.
func (c *Client) writeCounter(measurement, outcome string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		measurement,
		map[string]string{
			"outcome": outcome,
		},
		map[string]interface{}{
			"count": 1,
		},
		time.Now(),
	)
	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit the helper methods.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
