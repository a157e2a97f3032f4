package influxdb

import (
	"errors"
	"testing"

	"github.com/marldon/gatehouse-core/internal/infrastructure/config"
)

func TestConnect_Disabled(t *testing.T) {
	_, err := Connect(config.InfluxDBConfig{Enabled: false})
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("got %v, want ErrDisabled", err)
	}
}

func TestDisconnectedClient_WritesAreNoOps(t *testing.T) {
	// A zero-value client is never connected; writes must be silently
	// dropped rather than panic, since metrics are best-effort.
	c := &Client{}

	c.RecordLogin("success")
	c.RecordRotation("reuse")
	c.RecordCacheStats(42)
	c.WritePoint("custom", nil, map[string]interface{}{"v": 1})
	c.Flush()

	if c.IsConnected() {
		t.Error("zero-value client reports connected")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close on zero-value client: %v", err)
	}
}
