package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/MIRChain/mir-control-center/internal/process"
)

// Measurement names.
const (
	MeasurementPluginState   = "plugin_state"
	MeasurementPluginEvent   = "plugin_event"
	MeasurementPluginProcess = "plugin_process"
	MeasurementPluginRPC     = "plugin_rpc"
)

// WritePluginState records a lifecycle transition.
//
// Example:
//
//	client.WritePluginState("mir", "RUNNING")
func (c *Client) WritePluginState(plugin, state string) {
	c.WritePoint(MeasurementPluginState,
		map[string]string{"plugin": plugin},
		map[string]any{"state": state, "running": state == string(process.StateRunning)},
	)
}

// WritePluginEvent counts one occurrence of event for plugin.
func (c *Client) WritePluginEvent(plugin, event string) {
	c.WritePoint(MeasurementPluginEvent,
		map[string]string{"plugin": plugin, "event": event},
		map[string]any{"count": 1},
	)
}

// WriteProcessStats samples a supervisor's statistics.
func (c *Client) WriteProcessStats(plugin string, stats process.Stats) {
	c.WritePoint(MeasurementPluginProcess,
		map[string]string{"plugin": plugin},
		map[string]any{
			"pid":            stats.PID,
			"uptime_seconds": stats.Uptime.Seconds(),
			"log_lines":      stats.LogLines,
		},
	)
}

// WriteRPCCall records the latency and outcome of one JSON-RPC call.
func (c *Client) WriteRPCCall(plugin, method string, elapsed time.Duration, ok bool) {
	c.WritePoint(MeasurementPluginRPC,
		map[string]string{"plugin": plugin, "method": method},
		map[string]any{"elapsed_ms": float64(elapsed.Microseconds()) / 1000, "ok": ok},
	)
}

// WritePoint writes a point stamped now. Writes are dropped while
// disconnected.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a point with an explicit timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
}
