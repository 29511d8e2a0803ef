// Package influxdb records plugin lifecycle metrics in InfluxDB.
//
// It wraps influxdb-client-go v2 with connection management and a small set
// of typed writers:
//
//   - plugin_state: one point per lifecycle transition (STARTING, RUNNING, ...)
//   - plugin_event: a counter point for every error, notification and log event
//   - plugin_process: PID, uptime and log volume sampled while a node runs
//   - plugin_rpc: latency and outcome of JSON-RPC calls made through the API
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WritePluginState("mir", "RUNNING")
//
// Writes are non-blocking and batched per config (batch_size,
// flush_interval). Asynchronous write failures are delivered to the
// SetOnError callback.
package influxdb
