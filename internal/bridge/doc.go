// Package bridge connects plugins to the MQTT bus and to InfluxDB.
//
// Every event a plugin emits is published on mircc/plugin/<name>/<event>;
// lifecycle states are published retained on mircc/plugin/<name>/state so a
// late subscriber sees the current state. Log lines are only forwarded
// when enabled, as a syncing node prints thousands of them.
//
// Commands arrive on mircc/plugin/<name>/command:
//
//	{"id":"c-1","action":"start","app":"wallet","flags":["--syncmode","light"]}
//	{"id":"c-2","action":"stop"}
//
// Each command is acknowledged on mircc/plugin/<name>/ack, first with
// "accepted" and then with "completed" or "failed". Starts go through the
// plugin's permission prompter like any other start request.
//
// With InfluxDB configured the bridge also records state transitions,
// event counts and periodic process statistics.
package bridge
