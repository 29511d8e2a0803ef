// Package plugin supervises node-client plugins.
//
// A Plugin is built once per Descriptor and lives for the whole run. On
// Start it resolves a release (selected, cached, or freshly downloaded),
// locates the executable inside the release package, resolves launch flags
// and hands them to a process.Supervisor. The supervisor's events are
// relayed onto the plugin's emitter, and pluginError events are recorded in
// the plugin's ErrorLedger as they pass.
//
// A Proxy is the handle given to observers (HTTP API, MQTT bridge, CLI).
// All proxies of one Plugin share a single relay link, so creating proxies
// repeatedly does not grow the plugin's listener set.
//
// Start and Stop must not race each other for the same plugin. A second
// Start while one is in flight or the process is running fails with
// ErrAlreadyRunning.
package plugin
