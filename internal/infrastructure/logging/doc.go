// Package logging provides structured logging for the MIR Control Center.
//
// It wraps log/slog so that every component logs with the same default
// fields (service, version) and the same level filtering.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	pluginLog := logger.Component("plugin").With("plugin", "mir")
//	pluginLog.Info("process started", "pid", pid)
//
// Plugin output lines are logged at debug. Never log GitHub or InfluxDB tokens.
package logging
