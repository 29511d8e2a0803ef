// Package config handles loading and validating MIR Control Center configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (MIRCC_*)
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Tokens (GitHub, InfluxDB) and MQTT passwords should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Cache.Dir)
package config
