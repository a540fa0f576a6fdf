// Package config handles loading and validating the Tiko bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with TIKOBRIDGE_* environment variables
//   - Validation of required fields, reporting every problem at once
//   - Default value handling
//
// Security Considerations:
//   - The vendor password, MQTT password and InfluxDB token should be set via
//     environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.GetStateInterval())
package config
