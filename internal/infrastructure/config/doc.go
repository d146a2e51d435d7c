// Package config handles loading and validating the onpass gateway configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (ONPASS_*, API_URL)
//   - Validation of required fields
//   - Default value handling
//
// The only required setting is the authorization backend base URL. Every
// other section has a working default, and the optional stores (MQTT,
// InfluxDB, SQLite audit log) are disabled unless configured.
//
// Security Considerations:
//   - Sensitive values (MQTT password, InfluxDB token) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/onpass.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Backend.BaseURL)
package config
