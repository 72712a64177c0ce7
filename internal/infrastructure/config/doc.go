// Package config handles loading and validating INDI Panel configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Sensitive values (passwords, tokens) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//   - Leaving security.jwt.secret empty disables API authentication
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml", false)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.INDI.ImagesDir)
package config
